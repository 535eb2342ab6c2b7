package document

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	logx "github.com/facturio-bot/server/pkg/logger"
)

const (
	// DefaultFileTTL is how long a rendered output stays on disk after
	// delivery before it is deleted.
	DefaultFileTTL = 10 * time.Minute
	// DefaultSweepMaxAge catches files whose scheduled deletion was lost,
	// for example across a restart.
	DefaultSweepMaxAge = 15 * time.Minute
)

// Retention writes rendered outputs to a directory and bounds their
// lifetime: each file is scheduled for deletion after FileTTL, and an
// independent sweep removes stragglers older than SweepMaxAge.
type Retention struct {
	dir         string
	fileTTL     time.Duration
	sweepMaxAge time.Duration
}

// NewRetention ensures dir exists. Zero durations take the defaults.
func NewRetention(dir string, fileTTL, sweepMaxAge time.Duration) (*Retention, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("retention dir: %w", err)
	}
	if fileTTL <= 0 {
		fileTTL = DefaultFileTTL
	}
	if sweepMaxAge <= 0 {
		sweepMaxAge = DefaultSweepMaxAge
	}
	return &Retention{dir: dir, fileTTL: fileTTL, sweepMaxAge: sweepMaxAge}, nil
}

// Keep writes the output to disk and schedules its deletion. The returned
// path is only guaranteed valid within the file TTL.
func (r *Retention) Keep(out Output) (string, error) {
	path := filepath.Join(r.dir, out.Name)
	if err := os.WriteFile(path, out.Data, 0o600); err != nil {
		return "", fmt.Errorf("keep output: %w", err)
	}

	time.AfterFunc(r.fileTTL, func() {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logx.Error().Err(err).Str("path", path).Msg("scheduled output deletion failed")
			return
		}
		logx.Debug().Str("file", out.Name).Msg("rendered output deleted")
	})

	return path, nil
}

// Sweep removes outputs older than the sweep ceiling and reports how many
// were removed.
func (r *Retention) Sweep() (int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return 0, fmt.Errorf("sweep outputs: %w", err)
	}

	cutoff := time.Now().Add(-r.sweepMaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(r.dir, entry.Name())); err == nil {
				removed++
			}
		}
	}
	return removed, nil
}

// RunSweeper sweeps on a fixed interval until ctx is done. Run it on its
// own goroutine.
func (r *Retention) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := r.Sweep()
			if err != nil {
				logx.Error().Err(err).Msg("output sweep failed")
				continue
			}
			if removed > 0 {
				logx.Info().Int("removed", removed).Msg("swept stale rendered outputs")
			}
		}
	}
}
