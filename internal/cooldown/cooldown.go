// Package cooldown enforces a minimum interval between repeated uses of
// the same action by the same actor.
package cooldown

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
	"time"

	"github.com/facturio-bot/server/internal/core"
	logx "github.com/facturio-bot/server/pkg/logger"
)

// DefaultRetention is how long a last-fire entry is kept before the sweep
// may drop it. Generous on purpose: it bounds memory under actor churn,
// independent of any configured cooldown duration.
const DefaultRetention = 24 * time.Hour

// Verdict is the outcome of a gate check. RetryAfterSeconds is
// ceiling-rounded and only meaningful when Allowed is false.
type Verdict struct {
	Allowed           bool
	RetryAfterSeconds int
}

// TierConfig resolves a cooldown duration from an actor's status class.
// Substituting the duration is the whole tiering mechanism; the gate
// itself has a single code path.
type TierConfig struct {
	Default time.Duration
	Premium time.Duration
	Staff   time.Duration
}

// For returns the duration for a status class. Unknown classes get the
// default; staff resolves to zero unless configured otherwise.
func (t TierConfig) For(status string) time.Duration {
	switch status {
	case "staff":
		return t.Staff
	case "premium":
		if t.Premium > 0 {
			return t.Premium
		}
		return t.Default
	default:
		return t.Default
	}
}

type key struct {
	actor  string
	action string
}

const shardCount = 16

type shard struct {
	mu       sync.Mutex
	lastFire map[key]time.Time
}

// Gate is the process-wide cooldown state. Check-and-refresh is atomic per
// key; keys are sharded so unrelated actors never serialize on one lock.
type Gate struct {
	shards [shardCount]*shard
	clock  core.Clock
}

// NewGate builds a gate. A nil clock defaults to the system clock.
func NewGate(clock core.Clock) *Gate {
	if clock == nil {
		clock = core.SystemClock{}
	}
	g := &Gate{clock: clock}
	for i := range g.shards {
		g.shards[i] = &shard{lastFire: make(map[key]time.Time)}
	}
	return g
}

func (g *Gate) shardFor(k key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.actor))
	h.Write([]byte{0})
	h.Write([]byte(k.action))
	return g.shards[h.Sum32()%shardCount]
}

// Check atomically reads the last-fire instant for (actor, action): absent
// or elapsed at least d means allowed, and the last-fire refreshes to now.
// Otherwise the verdict carries the remaining wait. A non-positive d
// always allows without recording anything.
func (g *Gate) Check(actor, action string, d time.Duration) Verdict {
	if d <= 0 {
		return Verdict{Allowed: true}
	}

	k := key{actor: actor, action: action}
	sh := g.shardFor(k)
	now := g.clock.Now()

	sh.mu.Lock()
	defer sh.mu.Unlock()

	last, ok := sh.lastFire[k]
	if ok {
		remaining := d - now.Sub(last)
		if remaining > 0 {
			return Verdict{RetryAfterSeconds: int(math.Ceil(remaining.Seconds()))}
		}
	}
	sh.lastFire[k] = now
	return Verdict{Allowed: true}
}

// Reset clears the entry for (actor, action), an administrative override.
func (g *Gate) Reset(actor, action string) {
	k := key{actor: actor, action: action}
	sh := g.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.lastFire, k)
}

// Sweep drops entries whose last-fire is older than the retention ceiling
// and reports how many were removed.
func (g *Gate) Sweep(retention time.Duration) int {
	cutoff := g.clock.Now().Add(-retention)
	removed := 0
	for _, sh := range g.shards {
		sh.mu.Lock()
		for k, last := range sh.lastFire {
			if last.Before(cutoff) {
				delete(sh.lastFire, k)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// RunSweeper sweeps on a fixed interval until ctx is done, independent of
// request traffic. Run it on its own goroutine.
func (g *Gate) RunSweeper(ctx context.Context, interval, retention time.Duration) {
	if retention <= 0 {
		retention = DefaultRetention
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed := g.Sweep(retention); removed > 0 {
				logx.Info().Int("removed", removed).Msg("swept stale cooldown entries")
			}
		}
	}
}
