// Package retry executes idempotent store operations with bounded retry
// against a fixed classification of transient infrastructure failures.
package retry

import (
	"context"
	"errors"
	"net"
	"strings"
	"syscall"
	"time"

	logx "github.com/facturio-bot/server/pkg/logger"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 2 * time.Second
)

// transientMarkers covers driver errors that only surface as text.
var transientMarkers = []string{
	"connection reset",
	"connection refused",
	"timeout",
	"timed out",
	"lost connection",
	"server shutdown",
	"no such host",
	"broken pipe",
}

// Transient reports whether err belongs to the retryable classification:
// connection reset, connection refused, timeout, lost connection, name
// resolution failure. Anything else is surfaced immediately.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Executor retries a single idempotent operation with linear backoff:
// the delay before attempt n is BaseDelay*n, computed only between
// attempts, never before the first. After the attempt budget the last
// error is surfaced to the caller as fatal for that operation.
type Executor struct {
	Attempts  int
	BaseDelay time.Duration

	// Sleep waits between attempts; overridable in tests. The default
	// respects ctx cancellation.
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor returns an executor with the default policy.
func NewExecutor() *Executor {
	return &Executor{
		Attempts:  DefaultAttempts,
		BaseDelay: DefaultBaseDelay,
	}
}

func (e *Executor) attempts() int {
	if e.Attempts > 0 {
		return e.Attempts
	}
	return DefaultAttempts
}

func (e *Executor) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs op, retrying transient failures up to the attempt budget. Non
// transient errors return immediately; a cancelled context aborts the
// backoff wait.
func (e *Executor) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := e.attempts()
	base := e.BaseDelay
	if base <= 0 {
		base = DefaultBaseDelay
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if !Transient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		delay := base * time.Duration(attempt)
		logx.Warn().Err(lastErr).Str("op", name).
			Int("attempt", attempt).Int("max", attempts).Dur("backoff", delay).
			Msg("transient store failure, retrying")
		if err := e.sleep(ctx, delay); err != nil {
			return err
		}
	}

	logx.Error().Err(lastErr).Str("op", name).Int("attempts", attempts).Msg("store operation exhausted retries")
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, name string, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, name, func(ctx context.Context) error {
		var opErr error
		out, opErr = op(ctx)
		return opErr
	})
	return out, err
}
