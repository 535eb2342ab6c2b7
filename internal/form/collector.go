package form

import (
	"context"
	"strings"
	"time"

	"github.com/facturio-bot/server/internal/core"
	logx "github.com/facturio-bot/server/pkg/logger"
)

// Result is what a Start or SubmitPage hands back to the caller. Done
// carries the finalized accumulation; otherwise NextFields is the slice to
// offer on the next page.
type Result struct {
	Done       bool
	NextPage   int
	NextFields []string
	Values     map[string]string
}

// Collector spreads a form of arbitrary length across fixed-size pages
// while keeping a single running accumulation per (actor, form) in the
// injected store. Concurrent fills of different keys never contend; the
// presentation layer offers pages serially per key, and the page-index
// check defends against replays anyway.
type Collector struct {
	store Store
	idle  time.Duration
	clock core.Clock
}

// NewCollector builds a collector over the given store. Zero idle defaults
// to DefaultIdleTimeout; a nil clock defaults to the system clock.
func NewCollector(store Store, idle time.Duration, clock core.Clock) *Collector {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Collector{store: store, idle: idle, clock: clock}
}

// live reports whether a stored state is still within the idle timeout.
// Stores with native TTL never hand back dead states; the in-memory store
// can, between sweeps.
func (c *Collector) live(st State) bool {
	return c.clock.Now().Sub(st.Touched) < c.idle
}

// Start begins a fill for (actor, formID) over the ordered field list and
// returns the first page. An empty field list completes immediately with
// no persisted state. A live fill already in progress fails with
// ErrDuplicateSession so two concurrent fills cannot trample each other.
func (c *Collector) Start(ctx context.Context, actor, formID string, allFields []string) (Result, error) {
	if len(allFields) == 0 {
		return Result{Done: true, Values: map[string]string{}}, nil
	}

	key := Key{Actor: actor, FormID: formID}
	existing, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if found && c.live(existing) {
		return Result{}, ErrDuplicateSession
	}

	fields := make([]string, len(allFields))
	copy(fields, allFields)

	st := State{
		Fields:  fields,
		Answers: make(map[string]string, len(fields)),
		Page:    0,
		Touched: c.clock.Now(),
	}
	if err := c.store.Put(ctx, key, st); err != nil {
		return Result{}, err
	}

	logx.Debug().Str("actor", actor).Str("form", formID).Int("fields", len(fields)).Msg("form fill started")
	return Result{NextPage: 0, NextFields: st.pageSlice(0)}, nil
}

// SubmitPage merges one page of answers and either offers the next page or
// finalizes. Finalize is one-shot: the state is destroyed before the
// accumulation is returned. Blank answers are treated as not provided and
// never overwrite an earlier value; a non-blank resubmission of a known
// key wins.
func (c *Collector) SubmitPage(ctx context.Context, actor, formID string, pageIndex int, answers map[string]string) (Result, error) {
	key := Key{Actor: actor, FormID: formID}
	st, found, err := c.store.Get(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if !found || !c.live(st) {
		return Result{}, ErrStaleState
	}
	if pageIndex != st.Page {
		logx.Warn().Str("actor", actor).Str("form", formID).
			Int("got", pageIndex).Int("want", st.Page).Msg("out-of-sequence page submission")
		return Result{}, ErrPageMismatch
	}

	for _, field := range st.pageSlice(pageIndex) {
		value, ok := answers[field]
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		st.Answers[field] = value
	}

	st.Page++
	st.Touched = c.clock.Now()

	next := st.pageSlice(st.Page)
	if len(next) == 0 {
		if err := c.store.Delete(ctx, key); err != nil {
			return Result{}, err
		}
		logx.Info().Str("actor", actor).Str("form", formID).
			Int("answers", len(st.Answers)).Msg("form fill complete")
		return Result{Done: true, Values: st.Answers}, nil
	}

	if err := c.store.Put(ctx, key, st); err != nil {
		return Result{}, err
	}
	return Result{NextPage: st.Page, NextFields: next}, nil
}

// Abandon discards an in-progress fill, if any.
func (c *Collector) Abandon(ctx context.Context, actor, formID string) error {
	return c.store.Delete(ctx, Key{Actor: actor, FormID: formID})
}

// SweepIdle removes accumulations past the idle timeout. It is driven by
// RunSweeper, never by the request path.
func (c *Collector) SweepIdle(ctx context.Context) (int, error) {
	return c.store.Sweep(ctx, c.clock.Now().Add(-c.idle))
}

// RunSweeper sweeps on a fixed interval until ctx is done. Run it on its
// own goroutine.
func (c *Collector) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := c.SweepIdle(ctx)
			if err != nil {
				logx.Error().Err(err).Msg("form state sweep failed")
				continue
			}
			if removed > 0 {
				logx.Info().Int("removed", removed).Msg("swept idle form state")
			}
		}
	}
}
