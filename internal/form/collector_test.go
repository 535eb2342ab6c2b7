package form

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestCollector(t *testing.T) (*Collector, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewCollector(NewMemoryStore(), DefaultIdleTimeout, clock), clock
}

func fieldList(n int) []string {
	fields := make([]string, n)
	for i := range fields {
		fields[i] = string(rune('a' + i))
	}
	return fields
}

func TestWalkToCompletionCoversAllFields(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()
	fields := fieldList(12) // 3 pages: 5 + 5 + 2

	res, err := c.Start(ctx, "actor", "invoice", fields)
	require.NoError(t, err)
	require.False(t, res.Done)
	assert.Equal(t, fields[0:5], res.NextFields)

	page := 0
	for !res.Done {
		answers := make(map[string]string, len(res.NextFields))
		for _, f := range res.NextFields {
			answers[f] = "v-" + f
		}
		res, err = c.SubmitPage(ctx, "actor", "invoice", page, answers)
		require.NoError(t, err)
		page++
	}

	assert.Equal(t, 3, page)
	assert.Len(t, res.Values, len(fields))
	for _, f := range fields {
		assert.Equal(t, "v-"+f, res.Values[f])
	}
}

func TestLastPageShorterThanPageSize(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()

	res, err := c.Start(ctx, "actor", "invoice", fieldList(7))
	require.NoError(t, err)

	res, err = c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{"a": "1"})
	require.NoError(t, err)
	require.False(t, res.Done)
	assert.Equal(t, []string{"f", "g"}, res.NextFields)
}

func TestEmptyFieldListCompletesImmediately(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	res, err := c.Start(context.Background(), "actor", "invoice", nil)
	require.NoError(t, err)
	assert.True(t, res.Done)
	assert.Empty(t, res.Values)

	// nothing was persisted
	_, err = c.SubmitPage(context.Background(), "actor", "invoice", 0, nil)
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestDuplicateStartRejected(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", fieldList(6))
	require.NoError(t, err)

	_, err = c.Start(ctx, "actor", "invoice", fieldList(6))
	assert.ErrorIs(t, err, ErrDuplicateSession)

	// a different form or actor is unaffected
	_, err = c.Start(ctx, "actor", "quote", fieldList(6))
	assert.NoError(t, err)
	_, err = c.Start(ctx, "other", "invoice", fieldList(6))
	assert.NoError(t, err)

	// past the idle timeout the abandoned fill no longer blocks a restart
	clock.advance(DefaultIdleTimeout + time.Minute)
	_, err = c.Start(ctx, "actor", "invoice", fieldList(6))
	assert.NoError(t, err)
}

func TestPageMismatchLeavesAccumulationUntouched(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", fieldList(10))
	require.NoError(t, err)

	_, err = c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{"a": "1"})
	require.NoError(t, err)

	// replayed page 0 and premature page 2 both bounce
	_, err = c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{"a": "overwritten"})
	require.ErrorIs(t, err, ErrPageMismatch)
	_, err = c.SubmitPage(ctx, "actor", "invoice", 2, map[string]string{"f": "early"})
	require.ErrorIs(t, err, ErrPageMismatch)

	res, err := c.SubmitPage(ctx, "actor", "invoice", 1, map[string]string{"f": "6"})
	require.NoError(t, err)
	require.True(t, res.Done)
	assert.Equal(t, "1", res.Values["a"])
	assert.Equal(t, "6", res.Values["f"])
}

func TestSubmitWithoutStartIsStale(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	_, err := c.SubmitPage(context.Background(), "actor", "invoice", 0, map[string]string{"a": "1"})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestIdleFillGoesStale(t *testing.T) {
	t.Parallel()

	c, clock := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", fieldList(10))
	require.NoError(t, err)

	clock.advance(DefaultIdleTimeout)
	_, err = c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{"a": "1"})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestBlankAnswersNeverOverwrite(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", []string{"a", "b", "c", "d", "e", "f"})
	require.NoError(t, err)

	res, err := c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{
		"a": "kept",
		"b": "   ", // blank, not provided
		"c": "  trimmed  ",
	})
	require.NoError(t, err)
	require.False(t, res.Done)

	res, err = c.SubmitPage(ctx, "actor", "invoice", 1, map[string]string{"f": "6"})
	require.NoError(t, err)
	require.True(t, res.Done)

	assert.Equal(t, "kept", res.Values["a"])
	_, present := res.Values["b"]
	assert.False(t, present)
	assert.Equal(t, "trimmed", res.Values["c"])
}

func TestFinalizeIsOneShot(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", fieldList(3))
	require.NoError(t, err)

	res, err := c.SubmitPage(ctx, "actor", "invoice", 0, map[string]string{"a": "1"})
	require.NoError(t, err)
	require.True(t, res.Done)

	_, err = c.SubmitPage(ctx, "actor", "invoice", 1, map[string]string{"a": "again"})
	assert.ErrorIs(t, err, ErrStaleState)
}

func TestAbandonDiscardsState(t *testing.T) {
	t.Parallel()

	c, _ := newTestCollector(t)
	ctx := context.Background()

	_, err := c.Start(ctx, "actor", "invoice", fieldList(10))
	require.NoError(t, err)
	require.NoError(t, c.Abandon(ctx, "actor", "invoice"))

	_, err = c.Start(ctx, "actor", "invoice", fieldList(10))
	assert.NoError(t, err)
}

func TestSweepRemovesOnlyIdleState(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	store := NewMemoryStore()
	c := NewCollector(store, DefaultIdleTimeout, clock)
	ctx := context.Background()

	_, err := c.Start(ctx, "idle", "invoice", fieldList(10))
	require.NoError(t, err)

	clock.advance(DefaultIdleTimeout + time.Minute)
	_, err = c.Start(ctx, "fresh", "invoice", fieldList(10))
	require.NoError(t, err)

	removed, err := c.SweepIdle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	// fresh fill still accepts its first page
	_, err = c.SubmitPage(ctx, "fresh", "invoice", 0, map[string]string{"a": "1"})
	assert.NoError(t, err)
}
