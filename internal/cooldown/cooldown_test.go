package cooldown

import (
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

func TestCheckDenyThenAllowAfterElapse(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	first := g.Check("actor", "generate", 30*time.Second)
	require.True(t, first.Allowed)

	clock.advance(10 * time.Second)
	second := g.Check("actor", "generate", 30*time.Second)
	require.False(t, second.Allowed)
	assert.Equal(t, 20, second.RetryAfterSeconds)

	clock.advance(20 * time.Second)
	third := g.Check("actor", "generate", 30*time.Second)
	assert.True(t, third.Allowed)
}

func TestRetryAfterIsCeilingRounded(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	require.True(t, g.Check("actor", "generate", 10*time.Second).Allowed)

	clock.advance(9*time.Second + 100*time.Millisecond)
	verdict := g.Check("actor", "generate", 10*time.Second)
	require.False(t, verdict.Allowed)
	assert.Equal(t, 1, verdict.RetryAfterSeconds)
}

func TestKeysAreIndependent(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	require.True(t, g.Check("a", "generate", time.Minute).Allowed)
	assert.True(t, g.Check("b", "generate", time.Minute).Allowed)
	assert.True(t, g.Check("a", "transfer", time.Minute).Allowed)
	assert.False(t, g.Check("a", "generate", time.Minute).Allowed)
}

func TestAllowedFireRefreshesLastFire(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	require.True(t, g.Check("actor", "generate", 30*time.Second).Allowed)
	clock.advance(31 * time.Second)
	require.True(t, g.Check("actor", "generate", 30*time.Second).Allowed)

	// the second allowed fire restarted the interval
	clock.advance(10 * time.Second)
	assert.False(t, g.Check("actor", "generate", 30*time.Second).Allowed)
}

func TestZeroDurationBypasses(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	for n := 0; n < 5; n++ {
		assert.True(t, g.Check("staff-actor", "generate", 0).Allowed)
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	require.True(t, g.Check("actor", "generate", time.Hour).Allowed)
	require.False(t, g.Check("actor", "generate", time.Hour).Allowed)

	g.Reset("actor", "generate")
	assert.True(t, g.Check("actor", "generate", time.Hour).Allowed)
}

func TestSweepHonorsRetention(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	g := NewGate(clock)

	require.True(t, g.Check("old", "generate", time.Minute).Allowed)
	clock.advance(25 * time.Hour)
	require.True(t, g.Check("recent", "generate", time.Minute).Allowed)

	removed := g.Sweep(DefaultRetention)
	assert.Equal(t, 1, removed)

	// swept entry behaves as if it never fired
	assert.True(t, g.Check("old", "generate", time.Minute).Allowed)
	assert.False(t, g.Check("recent", "generate", time.Minute).Allowed)
}

func TestTierConfigFor(t *testing.T) {
	t.Parallel()

	cfg := TierConfig{Default: time.Minute, Premium: 15 * time.Second}

	assert.Equal(t, time.Minute, cfg.For("free"))
	assert.Equal(t, 15*time.Second, cfg.For("premium"))
	assert.Equal(t, time.Duration(0), cfg.For("staff"))

	// premium falls back to default when unconfigured
	assert.Equal(t, time.Minute, TierConfig{Default: time.Minute}.For("premium"))
}
