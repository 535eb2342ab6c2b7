package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type recordingResponder struct {
	deferred  int
	delivered []any
	followUps []any
}

func (r *recordingResponder) Defer() error {
	r.deferred++
	return nil
}

func (r *recordingResponder) Deliver(payload any) error {
	r.delivered = append(r.delivered, payload)
	return nil
}

func (r *recordingResponder) FollowUp(payload any) error {
	r.followUps = append(r.followUps, payload)
	return nil
}

func TestRespondFastPath(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &recordingResponder{}
	s := New(KindCommand, now, resp, fixedClock{now: now.Add(time.Second)})

	require.NoError(t, s.Respond("done"))
	assert.Equal(t, StateTerminal, s.State())
	assert.Equal(t, []any{"done"}, resp.delivered)
	assert.Zero(t, resp.deferred)
}

func TestRespondTwiceFailsSecondTime(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &recordingResponder{}
	s := New(KindCommand, now, resp, fixedClock{now: now})

	require.NoError(t, s.Respond("first"))
	err := s.Respond("second")
	require.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, []any{"first"}, resp.delivered)
}

func TestAcknowledgeThenRespond(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &recordingResponder{}
	clock := fixedClock{now: now.Add(2 * time.Second)}
	s := New(KindCommand, now, resp, clock)

	token, err := s.Acknowledge()
	require.NoError(t, err)
	assert.Equal(t, clock.now, token.AcknowledgedAt)
	assert.Equal(t, StateAcknowledged, s.State())
	assert.Equal(t, 1, resp.deferred)

	// idempotent while acknowledged
	again, err := s.Acknowledge()
	require.NoError(t, err)
	assert.Equal(t, token, again)
	assert.Equal(t, 1, resp.deferred)

	require.NoError(t, s.Respond("slow result"))
	assert.Equal(t, StateTerminal, s.State())

	_, err = s.Acknowledge()
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
}

func TestSuggestKindExpiry(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fresh := New(KindSuggest, created, &recordingResponder{}, fixedClock{now: created.Add(2900 * time.Millisecond)})
	assert.False(t, fresh.IsExpired())

	stale := New(KindSuggest, created, &recordingResponder{}, fixedClock{now: created.Add(3 * time.Second)})
	assert.True(t, stale.IsExpired())

	err := stale.Respond("too late")
	require.ErrorIs(t, err, ErrExpired)
}

func TestCommandWindowOutlastsSuggestWindow(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := fixedClock{now: created.Add(10 * time.Minute)}

	cmd := New(KindCommand, created, &recordingResponder{}, clock)
	assert.False(t, cmd.IsExpired())

	expired := New(KindCommand, created, &recordingResponder{}, fixedClock{now: created.Add(CommandWindow)})
	assert.True(t, expired.IsExpired())
	_, err := expired.Acknowledge()
	assert.ErrorIs(t, err, ErrExpired)
}

func TestFollowUpOnlyAfterTerminal(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &recordingResponder{}
	s := New(KindCommand, created, resp, fixedClock{now: created})

	err := s.FollowUp("early")
	require.ErrorIs(t, err, ErrNotTerminal)

	require.NoError(t, s.Respond("answer"))
	require.NoError(t, s.FollowUp("supplement"))
	assert.Equal(t, []any{"supplement"}, resp.followUps)
}

func TestFollowUpAllowedAfterWindowCloses(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	resp := &recordingResponder{}
	s := New(KindCommand, created, resp, fixedClock{now: created})
	require.NoError(t, s.Respond("answer"))

	// follow-ups to an answered request survive window expiry
	late := &Session{
		kind:      KindCommand,
		createdAt: created,
		responder: resp,
		clock:     fixedClock{now: created.Add(CommandWindow + time.Minute)},
		state:     StateTerminal,
	}
	require.NoError(t, late.FollowUp("late supplement"))
}
