package session

import (
	"errors"
	"time"

	"github.com/facturio-bot/server/internal/core"
)

// Kind distinguishes normal command requests from suggestion-style
// exchanges that the platform expects to be answered almost immediately.
type Kind int

const (
	KindCommand Kind = iota
	KindSuggest
)

const (
	// CommandWindow is the platform response budget for normal requests.
	CommandWindow = 900 * time.Second
	// SuggestWindow is the much tighter budget for suggestion exchanges.
	// Callers on this path must stay allocation-light and avoid uncached I/O.
	SuggestWindow = 3 * time.Second
)

var (
	// ErrExpired reports that the platform window for this request has
	// closed. Retrying a stale window cannot succeed; the error is fatal
	// for this request.
	ErrExpired = errors.New("session window expired")
	// ErrAlreadyTerminal reports that a terminal response was already
	// issued. The platform rejects a second one, so this is never retried.
	ErrAlreadyTerminal = errors.New("session already answered terminally")
	// ErrNotTerminal reports a follow-up attempted before any terminal
	// response exists to follow up on.
	ErrNotTerminal = errors.New("session has no terminal response yet")
)

// State is the validity state of one inbound request's response budget.
type State int

const (
	StateFresh State = iota
	StateAcknowledged
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateFresh:
		return "fresh"
	case StateAcknowledged:
		return "acknowledged"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Responder is the presentation-layer collaborator that actually delivers
// payloads to the platform. Formatting is entirely its concern.
type Responder interface {
	// Defer sends the minimal acknowledgement that buys the outer window.
	Defer() error
	// Deliver sends the single terminal payload.
	Deliver(payload any) error
	// FollowUp sends a supplementary, non-terminal payload after a
	// terminal response already went out.
	FollowUp(payload any) error
}

// DeferredToken is handed back by Acknowledge; it records when the
// acknowledgement happened so slow work can be budgeted against it.
type DeferredToken struct {
	AcknowledgedAt time.Time
}

// Session tracks whether one inbound request has been acknowledged or
// terminally answered, and enforces the platform's single-terminal-response
// rule for everything built on top of it.
//
// A Session is owned by the handler executing its request and is not safe
// for concurrent use.
type Session struct {
	kind      Kind
	createdAt time.Time
	responder Responder
	clock     core.Clock

	state State
	token DeferredToken
}

// New wraps one inbound request descriptor. A nil clock defaults to the
// system clock.
func New(kind Kind, createdAt time.Time, responder Responder, clock core.Clock) *Session {
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Session{
		kind:      kind,
		createdAt: createdAt,
		responder: responder,
		clock:     clock,
		state:     StateFresh,
	}
}

// Kind returns the request kind the session was created with.
func (s *Session) Kind() Kind {
	return s.kind
}

// State returns the current validity state.
func (s *Session) State() State {
	return s.state
}

// Window returns the platform budget for this session's kind.
func (s *Session) Window() time.Duration {
	if s.kind == KindSuggest {
		return SuggestWindow
	}
	return CommandWindow
}

// IsExpired reports whether the platform window has elapsed. Pure and
// side-effect free; callable repeatedly.
func (s *Session) IsExpired() bool {
	return s.clock.Now().Sub(s.createdAt) >= s.Window()
}

// Acknowledge sends the minimal acknowledgement, transitions Fresh to
// Acknowledged and returns a deferred token. Calling it again while
// Acknowledged is a no-op returning the same token. It fails once the
// session is Terminal or its window has closed.
func (s *Session) Acknowledge() (DeferredToken, error) {
	if s.state == StateTerminal {
		return DeferredToken{}, ErrAlreadyTerminal
	}
	if s.IsExpired() {
		return DeferredToken{}, ErrExpired
	}
	if s.state == StateAcknowledged {
		return s.token, nil
	}
	if err := s.responder.Defer(); err != nil {
		return DeferredToken{}, err
	}
	s.state = StateAcknowledged
	s.token = DeferredToken{AcknowledgedAt: s.clock.Now()}
	return s.token, nil
}

// Respond issues the single terminal response, handing payload to the
// responder for delivery. The Terminal state is absorbing: a second call
// fails with ErrAlreadyTerminal, and a call after the window closed fails
// with ErrExpired. In both cases payload is discarded, never delivered.
func (s *Session) Respond(payload any) error {
	if s.state == StateTerminal {
		return ErrAlreadyTerminal
	}
	if s.IsExpired() {
		return ErrExpired
	}
	s.state = StateTerminal
	return s.responder.Deliver(payload)
}

// FollowUp sends a supplementary, non-terminal payload. It is only valid
// once a terminal response has gone out; the platform accepts follow-ups
// to an answered request even after the original window closes.
func (s *Session) FollowUp(payload any) error {
	if s.state != StateTerminal {
		return ErrNotTerminal
	}
	return s.responder.FollowUp(payload)
}
