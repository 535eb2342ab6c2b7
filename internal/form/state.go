package form

import (
	"errors"
	"time"
)

// PageSize is the number of fields offered per page. The presentation
// collaborator can show at most five inputs per form page, so the
// collector slices to match.
const PageSize = 5

// DefaultIdleTimeout is how long an in-progress form survives without a
// page submission before it is considered abandoned.
const DefaultIdleTimeout = 30 * time.Minute

var (
	// ErrDuplicateSession reports a Start while a live accumulation for
	// the same (actor, form) already exists. The actor must finish or
	// abandon the first fill.
	ErrDuplicateSession = errors.New("form fill already in progress")
	// ErrStaleState reports a page submission with no live accumulation
	// behind it, either expired or never started. The actor must restart.
	ErrStaleState = errors.New("no form fill in progress")
	// ErrPageMismatch reports a submission whose page index does not match
	// the accumulation's current page, guarding against replay and
	// out-of-order delivery. The accumulation is left untouched.
	ErrPageMismatch = errors.New("form page out of sequence")
)

// Key identifies one in-progress accumulation.
type Key struct {
	Actor  string
	FormID string
}

// State is the persisted accumulation of a multi-page fill. The field list
// is fixed at creation; Page only ever increases; a key present in Answers
// stays until the whole state is discarded.
type State struct {
	Fields  []string          `json:"fields"`
	Answers map[string]string `json:"answers"`
	Page    int               `json:"page"`
	Touched time.Time         `json:"touched"`
}

// pageSlice returns the fields of page i, shorter on the last page.
func (s State) pageSlice(i int) []string {
	lo := i * PageSize
	if lo >= len(s.Fields) {
		return nil
	}
	hi := lo + PageSize
	if hi > len(s.Fields) {
		hi = len(s.Fields)
	}
	return s.Fields[lo:hi]
}
