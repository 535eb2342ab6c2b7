package core

import "time"

// Clock abstracts the current time so timing-sensitive components
// (session windows, cooldowns, form idle timeouts) can be tested with a
// fixed time source.
type Clock interface {
	Now() time.Time
}

// SystemClock is the wall-clock implementation used in production wiring.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
