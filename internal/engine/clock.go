package engine

import "time"

// Clock is the engine's source of wall-clock time.
//
// Timer deadlines are computed from Now and waited on with After. Tests
// substitute a manual clock to make catch-up behaviour deterministic.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

// SystemClock is the real clock.
type SystemClock struct{}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// After returns time.After(d).
func (SystemClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}
