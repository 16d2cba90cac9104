package util

import "time"

// Clock is injected wherever time is read or waited on.
type Clock interface {
	After(d time.Duration) <-chan time.Time
	Now() time.Time
}

type RealClock struct{}

func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (RealClock) Now() time.Time                         { return time.Now() }

// FixedClock reports a constant time and fires every After immediately.
// Used in tests so timestamps and polling loops are deterministic.
type FixedClock struct{ T time.Time }

func (c FixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.T
	return ch
}

func (c FixedClock) Now() time.Time { return c.T }
