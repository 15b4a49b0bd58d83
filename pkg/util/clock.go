package util

import "time"

// Clock is the trusted time source for order timestamps. Transitions read it
// exactly once, at the point the record is stamped.
type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// StubClock returns a fixed instant. Test helper.
type StubClock struct {
	T time.Time
}

func (c StubClock) Now() time.Time { return c.T }
