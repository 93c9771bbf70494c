package clock

import "time"

// Clock provides time operations that can be mocked for testing.
// Timers driving the reactor use real tickers; only timestamps and
// expiry comparisons go through Clock.
type Clock interface {
	Now() time.Time
	Since(t time.Time) time.Duration
}

// RealClock implements Clock using the system clock
type RealClock struct{}

func New() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}
