package device

import (
	"context"
	"time"
)

// Clock is the device's notion of time, relative to boot
type Clock interface {
	Now() time.Duration
	// SleepUntil suspends until at least t. Waking late is allowed; callers
	// must not derive the next deadline from the wake-up time.
	SleepUntil(ctx context.Context, t time.Duration) error
}

// RealClock measures from its creation using the monotonic clock
type RealClock struct {
	start time.Time
}

// NewRealClock starts a clock at zero
func NewRealClock() *RealClock {
	return &RealClock{start: time.Now()}
}

func (c *RealClock) Now() time.Duration { return time.Since(c.start) }

func (c *RealClock) SleepUntil(ctx context.Context, t time.Duration) error {
	d := t - c.Now()
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SimClock is a deterministic clock. Sleeping jumps straight to the target,
// plus an optional oversleep that models late wake-ups from suspension.
type SimClock struct {
	now       time.Duration
	Oversleep func() time.Duration
	// OnAdvance observes every forward jump, e.g. to sample a meter
	OnAdvance func(from, to time.Duration)
}

// NewSimClock starts a simulated clock at start
func NewSimClock(start time.Duration) *SimClock {
	return &SimClock{now: start}
}

func (c *SimClock) Now() time.Duration { return c.now }

func (c *SimClock) SleepUntil(ctx context.Context, t time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from := c.now
	if t > c.now {
		c.now = t
	}
	if c.Oversleep != nil {
		c.now += c.Oversleep()
	}
	c.advanced(from)
	return nil
}

// Advance moves the clock forward by d
func (c *SimClock) Advance(d time.Duration) {
	from := c.now
	c.now += d
	c.advanced(from)
}

func (c *SimClock) advanced(from time.Duration) {
	if c.OnAdvance != nil && c.now > from {
		c.OnAdvance(from, c.now)
	}
}
