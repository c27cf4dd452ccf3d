package reduce

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Clock is the time source used by Throttle.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// WallClock is the real-time Clock.
var WallClock Clock = wallClock{}

// Throttle enforces a minimum interval between remote calls. One Throttle is
// shared by every component that talks to the same backend.
type Throttle struct {
	limiter  *rate.Limiter
	clock    Clock
	interval time.Duration
}

// NewThrottle creates a throttle allowing one call per interval. A zero
// interval disables throttling. A nil clock uses WallClock.
func NewThrottle(interval time.Duration, clock Clock) *Throttle {
	if clock == nil {
		clock = WallClock
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Throttle{
		limiter:  rate.NewLimiter(limit, 1),
		clock:    clock,
		interval: interval,
	}
}

// Interval returns the configured minimum interval.
func (t *Throttle) Interval() time.Duration { return t.interval }

// Wait blocks until the next call is allowed or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	now := t.clock.Now()
	r := t.limiter.ReserveN(now, 1)
	if !r.OK() {
		return eris.New("reduce: throttle cannot admit call")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		r.CancelAt(t.clock.Now())
		return ctx.Err()
	case <-t.clock.After(delay):
		return nil
	}
}
