package reduce

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/tim7en/Uzbekistan-URBAN-research-sub001/internal/resilience"
)

// Timeouts bound a single backend call by payload size.
type Timeouts struct {
	Scalar    time.Duration
	Histogram time.Duration
	Heavy     time.Duration
}

// DefaultTimeouts are 60s for scalar aggregates, 120s for histograms and
// 180s for any call at tileScale 8 or above.
func DefaultTimeouts() Timeouts {
	return Timeouts{Scalar: 60 * time.Second, Histogram: 120 * time.Second, Heavy: 180 * time.Second}
}

// For picks the timeout for req.
func (t Timeouts) For(req Request) time.Duration {
	switch {
	case req.TileScale >= 8:
		return t.Heavy
	case req.Kind == FrequencyHistogram:
		return t.Histogram
	default:
		return t.Scalar
	}
}

// Guard wraps a Reducer with the shared throttle, per-call timeouts,
// transient-error retries and a circuit breaker.
type Guard struct {
	next     Reducer
	throttle *Throttle
	policy   resilience.Policy
	breaker  *resilience.Breaker
	timeouts Timeouts
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithPolicy sets the retry policy.
func WithPolicy(p resilience.Policy) GuardOption {
	return func(g *Guard) { g.policy = p }
}

// WithBreaker sets the circuit breaker.
func WithBreaker(b *resilience.Breaker) GuardOption {
	return func(g *Guard) { g.breaker = b }
}

// WithTimeouts sets the per-call timeouts.
func WithTimeouts(t Timeouts) GuardOption {
	return func(g *Guard) { g.timeouts = t }
}

// NewGuard wraps next. throttle must be shared by every Guard that targets the same backend.
func NewGuard(next Reducer, throttle *Throttle, opts ...GuardOption) *Guard {
	g := &Guard{
		next:     next,
		throttle: throttle,
		policy:   resilience.DefaultPolicy(),
		timeouts: DefaultTimeouts(),
	}
	for _, o := range opts {
		o(g)
	}
	if g.breaker == nil {
		g.breaker = resilience.NewBreaker("raster-backend", 0, 0, resilience.IsTransient)
	}
	if g.policy.OnRetry == nil {
		g.policy.OnRetry = resilience.LogRetry("reduce", "reduce_region")
	}
	return g
}

// Reduce implements Reducer.
func (g *Guard) Reduce(ctx context.Context, req Request) (Response, error) {
	return resilience.Retry(ctx, g.policy, func(ctx context.Context) (Response, error) {
		if g.throttle != nil {
			if err := g.throttle.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "reduce: throttle wait")
			}
		}
		return resilience.Call(ctx, g.breaker, func(ctx context.Context) (Response, error) {
			return g.call(ctx, req)
		})
	})
}

func (g *Guard) call(ctx context.Context, req Request) (Response, error) {
	cctx, cancel := context.WithTimeout(ctx, g.timeouts.For(req))
	defer cancel()

	resp, err := g.next.Reduce(cctx, req)
	if err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, resilience.NewTransientError(eris.Wrapf(err, "reduce: %s on %s timed out", req.Kind, req.Region.Name), 0)
	}
	return resp, err
}
