// Package resilience provides retry and circuit breaking for calls to the
// remote raster-analytics backend.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is a circuit breaker state.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the backend while the breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit breaker is open")

// Breaker stops calling a failing backend for a cool-down period after
// Threshold consecutive failures, then lets a single trial call through.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration
	counts    func(error) bool
	now       func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
}

// NewBreaker creates a breaker. threshold <= 0 defaults to 5, cooldown <= 0 to 30s.
// counts decides which errors count as failures; nil counts every error.
func NewBreaker(name string, threshold int, cooldown time.Duration, counts func(error) bool) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if counts == nil {
		counts = func(err error) bool { return err != nil }
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		counts:    counts,
		now:       time.Now,
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cooldown {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != StateOpen {
		return nil
	}
	if b.now().Sub(b.openedAt) >= b.cooldown {
		b.setState(StateHalfOpen)
		return nil
	}
	return ErrCircuitOpen
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil || !b.counts(err) {
		b.failures = 0
		if b.state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.failures++
	if b.state == StateHalfOpen || b.failures >= b.threshold {
		b.openedAt = b.now()
		b.setState(StateOpen)
	}
}

func (b *Breaker) setState(s State) {
	if s == b.state {
		return
	}
	zap.L().Info("circuit breaker state change",
		zap.String("breaker", b.name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", s),
	)
	b.state = s
}

// Call runs fn through the breaker.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := b.admit(); err != nil {
		var zero T
		return zero, err
	}
	v, err := fn(ctx)
	b.record(err)
	return v, err
}
