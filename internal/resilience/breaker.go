// Package resilience provides reliability patterns for text-backend calls.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

func (s state) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Breaker implements a circuit breaker for one backend provider.
// It tracks consecutive failures and opens the circuit when a threshold is
// reached, rejecting calls until a timeout elapses. In half-open state a
// single probe call is let through.
type Breaker struct {
	mu          sync.Mutex
	state       state
	probing     bool
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	now         func() time.Time // for testing
}

// NewBreaker creates a circuit breaker that opens after maxFailures consecutive
// failures and stays open for the given timeout before transitioning to half-open.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	return &Breaker{
		maxFailures: max(1, maxFailures),
		timeout:     timeout,
		now:         time.Now,
	}
}

// Execute runs fn if the circuit allows it.
// Returns ErrCircuitOpen if the circuit is open.
func (b *Breaker) Execute(fn func() error) error {
	return b.ExecuteContext(context.Background(), func(context.Context) error { return fn() })
}

// ExecuteContext runs fn with ctx. A failure caused by the caller
// cancelling ctx is returned but not counted against the backend. A panic
// in fn counts as a failure and is re-raised.
func (b *Breaker) ExecuteContext(ctx context.Context, fn func(context.Context) error) (err error) {
	if !b.allowRequest() {
		return ErrCircuitOpen
	}

	panicked := true
	defer func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.probing = false

		switch {
		case panicked:
			b.onFailure()
		case err == nil:
			b.onSuccess()
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			if b.state == stateHalfOpen {
				b.state = stateOpen
				b.openedAt = b.now()
			}
		default:
			b.onFailure()
		}
	}()

	err = fn(ctx)
	panicked = false
	return err
}

// State returns "closed", "open" or "half-open".
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

func (b *Breaker) allowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = stateHalfOpen
			b.probing = true
			return true
		}
		return false
	case stateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	if b.state == stateHalfOpen || b.failures >= b.maxFailures {
		b.state = stateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.state = stateClosed
}
