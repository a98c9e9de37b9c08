package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrCircuitOpen is returned when a call is rejected because the breaker is open.
var ErrCircuitOpen = eris.New("resilience: circuit breaker is open")

// BreakerState is the state of a circuit breaker.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a circuit breaker guarding one external validation service.
// After FailureThreshold consecutive failures it rejects calls for
// ResetTimeout, then allows a single probe.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time

	nowFunc func() time.Time
}

// NewBreaker creates a Breaker. Zero values select the defaults
// (5 failures, 30s reset).
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		nowFunc:          time.Now,
	}
}

// Allow reports whether a call may proceed, returning ErrCircuitOpen otherwise.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.nowFunc().Sub(b.openedAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			return nil // probe
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}

// Record reports a call outcome to the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		b.state = BreakerClosed
		b.failures = 0
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.nowFunc()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.nowFunc().Sub(b.openedAt) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}
