package managed

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState string

const (
	// BreakerClosed passes all operations through.
	BreakerClosed BreakerState = "CLOSED"
	// BreakerOpen refuses operations until the reset timeout elapses.
	BreakerOpen BreakerState = "OPEN"
	// BreakerHalfOpen admits a single probe; its outcome decides the
	// next state.
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Circuit breaker defaults.
const (
	// DefaultFailureThreshold is the consecutive-failure count that trips
	// the breaker.
	DefaultFailureThreshold = 5
	// DefaultResetTimeout is how long an open breaker refuses operations
	// before admitting a probe.
	DefaultResetTimeout = 30 * time.Second
)

// Breaker is a per-client failure gate. Consecutive failures from invoke and
// discovery trip it open; after the reset timeout a single successful probe
// closes it again.
type Breaker struct {
	mu            sync.Mutex
	state         BreakerState
	failureCount  int
	lastFailureAt time.Time
	probeInFlight bool

	threshold    int
	resetTimeout time.Duration

	now func() time.Time // test seam
}

// NewBreaker creates a closed breaker. Zero arguments select the defaults.
func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultResetTimeout
	}
	return &Breaker{
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether an operation may proceed. In the open state it
// transitions to half-open once the reset timeout has elapsed and admits
// exactly one probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.lastFailureAt) >= b.resetTimeout {
			b.state = BreakerHalfOpen
			b.probeInFlight = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess resets the breaker to closed.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failureCount = 0
	b.probeInFlight = false
}

// RecordFailure counts a failure and trips the breaker when the threshold is
// reached. A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()
	b.probeInFlight = false

	if b.state == BreakerHalfOpen || b.failureCount >= b.threshold {
		b.state = BreakerOpen
	}
}

// State returns the current state, applying the open-to-half-open timeout
// transition for observability reads.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}
