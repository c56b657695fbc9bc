package managed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestBreaker(threshold int, reset time.Duration) (*Breaker, *time.Time) {
	b := NewBreaker(threshold, reset)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, &now
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure()
	assert.False(t, b.Allow())

	// After the reset timeout exactly one probe is admitted.
	*now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.False(t, b.Allow(), "only one probe in flight")

	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
	assert.True(t, b.Allow())
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	b, now := newTestBreaker(1, 30*time.Second)

	b.RecordFailure()
	*now = now.Add(31 * time.Second)
	assert.True(t, b.Allow())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	// The reopen restarts the reset window.
	*now = now.Add(30 * time.Second)
	assert.True(t, b.Allow())
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b, _ := newTestBreaker(3, 30*time.Second)

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerClosed, b.State(), "count resets on success")
}

func TestBreakerDefaults(t *testing.T) {
	b := NewBreaker(0, 0)
	assert.Equal(t, DefaultFailureThreshold, b.threshold)
	assert.Equal(t, DefaultResetTimeout, b.resetTimeout)
}
