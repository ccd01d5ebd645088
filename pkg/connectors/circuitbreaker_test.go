package connectors

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, 10*time.Millisecond)
	require.True(t, cb.Allow())

	cb.RecordFailure()
	cb.RecordFailure()
	require.True(t, cb.Allow()) // below threshold, still closed

	cb.RecordFailure()
	require.False(t, cb.Allow())
	require.True(t, cb.Open())
}

func TestCircuitBreakerHalfOpensAfterCooldown(t *testing.T) {
	cb := NewCircuitBreaker(1, 5*time.Millisecond)
	cb.RecordFailure()
	require.False(t, cb.Allow())

	time.Sleep(10 * time.Millisecond)
	require.True(t, cb.Allow()) // cooldown elapsed: one probe allowed

	cb.RecordSuccess()
	require.False(t, cb.Open())
}
