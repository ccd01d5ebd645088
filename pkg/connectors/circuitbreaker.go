package connectors

import (
	"sync/atomic"
	"time"

	"github.com/sipeed/gatewaybridge/pkg/model"
)

// CircuitBreaker trips a platform's Connector open after a run of
// consecutive failed sends (any SendRaw error), so the Router stops burning retry
// attempts against a platform that is clearly down, and automatically
// probes again after a cooldown. Modelled on the teacher's BaseChannel use
// of atomic.Bool/atomic.Int64 for lock-free process-wide state
// (pkg/channels/base.go's running/dedupeCount fields), generalized to a
// half-open probe instead of a plain flag.
type CircuitBreaker struct {
	failureThreshold int64
	cooldown         time.Duration

	consecutiveFailures atomic.Int64
	open                atomic.Bool
	openedAtUnixNano    atomic.Int64
}

// NewCircuitBreaker trips after failureThreshold consecutive failures and
// allows one probe attempt per cooldown while open.
func NewCircuitBreaker(failureThreshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{failureThreshold: int64(failureThreshold), cooldown: cooldown}
}

// Allow reports whether a call may proceed: always true while closed; true
// at most once per cooldown window while open (a half-open probe).
func (cb *CircuitBreaker) Allow() bool {
	if !cb.open.Load() {
		return true
	}
	openedAt := cb.openedAtUnixNano.Load()
	if time.Since(time.Unix(0, openedAt)) < cb.cooldown {
		return false
	}
	// Claim the probe by restarting the cooldown window; concurrent callers
	// that lose the swap are denied until the next window.
	return cb.openedAtUnixNano.CompareAndSwap(openedAt, time.Now().UnixNano())
}

// RecordSuccess closes the breaker and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.consecutiveFailures.Store(0)
	cb.open.Store(false)
}

// RecordFailure increments the failure count and trips the breaker open
// once failureThreshold consecutive failures have been observed.
func (cb *CircuitBreaker) RecordFailure() {
	n := cb.consecutiveFailures.Add(1)
	if n >= cb.failureThreshold {
		cb.openedAtUnixNano.Store(time.Now().UnixNano())
		cb.open.Store(true)
	}
}

// Open reports the breaker's current state, for metrics/logging.
func (cb *CircuitBreaker) Open() bool { return cb.open.Load() }

// ErrCircuitOpen is returned by a guarded Connector when the breaker denies
// a call; Router treats this the same as any other CircuitOpen error kind.
var ErrCircuitOpen = model.NewError(model.KindCircuitOpen, "connector circuit is open", nil)
