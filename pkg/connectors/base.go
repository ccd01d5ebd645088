package connectors

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sipeed/gatewaybridge/pkg/logger"
	"github.com/sipeed/gatewaybridge/pkg/model"
)

// dedupeExpiry bounds how long a (message_id, recipient) pair is
// remembered to guard against a platform SDK retry re-delivering the same
// send at the transport layer. Adapted from the teacher's BaseChannel
// inbound dedup window (pkg/channels/base.go: dedupeExpiry = 10 * time.Minute).
const dedupeExpiry = 10 * time.Minute

// dedupeCleanThreshold mirrors the teacher's lazy-sweep trigger so the
// dedup map doesn't grow unbounded under sustained traffic.
const dedupeCleanThreshold = 500

// Sender is the platform-specific half of a Base: it knows how to actually
// place a send call against one SDK.
type Sender interface {
	Platform() model.Platform
	SendRaw(ctx context.Context, req DispatchRequest) (DispatchResult, error)
}

// Base wraps a Sender with the cross-cutting behaviour every Connector
// needs: circuit breaking, per-recipient rate limiting, and outbound
// dedup — the same shape as the teacher's BaseChannel wrapping each
// concrete platform channel (pkg/channels/base.go), generalized from
// inbound message dedup to outbound dispatch dedup.
type Base struct {
	sender  Sender
	breaker *CircuitBreaker
	limiter *RecipientLimiter

	recentSends sync.Map // dedupeKey -> time.Time
	sendCount   atomic.Int64
}

// NewBase wraps sender with breaker and limiter (either may be nil to
// disable that behaviour).
func NewBase(sender Sender, breaker *CircuitBreaker, limiter *RecipientLimiter) *Base {
	return &Base{sender: sender, breaker: breaker, limiter: limiter}
}

func (b *Base) Platform() model.Platform { return b.sender.Platform() }

// Sender exposes the wrapped Sender so callers can type-assert for optional
// capabilities that aren't part of the Sender interface itself.
func (b *Base) Sender() Sender { return b.sender }

// FileRefResolver implements FileRefCapable on every Base by delegating to
// the wrapped Sender if it opts in, and returning nil otherwise. This makes
// *Base satisfy FileRefCapable unconditionally so callers can type-assert
// the Connector once and then nil-check the resolver, instead of needing to
// unwrap Base to reach the underlying Sender.
func (b *Base) FileRefResolver() FileRefResolver {
	if capable, ok := b.sender.(FileRefCapable); ok {
		return capable.FileRefResolver()
	}
	return nil
}

func (b *Base) Send(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	dedupeKey := req.MessageID + ":" + req.PlatformUserID
	if at, ok := b.recentSends.Load(dedupeKey); ok {
		if time.Since(at.(time.Time)) < dedupeExpiry {
			logger.WarnCF("connectors", "suppressed duplicate outbound send", map[string]any{
				"message_id": req.MessageID, "recipient": req.PlatformUserID, "platform": b.Platform(),
			})
			return DispatchResult{}, model.NewError(model.KindDuplicate, "duplicate outbound send suppressed", nil)
		}
	}

	if b.breaker != nil && !b.breaker.Allow() {
		return DispatchResult{}, ErrCircuitOpen
	}
	if b.limiter != nil && !b.limiter.Allow(string(b.Platform())+":"+req.PlatformUserID) {
		return DispatchResult{}, model.NewError(model.KindTransient, "rate limited", nil)
	}

	result, err := b.sender.SendRaw(ctx, req)
	if err != nil {
		if b.breaker != nil {
			b.breaker.RecordFailure()
		}
		return result, err
	}
	if b.breaker != nil {
		b.breaker.RecordSuccess()
	}

	b.recentSends.Store(dedupeKey, time.Now())
	b.maybeSweep()
	return result, nil
}

func (b *Base) maybeSweep() {
	count := b.sendCount.Add(1)
	if count%dedupeCleanThreshold != 0 {
		return
	}
	cutoff := time.Now().Add(-dedupeExpiry)
	b.recentSends.Range(func(key, value any) bool {
		if value.(time.Time).Before(cutoff) {
			b.recentSends.Delete(key)
		}
		return true
	})
}
