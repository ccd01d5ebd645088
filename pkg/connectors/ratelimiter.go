package connectors

import (
	"sync"

	"golang.org/x/time/rate"
)

// RecipientLimiter hands out one token-bucket rate.Limiter per recipient
// key, lazily, so a single noisy recipient can't exhaust the platform's
// send rate for everyone else. Grounded on the request-throttling use of
// golang.org/x/time/rate elsewhere in the retrieval pack (gocryptotrader's
// exchange request layer reserves against a rate.Limiter per exchange);
// here the limiter is keyed per (platform, recipient) instead of per
// exchange.
type RecipientLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRecipientLimiter allows rps sustained sends per recipient with burst
// headroom.
func NewRecipientLimiter(rps float64, burst int) *RecipientLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &RecipientLimiter{rps: rate.Limit(rps), burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (l *RecipientLimiter) limiterFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[key] = lim
	}
	return lim
}

// Allow reports whether a send to key may proceed right now, consuming a
// token if so. A false return means the caller should back off rather than
// send (the Router records this the same as a transient Connector error).
func (l *RecipientLimiter) Allow(key string) bool {
	return l.limiterFor(key).Allow()
}
