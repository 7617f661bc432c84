package business

import (
	"sync"
	"time"
)

// rateLimitBurst is the number of inbound events a connection may send in a
// burst before refill pacing kicks in.
const rateLimitBurst = 20

// tokenBucket is a simple token bucket rate limiter. Tokens refill
// continuously at ratePerSec and are capped at burst.
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	ratePerSec float64
	lastRefill time.Time
}

func newTokenBucket(ratePerSec, burst int) *tokenBucket {
	return &tokenBucket{
		tokens:     float64(burst),
		burst:      float64(burst),
		ratePerSec: float64(ratePerSec),
		lastRefill: time.Now(),
	}
}

// Allow consumes a token if one is available.
func (tb *tokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	tb.lastRefill = now

	tb.tokens += elapsed * tb.ratePerSec
	if tb.tokens > tb.burst {
		tb.tokens = tb.burst
	}

	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}
