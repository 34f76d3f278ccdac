package ramp

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter paces requests across all VUs. A rate of 0 disables pacing.
type RateLimiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
	}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.RLock()
	limiter := r.limiter
	limit := limiter.Limit()
	r.mu.RUnlock()

	if limit == 0 {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate changes the rate when it differs from the current one, so the
// coordinator can call it on every tick without resetting the burst.
func (r *RateLimiter) SetRate(rps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.limiter.Limit() == rate.Limit(rps) {
		return
	}
	r.limiter.SetLimit(rate.Limit(rps))
	r.limiter.SetBurst(rps)
}

// Rate returns the current limit in requests per second.
func (r *RateLimiter) Rate() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return int(r.limiter.Limit())
}
