package util

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter paces outbound API calls to a per-minute budget.
type RateLimiter struct {
	lim *rate.Limiter
}

// NewRateLimiter allows perMinute calls per minute with no burst. A
// non-positive budget disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		return &RateLimiter{lim: rate.NewLimiter(rate.Inf, 1)}
	}
	return &RateLimiter{lim: rate.NewLimiter(rate.Limit(float64(perMinute)/60), 1)}
}

// Wait blocks until a call is allowed. It fails early when ctx would expire
// before then.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	return rl.lim.Wait(ctx)
}
