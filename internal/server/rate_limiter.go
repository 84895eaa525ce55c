package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter throttles inbound data frames on one connection: up to
// capacity frames at once, refilled at capacity per interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		limiter: rate.NewLimiter(rate.Limit(float64(capacity)/interval.Seconds()), capacity),
	}
}

func (rl *rateLimiter) allow() bool {
	if rl == nil {
		return true
	}
	return rl.limiter.Allow()
}
