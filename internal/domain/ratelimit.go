package domain

import "time"

// RateLimitDecision is the answer of the per-phone request limiter.
type RateLimitDecision struct {
	Allowed    bool
	Count      int
	Remaining  int
	RetryAfter time.Duration
}

// Throttled returns a denying decision.
func Throttled(count int, retryAfter time.Duration) RateLimitDecision {
	return RateLimitDecision{Allowed: false, Count: count, RetryAfter: retryAfter}
}
