package failure

import (
	"math"
	"math/rand"
	"time"
)

// Backoff parameters shared by all retry decisions. The formula is fixed;
// category differences enter only through Policy.BaseDelay.
const (
	BackoffFactor = 2.0
	MaxBackoff    = 5 * time.Minute
)

// DeadlinePolicy is applied when a job exceeds its overall wall-clock
// budget. Unlike transient timeouts it is never retryable: the job would
// just burn the same budget again.
func DeadlinePolicy() Policy {
	return Policy{
		Category:  CategoryTimeout,
		Severity:  SeverityHigh,
		Retryable: false,
	}
}

// ShouldRetry reports whether a failure with the given policy may be
// retried after `attempt` completed attempts. Exhausting maxAttempts is
// terminal even for retryable categories.
func ShouldRetry(p Policy, attempt, maxAttempts int) bool {
	if !p.Retryable {
		return false
	}
	return attempt < maxAttempts
}

// NextDelay computes the backoff before retry attempt n (1-indexed):
//
//	delay = min(base * factor^(n-1) + jitter, max)
//
// where jitter is uniform in [0, 0.25*computed]. Jitter spreads retries
// from workers that failed at the same instant.
func NextDelay(attempt int, base time.Duration, factor float64, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	computed := float64(base) * math.Pow(factor, float64(attempt-1))
	jitter := rand.Float64() * 0.25 * computed
	delay := time.Duration(computed + jitter)
	if max > 0 && delay > max {
		return max
	}
	return delay
}

// RecoveryHints returns metadata mutations to apply to a job before it is
// re-queued after a failure of the given category. Hints adjust how the
// next attempt runs; they never change the backoff formula.
func RecoveryHints(category Category) map[string]interface{} {
	switch category {
	case CategoryResource:
		return map[string]interface{}{"reduced_processing": true}
	case CategoryRateLimit:
		return map[string]interface{}{"throttled": true}
	case CategoryTimeout:
		return map[string]interface{}{"extended_deadline": true}
	default:
		return nil
	}
}
