package failure_test

import (
	"math"
	"testing"
	"time"

	"docflow/src/core/failure"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name        string
		category    failure.Category
		attempt     int
		maxAttempts int
		want        bool
	}{
		{"network first attempt", failure.CategoryNetwork, 0, 3, true},
		{"network mid-way", failure.CategoryNetwork, 2, 3, true},
		{"network exhausted", failure.CategoryNetwork, 3, 3, false},
		{"validation never retries", failure.CategoryValidation, 0, 3, false},
		{"permission never retries", failure.CategoryPermission, 0, 10, false},
		{"unknown retries conservatively", failure.CategoryUnknown, 1, 2, true},
		{"retryable past the cap", failure.CategoryRateLimit, 5, 5, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := failure.PolicyFor(tt.category)
			got := failure.ShouldRetry(p, tt.attempt, tt.maxAttempts)
			if got != tt.want {
				t.Errorf("ShouldRetry(%s, %d, %d) = %v, want %v",
					tt.category, tt.attempt, tt.maxAttempts, got, tt.want)
			}
		})
	}
}

func TestNextDelayBounds(t *testing.T) {
	base := 5 * time.Second
	factor := 2.0
	maxDelay := 5 * time.Minute

	// Jitter is random, so check the documented envelope over many samples:
	// base*factor^(n-1) <= delay <= base*factor^(n-1)*1.25, capped at max.
	for attempt := 1; attempt <= 6; attempt++ {
		lower := time.Duration(float64(base) * math.Pow(factor, float64(attempt-1)))
		upper := time.Duration(float64(lower) * 1.25)
		if lower > maxDelay {
			lower = maxDelay
		}
		if upper > maxDelay {
			upper = maxDelay
		}

		for i := 0; i < 100; i++ {
			d := failure.NextDelay(attempt, base, factor, maxDelay)
			if d < lower || d > upper {
				t.Fatalf("attempt %d: delay %v outside [%v, %v]", attempt, d, lower, upper)
			}
		}
	}
}

func TestNextDelayCapped(t *testing.T) {
	// At attempt 10 the uncapped delay would be 5s * 2^9 = 2560s.
	d := failure.NextDelay(10, 5*time.Second, 2.0, time.Minute)
	if d != time.Minute {
		t.Errorf("capped delay = %v, want 1m", d)
	}
}

func TestRecoveryHints(t *testing.T) {
	hints := failure.RecoveryHints(failure.CategoryResource)
	if hints["reduced_processing"] != true {
		t.Errorf("resource hints = %v, want reduced_processing=true", hints)
	}
	if got := failure.RecoveryHints(failure.CategoryNetwork); got != nil {
		t.Errorf("network hints = %v, want nil", got)
	}
}
