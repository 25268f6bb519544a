package failure

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

// Policy is the classification result: the category plus the retry
// parameters the Retry Controller works from.
type Policy struct {
	Category   Category
	Severity   Severity
	Retryable  bool
	BaseDelay  time.Duration
	MaxRetries int
}

// defaultPolicies is the fixed per-category policy table. Validation and
// permission failures are never retried regardless of attempt counts.
var defaultPolicies = map[Category]Policy{
	CategoryNetwork:    {Category: CategoryNetwork, Severity: SeverityMedium, Retryable: true, BaseDelay: 5 * time.Second, MaxRetries: 3},
	CategoryTimeout:    {Category: CategoryTimeout, Severity: SeverityMedium, Retryable: true, BaseDelay: 10 * time.Second, MaxRetries: 2},
	CategoryResource:   {Category: CategoryResource, Severity: SeverityHigh, Retryable: true, BaseDelay: 30 * time.Second, MaxRetries: 2},
	CategoryValidation: {Category: CategoryValidation, Severity: SeverityLow, Retryable: false, BaseDelay: 0, MaxRetries: 0},
	CategoryPermission: {Category: CategoryPermission, Severity: SeverityHigh, Retryable: false, BaseDelay: 0, MaxRetries: 0},
	CategoryRateLimit:  {Category: CategoryRateLimit, Severity: SeverityLow, Retryable: true, BaseDelay: 60 * time.Second, MaxRetries: 5},
	CategoryProcessing: {Category: CategoryProcessing, Severity: SeverityMedium, Retryable: true, BaseDelay: 15 * time.Second, MaxRetries: 2},
	CategorySystem:     {Category: CategorySystem, Severity: SeverityCritical, Retryable: true, BaseDelay: 20 * time.Second, MaxRetries: 3},
	CategoryUnknown:    {Category: CategoryUnknown, Severity: SeverityMedium, Retryable: true, BaseDelay: 10 * time.Second, MaxRetries: 2},
}

// patternRules maps message substrings to categories for errors that
// arrive untagged from third-party code. Checked in order.
var patternRules = []struct {
	substr   string
	category Category
}{
	{"ECONNREFUSED", CategoryNetwork},
	{"connection refused", CategoryNetwork},
	{"ECONNRESET", CategoryNetwork},
	{"connection reset", CategoryNetwork},
	{"no such host", CategoryNetwork},
	{"broken pipe", CategoryNetwork},
	{"network is unreachable", CategoryNetwork},
	{"ETIMEDOUT", CategoryTimeout},
	{"timeout", CategoryTimeout},
	{"deadline exceeded", CategoryTimeout},
	{"too many requests", CategoryRateLimit},
	{"rate limit", CategoryRateLimit},
	{"out of memory", CategoryResource},
	{"no space left", CategoryResource},
	{"resource exhausted", CategoryResource},
	{"permission denied", CategoryPermission},
	{"unauthorized", CategoryPermission},
	{"forbidden", CategoryPermission},
	{"invalid", CategoryValidation},
	{"malformed", CategoryValidation},
	{"unsupported format", CategoryValidation},
}

// PolicyFor returns the fixed default policy for a category.
func PolicyFor(category Category) Policy {
	if p, ok := defaultPolicies[category]; ok {
		return p
	}
	return defaultPolicies[CategoryUnknown]
}

// Classify maps a raw error to its retry policy. Precedence: explicit
// *failure.Error tag, then well-known error types from the runtime, then
// message patterns, then the conservative unknown policy.
func Classify(err error) Policy {
	if err == nil {
		return PolicyFor(CategoryUnknown)
	}

	var tagged *Error
	if errors.As(err, &tagged) {
		return PolicyFor(tagged.Category)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return PolicyFor(CategoryTimeout)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return PolicyFor(CategoryTimeout)
		}
		return PolicyFor(CategoryNetwork)
	}

	msg := strings.ToLower(err.Error())
	for _, rule := range patternRules {
		if strings.Contains(msg, strings.ToLower(rule.substr)) {
			return PolicyFor(rule.category)
		}
	}

	return PolicyFor(CategoryUnknown)
}

// UserMessage returns the sanitized, caller-visible message for a failure.
// Raw error text stays out of job records; the full detail goes to the
// job log instead.
func UserMessage(p Policy) string {
	switch p.Category {
	case CategoryNetwork:
		return "a network error occurred while processing the document"
	case CategoryTimeout:
		return "processing took longer than the allowed time"
	case CategoryResource:
		return "processing ran out of resources"
	case CategoryValidation:
		return "the document or configuration is invalid"
	case CategoryPermission:
		return "access to a required resource was denied"
	case CategoryRateLimit:
		return "an upstream service is throttling requests"
	case CategoryProcessing:
		return "the processing pipeline reported an error"
	case CategorySystem:
		return "an internal system error occurred"
	default:
		return "an unexpected error occurred"
	}
}
