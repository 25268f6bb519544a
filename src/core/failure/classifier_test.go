package failure_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"docflow/src/core/failure"
)

func TestClassifyTaggedErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  failure.Category
		wantRetryable bool
	}{
		{
			name:          "tagged validation error",
			err:           failure.Newf(failure.CategoryValidation, "missing pipeline config"),
			wantCategory:  failure.CategoryValidation,
			wantRetryable: false,
		},
		{
			name:          "tagged permission error",
			err:           failure.New(failure.CategoryPermission, errors.New("bucket policy denies access")),
			wantCategory:  failure.CategoryPermission,
			wantRetryable: false,
		},
		{
			name:          "wrapped tagged error survives fmt.Errorf",
			err:           fmt.Errorf("stage 2: %w", failure.Newf(failure.CategoryResource, "oom")),
			wantCategory:  failure.CategoryResource,
			wantRetryable: true,
		},
		{
			name:          "tag wins over message pattern",
			err:           failure.Newf(failure.CategoryProcessing, "upstream said: connection refused"),
			wantCategory:  failure.CategoryProcessing,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := failure.Classify(tt.err)
			if p.Category != tt.wantCategory {
				t.Errorf("Classify(%v).Category = %s, want %s", tt.err, p.Category, tt.wantCategory)
			}
			if p.Retryable != tt.wantRetryable {
				t.Errorf("Classify(%v).Retryable = %v, want %v", tt.err, p.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestClassifyUntaggedErrors(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantCategory  failure.Category
		wantRetryable bool
	}{
		{
			name:          "connection refused by errno name",
			err:           errors.New("dial tcp 10.0.0.5:8000: connect: ECONNREFUSED"),
			wantCategory:  failure.CategoryNetwork,
			wantRetryable: true,
		},
		{
			name:          "connection refused lowercase",
			err:           errors.New("dial tcp: connection refused"),
			wantCategory:  failure.CategoryNetwork,
			wantRetryable: true,
		},
		{
			name:          "context deadline",
			err:           context.DeadlineExceeded,
			wantCategory:  failure.CategoryTimeout,
			wantRetryable: true,
		},
		{
			name:          "rate limited upstream",
			err:           errors.New("HTTP 429 Too Many Requests"),
			wantCategory:  failure.CategoryRateLimit,
			wantRetryable: true,
		},
		{
			name:          "malformed document",
			err:           errors.New("malformed PDF header"),
			wantCategory:  failure.CategoryValidation,
			wantRetryable: false,
		},
		{
			name:          "unrecognized message falls back to unknown",
			err:           errors.New("something odd happened"),
			wantCategory:  failure.CategoryUnknown,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := failure.Classify(tt.err)
			if p.Category != tt.wantCategory {
				t.Errorf("Classify(%q).Category = %s, want %s", tt.err, p.Category, tt.wantCategory)
			}
			if p.Retryable != tt.wantRetryable {
				t.Errorf("Classify(%q).Retryable = %v, want %v", tt.err, p.Retryable, tt.wantRetryable)
			}
		})
	}
}

func TestClassifyNetworkBaseDelay(t *testing.T) {
	p := failure.Classify(errors.New("connect: ECONNREFUSED"))
	if p.BaseDelay != 5*time.Second {
		t.Errorf("network base delay = %v, want 5s", p.BaseDelay)
	}
	if p.MaxRetries != 3 {
		t.Errorf("network max retries = %d, want 3", p.MaxRetries)
	}
}

func TestUserMessageHidesDetail(t *testing.T) {
	raw := errors.New("dial tcp 10.1.2.3:5432: password authentication failed for user \"docflow\"")
	p := failure.Classify(raw)
	msg := failure.UserMessage(p)
	if msg == "" {
		t.Fatal("UserMessage returned empty string")
	}
	if msg == raw.Error() {
		t.Error("UserMessage leaked the raw error text")
	}
}
