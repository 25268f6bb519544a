package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"docflow/src/core/failure"
)

func TestRunReturnsStageOutput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/run" {
			t.Errorf("path = %s, want /v1/run", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sekrit" {
			t.Errorf("authorization = %q", got)
		}
		var req runRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		json.NewEncoder(w).Encode(runResponse{Output: json.RawMessage(`{"entities":[]}`)})
	}))
	defer server.Close()

	svc := NewService(server.URL, "sekrit", 0)
	out, err := svc.Run(context.Background(), []byte(`{"text":"x"}`), json.RawMessage(`{"op":"entities"}`))
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if string(out) != `{"entities":[]}` {
		t.Errorf("output = %s", out)
	}
}

func TestRunClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   failure.Category
	}{
		{"rate limited", http.StatusTooManyRequests, failure.CategoryRateLimit},
		{"gateway timeout", http.StatusGatewayTimeout, failure.CategoryTimeout},
		{"bad request", http.StatusBadRequest, failure.CategoryValidation},
		{"forbidden", http.StatusForbidden, failure.CategoryPermission},
		{"storage full", http.StatusInsufficientStorage, failure.CategoryResource},
		{"unavailable", http.StatusServiceUnavailable, failure.CategoryNetwork},
		{"internal error", http.StatusInternalServerError, failure.CategoryProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			svc := NewService(server.URL, "", 0)
			_, err := svc.Run(context.Background(), []byte(`{}`), nil)
			if err == nil {
				t.Fatal("Run() succeeded on error status")
			}
			if got := failure.CategoryOf(err); got != tt.want {
				t.Errorf("category = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestRunConnectionRefusedIsNetwork(t *testing.T) {
	// Port 1 is never listening.
	svc := NewService("http://127.0.0.1:1", "", 0)
	_, err := svc.Run(context.Background(), []byte(`{}`), nil)
	if err == nil {
		t.Fatal("Run() succeeded against a closed port")
	}
	if got := failure.CategoryOf(err); got != failure.CategoryNetwork {
		t.Errorf("category = %s, want network", got)
	}
}
