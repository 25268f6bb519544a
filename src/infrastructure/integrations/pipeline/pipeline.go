// Package pipeline is the HTTP client for the external document
// processing service that runs extraction and transformation stages.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docflow/src/core/failure"
)

type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

type runRequest struct {
	Input  json.RawMessage `json:"input"`
	Config json.RawMessage `json:"config,omitempty"`
}

type runResponse struct {
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error,omitempty"`
}

func NewService(baseURL, apiKey string, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Service{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// Run submits one stage to the processing service and returns its
// output. Errors are tagged so the retry layer can pick the right
// policy without parsing transport details.
func (s *Service) Run(ctx context.Context, input []byte, config json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(runRequest{Input: input, Config: config})
	if err != nil {
		return nil, failure.New(failure.CategoryValidation, fmt.Errorf("failed to encode stage request: %v", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/run", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.New(failure.CategoryTimeout, err)
		}
		return nil, failure.New(failure.CategoryNetwork, fmt.Errorf("processing service unreachable: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, classifyStatus(resp.StatusCode, payload)
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure.New(failure.CategoryProcessing, fmt.Errorf("failed to parse stage response: %v", err))
	}
	if out.Error != "" {
		return nil, failure.New(failure.CategoryProcessing, fmt.Errorf("stage reported error: %s", out.Error))
	}
	return out.Output, nil
}

// classifyStatus maps the service's HTTP status onto a failure
// category, which in turn decides retryability.
func classifyStatus(status int, payload []byte) error {
	detail := fmt.Errorf("processing service returned %d: %s", status, bytes.TrimSpace(payload))
	switch {
	case status == http.StatusTooManyRequests:
		return failure.New(failure.CategoryRateLimit, detail)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return failure.New(failure.CategoryTimeout, detail)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failure.New(failure.CategoryPermission, detail)
	case status == http.StatusInsufficientStorage:
		return failure.New(failure.CategoryResource, detail)
	case status >= 400 && status < 500:
		return failure.New(failure.CategoryValidation, detail)
	case status == http.StatusBadGateway || status == http.StatusServiceUnavailable:
		return failure.New(failure.CategoryNetwork, detail)
	default:
		return failure.New(failure.CategoryProcessing, detail)
	}
}
