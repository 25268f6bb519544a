// Package docregistry mirrors job outcomes onto the external document
// registry, the system of record for document lifecycle state.
package docregistry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"docflow/src/core/worker"
)

type Service struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewService(baseURL, apiKey string) *Service {
	return &Service{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type statusUpdate struct {
	Status string `json:"status"`
}

func (s *Service) SetStatus(ctx context.Context, tenantID, documentRef string, status worker.DocumentStatus) error {
	body, err := json.Marshal(statusUpdate{Status: string(status)})
	if err != nil {
		return fmt.Errorf("failed to encode status update: %v", err)
	}

	url := fmt.Sprintf("%s/v1/tenants/%s/documents/%s/status", s.baseURL, tenantID, documentRef)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("registry unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, bytes.TrimSpace(payload))
	}
	return nil
}

// Noop satisfies the registry interface when no external registry is
// configured.
type Noop struct{}

func (Noop) SetStatus(context.Context, string, string, worker.DocumentStatus) error { return nil }

var _ worker.DocumentRegistry = (*Service)(nil)
var _ worker.DocumentRegistry = Noop{}
