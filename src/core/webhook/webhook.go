// Package webhook delivers signed job lifecycle events to externally
// configured endpoints and verifies inbound callbacks. Delivery is
// fire-and-forget relative to the job lifecycle: an undeliverable event
// never changes job state.
package webhook

import (
	"encoding/json"
	"time"
)

// MetadataKey is the job metadata key an embedded webhook config lives
// under.
const MetadataKey = "webhook"

// Default delivery retry parameters, used when the config leaves them
// unset.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = time.Second
)

// Config describes one delivery target, usually embedded in job metadata.
type Config struct {
	URL           string            `json:"url"`
	Secret        string            `json:"secret"`
	Headers       map[string]string `json:"headers,omitempty"`
	RetryAttempts int               `json:"retry_attempts,omitempty"`
	RetryDelay    time.Duration     `json:"retry_delay,omitempty"`
}

// ConfigFromMetadata extracts an embedded webhook config from a job's
// metadata payload. Returns (nil, nil) when the job carries none.
func ConfigFromMetadata(metadata json.RawMessage) (*Config, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(metadata, &fields); err != nil {
		return nil, err
	}
	raw, ok := fields[MetadataKey]
	if !ok {
		return nil, nil
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	if cfg.URL == "" {
		return nil, nil
	}
	return &cfg, nil
}

// Envelope is the event body delivered to webhook targets. The signature
// is computed over the canonical JSON serialization of this struct.
type Envelope struct {
	Event     string          `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Body returns the canonical serialized form the signature covers.
func (e Envelope) Body() ([]byte, error) {
	return json.Marshal(e)
}
