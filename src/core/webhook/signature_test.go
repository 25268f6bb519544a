package webhook_test

import (
	"encoding/json"
	"testing"
	"time"

	"docflow/src/core/webhook"
)

func TestSignAndVerify(t *testing.T) {
	body := []byte(`{"event":"job.completed","data":{"id":42}}`)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		want      bool
	}{
		{
			name:      "valid signature round-trips",
			secret:    "s3cret",
			body:      body,
			signature: webhook.Sign("s3cret", body),
			want:      true,
		},
		{
			name:      "wrong secret rejected",
			secret:    "s3cret",
			body:      body,
			signature: webhook.Sign("other", body),
			want:      false,
		},
		{
			name:      "tampered body rejected",
			secret:    "s3cret",
			body:      []byte(`{"event":"job.completed","data":{"id":43}}`),
			signature: webhook.Sign("s3cret", body),
			want:      false,
		},
		{
			name:      "garbage signature rejected",
			secret:    "s3cret",
			body:      body,
			signature: "not-a-signature",
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := webhook.Verify(tt.secret, tt.body, tt.signature)
			if got != tt.want {
				t.Errorf("Verify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEnvelopeBodyIsCanonical(t *testing.T) {
	env := webhook.Envelope{
		Event:     "job.completed",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Data:      json.RawMessage(`{"id":1}`),
	}

	first, err := env.Body()
	if err != nil {
		t.Fatalf("Body() error: %v", err)
	}
	second, err := env.Body()
	if err != nil {
		t.Fatalf("Body() error: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("Body() not stable across calls: %s vs %s", first, second)
	}
	if webhook.Sign("k", first) != webhook.Sign("k", second) {
		t.Error("signatures over identical bodies differ")
	}
}

func TestConfigFromMetadata(t *testing.T) {
	tests := []struct {
		name     string
		metadata string
		wantURL  string
		wantNil  bool
	}{
		{
			name:     "embedded config",
			metadata: `{"webhook":{"url":"https://example.com/hook","secret":"k"},"case_ref":"A-17"}`,
			wantURL:  "https://example.com/hook",
		},
		{
			name:     "no webhook key",
			metadata: `{"case_ref":"A-17"}`,
			wantNil:  true,
		},
		{
			name:     "empty metadata",
			metadata: "",
			wantNil:  true,
		},
		{
			name:     "webhook without url ignored",
			metadata: `{"webhook":{"secret":"k"}}`,
			wantNil:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := webhook.ConfigFromMetadata(json.RawMessage(tt.metadata))
			if err != nil {
				t.Fatalf("ConfigFromMetadata() error: %v", err)
			}
			if tt.wantNil {
				if cfg != nil {
					t.Fatalf("ConfigFromMetadata() = %+v, want nil", cfg)
				}
				return
			}
			if cfg == nil || cfg.URL != tt.wantURL {
				t.Errorf("ConfigFromMetadata() = %+v, want url %s", cfg, tt.wantURL)
			}
		})
	}
}
