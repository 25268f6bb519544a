package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"docflow/src/core/jobs"
	"docflow/src/log"
)

// Notifier delivers signed lifecycle events for jobs that carry a
// webhook config. It consumes the job event stream and looks the job
// (and its config) up in the job store per event.
type Notifier struct {
	service *jobs.Service
	client  *http.Client
	logger  logr.Logger

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func NewNotifier(service *jobs.Service, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Notifier{
		service: service,
		client:  client,
		logger:  log.WithName("webhook"),
		sleep:   time.Sleep,
	}
}

// HandleEvent is the watermill handler for the job-events topic. It
// always acks: webhook delivery has its own bounded retry loop and an
// exhausted delivery is abandoned, never re-driven through the broker.
func (n *Notifier) HandleEvent(msg *message.Message) error {
	var evt jobs.LifecycleEvent
	if err := json.Unmarshal(msg.Payload, &evt); err != nil {
		n.logger.Error(err, "Dropping undecodable lifecycle event", "message_id", msg.UUID)
		return nil
	}

	ctx := context.Background()
	job, err := n.service.Get(ctx, evt.TenantID, evt.JobID)
	if err != nil {
		n.logger.Error(err, "Failed to load job for webhook delivery",
			"tenant", evt.TenantID, "job_id", evt.JobID, "event", evt.Event)
		return nil
	}

	cfg, err := ConfigFromMetadata(job.Metadata)
	if err != nil {
		n.logger.Error(err, "Job metadata has malformed webhook config", "job_id", evt.JobID)
		return nil
	}
	if cfg == nil {
		return nil
	}

	data, err := json.Marshal(job)
	if err != nil {
		n.logger.Error(err, "Failed to serialize job for webhook delivery", "job_id", evt.JobID)
		return nil
	}
	env := Envelope{Event: evt.Event, Timestamp: evt.OccurredAt, Data: data}

	if err := n.Deliver(ctx, cfg, env); err != nil {
		n.logger.Error(err, "Webhook delivery abandoned",
			"job_id", evt.JobID, "event", evt.Event, "url", cfg.URL)
	}
	return nil
}

// Deliver posts the signed envelope to the configured endpoint, retrying
// up to cfg.RetryAttempts times with exponential backoff
// (delay * 2^(attempt-1)). Returns the last error once attempts are
// exhausted.
func (n *Notifier) Deliver(ctx context.Context, cfg *Config, env Envelope) error {
	body, err := env.Body()
	if err != nil {
		return fmt.Errorf("failed to serialize envelope: %w", err)
	}

	attempts := cfg.RetryAttempts
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	delay := cfg.RetryDelay
	if delay <= 0 {
		delay = DefaultRetryDelay
	}

	deliveryID := uuid.NewString()
	signature := Sign(cfg.Secret, body)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := delay * time.Duration(1<<(attempt-2))
			n.sleep(backoff)
		}

		lastErr = n.post(ctx, cfg, body, signature, deliveryID)
		if lastErr == nil {
			n.logger.Info("Webhook delivered",
				"event", env.Event, "url", cfg.URL, "delivery_id", deliveryID, "attempt", attempt)
			return nil
		}
		n.logger.Info("Webhook delivery attempt failed",
			"event", env.Event, "url", cfg.URL, "delivery_id", deliveryID,
			"attempt", attempt, "error", lastErr.Error())
	}

	return fmt.Errorf("delivery failed after %d attempts: %w", attempts, lastErr)
}

func (n *Notifier) post(ctx context.Context, cfg *Config, body []byte, signature, deliveryID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)
	req.Header.Set("X-Docflow-Delivery", deliveryID)
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return nil
}
