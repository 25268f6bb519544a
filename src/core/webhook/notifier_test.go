package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"docflow/src/core/jobs"
	"docflow/src/storage/memory"
)

func newMessage(payload []byte) *message.Message {
	return message.NewMessage("test-message", payload)
}

func newTestService(t *testing.T) (*jobs.Service, *memory.Repository) {
	t.Helper()
	repo := memory.NewRepository()
	registry := jobs.NewRegistry()
	if err := registry.Bind("acme", repo); err != nil {
		t.Fatalf("Bind() error: %v", err)
	}
	return jobs.NewService(registry, nil), repo
}

func TestDeliverSignsBody(t *testing.T) {
	var gotSignature string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSignature = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	service, _ := newTestService(t)
	n := NewNotifier(service, srv.Client())
	n.sleep = func(time.Duration) {}

	cfg := &Config{URL: srv.URL, Secret: "k", Headers: map[string]string{"X-Case": "A-17"}}
	env := Envelope{Event: "job.completed", Timestamp: time.Now().UTC(), Data: json.RawMessage(`{"id":1}`)}

	if err := n.Deliver(context.Background(), cfg, env); err != nil {
		t.Fatalf("Deliver() error: %v", err)
	}
	if !Verify("k", gotBody, gotSignature) {
		t.Error("delivered signature does not verify against delivered body")
	}
}

func TestDeliverRetriesWithBackoffThenAbandons(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	service, _ := newTestService(t)
	n := NewNotifier(service, srv.Client())

	var delays []time.Duration
	n.sleep = func(d time.Duration) { delays = append(delays, d) }

	cfg := &Config{URL: srv.URL, Secret: "k", RetryAttempts: 3, RetryDelay: 100 * time.Millisecond}
	env := Envelope{Event: "job.completed", Timestamp: time.Now().UTC(), Data: json.RawMessage(`{}`)}

	err := n.Deliver(context.Background(), cfg, env)
	if err == nil {
		t.Fatal("Deliver() succeeded against a failing endpoint")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, delays[i], want[i])
		}
	}
}

func TestHandleEventDoesNotTouchJobState(t *testing.T) {
	service, repo := newTestService(t)

	metadata, _ := json.Marshal(map[string]interface{}{
		"webhook": map[string]interface{}{
			// Nothing listens here; delivery will fail every attempt.
			"url":            "http://127.0.0.1:1/hook",
			"secret":         "k",
			"retry_attempts": 3,
			"retry_delay":    1,
		},
	})
	job, err := service.Create(context.Background(), "acme", jobs.CreateJobRequest{
		OwnerID:  "user-1",
		JobType:  jobs.JobTypeExtract,
		Priority: 5,
		Metadata: metadata,
	})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// Drive the job to completed, then notify.
	claimed, err := repo.Claim(context.Background(), "w-1", nil)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}
	if err := service.Complete(context.Background(), "acme", job.ID, "w-1", nil, "results/1"); err != nil {
		t.Fatalf("Complete() error: %v", err)
	}

	n := NewNotifier(service, &http.Client{Timeout: 100 * time.Millisecond})
	n.sleep = func(time.Duration) {}

	evt, _ := json.Marshal(jobs.LifecycleEvent{
		TenantID:   "acme",
		JobID:      job.ID,
		Event:      jobs.EventJobCompleted,
		OccurredAt: time.Now().UTC(),
	})
	if err := n.HandleEvent(newMessage(evt)); err != nil {
		t.Fatalf("HandleEvent() returned error, must always ack: %v", err)
	}

	got, err := service.Get(context.Background(), "acme", job.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != jobs.JobStatusCompleted {
		t.Errorf("job status = %s after failed delivery, want completed", got.Status)
	}
}
