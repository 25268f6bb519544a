package pipeline

import (
	"context"
	"encoding/json"
	"time"
)

// Stub is an in-process engine for development and tests. It echoes the
// stage input back annotated with the stage config, after an optional
// artificial delay.
type Stub struct {
	Delay time.Duration
}

func NewStub() *Stub {
	return &Stub{}
}

func (s *Stub) Run(ctx context.Context, input []byte, config json.RawMessage) ([]byte, error) {
	if s.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Delay):
		}
	}

	out := map[string]json.RawMessage{
		"input": normalizeJSON(input),
	}
	if len(config) > 0 {
		out["config"] = config
	}
	return json.Marshal(out)
}

// normalizeJSON wraps non-JSON input as a string value so the stub's
// output is always a valid document.
func normalizeJSON(input []byte) json.RawMessage {
	if json.Valid(input) {
		return input
	}
	quoted, _ := json.Marshal(string(input))
	return quoted
}
