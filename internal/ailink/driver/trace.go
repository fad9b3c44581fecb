package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// TraceEntry is one request/response pair written to the trace file.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	TaskID      string          `json:"task_id,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer appends NDJSON trace entries to a writer.
type Tracer struct {
	mu  sync.Mutex
	out io.WriteCloser
	enc *json.Encoder
}

// NewTracer writes entries to out, which Close closes.
func NewTracer(out io.WriteCloser) *Tracer {
	return &Tracer{out: out, enc: json.NewEncoder(out)}
}

var active atomic.Pointer[Tracer]

// EnableTracing appends entries to the file at path until the returned
// function (or DisableTracing) is called. A previous trace file is closed.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	if prev := active.Swap(NewTracer(f)); prev != nil {
		_ = prev.Close()
	}
	return DisableTracing, nil
}

// DisableTracing stops tracing and closes the trace file.
func DisableTracing() {
	if prev := active.Swap(nil); prev != nil {
		_ = prev.Close()
	}
}

// IsTracingEnabled reports whether Trace currently records entries.
func IsTracingEnabled() bool {
	return active.Load() != nil
}

// Trace records entry when tracing is enabled.
func Trace(entry TraceEntry) {
	active.Load().Write(entry)
}

// Write records one entry. Embedded image payloads are shortened first.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.RequestBody = RedactImagePayload(entry.RequestBody)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return
	}
	_ = t.enc.Encode(entry)
}

// Close closes the underlying writer. Later writes are dropped.
func (t *Tracer) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.out == nil {
		return nil
	}
	err := t.out.Close()
	t.out = nil
	return err
}

// RedactImagePayload shortens a top-level "promptImage" string so traces
// and logs never carry whole images. Non-object bodies pass through.
func RedactImagePayload(body []byte) []byte {
	if len(body) == 0 {
		return body
	}
	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return body
	}
	raw, ok := payload["promptImage"]
	if !ok {
		return body
	}
	var image string
	if err := json.Unmarshal(raw, &image); err != nil {
		return body
	}
	short, _ := json.Marshal(Abbreviate(image, 30))
	payload["promptImage"] = short

	out, err := json.Marshal(payload)
	if err != nil {
		return body
	}
	return out
}

// Abbreviate keeps the first n bytes of s and marks the cut.
func Abbreviate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
