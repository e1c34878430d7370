package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// TraceEntry is one provider call written to the trace log.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Provider    string          `json:"provider"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint,omitempty"`
	Method      string          `json:"method,omitempty"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

// Tracer writes trace entries as NDJSON.
type Tracer struct {
	mu sync.Mutex
	w  io.Writer
	c  io.Closer
}

// NewTracer traces to w. If w is also an io.Closer, Close closes it.
func NewTracer(w io.Writer) *Tracer {
	t := &Tracer{w: w}
	if c, ok := w.(io.Closer); ok {
		t.c = c
	}
	return t
}

var (
	active   *Tracer
	activeMu sync.Mutex
)

// EnableTracing appends traces to the file at path until the returned cleanup
// function is called.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	SetTracer(NewTracer(f))
	return DisableTracing, nil
}

// SetTracer installs t as the process tracer, closing any previous one.
func SetTracer(t *Tracer) {
	activeMu.Lock()
	defer activeMu.Unlock()
	if active != nil {
		_ = active.Close()
	}
	active = t
}

// DisableTracing stops tracing and closes the trace output.
func DisableTracing() {
	SetTracer(nil)
}

// IsTracingEnabled reports whether a tracer is installed.
func IsTracingEnabled() bool {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active != nil
}

// Trace records entry if tracing is enabled.
func Trace(entry TraceEntry) {
	activeMu.Lock()
	t := active
	activeMu.Unlock()
	t.Write(entry)
}

// Write records a trace entry.
func (t *Tracer) Write(entry TraceEntry) {
	if t == nil || t.w == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	data = append(data, '\n')

	t.mu.Lock()
	defer t.mu.Unlock()
	_, _ = t.w.Write(data)
}

// Close closes the underlying output when it is closable.
func (t *Tracer) Close() error {
	if t == nil || t.c == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c.Close()
}
