// Package scope carries the per-prediction ambient state a running
// predictor can reach without threading extra parameters through every
// call: metrics recording and the stdout/stderr line-prefixing that
// attributes log output to the prediction that produced it.
//
// Grounded on original_source/coglet/scope.py: ctx_pid (a contextvar there,
// a context.Context value here, since Go has no task-local storage scoped
// the way an asyncio.Task's contextvars are) and ctx_write's line-buffering
// interceptor.
package scope

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

type contextKey struct{}

// Scope is the ambient state for one in-flight prediction.
type Scope struct {
	PID string

	mu      sync.Mutex
	metrics map[string]any
}

// New creates a Scope for pid.
func New(pid string) *Scope {
	return &Scope{PID: pid, metrics: map[string]any{}}
}

// WithScope returns a context carrying s, retrievable with Current.
func WithScope(ctx context.Context, s *Scope) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// Current returns the Scope attached to ctx, or nil if none.
func Current(ctx context.Context) *Scope {
	s, _ := ctx.Value(contextKey{}).(*Scope)
	return s
}

// RecordMetric records a named metric value visible to the final response.
func (s *Scope) RecordMetric(name string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics[name] = value
}

// Metrics returns a snapshot of recorded metrics.
func (s *Scope) Metrics() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.metrics))
	for k, v := range s.metrics {
		out[k] = v
	}
	return out
}

// RecordMetric is a package-level convenience that records against the
// Scope found in ctx, if any, matching scope.py's module-level helpers
// operating on the current task's contextvar.
func RecordMetric(ctx context.Context, name string, value any) {
	if s := Current(ctx); s != nil {
		s.RecordMetric(name, value)
	}
}

// LinePrefixWriter wraps an underlying writer (stdout or stderr) so every
// complete line written to it is prefixed with the owning prediction's pid,
// or "[pid=logger] " for writes with no prediction in scope -- matching
// the worker's documented behavior for out-of-prediction log lines.
type LinePrefixWriter struct {
	mu       sync.Mutex
	under    io.Writer
	buffers  map[string]*strings.Builder
	resolver func() string
}

// NewLinePrefixWriter wraps under; resolver returns the current
// prediction's pid (or "" to mean "no prediction in scope") each time it
// is called.
func NewLinePrefixWriter(under io.Writer, resolver func() string) *LinePrefixWriter {
	return &LinePrefixWriter{under: under, buffers: map[string]*strings.Builder{}, resolver: resolver}
}

// Write implements io.Writer. \r is folded to \n, and output is flushed a
// line at a time, each line prefixed, so interleaved writers never produce
// a line mixing two predictions' output.
func (w *LinePrefixWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	pid := w.resolver()
	prefix := "[pid=logger] "
	if pid != "" {
		prefix = fmt.Sprintf("[pid=%s] ", pid)
	}

	buf, ok := w.buffers[pid]
	if !ok {
		buf = &strings.Builder{}
		w.buffers[pid] = buf
	}

	text := strings.ReplaceAll(string(p), "\r", "\n")
	buf.WriteString(text)

	content := buf.String()
	if !strings.Contains(content, "\n") {
		return len(p), nil
	}

	lines := strings.Split(content, "\n")
	remainder := lines[len(lines)-1]
	complete := lines[:len(lines)-1]

	for _, line := range complete {
		if _, err := fmt.Fprintf(w.under, "%s%s\n", prefix, line); err != nil {
			return len(p), err
		}
	}

	buf.Reset()
	buf.WriteString(remainder)
	return len(p), nil
}
