// Package wconfig is the worker's runtime configuration, adapted from
// replicate-cog/coglet/internal/config/config.go: the same timestamp
// format and the same idempotent force-shutdown signal plumbing, scoped
// down to what a worker process (rather than the supervising service)
// needs.
package wconfig

import (
	"sync"
	"time"
)

// TimeFormat matches the supervisor's own timestamp format exactly --
// both sides must agree on created_at/started_at/completed_at layout.
const TimeFormat = "2006-01-02T15:04:05.999999-07:00"

// Config is the worker's resolved configuration.
type Config struct {
	WorkingDirectory string
	IPCURL           string
	Name             string
	MaxConcurrency   int
	PollInterval     time.Duration
	ForceShutdown    *ForceShutdownSignal
}

// ForceShutdownSignal provides idempotent force-shutdown signaling, used
// when the worker receives a second termination request while already
// shutting down gracefully.
type ForceShutdownSignal struct {
	mu        sync.Mutex
	ch        chan struct{}
	triggered bool
}

// NewForceShutdownSignal creates a signal in its untriggered state.
func NewForceShutdownSignal() *ForceShutdownSignal {
	return &ForceShutdownSignal{ch: make(chan struct{})}
}

// Watch returns a channel that closes when force shutdown is triggered.
func (f *ForceShutdownSignal) Watch() <-chan struct{} {
	return f.ch
}

// Trigger signals force shutdown; it is safe to call more than once, and
// reports whether this call was the first.
func (f *ForceShutdownSignal) Trigger() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.triggered {
		return false
	}
	f.triggered = true
	close(f.ch)
	return true
}
