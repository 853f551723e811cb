// v1
// internal/http/health.go
package httpserver

import (
	"sync"
	"time"
)

// HealthState tracks readiness for /health/ready and the start time used
// for uptime. Readiness flips on once the listener is serving and off again
// when shutdown begins.
type HealthState struct {
	mu      sync.RWMutex
	ready   bool
	started time.Time
}

func NewHealthState() *HealthState {
	return &HealthState{started: time.Now()}
}

func (h *HealthState) SetReady(value bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ready = value
}

func (h *HealthState) Ready() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.ready
}

// Uptime is the time since the state was created.
func (h *HealthState) Uptime() time.Duration {
	return time.Since(h.started)
}
