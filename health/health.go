// Package health aggregates per-component health for the pipeline and serves
// it over HTTP for liveness probing.
package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status is the health of one component at a point in time.
type Status struct {
	Component string    `json:"component"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Monitor tracks health of the pipeline components.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	// onChange fires when a component flips health state; the pipeline wires
	// the component-healthy gauge here.
	onChange func(component string, healthy bool)
}

// NewMonitor creates a Monitor. onChange may be nil.
func NewMonitor(onChange func(component string, healthy bool)) *Monitor {
	return &Monitor{
		statuses: map[string]Status{},
		onChange: onChange,
	}
}

// Update records the health status for a named component.
func (m *Monitor) Update(name string, healthy bool, message string) {
	m.mu.Lock()
	prev, existed := m.statuses[name]
	m.statuses[name] = Status{
		Component: name,
		Healthy:   healthy,
		Message:   message,
		Timestamp: time.Now(),
	}
	m.mu.Unlock()

	if m.onChange != nil && (!existed || prev.Healthy != healthy) {
		m.onChange(name, healthy)
	}
}

// Get returns the status for a component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.statuses[name]
	return s, ok
}

// Snapshot returns a copy of all component statuses.
func (m *Monitor) Snapshot() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.statuses))
	for _, s := range m.statuses {
		out = append(out, s)
	}
	return out
}

// Healthy reports whether every tracked component is healthy. An empty
// monitor is healthy; components register on startup.
func (m *Monitor) Healthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}

// report is the /healthz response document.
type report struct {
	Healthy    bool     `json:"healthy"`
	Components []Status `json:"components"`
}

// Handler serves the aggregated health as JSON: 200 when every component is
// healthy, 503 otherwise.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		doc := report{
			Healthy:    m.Healthy(),
			Components: m.Snapshot(),
		}
		w.Header().Set("Content-Type", "application/json")
		if !doc.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(doc)
	})
}
