package penalty

import (
	"sync"
	"time"

	"github.com/pactguard/pactguard/internal/enforcement"
)

// Schema is a penalty registered against an endpoint by a detector or
// another subsystem. It is read-decayed at score-calculation time and never
// mutated after registration.
type Schema struct {
	ViolationType enforcement.ViolationType `json:"violation_type"`
	Severity      enforcement.Severity      `json:"severity"`
	Points        float64                   `json:"points"`
	Description   string                    `json:"description"`
	Component     string                    `json:"component"`
	Timestamp     time.Time                 `json:"timestamp"`
	Metadata      map[string]interface{}    `json:"metadata,omitempty"`
}

// Registry holds the currently registered penalties per endpoint.
type Registry struct {
	mu         sync.RWMutex
	byEndpoint map[string][]Schema
}

// NewRegistry creates an empty penalty registry.
func NewRegistry() *Registry {
	return &Registry{byEndpoint: make(map[string][]Schema)}
}

// Register adds a penalty against an endpoint.
func (r *Registry) Register(endpoint string, p Schema) {
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byEndpoint[endpoint] = append(r.byEndpoint[endpoint], p)
}

// Clear removes all penalties for one endpoint and returns how many were
// removed.
func (r *Registry) Clear(endpoint string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.byEndpoint[endpoint])
	delete(r.byEndpoint, endpoint)
	return n
}

// ClearAll removes every registered penalty and returns the total count.
func (r *Registry) ClearAll() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, penalties := range r.byEndpoint {
		total += len(penalties)
	}
	r.byEndpoint = make(map[string][]Schema)
	return total
}

// Snapshot returns a copy of the penalties registered for an endpoint.
func (r *Registry) Snapshot(endpoint string) []Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	penalties := r.byEndpoint[endpoint]
	if len(penalties) == 0 {
		return nil
	}
	out := make([]Schema, len(penalties))
	copy(out, penalties)
	return out
}

// Count returns the number of penalties registered for an endpoint.
func (r *Registry) Count(endpoint string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byEndpoint[endpoint])
}

// Endpoints returns every endpoint with at least one registered penalty.
func (r *Registry) Endpoints() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	endpoints := make([]string, 0, len(r.byEndpoint))
	for endpoint := range r.byEndpoint {
		endpoints = append(endpoints, endpoint)
	}
	return endpoints
}

// Prune drops penalties whose decayed contribution has fallen below
// threshold points as of now. Returns the number removed.
func (r *Registry) Prune(now time.Time, halfLifeHours, threshold float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for endpoint, penalties := range r.byEndpoint {
		kept := penalties[:0]
		for _, p := range penalties {
			if Decay(p, now, halfLifeHours) >= threshold {
				kept = append(kept, p)
			} else {
				removed++
			}
		}
		if len(kept) == 0 {
			delete(r.byEndpoint, endpoint)
		} else {
			r.byEndpoint[endpoint] = kept
		}
	}
	return removed
}
