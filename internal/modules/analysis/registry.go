package analysis

import (
	"sync"

	"github.com/aristath/alphapulse/internal/modules/montecarlo"
)

// Run is a finished analysis: its report and the full ensemble behind it.
type Run struct {
	Report   *Report
	Ensemble *montecarlo.Ensemble
}

// Registry keeps the most recent runs in memory, evicting the oldest.
type Registry struct {
	mu       sync.RWMutex
	capacity int
	runs     map[string]*Run
	order    []string // oldest first
}

// NewRegistry creates a registry holding at most capacity runs (minimum 1).
func NewRegistry(capacity int) *Registry {
	if capacity < 1 {
		capacity = 1
	}
	return &Registry{
		capacity: capacity,
		runs:     make(map[string]*Run, capacity),
	}
}

// Add stores a run, evicting the oldest when full.
func (r *Registry) Add(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := run.Report.ID
	if _, exists := r.runs[id]; !exists {
		r.order = append(r.order, id)
	}
	r.runs[id] = run

	for len(r.order) > r.capacity {
		delete(r.runs, r.order[0])
		r.order = r.order[1:]
	}
}

// Get returns a stored run.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns the stored reports, newest first.
func (r *Registry) List() []*Report {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reports := make([]*Report, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		reports = append(reports, r.runs[r.order[i]].Report)
	}
	return reports
}

// Len returns the number of stored runs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
