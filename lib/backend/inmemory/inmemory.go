// Package inmemory implements the state backend in process memory.
package inmemory

import (
	"sync"

	"github.com/gravitational/trace"

	"github.com/gravitational/vigil/lib/checker"
)

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{services: make(map[string]checker.ServiceSnapshot)}
}

// Backend keeps the last snapshot per service in a map. It backs nodes
// that run without a data directory.
type Backend struct {
	mu       sync.Mutex
	services map[string]checker.ServiceSnapshot
}

// Flush stores the snapshot as the current state of the service.
func (r *Backend) Flush(snapshot checker.ServiceSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[snapshot.Name] = snapshot
	return nil
}

// RecentService reads the last stored snapshot for the named service.
func (r *Backend) RecentService(name string) (*checker.ServiceSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snapshot, exists := r.services[name]
	if !exists {
		return nil, trace.NotFound("no state stored for service %q", name)
	}
	return &snapshot, nil
}

// Close is a no-op.
func (r *Backend) Close() error { return nil }
