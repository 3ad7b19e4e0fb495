package driver

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps driver ids to driver instances. Registration happens at
// startup; lookups after that take only a read lock.
type Registry struct {
	defaultID string

	mu      sync.RWMutex
	drivers map[string]Driver
}

// NewRegistry creates a driver registry with the given default driver id.
func NewRegistry(defaultID string) *Registry {
	return &Registry{
		defaultID: defaultID,
		drivers:   make(map[string]Driver),
	}
}

// Register adds a driver under an id, replacing any previous driver.
func (r *Registry) Register(id string, d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drivers[id] = d
}

// Get returns the driver for an id. An empty id resolves to the default.
func (r *Registry) Get(id string) (Driver, error) {
	if id == "" {
		id = r.defaultID
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.drivers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, id)
	}
	return d, nil
}

// Default returns the default driver.
func (r *Registry) Default() (Driver, error) {
	return r.Get("")
}

// IDs returns all registered driver ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.drivers))
	for id := range r.drivers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all registered drivers, returning the first error.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for id, d := range r.drivers {
		if err := d.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing driver %s: %w", id, err)
		}
	}
	return firstErr
}
