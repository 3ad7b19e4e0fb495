package entity

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ErrUnknownEntity indicates no registration exists for an entity id.
var ErrUnknownEntity = errors.New("entity not registered")

// Registered is a registry entry with its fully resolved driver id.
type Registered struct {
	Config

	// ResolvedDriverID is the driver this entity indexes into: the
	// entity-level override, else the module default, else the registry
	// default.
	ResolvedDriverID string
}

// Registry holds all registered entity configurations.
//
// Registration happens once at startup; later registrations for the same
// entity id replace earlier ones. The engine assumes no mutation after
// startup, so lookups take only a read lock.
type Registry struct {
	defaultDriverID string
	logger          *zap.Logger

	mu       sync.RWMutex
	entities map[string]Registered
}

// NewRegistry creates a registry with the given default driver id.
func NewRegistry(defaultDriverID string, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		defaultDriverID: defaultDriverID,
		logger:          logger,
		entities:        make(map[string]Registered),
	}
}

// Register adds the modules' entity configs, last write wins per entity id.
func (r *Registry) Register(modules ...ModuleConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, mod := range modules {
		for _, cfg := range mod.Entities {
			if cfg.EntityID == "" {
				r.logger.Warn("skipping entity config with empty id")
				continue
			}

			driverID := cfg.DriverID
			if driverID == "" {
				driverID = mod.DriverID
			}
			if driverID == "" {
				driverID = r.defaultDriverID
			}

			if _, exists := r.entities[cfg.EntityID]; exists {
				r.logger.Info("replacing entity registration",
					zap.String("entity", cfg.EntityID))
			}

			r.entities[cfg.EntityID] = Registered{
				Config:           cfg,
				ResolvedDriverID: driverID,
			}
		}
	}
}

// Lookup returns the registration for an entity id.
func (r *Registry) Lookup(entityID string) (Registered, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.entities[entityID]
	return reg, ok
}

// Enabled returns all registered entity ids that are not disabled, sorted
// for deterministic reindex-all walks.
func (r *Registry) Enabled() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.entities))
	for id, reg := range r.entities {
		if reg.Disabled {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// DefaultDriverID returns the registry-wide default driver id.
func (r *Registry) DefaultDriverID() string {
	return r.defaultDriverID
}
