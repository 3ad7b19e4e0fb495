package record

import (
	"context"
	"sort"
	"sync"
)

// MemorySource is an in-memory Source used in tests and local development.
//
// Records are keyed by (entity, tenant, id). Page walks records in id order
// so reindex runs are deterministic.
type MemorySource struct {
	mu      sync.RWMutex
	records map[string]map[string]Record // entity/tenant -> id -> record
}

// NewMemorySource creates an empty MemorySource.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		records: make(map[string]map[string]Record),
	}
}

func memoryScope(entityID, tenantID string) string {
	return entityID + "\x00" + tenantID
}

// Put stores or replaces a record.
func (s *MemorySource) Put(entityID, tenantID string, rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope := memoryScope(entityID, tenantID)
	if s.records[scope] == nil {
		s.records[scope] = make(map[string]Record)
	}
	s.records[scope][rec.ID] = rec
}

// Remove deletes a record, simulating the source record disappearing.
func (s *MemorySource) Remove(entityID, tenantID, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.records[memoryScope(entityID, tenantID)]; m != nil {
		delete(m, id)
	}
}

// Fetch implements Source.
func (s *MemorySource) Fetch(ctx context.Context, entityID string, ids []string, tenantID, orgID string) (map[string]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Record, len(ids))
	m := s.records[memoryScope(entityID, tenantID)]
	for _, id := range ids {
		if rec, ok := m[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// Page implements Source.
func (s *MemorySource) Page(ctx context.Context, entityID string, req PageRequest) (PageResult, error) {
	if err := ctx.Err(); err != nil {
		return PageResult{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	m := s.records[memoryScope(entityID, req.TenantID)]
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	start := req.Page * req.PageSize
	if start >= len(ids) {
		return PageResult{}, nil
	}
	end := start + req.PageSize
	if end > len(ids) {
		end = len(ids)
	}

	page := make([]Record, 0, end-start)
	for _, id := range ids[start:end] {
		page = append(page, m[id])
	}

	return PageResult{Records: page, HasMore: end < len(ids)}, nil
}
