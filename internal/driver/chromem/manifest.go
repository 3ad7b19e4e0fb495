package chromem

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

// storedEntry is the manifest record for one indexed document. chromem
// has no document enumeration API, so everything needed for checksum
// lookups, listing, counting and orphan removal lives here; only the
// vector and its ids live in chromem itself.
type storedEntry struct {
	EntityID string `json:"entity_id"`
	RecordID string `json:"record_id"`
	TenantID string `json:"tenant_id"`
	OrgID    string `json:"org_id,omitempty"`

	Checksum string `json:"checksum"`

	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
	Snapshot string `json:"snapshot,omitempty"`

	PrimaryLinkHref  string `json:"primary_link_href,omitempty"`
	PrimaryLinkLabel string `json:"primary_link_label,omitempty"`
	Links            string `json:"links,omitempty"`

	Payload string `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e storedEntry) toEntry() driver.Entry {
	return driver.Entry{
		EntityID:         e.EntityID,
		RecordID:         e.RecordID,
		TenantID:         e.TenantID,
		OrgID:            e.OrgID,
		Checksum:         e.Checksum,
		Title:            e.Title,
		Subtitle:         e.Subtitle,
		Icon:             e.Icon,
		Badge:            e.Badge,
		Snapshot:         e.Snapshot,
		PrimaryLinkHref:  e.PrimaryLinkHref,
		PrimaryLinkLabel: e.PrimaryLinkLabel,
		Links:            e.Links,
		Payload:          e.Payload,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

// manifest is a JSON sidecar persisted next to the chromem data files.
// The outer key is the collection name, the inner key the record id.
// Every mutation rewrites the file atomically via temp file + rename.
type manifest struct {
	path string

	mu          sync.RWMutex
	collections map[string]map[string]storedEntry
}

func openManifest(dir string) (*manifest, error) {
	m := &manifest{
		path:        filepath.Join(dir, "manifest.json"),
		collections: make(map[string]map[string]storedEntry),
	}

	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	if err := json.Unmarshal(raw, &m.collections); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}
	return m, nil
}

// persist writes the manifest under the caller-held lock.
func (m *manifest) persist() error {
	raw, err := json.Marshal(m.collections)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}

	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	if err := os.Rename(tmp, m.path); err != nil {
		return fmt.Errorf("replacing manifest: %w", err)
	}
	return nil
}

func (m *manifest) get(collection, recordID string) (storedEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.collections[collection][recordID]
	return e, ok
}

func (m *manifest) put(collection string, e storedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]storedEntry)
	}
	m.collections[collection][e.RecordID] = e
	return m.persist()
}

func (m *manifest) remove(collection, recordID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries, ok := m.collections[collection]
	if !ok {
		return nil
	}
	if _, ok := entries[recordID]; !ok {
		return nil
	}
	delete(entries, recordID)
	if len(entries) == 0 {
		delete(m.collections, collection)
	}
	return m.persist()
}

func (m *manifest) drop(collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.collections[collection]; !ok {
		return nil
	}
	delete(m.collections, collection)
	return m.persist()
}

// entries returns all stored entries for the given collections, sorted
// by (entity id, record id) for deterministic paging.
func (m *manifest) entries(collections []string) []storedEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storedEntry
	for _, name := range collections {
		for _, e := range m.collections[name] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].EntityID != out[j].EntityID {
			return out[i].EntityID < out[j].EntityID
		}
		return out[i].RecordID < out[j].RecordID
	})
	return out
}

// collectionNames returns all collection names present in the manifest.
func (m *manifest) collectionNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.collections))
	for name := range m.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
