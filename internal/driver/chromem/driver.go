// Package chromem implements the vector driver contract on chromem-go,
// an embedded persistent vector database. It is the reference driver:
// no external service, full capability set.
package chromem

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

// timeNow is a variable for testing purposes.
var timeNow = time.Now

var tracer = otel.Tracer("recalld.driver.chromem")

// Config holds configuration for the chromem driver.
type Config struct {
	// Path is the directory for persistent storage.
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// VectorSize is the expected embedding dimension.
	VectorSize int `koanf:"vector_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "./data/vectorstore"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", driver.ErrInvalidConfig)
	}
	return nil
}

// Driver stores entries in chromem-go, one collection per entity and
// tenant. Vectors are always precomputed by the caller, so collections
// are created without an embedding function.
type Driver struct {
	db       *chromemgo.DB
	config   Config
	logger   *zap.Logger
	manifest *manifest

	// collections caches created collection handles by name.
	collections sync.Map
}

// New creates a chromem driver, opening (or creating) the persistent
// database and its sidecar manifest.
func New(config Config, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if err := os.MkdirAll(config.Path, 0755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", config.Path, err)
	}

	db, err := chromemgo.NewPersistentDB(filepath.Join(config.Path, "db"), config.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	m, err := openManifest(config.Path)
	if err != nil {
		return nil, err
	}

	logger.Info("chromem driver initialized",
		zap.String("path", config.Path),
		zap.Int("vector_size", config.VectorSize))

	return &Driver{
		db:       db,
		config:   config,
		logger:   logger,
		manifest: m,
	}, nil
}

// collectionName derives the collection for an entity within a tenant.
// The tenant id is hashed so arbitrary tenant identifiers stay within
// chromem's collection naming rules.
func collectionName(entityID, tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return entityID + "_t" + hex.EncodeToString(sum[:])[:8]
}

// tenantSuffix is the collection name suffix shared by all of a
// tenant's collections.
func tenantSuffix(tenantID string) string {
	sum := sha256.Sum256([]byte(tenantID))
	return "_t" + hex.EncodeToString(sum[:])[:8]
}

func (d *Driver) getOrCreate(name string) (*chromemgo.Collection, error) {
	if cached, ok := d.collections.Load(name); ok {
		return cached.(*chromemgo.Collection), nil
	}

	coll, err := d.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}
	d.collections.Store(name, coll)
	return coll, nil
}

// get returns an existing collection, or nil when it does not exist.
func (d *Driver) get(name string) *chromemgo.Collection {
	if cached, ok := d.collections.Load(name); ok {
		return cached.(*chromemgo.Collection)
	}
	coll := d.db.GetCollection(name, nil)
	if coll != nil {
		d.collections.Store(name, coll)
	}
	return coll
}

// EnsureReady reports readiness. The database is opened at construction,
// so this only guards against use after a failed New.
func (d *Driver) EnsureReady(ctx context.Context) error {
	if d.db == nil {
		return fmt.Errorf("%w: chromem database not initialized", driver.ErrInvalidConfig)
	}
	return nil
}

// Upsert atomically replaces the entry stored under its key.
func (d *Driver) Upsert(ctx context.Context, entry *driver.Entry) error {
	ctx, span := tracer.Start(ctx, "chromem.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", entry.EntityID),
		attribute.String("record", entry.RecordID),
	)

	name := collectionName(entry.EntityID, entry.TenantID)
	coll, err := d.getOrCreate(name)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	now := timeNow().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		if existing, ok := d.manifest.get(name, entry.RecordID); ok {
			createdAt = existing.CreatedAt
		} else {
			createdAt = now
		}
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	doc := chromemgo.Document{
		ID: entry.RecordID,
		Metadata: map[string]string{
			"entity_id": entry.EntityID,
			"tenant_id": entry.TenantID,
			"org_id":    entry.OrgID,
		},
		Embedding: entry.Embedding,
	}
	if err := coll.AddDocument(ctx, doc); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding document: %w", err)
	}

	stored := storedEntry{
		EntityID:         entry.EntityID,
		RecordID:         entry.RecordID,
		TenantID:         entry.TenantID,
		OrgID:            entry.OrgID,
		Checksum:         entry.Checksum,
		Title:            entry.Title,
		Subtitle:         entry.Subtitle,
		Icon:             entry.Icon,
		Badge:            entry.Badge,
		Snapshot:         entry.Snapshot,
		PrimaryLinkHref:  entry.PrimaryLinkHref,
		PrimaryLinkLabel: entry.PrimaryLinkLabel,
		Links:            entry.Links,
		Payload:          entry.Payload,
		CreatedAt:        createdAt,
		UpdatedAt:        updatedAt,
	}
	if err := d.manifest.put(name, stored); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	return nil
}

// Checksum returns the stored checksum for a record.
func (d *Driver) Checksum(ctx context.Context, entityID, recordID, tenantID string) (string, error) {
	e, ok := d.manifest.get(collectionName(entityID, tenantID), recordID)
	if !ok {
		return "", driver.ErrNotFound
	}
	return e.Checksum, nil
}

// Delete removes the entry. Deleting an absent entry is not an error.
func (d *Driver) Delete(ctx context.Context, entityID, recordID, tenantID string) error {
	ctx, span := tracer.Start(ctx, "chromem.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", entityID),
		attribute.String("record", recordID),
	)

	name := collectionName(entityID, tenantID)
	if coll := d.get(name); coll != nil {
		if err := coll.Delete(ctx, nil, nil, recordID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("deleting document: %w", err)
		}
	}
	return d.manifest.remove(name, recordID)
}

// Query returns the entries most similar to the vector, ranked by score.
func (d *Driver) Query(ctx context.Context, vector []float32, limit int, f driver.Filter) ([]driver.Hit, error) {
	ctx, span := tracer.Start(ctx, "chromem.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	var where map[string]string
	if f.OrgID != "" {
		where = map[string]string{"org_id": f.OrgID}
	}

	var hits []driver.Hit
	for _, name := range d.queryCollections(f) {
		coll := d.get(name)
		if coll == nil {
			continue
		}
		n := limit
		if count := coll.Count(); count < n {
			n = count
		}
		if n == 0 {
			continue
		}

		results, err := coll.QueryEmbedding(ctx, vector, n, where, nil)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("querying collection %s: %w", name, err)
		}
		for _, res := range results {
			stored, ok := d.manifest.get(name, res.ID)
			if !ok {
				continue
			}
			hits = append(hits, driver.Hit{Entry: stored.toEntry(), Score: res.Similarity})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// queryCollections resolves the collections a filter spans. Without an
// entity list, every collection carrying the tenant suffix matches.
func (d *Driver) queryCollections(f driver.Filter) []string {
	if len(f.EntityIDs) > 0 {
		names := make([]string, 0, len(f.EntityIDs))
		for _, entityID := range f.EntityIDs {
			names = append(names, collectionName(entityID, f.TenantID))
		}
		return names
	}

	suffix := tenantSuffix(f.TenantID)
	var names []string
	for _, name := range d.manifest.collectionNames() {
		if strings.HasSuffix(name, suffix) {
			names = append(names, name)
		}
	}
	return names
}

// Purge removes all entries for an entity within a tenant.
func (d *Driver) Purge(ctx context.Context, entityID, tenantID string) error {
	ctx, span := tracer.Start(ctx, "chromem.Purge")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entityID))

	name := collectionName(entityID, tenantID)
	d.collections.Delete(name)
	if err := d.db.DeleteCollection(name); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return d.manifest.drop(name)
}

// List enumerates stored entries, paged by an opaque cursor.
func (d *Driver) List(ctx context.Context, f driver.Filter, cursor string, limit int) (driver.ListPage, error) {
	entries := d.manifest.entries(d.queryCollections(f))

	var out []driver.Entry
	for _, e := range entries {
		if f.OrgID != "" && e.OrgID != f.OrgID {
			continue
		}
		if cursor != "" && listCursor(e.EntityID, e.RecordID) <= cursor {
			continue
		}
		out = append(out, e.toEntry())
		if len(out) == limit {
			break
		}
	}

	page := driver.ListPage{Entries: out}
	if len(out) == limit {
		last := out[len(out)-1]
		page.Cursor = listCursor(last.EntityID, last.RecordID)
	}
	return page, nil
}

func listCursor(entityID, recordID string) string {
	return entityID + "\x00" + recordID
}

// Count counts stored entries matching the filter.
func (d *Driver) Count(ctx context.Context, f driver.Filter) (int64, error) {
	var n int64
	for _, e := range d.manifest.entries(d.queryCollections(f)) {
		if f.OrgID != "" && e.OrgID != f.OrgID {
			continue
		}
		n++
	}
	return n, nil
}

// RemoveOrphans deletes entries last updated before the cutoff.
func (d *Driver) RemoveOrphans(ctx context.Context, entityID, tenantID, orgID string, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "chromem.RemoveOrphans")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entityID))

	name := collectionName(entityID, tenantID)
	var removed int64
	for _, e := range d.manifest.entries([]string{name}) {
		if !e.UpdatedAt.Before(olderThan) {
			continue
		}
		if orgID != "" && e.OrgID != orgID {
			continue
		}
		if err := d.Delete(ctx, entityID, e.RecordID, tenantID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return removed, err
		}
		removed++
	}

	d.logger.Debug("orphan removal complete",
		zap.String("entity", entityID),
		zap.Int64("removed", removed))
	return removed, nil
}

// Close releases driver resources. chromem persists on every write, so
// there is nothing to flush.
func (d *Driver) Close() error {
	return nil
}
