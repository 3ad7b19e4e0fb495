package index

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/crypto"
	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/record"
)

// fakeDriver is an in-memory driver with the full capability set.
type fakeDriver struct {
	mu      sync.Mutex
	entries map[string]*driver.Entry
	upserts int
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{entries: make(map[string]*driver.Entry)}
}

func fakeKey(entityID, recordID, tenantID string) string {
	return entityID + "|" + recordID + "|" + tenantID
}

func (d *fakeDriver) EnsureReady(ctx context.Context) error { return nil }

func (d *fakeDriver) Upsert(ctx context.Context, entry *driver.Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	key := fakeKey(entry.EntityID, entry.RecordID, entry.TenantID)
	stored := *entry
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		if existing, ok := d.entries[key]; ok {
			stored.CreatedAt = existing.CreatedAt
		} else {
			stored.CreatedAt = now
		}
	}
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = now
	}
	d.entries[key] = &stored
	d.upserts++
	return nil
}

func (d *fakeDriver) Checksum(ctx context.Context, entityID, recordID, tenantID string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, ok := d.entries[fakeKey(entityID, recordID, tenantID)]
	if !ok {
		return "", driver.ErrNotFound
	}
	return entry.Checksum, nil
}

func (d *fakeDriver) Delete(ctx context.Context, entityID, recordID, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, fakeKey(entityID, recordID, tenantID))
	return nil
}

func (d *fakeDriver) Query(ctx context.Context, vector []float32, limit int, f driver.Filter) ([]driver.Hit, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var hits []driver.Hit
	for _, entry := range d.entries {
		if entry.TenantID != f.TenantID {
			continue
		}
		if f.OrgID != "" && entry.OrgID != f.OrgID {
			continue
		}
		hits = append(hits, driver.Hit{Entry: *entry, Score: 1})
		if len(hits) == limit {
			break
		}
	}
	return hits, nil
}

func (d *fakeDriver) Purge(ctx context.Context, entityID, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for key, entry := range d.entries {
		if entry.EntityID == entityID && entry.TenantID == tenantID {
			delete(d.entries, key)
		}
	}
	return nil
}

func (d *fakeDriver) RemoveOrphans(ctx context.Context, entityID, tenantID, orgID string, olderThan time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var removed int64
	for key, entry := range d.entries {
		if entry.EntityID != entityID || entry.TenantID != tenantID {
			continue
		}
		if orgID != "" && entry.OrgID != orgID {
			continue
		}
		if entry.UpdatedAt.Before(olderThan) {
			delete(d.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) get(entityID, recordID, tenantID string) (*driver.Entry, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, ok := d.entries[fakeKey(entityID, recordID, tenantID)]
	return entry, ok
}

func (d *fakeDriver) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// countingEmbedder counts embed calls so tests can assert the checksum
// gate short-circuits them.
type countingEmbedder struct {
	mu    sync.Mutex
	calls int
}

func (e *countingEmbedder) Available() bool { return true }

func (e *countingEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls += len(texts)
	e.mu.Unlock()

	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = []float32{1, 0, 0}
	}
	return vectors, nil
}

func (e *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (e *countingEmbedder) Dimension() int { return 3 }
func (e *countingEmbedder) Close() error   { return nil }

func (e *countingEmbedder) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type pipelineFixture struct {
	pipeline *Pipeline
	registry *entity.Registry
	drivers  *driver.Registry
	driver   *fakeDriver
	source   *record.MemorySource
	embedder *countingEmbedder
}

func newFixture(t *testing.T, cipher crypto.Adapter) *pipelineFixture {
	t.Helper()

	registry := entity.NewRegistry("fake", zap.NewNop())
	registry.Register(entity.ModuleConfig{Entities: []entity.Config{
		{EntityID: "company"},
		{EntityID: "deal"},
	}})

	fake := newFakeDriver()
	drivers := driver.NewRegistry("fake")
	drivers.Register("fake", fake)

	source := record.NewMemorySource()
	embedder := &countingEmbedder{}

	return &pipelineFixture{
		pipeline: NewPipeline(registry, drivers, source, embedder, cipher, zap.NewNop()),
		registry: registry,
		drivers:  drivers,
		driver:   fake,
		source:   source,
		embedder: embedder,
	}
}

func companyRecord(id, name string) record.Record {
	return record.Decode(id, map[string]any{
		"display_name": name,
		"description":  "industrial supplier",
	})
}

func TestPipeline_IndexNewRecord(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))

	res, err := fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)

	assert.Equal(t, ActionIndexed, res.Action)
	assert.True(t, res.Created)
	assert.False(t, res.Existed)

	entry, ok := fx.driver.get("company", "r1", "t1")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", entry.Title)
	assert.Equal(t, "industrial supplier", entry.Subtitle)
	assert.NotEmpty(t, entry.Checksum)
	assert.Equal(t, []float32{1, 0, 0}, entry.Embedding)
}

func TestPipeline_ChecksumGateSkipsEmbedding(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	ctx := context.Background()
	req := Request{EntityID: "company", RecordID: "r1", TenantID: "t1"}

	_, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	require.Equal(t, 1, fx.embedder.count())

	res, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, ReasonChecksumMatch, res.Reason)
	assert.True(t, res.Existed)
	assert.Equal(t, 1, fx.embedder.count(), "unchanged content must not re-embed")
	assert.Equal(t, 1, fx.driver.upserts)
}

func TestPipeline_ChangedRecordReindexes(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	ctx := context.Background()
	req := Request{EntityID: "company", RecordID: "r1", TenantID: "t1"}

	_, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)

	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corporation"))
	res, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, ActionIndexed, res.Action)
	assert.False(t, res.Created)
	assert.True(t, res.Existed)
	assert.Equal(t, 2, fx.embedder.count())

	entry, _ := fx.driver.get("company", "r1", "t1")
	assert.Equal(t, "Acme Corporation", entry.Title)
}

func TestPipeline_MissingRecord(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	req := Request{EntityID: "company", RecordID: "ghost", TenantID: "t1"}

	// No record, no entry.
	res, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, ReasonMissingRecord, res.Reason)

	// No record, stale entry: delete.
	fx.source.Put("company", "t1", companyRecord("ghost", "Ghost Inc"))
	_, err = fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	fx.source.Remove("company", "t1", "ghost")

	res, err = fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, res.Action)
	assert.True(t, res.Existed)
	assert.Equal(t, 0, fx.driver.len())
}

func TestPipeline_RequiresTenant(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	ctx := context.Background()
	req := Request{EntityID: "company", RecordID: "r1"}

	_, err := fx.pipeline.IndexRecord(ctx, req)
	assert.ErrorIs(t, err, ErrTenantRequired)

	_, err = fx.pipeline.DeleteRecord(ctx, req)
	assert.ErrorIs(t, err, ErrTenantRequired)

	assert.Equal(t, 0, fx.embedder.count())
	assert.Equal(t, 0, fx.driver.upserts)
}

func TestPipeline_UnsupportedEntity(t *testing.T) {
	fx := newFixture(t, nil)

	res, err := fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "unknown", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, ReasonUnsupported, res.Reason)
	assert.Equal(t, 0, fx.embedder.count())
	assert.Equal(t, 0, fx.driver.upserts)
}

func TestPipeline_NotIndexableDeletesExisting(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Entity whose hook reports not indexable when the record carries
	// an archived flag.
	fx.registry.Register(entity.ModuleConfig{Entities: []entity.Config{{
		EntityID: "note",
		Hooks: entity.Hooks{
			BuildSource: func(ctx context.Context, sc entity.SourceContext) (*entity.Source, error) {
				if sc.Record.StringField("archived") == "yes" {
					return nil, nil
				}
				return &entity.Source{Lines: []string{sc.Record.StringField("body")}}, nil
			},
		},
	}}})

	fx.source.Put("note", "t1", record.Decode("n1", map[string]any{"body": "hello"}))
	req := Request{EntityID: "note", RecordID: "n1", TenantID: "t1"}
	_, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, fx.driver.len())

	fx.source.Put("note", "t1", record.Decode("n1", map[string]any{"body": "hello", "archived": "yes"}))
	res, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, res.Action)
	assert.Equal(t, 0, fx.driver.len())
}

func TestPipeline_EmbedderUnavailableFails(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))

	unavailable, err := embeddings.NewTEIProvider(embeddings.TEIConfig{})
	require.NoError(t, err)
	fx.pipeline.embedder = unavailable

	_, err = fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	assert.ErrorIs(t, err, embeddings.ErrUnavailable)
	assert.Equal(t, 0, fx.driver.upserts)
}

func TestPipeline_EncryptsStoredFields(t *testing.T) {
	cipher, err := crypto.NewAESAdapter(crypto.Config{Enabled: true, MasterKey: "k"}, nil)
	require.NoError(t, err)
	fx := newFixture(t, cipher)
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))

	_, err = fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)

	entry, ok := fx.driver.get("company", "r1", "t1")
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(entry.Title, "enc:v1:"))
	assert.True(t, strings.HasPrefix(entry.Subtitle, "enc:v1:"))
	assert.NotContains(t, entry.Title, "Acme")
}

// degradedCipher models an adapter whose encrypt path fails: per the
// adapter contract it returns the plaintext fields unchanged.
type degradedCipher struct{}

func (degradedCipher) Enabled() bool { return true }

func (degradedCipher) EncryptPayload(_ context.Context, _, _ string, fields map[string]string) map[string]string {
	return fields
}

func (degradedCipher) DecryptPayload(_ context.Context, _, _ string, fields map[string]string) map[string]string {
	return fields
}

func TestPipeline_EncryptionDegradeStoresPlaintext(t *testing.T) {
	fx := newFixture(t, degradedCipher{})
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))

	res, err := fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, ActionIndexed, res.Action)

	entry, ok := fx.driver.get("company", "r1", "t1")
	require.True(t, ok)
	assert.Equal(t, "Acme Corp", entry.Title)
	assert.Equal(t, "industrial supplier", entry.Subtitle)
}

func TestPipeline_DeleteRecord(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	req := Request{EntityID: "company", RecordID: "r1", TenantID: "t1"}

	_, err := fx.pipeline.IndexRecord(ctx, req)
	require.NoError(t, err)

	res, err := fx.pipeline.DeleteRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, res.Action)
	assert.True(t, res.Existed)

	res, err = fx.pipeline.DeleteRecord(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, ActionSkipped, res.Action)
	assert.Equal(t, ReasonMissingRecord, res.Reason)
}

func TestPipeline_PrimaryLinkFromHook(t *testing.T) {
	fx := newFixture(t, nil)
	fx.registry.Register(entity.ModuleConfig{Entities: []entity.Config{{
		EntityID: "ticket",
		Hooks: entity.Hooks{
			ResolveLinks: func(ctx context.Context, sc entity.SourceContext) ([]entity.Link, error) {
				return []entity.Link{
					{Href: "/tickets/t-9/audit", Label: "Audit"},
					{Href: "/tickets/t-9", Label: "Open", Kind: "primary"},
				}, nil
			},
		},
	}}})
	fx.source.Put("ticket", "t1", record.Decode("t-9", map[string]any{"title": "Broken pump"}))

	_, err := fx.pipeline.IndexRecord(context.Background(), Request{EntityID: "ticket", RecordID: "t-9", TenantID: "t1"})
	require.NoError(t, err)

	entry, _ := fx.driver.get("ticket", "t-9", "t1")
	assert.Equal(t, "/tickets/t-9", entry.PrimaryLinkHref, "primary kind wins over order")
	assert.Equal(t, "Open", entry.PrimaryLinkLabel)

	links := driver.DecodeLinks(entry.Links)
	require.Len(t, links, 2)
}
