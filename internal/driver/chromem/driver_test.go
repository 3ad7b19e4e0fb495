package chromem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

func newTestDriver(t *testing.T) *Driver {
	t.Helper()
	d, err := New(Config{Path: t.TempDir(), VectorSize: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, d.EnsureReady(context.Background()))
	return d
}

func entry(entityID, recordID, tenantID string, vec []float32) *driver.Entry {
	return &driver.Entry{
		EntityID:  entityID,
		RecordID:  recordID,
		TenantID:  tenantID,
		Checksum:  "sum-" + recordID,
		Embedding: vec,
		Title:     "title " + recordID,
	}
}

func TestDriver_UpsertChecksumDelete(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	_, err := d.Checksum(ctx, "company", "r1", "t1")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	require.NoError(t, d.Upsert(ctx, entry("company", "r1", "t1", []float32{1, 0, 0})))

	sum, err := d.Checksum(ctx, "company", "r1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "sum-r1", sum)

	require.NoError(t, d.Delete(ctx, "company", "r1", "t1"))
	_, err = d.Checksum(ctx, "company", "r1", "t1")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	// Deleting an absent entry is a no-op.
	require.NoError(t, d.Delete(ctx, "company", "r1", "t1"))
}

func TestDriver_QueryRanksBySimilarity(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Upsert(ctx, entry("company", "r1", "t1", []float32{1, 0, 0})))
	require.NoError(t, d.Upsert(ctx, entry("company", "r2", "t1", []float32{0, 1, 0})))
	require.NoError(t, d.Upsert(ctx, entry("company", "r3", "t1", []float32{0.9, 0.1, 0})))

	hits, err := d.Query(ctx, []float32{1, 0, 0}, 2, driver.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "r1", hits[0].Entry.RecordID)
	assert.Equal(t, "r3", hits[1].Entry.RecordID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestDriver_QueryTenantIsolation(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Upsert(ctx, entry("company", "r1", "t1", []float32{1, 0, 0})))
	require.NoError(t, d.Upsert(ctx, entry("company", "r2", "t2", []float32{1, 0, 0})))

	hits, err := d.Query(ctx, []float32{1, 0, 0}, 10, driver.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "r1", hits[0].Entry.RecordID)
	assert.Equal(t, "t1", hits[0].Entry.TenantID)
}

func TestDriver_QueryEmptyStore(t *testing.T) {
	d := newTestDriver(t)

	hits, err := d.Query(context.Background(), []float32{1, 0, 0}, 10, driver.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDriver_UpsertPreservesCreatedAt(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	first := entry("company", "r1", "t1", []float32{1, 0, 0})
	require.NoError(t, d.Upsert(ctx, first))

	name := collectionName("company", "t1")
	before, ok := d.manifest.get(name, "r1")
	require.True(t, ok)

	second := entry("company", "r1", "t1", []float32{0, 1, 0})
	second.Checksum = "sum-updated"
	require.NoError(t, d.Upsert(ctx, second))

	after, ok := d.manifest.get(name, "r1")
	require.True(t, ok)
	assert.Equal(t, before.CreatedAt, after.CreatedAt)
	assert.Equal(t, "sum-updated", after.Checksum)
}

func TestDriver_Purge(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	require.NoError(t, d.Upsert(ctx, entry("company", "r1", "t1", []float32{1, 0, 0})))
	require.NoError(t, d.Upsert(ctx, entry("deal", "r2", "t1", []float32{1, 0, 0})))

	require.NoError(t, d.Purge(ctx, "company", "t1"))

	_, err := d.Checksum(ctx, "company", "r1", "t1")
	assert.ErrorIs(t, err, driver.ErrNotFound)

	// Other entities in the tenant are untouched.
	_, err = d.Checksum(ctx, "deal", "r2", "t1")
	assert.NoError(t, err)
}

func TestDriver_ListAndCount(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	for _, id := range []string{"r1", "r2", "r3"} {
		require.NoError(t, d.Upsert(ctx, entry("company", id, "t1", []float32{1, 0, 0})))
	}
	require.NoError(t, d.Upsert(ctx, entry("company", "x1", "t2", []float32{1, 0, 0})))

	f := driver.Filter{TenantID: "t1", EntityIDs: []string{"company"}}

	page, err := d.List(ctx, f, "", 2)
	require.NoError(t, err)
	require.Len(t, page.Entries, 2)
	require.NotEmpty(t, page.Cursor)

	page2, err := d.List(ctx, f, page.Cursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Entries, 1)
	assert.Equal(t, "r3", page2.Entries[0].RecordID)

	n, err := d.Count(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestDriver_RemoveOrphans(t *testing.T) {
	d := newTestDriver(t)
	ctx := context.Background()

	old := entry("company", "stale", "t1", []float32{1, 0, 0})
	old.UpdatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, d.Upsert(ctx, old))
	require.NoError(t, d.Upsert(ctx, entry("company", "fresh", "t1", []float32{0, 1, 0})))

	removed, err := d.RemoveOrphans(ctx, "company", "t1", "", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = d.Checksum(ctx, "company", "stale", "t1")
	assert.ErrorIs(t, err, driver.ErrNotFound)
	_, err = d.Checksum(ctx, "company", "fresh", "t1")
	assert.NoError(t, err)
}

func TestDriver_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	d, err := New(Config{Path: dir, VectorSize: 3}, nil)
	require.NoError(t, err)
	require.NoError(t, d.Upsert(ctx, entry("company", "r1", "t1", []float32{1, 0, 0})))
	require.NoError(t, d.Close())

	reopened, err := New(Config{Path: dir, VectorSize: 3}, nil)
	require.NoError(t, err)

	sum, err := reopened.Checksum(ctx, "company", "r1", "t1")
	require.NoError(t, err)
	assert.Equal(t, "sum-r1", sum)

	hits, err := reopened.Query(ctx, []float32{1, 0, 0}, 1, driver.Filter{TenantID: "t1"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "title r1", hits[0].Entry.Title)
}
