package index

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/entity"
)

// listOnlyDriver exposes Lister but no Counter, forcing the count
// fallback through pages.
type listOnlyDriver struct {
	capabilityFreeDriver
	entries []driver.Entry
}

func (d *listOnlyDriver) List(ctx context.Context, f driver.Filter, cursor string, limit int) (driver.ListPage, error) {
	start := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &start)
	}
	end := start + limit
	if end > len(d.entries) {
		end = len(d.entries)
	}

	page := driver.ListPage{Entries: d.entries[start:end]}
	if end < len(d.entries) {
		page.Cursor = fmt.Sprintf("%d", end)
	}
	return page, nil
}

func newServiceFixture(t *testing.T) (*Service, *fakeDriver) {
	t.Helper()

	registry := entity.NewRegistry("fake", zap.NewNop())
	registry.Register(entity.ModuleConfig{Entities: []entity.Config{{EntityID: "company"}}})

	fake := newFakeDriver()
	drivers := driver.NewRegistry("fake")
	drivers.Register("fake", fake)

	return NewService(registry, drivers, zap.NewNop()), fake
}

func TestService_Purge(t *testing.T) {
	svc, fake := newServiceFixture(t)
	ctx := context.Background()

	require.NoError(t, fake.Upsert(ctx, &driver.Entry{EntityID: "company", RecordID: "r1", TenantID: "t1"}))
	require.NoError(t, fake.Upsert(ctx, &driver.Entry{EntityID: "company", RecordID: "r2", TenantID: "t2"}))

	require.NoError(t, svc.Purge(ctx, "company", "t1"))
	assert.Equal(t, 1, fake.len(), "other tenants are untouched")

	err := svc.Purge(ctx, "company", "")
	assert.ErrorIs(t, err, ErrTenantRequired)

	err = svc.Purge(ctx, "ghost", "t1")
	assert.ErrorIs(t, err, entity.ErrUnknownEntity)
}

func TestService_PurgeWithoutCapability(t *testing.T) {
	registry := entity.NewRegistry("bare", zap.NewNop())
	registry.Register(entity.ModuleConfig{Entities: []entity.Config{{EntityID: "company"}}})
	drivers := driver.NewRegistry("bare")
	drivers.Register("bare", &capabilityFreeDriver{})
	svc := NewService(registry, drivers, zap.NewNop())

	err := svc.Purge(context.Background(), "company", "t1")
	assert.ErrorIs(t, err, driver.ErrCapability)
}

func TestService_CountFallsBackToLister(t *testing.T) {
	entries := make([]driver.Entry, 7)
	for i := range entries {
		entries[i] = driver.Entry{EntityID: "company", RecordID: fmt.Sprintf("r%d", i), TenantID: "t1"}
	}

	drivers := driver.NewRegistry("listonly")
	drivers.Register("listonly", &listOnlyDriver{entries: entries})
	svc := NewService(entity.NewRegistry("listonly", zap.NewNop()), drivers, zap.NewNop())

	n, err := svc.Count(context.Background(), "listonly", driver.Filter{TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestService_ListRequiresCapability(t *testing.T) {
	drivers := driver.NewRegistry("bare")
	drivers.Register("bare", &capabilityFreeDriver{})
	svc := NewService(entity.NewRegistry("bare", zap.NewNop()), drivers, zap.NewNop())

	_, err := svc.List(context.Background(), "bare", driver.Filter{TenantID: "t1"}, "", 10)
	assert.ErrorIs(t, err, driver.ErrCapability)

	_, err = svc.Count(context.Background(), "bare", driver.Filter{TenantID: "t1"})
	assert.ErrorIs(t, err, driver.ErrCapability)
}
