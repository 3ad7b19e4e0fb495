package index

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/record"
)

type capturedEvent struct {
	Subject string
	Payload any
}

type fakeSink struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (s *fakeSink) Emit(ctx context.Context, subject string, v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, capturedEvent{Subject: subject, Payload: v})
	return nil
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) emitted() []capturedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]capturedEvent(nil), s.events...)
}

func newReindexer(fx *pipelineFixture, sink events.Sink) *Reindexer {
	reaper := NewReaper(fx.drivers, zap.NewNop())
	return NewReindexer(ReindexConfig{PageSize: 50}, fx.pipeline, fx.registry, fx.drivers, fx.source, reaper, sink, zap.NewNop())
}

func TestReindexer_InlineWalksAllPages(t *testing.T) {
	fx := newFixture(t, nil)
	for i := 0; i < 120; i++ {
		fx.source.Put("company", "t1", companyRecord(fmt.Sprintf("r%03d", i), fmt.Sprintf("Company %d", i)))
	}

	r := newReindexer(fx, nil)
	require.Equal(t, ModeInline, r.Mode())

	err := r.ReindexEntity(context.Background(), ReindexRequest{EntityID: "company", TenantID: "t1"})
	require.NoError(t, err)
	assert.Equal(t, 120, fx.driver.len())
}

func TestReindexer_InlineRequiresTenant(t *testing.T) {
	fx := newFixture(t, nil)
	r := newReindexer(fx, nil)

	err := r.ReindexEntity(context.Background(), ReindexRequest{EntityID: "company"})
	assert.ErrorIs(t, err, ErrTenantRequired)
}

func TestReindexer_UnknownEntity(t *testing.T) {
	fx := newFixture(t, nil)
	r := newReindexer(fx, nil)

	err := r.ReindexEntity(context.Background(), ReindexRequest{EntityID: "ghost", TenantID: "t1"})
	assert.ErrorIs(t, err, entity.ErrUnknownEntity)
}

func TestReindexer_PurgeFirstDropsStaleEntries(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	// Index a record, then remove it from the source. A purge-first
	// reindex must drop its entry.
	fx.source.Put("company", "t1", companyRecord("stale", "Stale Inc"))
	_, err := fx.pipeline.IndexRecord(ctx, Request{EntityID: "company", RecordID: "stale", TenantID: "t1"})
	require.NoError(t, err)
	fx.source.Remove("company", "t1", "stale")

	fx.source.Put("company", "t1", companyRecord("live", "Live Corp"))

	r := newReindexer(fx, nil)
	err = r.ReindexEntity(ctx, ReindexRequest{EntityID: "company", TenantID: "t1", PurgeFirst: true})
	require.NoError(t, err)

	_, ok := fx.driver.get("company", "stale", "t1")
	assert.False(t, ok, "stale entry must be gone after purge-first reindex")
	_, ok = fx.driver.get("company", "live", "t1")
	assert.True(t, ok)
}

func TestReindexer_WalkSkipsDeleteForUnresolvable(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.registry.Register(entity.ModuleConfig{Entities: []entity.Config{{
		EntityID: "note",
		Hooks: entity.Hooks{
			BuildSource: func(ctx context.Context, sc entity.SourceContext) (*entity.Source, error) {
				if sc.Record.StringField("archived") == "yes" {
					return nil, nil
				}
				return &entity.Source{Lines: []string{"n"}}, nil
			},
		},
	}}})

	fx.source.Put("note", "t1", record.Decode("n1", map[string]any{"body": "x"}))
	_, err := fx.pipeline.IndexRecord(ctx, Request{EntityID: "note", RecordID: "n1", TenantID: "t1"})
	require.NoError(t, err)

	// Archive it, then walk without purge: the entry survives the walk
	// because mid-walk deletes are deferred to the orphan reaper.
	fx.source.Put("note", "t1", record.Decode("n1", map[string]any{"body": "x", "archived": "yes"}))

	r := newReindexer(fx, nil)
	require.NoError(t, r.ReindexEntity(ctx, ReindexRequest{EntityID: "note", TenantID: "t1"}))

	_, ok := fx.driver.get("note", "n1", "t1")
	assert.True(t, ok, "walk must not delete records that stop resolving")
}

func TestReindexer_DispatchedEmitsEvent(t *testing.T) {
	fx := newFixture(t, nil)
	sink := &fakeSink{}
	r := newReindexer(fx, sink)
	require.Equal(t, ModeDispatched, r.Mode())

	err := r.ReindexEntity(context.Background(), ReindexRequest{EntityID: "company", TenantID: "t1", OrgID: "org-a"})
	require.NoError(t, err)

	emitted := sink.emitted()
	require.Len(t, emitted, 1)
	assert.Equal(t, events.SubjectReindexEntity, emitted[0].Subject)
	assert.Equal(t, events.ReindexRequested{EntityID: "company", TenantID: "t1", OrgID: "org-a"}, emitted[0].Payload)
}

func TestReindexer_DispatchedPurgesBeforeEmit(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	_, err := fx.pipeline.IndexRecord(ctx, Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)

	sink := &fakeSink{}
	r := newReindexer(fx, sink)

	err = r.ReindexEntity(ctx, ReindexRequest{EntityID: "company", TenantID: "t1", PurgeFirst: true})
	require.NoError(t, err)

	assert.Equal(t, 0, fx.driver.len(), "purge happens at dispatch time")
	require.Len(t, sink.emitted(), 1)
	event := sink.emitted()[0].Payload.(events.ReindexRequested)
	assert.False(t, event.PurgeFirst, "the event never re-purges")
}

func TestReindexer_DispatchedPurgeWithoutTenantSkipped(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	fx.source.Put("company", "t1", companyRecord("r1", "Acme Corp"))
	_, err := fx.pipeline.IndexRecord(ctx, Request{EntityID: "company", RecordID: "r1", TenantID: "t1"})
	require.NoError(t, err)

	sink := &fakeSink{}
	r := newReindexer(fx, sink)

	err = r.ReindexEntity(ctx, ReindexRequest{EntityID: "company", PurgeFirst: true})
	require.NoError(t, err)
	assert.Equal(t, 1, fx.driver.len(), "purge without tenant is skipped")
	assert.Len(t, sink.emitted(), 1, "the event is still emitted")
}

func TestReindexer_ReindexAll(t *testing.T) {
	fx := newFixture(t, nil)
	fx.source.Put("company", "t1", companyRecord("c1", "Acme Corp"))
	fx.source.Put("deal", "t1", record.Decode("d1", map[string]any{"title": "Big deal"}))

	r := newReindexer(fx, nil)
	require.NoError(t, r.ReindexAll(context.Background(), ReindexRequest{TenantID: "t1"}))

	_, ok := fx.driver.get("company", "c1", "t1")
	assert.True(t, ok)
	_, ok = fx.driver.get("deal", "d1", "t1")
	assert.True(t, ok)
}

func TestReindexer_CancellationBetweenPages(t *testing.T) {
	fx := newFixture(t, nil)
	for i := 0; i < 10; i++ {
		fx.source.Put("company", "t1", companyRecord(fmt.Sprintf("r%d", i), "X"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := newReindexer(fx, nil)
	err := r.ReindexEntity(ctx, ReindexRequest{EntityID: "company", TenantID: "t1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, fx.driver.len())
}

func TestReaper_WarnsWithoutCapability(t *testing.T) {
	drivers := driver.NewRegistry("stub")
	drivers.Register("stub", &capabilityFreeDriver{})

	reaper := NewReaper(drivers, zap.NewNop())
	removed, err := reaper.RemoveOrphans(context.Background(), "stub", "company", "t1", "", time.Now())
	require.NoError(t, err)
	assert.Zero(t, removed)
}

// capabilityFreeDriver implements only the required contract.
type capabilityFreeDriver struct{}

func (d *capabilityFreeDriver) EnsureReady(ctx context.Context) error          { return nil }
func (d *capabilityFreeDriver) Upsert(ctx context.Context, e *driver.Entry) error { return nil }
func (d *capabilityFreeDriver) Checksum(ctx context.Context, entityID, recordID, tenantID string) (string, error) {
	return "", driver.ErrNotFound
}
func (d *capabilityFreeDriver) Delete(ctx context.Context, entityID, recordID, tenantID string) error {
	return nil
}
func (d *capabilityFreeDriver) Query(ctx context.Context, v []float32, limit int, f driver.Filter) ([]driver.Hit, error) {
	return nil, nil
}
func (d *capabilityFreeDriver) Close() error { return nil }
