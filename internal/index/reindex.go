package index

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/events"
	"github.com/fyrsmithlabs/recalld/internal/record"
)

// Mode selects how reindex requests execute. Fixed at construction.
type Mode string

const (
	// ModeInline walks the record source in-process.
	ModeInline Mode = "inline"

	// ModeDispatched emits an event and lets a consumer run the walk.
	ModeDispatched Mode = "dispatched"
)

// ReindexConfig holds configuration for reindex walks.
type ReindexConfig struct {
	// PageSize is the record source page size.
	PageSize int `koanf:"page_size"`

	// PagesPerSecond paces the walk; 0 means unpaced.
	PagesPerSecond float64 `koanf:"pages_per_second"`
}

// ApplyDefaults fills in default values.
func (c *ReindexConfig) ApplyDefaults() {
	if c.PageSize == 0 {
		c.PageSize = 50
	}
}

// ReindexRequest describes one bulk reindex.
type ReindexRequest struct {
	EntityID   string
	TenantID   string
	OrgID      string
	PurgeFirst bool
}

// Reindexer runs bulk re-walks of the record source. With an event sink
// it dispatches; without one it walks inline.
type Reindexer struct {
	config   ReindexConfig
	pipeline *Pipeline
	registry *entity.Registry
	drivers  *driver.Registry
	source   record.Source
	reaper   *Reaper
	sink     events.Sink
	limiter  *rate.Limiter
	logger   *zap.Logger
}

// NewReindexer creates a reindexer. A nil sink selects inline mode.
func NewReindexer(config ReindexConfig, pipeline *Pipeline, registry *entity.Registry, drivers *driver.Registry, source record.Source, reaper *Reaper, sink events.Sink, logger *zap.Logger) *Reindexer {
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}

	var limiter *rate.Limiter
	if config.PagesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.PagesPerSecond), 1)
	}

	return &Reindexer{
		config:   config,
		pipeline: pipeline,
		registry: registry,
		drivers:  drivers,
		source:   source,
		reaper:   reaper,
		sink:     sink,
		limiter:  limiter,
		logger:   logger,
	}
}

// Mode reports the execution mode.
func (r *Reindexer) Mode() Mode {
	if r.sink != nil {
		return ModeDispatched
	}
	return ModeInline
}

// ReindexEntity reindexes all records of one entity.
func (r *Reindexer) ReindexEntity(ctx context.Context, req ReindexRequest) error {
	reg, ok := r.registry.Lookup(req.EntityID)
	if !ok || reg.Disabled {
		return fmt.Errorf("%w: %q", entity.ErrUnknownEntity, req.EntityID)
	}

	if r.sink != nil {
		return r.dispatch(ctx, reg, req)
	}
	return r.walk(ctx, reg, req)
}

// ReindexAll reindexes every enabled entity.
func (r *Reindexer) ReindexAll(ctx context.Context, req ReindexRequest) error {
	for _, entityID := range r.registry.Enabled() {
		entityReq := req
		entityReq.EntityID = entityID
		if err := r.ReindexEntity(ctx, entityReq); err != nil {
			return fmt.Errorf("reindexing %s: %w", entityID, err)
		}
	}
	return nil
}

// dispatch optionally purges now, then emits the reindex request for an
// out-of-band consumer. The emitted event never carries the purge flag:
// the purge either happened here or was skipped for lack of a tenant.
func (r *Reindexer) dispatch(ctx context.Context, reg entity.Registered, req ReindexRequest) error {
	if req.PurgeFirst {
		if req.TenantID == "" {
			r.logger.Warn("skipping purge without a concrete tenant",
				zap.String("entity", req.EntityID))
		} else if err := r.purge(ctx, reg, req.TenantID); err != nil {
			return err
		}
	}

	event := events.ReindexRequested{
		EntityID: req.EntityID,
		TenantID: req.TenantID,
		OrgID:    req.OrgID,
	}
	if err := r.sink.Emit(ctx, events.SubjectReindexEntity, event); err != nil {
		return fmt.Errorf("emitting reindex request: %w", err)
	}

	r.logger.Info("reindex request dispatched",
		zap.String("entity", req.EntityID),
		zap.String("tenant", req.TenantID))
	return nil
}

// walk paginates the record source and indexes every record. A record
// that no longer resolves mid-walk is not deleted here; the orphan reap
// after a purge-first walk collects it.
func (r *Reindexer) walk(ctx context.Context, reg entity.Registered, req ReindexRequest) error {
	if req.TenantID == "" {
		return fmt.Errorf("%w: inline reindex of %s", ErrTenantRequired, req.EntityID)
	}

	ctx, span := tracer.Start(ctx, "Reindexer.walk")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", req.EntityID),
		attribute.String("tenant", req.TenantID),
	)

	start := time.Now().UTC()
	purged := false
	if req.PurgeFirst {
		if err := r.purge(ctx, reg, req.TenantID); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
		purged = true
	}

	drv, err := r.pipeline.readyDriver(ctx, reg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	var indexed, failed int
	for page := 0; ; page++ {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return fmt.Errorf("reindex canceled: %w", err)
			}
		} else if err := ctx.Err(); err != nil {
			return fmt.Errorf("reindex canceled: %w", err)
		}

		res, err := r.source.Page(ctx, req.EntityID, record.PageRequest{
			TenantID: req.TenantID,
			OrgID:    req.OrgID,
			Page:     page,
			PageSize: r.config.PageSize,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("paging %s page %d: %w", req.EntityID, page, err)
		}

		for _, rec := range res.Records {
			recReq := Request{
				EntityID: req.EntityID,
				RecordID: rec.ID,
				TenantID: req.TenantID,
				OrgID:    req.OrgID,
			}
			result, err := r.pipeline.indexFetched(ctx, reg, drv, rec, recReq, false)
			if err != nil {
				failed++
				r.logger.Error("reindex record failed",
					zap.String("entity", req.EntityID),
					zap.String("record", rec.ID),
					zap.Error(err))
				continue
			}
			indexed++
			r.logger.Info("reindex record processed",
				zap.String("entity", req.EntityID),
				zap.String("record", rec.ID),
				zap.String("action", string(result.Action)),
				zap.String("reason", string(result.Reason)),
				zap.Bool("created", result.Created))
		}

		if !res.HasMore {
			break
		}
	}

	// A purge-first walk refreshes every live record; anything still
	// carrying a pre-walk timestamp has no source record anymore.
	if purged {
		if _, err := r.reaper.RemoveOrphans(ctx, reg.ResolvedDriverID, req.EntityID, req.TenantID, req.OrgID, start); err != nil {
			r.logger.Warn("orphan reap after reindex failed",
				zap.String("entity", req.EntityID),
				zap.Error(err))
		}
	}

	r.logger.Info("reindex walk complete",
		zap.String("entity", req.EntityID),
		zap.String("tenant", req.TenantID),
		zap.Int("processed", indexed),
		zap.Int("failed", failed),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (r *Reindexer) purge(ctx context.Context, reg entity.Registered, tenantID string) error {
	drv, err := r.drivers.Get(reg.ResolvedDriverID)
	if err != nil {
		return err
	}
	if err := drv.EnsureReady(ctx); err != nil {
		return fmt.Errorf("driver not ready: %w", err)
	}

	purger, ok := drv.(driver.Purger)
	if !ok {
		return fmt.Errorf("%w: purge on driver %s", driver.ErrCapability, reg.ResolvedDriverID)
	}
	if err := purger.Purge(ctx, reg.EntityID, tenantID); err != nil {
		return fmt.Errorf("purging %s: %w", reg.EntityID, err)
	}

	r.logger.Info("purged entity entries",
		zap.String("entity", reg.EntityID),
		zap.String("tenant", tenantID))
	return nil
}
