package index

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/entity"
)

// listFallbackPageSize bounds the pages walked when counting through a
// Lister.
const listFallbackPageSize = 500

// Service exposes the maintenance surface of the index: purge, list and
// count. It owns driver resolution and ready gating for those paths.
type Service struct {
	registry *entity.Registry
	drivers  *driver.Registry
	logger   *zap.Logger
}

// NewService creates the maintenance service.
func NewService(registry *entity.Registry, drivers *driver.Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, drivers: drivers, logger: logger}
}

func (s *Service) readyDriver(ctx context.Context, driverID string) (driver.Driver, error) {
	drv, err := s.drivers.Get(driverID)
	if err != nil {
		return nil, err
	}
	if err := drv.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("driver not ready: %w", err)
	}
	return drv, nil
}

// Purge removes all entries for an entity within a tenant.
func (s *Service) Purge(ctx context.Context, entityID, tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("%w: purge of %s", ErrTenantRequired, entityID)
	}

	reg, ok := s.registry.Lookup(entityID)
	if !ok {
		return fmt.Errorf("%w: %q", entity.ErrUnknownEntity, entityID)
	}

	drv, err := s.readyDriver(ctx, reg.ResolvedDriverID)
	if err != nil {
		return err
	}

	purger, ok := drv.(driver.Purger)
	if !ok {
		return fmt.Errorf("%w: purge on driver %s", driver.ErrCapability, reg.ResolvedDriverID)
	}
	if err := purger.Purge(ctx, entityID, tenantID); err != nil {
		return fmt.Errorf("purging %s: %w", entityID, err)
	}

	s.logger.Info("purged entity entries",
		zap.String("entity", entityID),
		zap.String("tenant", tenantID))
	return nil
}

// List enumerates stored entries on a driver.
func (s *Service) List(ctx context.Context, driverID string, f driver.Filter, cursor string, limit int) (driver.ListPage, error) {
	if f.TenantID == "" {
		return driver.ListPage{}, fmt.Errorf("%w: list", ErrTenantRequired)
	}

	drv, err := s.readyDriver(ctx, driverID)
	if err != nil {
		return driver.ListPage{}, err
	}

	lister, ok := drv.(driver.Lister)
	if !ok {
		return driver.ListPage{}, fmt.Errorf("%w: list on driver %s", driver.ErrCapability, driverID)
	}
	return lister.List(ctx, f, cursor, limit)
}

// Count counts stored entries, paging through List when the driver has
// no native counter.
func (s *Service) Count(ctx context.Context, driverID string, f driver.Filter) (int64, error) {
	if f.TenantID == "" {
		return 0, fmt.Errorf("%w: count", ErrTenantRequired)
	}

	drv, err := s.readyDriver(ctx, driverID)
	if err != nil {
		return 0, err
	}

	if counter, ok := drv.(driver.Counter); ok {
		return counter.Count(ctx, f)
	}

	lister, ok := drv.(driver.Lister)
	if !ok {
		return 0, fmt.Errorf("%w: count on driver %s", driver.ErrCapability, driverID)
	}

	var total int64
	cursor := ""
	for {
		page, err := lister.List(ctx, f, cursor, listFallbackPageSize)
		if err != nil {
			return 0, err
		}
		total += int64(len(page.Entries))
		if page.Cursor == "" {
			return total, nil
		}
		cursor = page.Cursor
	}
}
