package index

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

// Reaper removes entries whose source records no longer exist. It is a
// best-effort cleanup pass, never a precondition for write-path
// correctness.
type Reaper struct {
	drivers *driver.Registry
	logger  *zap.Logger
}

// NewReaper creates an orphan reaper.
func NewReaper(drivers *driver.Registry, logger *zap.Logger) *Reaper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reaper{drivers: drivers, logger: logger}
}

// RemoveOrphans deletes entries for an entity last updated before the
// cutoff. Drivers without the capability log a warning and report 0.
func (r *Reaper) RemoveOrphans(ctx context.Context, driverID, entityID, tenantID, orgID string, olderThan time.Time) (int64, error) {
	drv, err := r.drivers.Get(driverID)
	if err != nil {
		return 0, err
	}

	remover, ok := drv.(driver.OrphanRemover)
	if !ok {
		r.logger.Warn("driver does not support orphan removal",
			zap.String("driver", driverID),
			zap.String("entity", entityID))
		return 0, nil
	}

	removed, err := remover.RemoveOrphans(ctx, entityID, tenantID, orgID, olderThan)
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		r.logger.Info("removed orphaned entries",
			zap.String("entity", entityID),
			zap.String("tenant", tenantID),
			zap.Int64("removed", removed))
	}
	return removed, nil
}
