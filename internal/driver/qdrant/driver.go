// Package qdrant implements the vector driver contract on Qdrant's
// native gRPC client. Tenant isolation is enforced through mandatory
// payload filters on every read, delete and count.
package qdrant

import (
	"context"
	"fmt"
	"sync"
	"time"

	qdrantgo "github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/driver"
)

var tracer = otel.Tracer("recalld.driver.qdrant")

// Config holds configuration for the qdrant driver.
type Config struct {
	// Host is the Qdrant gRPC host.
	Host string `koanf:"host"`

	// Port is the Qdrant gRPC port.
	Port int `koanf:"port"`

	// UseTLS enables TLS on the gRPC connection.
	UseTLS bool `koanf:"use_tls"`

	// Collection is the collection holding all entries. Tenancy is
	// payload-filtered, not collection-per-tenant.
	Collection string `koanf:"collection"`

	// VectorSize is the embedding dimension.
	VectorSize int `koanf:"vector_size"`

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int `koanf:"max_retries"`

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// MaxMessageSize is the gRPC message size limit in bytes.
	MaxMessageSize int `koanf:"max_message_size"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.Collection == "" {
		c.Collection = "recall_entries"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 384
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", driver.ErrInvalidConfig)
	}
	return nil
}

// isTransient reports whether a gRPC error is worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// Driver stores entries in a single Qdrant collection over gRPC.
type Driver struct {
	client *qdrantgo.Client
	config Config
	logger *zap.Logger

	mu    sync.Mutex
	ready bool
}

// New creates a qdrant driver. The connection is established here; the
// collection is created lazily by EnsureReady.
func New(config Config, logger *zap.Logger) (*Driver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	client, err := qdrantgo.NewClient(&qdrantgo.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating qdrant client: %w", err)
	}

	return &Driver{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// retryOperation retries an operation with exponential backoff on
// transient gRPC failures.
func (d *Driver) retryOperation(ctx context.Context, name string, op func() error) error {
	backoff := d.config.RetryBackoff

	for attempt := 0; attempt <= d.config.MaxRetries; attempt++ {
		err := op()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		if attempt == d.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", name, d.config.MaxRetries, err)
		}

		d.logger.Warn("retrying qdrant operation",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

// EnsureReady checks connectivity and creates the collection if absent.
// Idempotent and safe to call concurrently.
func (d *Driver) EnsureReady(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ready {
		return nil
	}

	ctx, span := tracer.Start(ctx, "qdrant.EnsureReady")
	defer span.End()

	if _, err := d.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("qdrant health check: %w", err)
	}

	exists, err := d.client.CollectionExists(ctx, d.config.Collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("checking collection: %w", err)
	}
	if !exists {
		err = d.client.CreateCollection(ctx, &qdrantgo.CreateCollection{
			CollectionName: d.config.Collection,
			VectorsConfig: qdrantgo.NewVectorsConfig(&qdrantgo.VectorParams{
				Size:     uint64(d.config.VectorSize),
				Distance: qdrantgo.Distance_Cosine,
			}),
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("creating collection %s: %w", d.config.Collection, err)
		}
		d.logger.Info("qdrant collection created",
			zap.String("collection", d.config.Collection),
			zap.Int("vector_size", d.config.VectorSize))
	}

	d.ready = true
	return nil
}

// Upsert atomically replaces the entry stored under its key. The point
// id is deterministic, so a re-index of the same record overwrites the
// previous point.
func (d *Driver) Upsert(ctx context.Context, entry *driver.Entry) error {
	ctx, span := tracer.Start(ctx, "qdrant.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", entry.EntityID),
		attribute.String("record", entry.RecordID),
	)

	now := time.Now().UTC()
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
		if existing, err := d.fetch(ctx, entry.EntityID, entry.RecordID, entry.TenantID); err == nil && !existing.CreatedAt.IsZero() {
			createdAt = existing.CreatedAt
		}
	}
	updatedAt := entry.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = now
	}

	point := &qdrantgo.PointStruct{
		Id:      qdrantgo.NewIDUUID(pointID(entry.EntityID, entry.RecordID, entry.TenantID)),
		Vectors: qdrantgo.NewVectors(entry.Embedding...),
		Payload: entryPayload(entry, createdAt, updatedAt),
	}

	err := d.retryOperation(ctx, "upsert", func() error {
		_, err := d.client.Upsert(ctx, &qdrantgo.UpsertPoints{
			CollectionName: d.config.Collection,
			Points:         []*qdrantgo.PointStruct{point},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// fetch retrieves a stored entry by key.
func (d *Driver) fetch(ctx context.Context, entityID, recordID, tenantID string) (driver.Entry, error) {
	var points []*qdrantgo.RetrievedPoint
	err := d.retryOperation(ctx, "get", func() error {
		res, err := d.client.Get(ctx, &qdrantgo.GetPoints{
			CollectionName: d.config.Collection,
			Ids:            []*qdrantgo.PointId{qdrantgo.NewIDUUID(pointID(entityID, recordID, tenantID))},
			WithPayload:    qdrantgo.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		return driver.Entry{}, err
	}
	if len(points) == 0 {
		return driver.Entry{}, driver.ErrNotFound
	}
	return entryFromPayload(points[0].Payload), nil
}

// Checksum returns the stored checksum for a record.
func (d *Driver) Checksum(ctx context.Context, entityID, recordID, tenantID string) (string, error) {
	entry, err := d.fetch(ctx, entityID, recordID, tenantID)
	if err != nil {
		return "", err
	}
	return entry.Checksum, nil
}

// Delete removes the entry. Deleting an absent entry is not an error.
func (d *Driver) Delete(ctx context.Context, entityID, recordID, tenantID string) error {
	ctx, span := tracer.Start(ctx, "qdrant.Delete")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", entityID),
		attribute.String("record", recordID),
	)

	err := d.retryOperation(ctx, "delete", func() error {
		_, err := d.client.Delete(ctx, &qdrantgo.DeletePoints{
			CollectionName: d.config.Collection,
			Points: &qdrantgo.PointsSelector{
				PointsSelectorOneOf: &qdrantgo.PointsSelector_Points{
					Points: &qdrantgo.PointsIdsList{
						Ids: []*qdrantgo.PointId{qdrantgo.NewIDUUID(pointID(entityID, recordID, tenantID))},
					},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Query returns the entries most similar to the vector, ranked by score
// and scoped by the mandatory tenant filter.
func (d *Driver) Query(ctx context.Context, vector []float32, limit int, f driver.Filter) ([]driver.Hit, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", limit))

	var results []*qdrantgo.ScoredPoint
	err := d.retryOperation(ctx, "query", func() error {
		res, err := d.client.Query(ctx, &qdrantgo.QueryPoints{
			CollectionName: d.config.Collection,
			Query:          qdrantgo.NewQuery(vector...),
			Limit:          qdrantgo.PtrOf(uint64(limit)),
			WithPayload:    qdrantgo.NewWithPayload(true),
			Filter:         scopeFilter(f),
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits := make([]driver.Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, driver.Hit{
			Entry: entryFromPayload(res.Payload),
			Score: res.Score,
		})
	}
	return hits, nil
}

// Purge removes all entries for an entity within a tenant.
func (d *Driver) Purge(ctx context.Context, entityID, tenantID string) error {
	ctx, span := tracer.Start(ctx, "qdrant.Purge")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entityID))

	filter := scopeFilter(driver.Filter{TenantID: tenantID, EntityIDs: []string{entityID}})
	err := d.retryOperation(ctx, "purge", func() error {
		_, err := d.client.Delete(ctx, &qdrantgo.DeletePoints{
			CollectionName: d.config.Collection,
			Points: &qdrantgo.PointsSelector{
				PointsSelectorOneOf: &qdrantgo.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// List enumerates stored entries via scroll pagination. The cursor is
// the next page offset point id returned by Qdrant.
func (d *Driver) List(ctx context.Context, f driver.Filter, cursor string, limit int) (driver.ListPage, error) {
	ctx, span := tracer.Start(ctx, "qdrant.List")
	defer span.End()

	req := &qdrantgo.ScrollPoints{
		CollectionName: d.config.Collection,
		Filter:         scopeFilter(f),
		Limit:          qdrantgo.PtrOf(uint32(limit)),
		WithPayload:    qdrantgo.NewWithPayload(true),
	}
	if cursor != "" {
		req.Offset = qdrantgo.NewIDUUID(cursor)
	}

	var resp *qdrantgo.ScrollResponse
	err := d.retryOperation(ctx, "scroll", func() error {
		res, err := d.client.GetPointsClient().Scroll(ctx, req)
		if err != nil {
			return err
		}
		resp = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return driver.ListPage{}, err
	}

	page := driver.ListPage{Entries: make([]driver.Entry, 0, len(resp.GetResult()))}
	for _, point := range resp.GetResult() {
		page.Entries = append(page.Entries, entryFromPayload(point.Payload))
	}
	if next := resp.GetNextPageOffset(); next != nil {
		page.Cursor = next.GetUuid()
	}
	return page, nil
}

// Count counts stored entries matching the filter.
func (d *Driver) Count(ctx context.Context, f driver.Filter) (int64, error) {
	ctx, span := tracer.Start(ctx, "qdrant.Count")
	defer span.End()

	var count uint64
	err := d.retryOperation(ctx, "count", func() error {
		n, err := d.client.Count(ctx, &qdrantgo.CountPoints{
			CollectionName: d.config.Collection,
			Filter:         scopeFilter(f),
			Exact:          qdrantgo.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return int64(count), nil
}

// RemoveOrphans deletes entries last updated before the cutoff. The
// count is measured before the delete, so a concurrent upsert can make
// it approximate; orphan removal is best-effort cleanup.
func (d *Driver) RemoveOrphans(ctx context.Context, entityID, tenantID, orgID string, olderThan time.Time) (int64, error) {
	ctx, span := tracer.Start(ctx, "qdrant.RemoveOrphans")
	defer span.End()
	span.SetAttributes(attribute.String("entity", entityID))

	filter := scopeFilter(driver.Filter{TenantID: tenantID, OrgID: orgID, EntityIDs: []string{entityID}})
	filter.Must = append(filter.Must, updatedBeforeCondition(olderThan))

	var count uint64
	err := d.retryOperation(ctx, "count_orphans", func() error {
		n, err := d.client.Count(ctx, &qdrantgo.CountPoints{
			CollectionName: d.config.Collection,
			Filter:         filter,
			Exact:          qdrantgo.PtrOf(true),
		})
		if err != nil {
			return err
		}
		count = n
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	if count == 0 {
		return 0, nil
	}

	err = d.retryOperation(ctx, "remove_orphans", func() error {
		_, err := d.client.Delete(ctx, &qdrantgo.DeletePoints{
			CollectionName: d.config.Collection,
			Points: &qdrantgo.PointsSelector{
				PointsSelectorOneOf: &qdrantgo.PointsSelector_Filter{Filter: filter},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	d.logger.Info("orphan removal complete",
		zap.String("entity", entityID),
		zap.Uint64("removed", count))
	return int64(count), nil
}

// Close closes the gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}
