// Package index orchestrates the indexing flow for single records and
// bulk reindex walks: fetch, resolve, checksum, embed, encrypt, store.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/checksum"
	"github.com/fyrsmithlabs/recalld/internal/crypto"
	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/record"
)

var tracer = otel.Tracer("recalld.index")

var (
	// ErrTenantRequired indicates an operation needs a concrete tenant.
	ErrTenantRequired = errors.New("tenant id required")
)

// Request identifies one record to index or delete.
type Request struct {
	EntityID string
	RecordID string
	TenantID string
	OrgID    string
}

// Pipeline runs the per-record indexing state machine. Calls are
// stateless and safe to run concurrently; concurrent writes to the same
// record converge last-write-wins at the driver's upsert.
type Pipeline struct {
	registry *entity.Registry
	drivers  *driver.Registry
	source   record.Source
	embedder embeddings.Embedder
	cipher   crypto.Adapter
	logger   *zap.Logger
}

// NewPipeline creates an indexing pipeline.
func NewPipeline(registry *entity.Registry, drivers *driver.Registry, source record.Source, embedder embeddings.Embedder, cipher crypto.Adapter, logger *zap.Logger) *Pipeline {
	if cipher == nil {
		cipher = crypto.Disabled()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		registry: registry,
		drivers:  drivers,
		source:   source,
		embedder: embedder,
		cipher:   cipher,
		logger:   logger,
	}
}

// IndexRecord indexes a single record end to end.
func (p *Pipeline) IndexRecord(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.IndexRecord")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", req.EntityID),
		attribute.String("record", req.RecordID),
	)

	if req.TenantID == "" {
		return Result{}, ErrTenantRequired
	}

	reg, ok := p.lookup(req.EntityID)
	if !ok {
		return skipped(ReasonUnsupported, false, req.TenantID, req.OrgID), nil
	}

	drv, err := p.readyDriver(ctx, reg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	recs, err := p.source.Fetch(ctx, req.EntityID, []string{req.RecordID}, req.TenantID, req.OrgID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, fmt.Errorf("fetching record: %w", err)
	}

	rec, ok := recs[req.RecordID]
	if !ok {
		return p.deleteIfExists(ctx, drv, req)
	}

	return p.indexFetched(ctx, reg, drv, rec, req, true)
}

// DeleteRecord removes a record's entry if one exists. It never embeds.
func (p *Pipeline) DeleteRecord(ctx context.Context, req Request) (Result, error) {
	ctx, span := tracer.Start(ctx, "Pipeline.DeleteRecord")
	defer span.End()
	span.SetAttributes(
		attribute.String("entity", req.EntityID),
		attribute.String("record", req.RecordID),
	)

	if req.TenantID == "" {
		return Result{}, ErrTenantRequired
	}

	reg, ok := p.lookup(req.EntityID)
	if !ok {
		return skipped(ReasonUnsupported, false, req.TenantID, req.OrgID), nil
	}

	drv, err := p.readyDriver(ctx, reg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	return p.deleteIfExists(ctx, drv, req)
}

func (p *Pipeline) lookup(entityID string) (entity.Registered, bool) {
	reg, ok := p.registry.Lookup(entityID)
	if !ok || reg.Disabled {
		return entity.Registered{}, false
	}
	return reg, true
}

func (p *Pipeline) readyDriver(ctx context.Context, reg entity.Registered) (driver.Driver, error) {
	drv, err := p.drivers.Get(reg.ResolvedDriverID)
	if err != nil {
		return nil, err
	}
	if err := drv.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("driver not ready: %w", err)
	}
	return drv, nil
}

// deleteIfExists implements the missing-record branch: no stored entry
// means skipped(missing_record), a stored entry is deleted.
func (p *Pipeline) deleteIfExists(ctx context.Context, drv driver.Driver, req Request) (Result, error) {
	_, err := drv.Checksum(ctx, req.EntityID, req.RecordID, req.TenantID)
	if errors.Is(err, driver.ErrNotFound) {
		return skipped(ReasonMissingRecord, false, req.TenantID, req.OrgID), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("reading stored checksum: %w", err)
	}

	if err := drv.Delete(ctx, req.EntityID, req.RecordID, req.TenantID); err != nil {
		return Result{}, fmt.Errorf("deleting entry: %w", err)
	}
	return Result{
		Action:   ActionDeleted,
		Existed:  true,
		TenantID: req.TenantID,
		OrgID:    req.OrgID,
	}, nil
}

// indexFetched runs the resolve/checksum/embed/store stages for a record
// already fetched from the source. deleteMissing controls the branch
// taken when the resolver reports "not indexable": single-record
// indexing deletes a stale entry, reindex walks leave the deletion to
// the orphan reaper.
func (p *Pipeline) indexFetched(ctx context.Context, reg entity.Registered, drv driver.Driver, rec record.Record, req Request, deleteMissing bool) (Result, error) {
	sc := entity.SourceContext{Record: rec, TenantID: req.TenantID, OrgID: req.OrgID}

	src, err := entity.ResolveSource(ctx, reg, sc)
	if err != nil {
		return Result{}, err
	}
	if src == nil {
		if deleteMissing {
			return p.deleteIfExists(ctx, drv, req)
		}
		return skipped(ReasonMissingRecord, false, req.TenantID, req.OrgID), nil
	}

	sum, err := checksum.Sum(src.ChecksumSource)
	if err != nil {
		return Result{}, fmt.Errorf("computing checksum: %w", err)
	}

	existed := true
	stored, err := drv.Checksum(ctx, req.EntityID, req.RecordID, req.TenantID)
	if errors.Is(err, driver.ErrNotFound) {
		existed = false
	} else if err != nil {
		return Result{}, fmt.Errorf("reading stored checksum: %w", err)
	}

	// The checksum gate: unchanged content never reaches the embedder.
	if existed && stored == sum {
		return skipped(ReasonChecksumMatch, true, req.TenantID, req.OrgID), nil
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, []string{strings.Join(src.Lines, "\n")})
	if err != nil {
		return Result{}, fmt.Errorf("embedding record: %w", err)
	}

	entry, err := p.buildEntry(ctx, reg, sc, req, sum, vectors[0])
	if err != nil {
		return Result{}, err
	}
	if err := drv.Upsert(ctx, entry); err != nil {
		return Result{}, fmt.Errorf("upserting entry: %w", err)
	}

	return Result{
		Action:   ActionIndexed,
		Created:  !existed,
		Existed:  existed,
		TenantID: req.TenantID,
		OrgID:    req.OrgID,
	}, nil
}

// buildEntry resolves presentation metadata and assembles the entry,
// encrypting the storable text fields.
func (p *Pipeline) buildEntry(ctx context.Context, reg entity.Registered, sc entity.SourceContext, req Request, sum string, vector []float32) (*driver.Entry, error) {
	presenter, err := entity.ResolvePresenter(ctx, reg, sc)
	if err != nil {
		return nil, err
	}
	links, err := entity.ResolveLinks(ctx, reg, sc)
	if err != nil {
		return nil, err
	}
	url, err := entity.ResolveURL(ctx, reg, sc)
	if err != nil {
		return nil, err
	}

	primaryHref, primaryLabel := primaryLink(links, url, presenter.Title)

	fields := map[string]string{
		"title":              presenter.Title,
		"subtitle":           presenter.Subtitle,
		"icon":               presenter.Icon,
		"snapshot":           entity.Snapshot(sc),
		"primary_link_href":  primaryHref,
		"primary_link_label": primaryLabel,
		"links":              driver.EncodeLinks(toDriverLinks(links)),
		"payload":            "",
	}
	fields = p.cipher.EncryptPayload(ctx, req.TenantID, req.OrgID, fields)

	return &driver.Entry{
		EntityID:         req.EntityID,
		RecordID:         req.RecordID,
		TenantID:         req.TenantID,
		OrgID:            req.OrgID,
		Checksum:         sum,
		Embedding:        vector,
		Title:            fields["title"],
		Subtitle:         fields["subtitle"],
		Icon:             fields["icon"],
		Badge:            presenter.Badge,
		Snapshot:         fields["snapshot"],
		PrimaryLinkHref:  fields["primary_link_href"],
		PrimaryLinkLabel: fields["primary_link_label"],
		Links:            fields["links"],
		Payload:          fields["payload"],
	}, nil
}

// primaryLink picks the stored primary link: the first link of kind
// "primary", else the first link, else the resolved url.
func primaryLink(links []entity.Link, url, title string) (href, label string) {
	for _, l := range links {
		if l.Kind == "primary" {
			return l.Href, l.Label
		}
	}
	if len(links) > 0 {
		return links[0].Href, links[0].Label
	}
	if url != "" {
		return url, title
	}
	return "", ""
}

func toDriverLinks(links []entity.Link) []driver.Link {
	if len(links) == 0 {
		return nil
	}
	out := make([]driver.Link, len(links))
	for i, l := range links {
		out[i] = driver.Link{Href: l.Href, Label: l.Label, Kind: l.Kind}
	}
	return out
}
