// Package search embeds user queries and hydrates driver hits into
// presenter-shaped matches.
package search

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/crypto"
	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
)

var tracer = otel.Tracer("recalld.search")

const (
	defaultLimit = 10
	maxLimit     = 100
)

var (
	// ErrEmptyQuery indicates a blank query string.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrTenantRequired indicates a search without a tenant scope.
	ErrTenantRequired = errors.New("tenant id required")
)

// Request is one similarity search.
type Request struct {
	Query     string
	TenantID  string
	OrgID     string
	EntityIDs []string
	Limit     int
	DriverID  string
}

// Presenter is the displayable identity of a match.
type Presenter struct {
	Title    string `json:"title"`
	Subtitle string `json:"subtitle,omitempty"`
	Icon     string `json:"icon,omitempty"`
	Badge    string `json:"badge,omitempty"`
}

// Match is one hydrated search result.
type Match struct {
	EntityID  string        `json:"entity_id"`
	RecordID  string        `json:"record_id"`
	Score     float32       `json:"score"`
	URL       string        `json:"url,omitempty"`
	Presenter Presenter     `json:"presenter"`
	Links     []driver.Link `json:"links,omitempty"`
	Metadata  string        `json:"metadata,omitempty"`
}

// Service runs similarity searches.
type Service struct {
	drivers  *driver.Registry
	embedder embeddings.Embedder
	cipher   crypto.Adapter
	logger   *zap.Logger
}

// NewService creates a search service.
func NewService(drivers *driver.Registry, embedder embeddings.Embedder, cipher crypto.Adapter, logger *zap.Logger) *Service {
	if cipher == nil {
		cipher = crypto.Disabled()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{drivers: drivers, embedder: embedder, cipher: cipher, logger: logger}
}

// Search embeds the query and returns decrypted, presenter-shaped
// matches scoped strictly to the request's tenant.
func (s *Service) Search(ctx context.Context, req Request) ([]Match, error) {
	ctx, span := tracer.Start(ctx, "Service.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("limit", req.Limit))

	if req.Query == "" {
		return nil, ErrEmptyQuery
	}
	if req.TenantID == "" {
		return nil, ErrTenantRequired
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	vector, err := s.embedder.EmbedQuery(ctx, req.Query)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	drv, err := s.drivers.Get(req.DriverID)
	if err != nil {
		return nil, err
	}
	if err := drv.EnsureReady(ctx); err != nil {
		return nil, fmt.Errorf("driver not ready: %w", err)
	}

	hits, err := drv.Query(ctx, vector, limit, driver.Filter{
		TenantID:  req.TenantID,
		OrgID:     req.OrgID,
		EntityIDs: req.EntityIDs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying driver: %w", err)
	}

	matches := make([]Match, 0, len(hits))
	for _, hit := range hits {
		matches = append(matches, s.hydrate(ctx, hit))
	}
	return matches, nil
}

// hydrate decrypts a hit's presentation fields and assembles the match,
// synthesizing a primary link when no explicit link list was stored.
func (s *Service) hydrate(ctx context.Context, hit driver.Hit) Match {
	entry := hit.Entry

	fields := s.cipher.DecryptPayload(ctx, entry.TenantID, entry.OrgID, map[string]string{
		"title":              entry.Title,
		"subtitle":           entry.Subtitle,
		"icon":               entry.Icon,
		"snapshot":           entry.Snapshot,
		"primary_link_href":  entry.PrimaryLinkHref,
		"primary_link_label": entry.PrimaryLinkLabel,
		"links":              entry.Links,
		"payload":            entry.Payload,
	})

	links := driver.DecodeLinks(fields["links"])
	if len(links) == 0 && fields["primary_link_href"] != "" {
		links = []driver.Link{{
			Href:  fields["primary_link_href"],
			Label: fields["primary_link_label"],
			Kind:  "primary",
		}}
	}

	return Match{
		EntityID: entry.EntityID,
		RecordID: entry.RecordID,
		Score:    hit.Score,
		URL:      fields["primary_link_href"],
		Presenter: Presenter{
			Title:    fields["title"],
			Subtitle: fields["subtitle"],
			Icon:     fields["icon"],
			Badge:    entry.Badge,
		},
		Links:    links,
		Metadata: fields["payload"],
	}
}
