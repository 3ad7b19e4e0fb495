// Package http provides the HTTP API for recalld.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/driver"
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/entity"
	"github.com/fyrsmithlabs/recalld/internal/index"
	"github.com/fyrsmithlabs/recalld/internal/search"
)

// Indexer indexes and deletes single records.
type Indexer interface {
	IndexRecord(ctx context.Context, req index.Request) (index.Result, error)
	DeleteRecord(ctx context.Context, req index.Request) (index.Result, error)
}

// Reindexer rebuilds entity indexes.
type Reindexer interface {
	Mode() index.Mode
	ReindexEntity(ctx context.Context, req index.ReindexRequest) error
	ReindexAll(ctx context.Context, req index.ReindexRequest) error
}

// Searcher runs similarity queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) ([]search.Match, error)
}

// Admin exposes maintenance operations over the stored entries.
type Admin interface {
	Purge(ctx context.Context, entityID, tenantID string) error
	List(ctx context.Context, driverID string, f driver.Filter, cursor string, limit int) (driver.ListPage, error)
	Count(ctx context.Context, driverID string, f driver.Filter) (int64, error)
}

// Config holds HTTP server configuration.
type Config struct {
	Addr string
}

// Server provides HTTP endpoints for recalld.
type Server struct {
	echo     *echo.Echo
	indexer  Indexer
	reindex  Reindexer
	searcher Searcher
	admin    Admin
	logger   *zap.Logger
	config   *Config
}

// NewServer creates a new HTTP server.
func NewServer(indexer Indexer, reindex Reindexer, searcher Searcher, admin Admin, logger *zap.Logger, cfg *Config) (*Server, error) {
	if indexer == nil || reindex == nil || searcher == nil || admin == nil {
		return nil, fmt.Errorf("all services are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Addr: ":8090"}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		indexer:  indexer,
		reindex:  reindex,
		searcher: searcher,
		admin:    admin,
		logger:   logger,
		config:   cfg,
	}

	s.registerRoutes()

	return s, nil
}

// Echo exposes the underlying router for additional route registration.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.POST("/index", s.handleIndex)
	v1.DELETE("/index/:entity/:record", s.handleDelete)
	v1.POST("/reindex", s.handleReindex)
	v1.POST("/search", s.handleSearch)
	v1.POST("/purge", s.handlePurge)
	v1.GET("/entries", s.handleListEntries)
	v1.GET("/entries/count", s.handleCountEntries)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// IndexRequest is the request body for POST /api/v1/index.
type IndexRequest struct {
	EntityID string `json:"entity_id"`
	RecordID string `json:"record_id"`
	TenantID string `json:"tenant_id"`
	OrgID    string `json:"org_id"`
}

// ReindexRequest is the request body for POST /api/v1/reindex. An empty
// entity id reindexes every enabled entity.
type ReindexRequest struct {
	EntityID   string `json:"entity_id"`
	TenantID   string `json:"tenant_id"`
	OrgID      string `json:"org_id"`
	PurgeFirst bool   `json:"purge_first"`
}

// ReindexResponse is the response body for POST /api/v1/reindex.
type ReindexResponse struct {
	Mode string `json:"mode"`
}

// SearchRequest is the request body for POST /api/v1/search.
type SearchRequest struct {
	Query     string   `json:"query"`
	TenantID  string   `json:"tenant_id"`
	OrgID     string   `json:"org_id"`
	EntityIDs []string `json:"entity_ids,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	DriverID  string   `json:"driver_id,omitempty"`
}

// SearchResponse is the response body for POST /api/v1/search.
type SearchResponse struct {
	Matches []search.Match `json:"matches"`
}

// PurgeRequest is the request body for POST /api/v1/purge.
type PurgeRequest struct {
	EntityID string `json:"entity_id"`
	TenantID string `json:"tenant_id"`
}

// EntriesResponse is the response body for GET /api/v1/entries.
type EntriesResponse struct {
	Entries []driver.Entry `json:"entries"`
	Cursor  string         `json:"cursor,omitempty"`
}

// CountResponse is the response body for GET /api/v1/entries/count.
type CountResponse struct {
	Count int64 `json:"count"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleIndex(c echo.Context) error {
	var req IndexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid index request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EntityID == "" || req.RecordID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_id and record_id are required")
	}
	if req.TenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	result, err := s.indexer.IndexRecord(c.Request().Context(), index.Request{
		EntityID: req.EntityID,
		RecordID: req.RecordID,
		TenantID: req.TenantID,
		OrgID:    req.OrgID,
	})
	if err != nil {
		return s.mapError(err)
	}
	recordIndexOutcome(req.EntityID, result)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleDelete(c echo.Context) error {
	entityID := c.Param("entity")
	recordID := c.Param("record")
	if entityID == "" || recordID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity and record are required")
	}
	tenantID := c.QueryParam("tenant_id")
	if tenantID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}

	result, err := s.indexer.DeleteRecord(c.Request().Context(), index.Request{
		EntityID: entityID,
		RecordID: recordID,
		TenantID: tenantID,
		OrgID:    c.QueryParam("org_id"),
	})
	if err != nil {
		return s.mapError(err)
	}
	recordIndexOutcome(entityID, result)
	return c.JSON(http.StatusOK, result)
}

func (s *Server) handleReindex(c echo.Context) error {
	var req ReindexRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid reindex request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	indexReq := index.ReindexRequest{
		EntityID:   req.EntityID,
		TenantID:   req.TenantID,
		OrgID:      req.OrgID,
		PurgeFirst: req.PurgeFirst,
	}

	ctx := c.Request().Context()
	var err error
	if req.EntityID == "" {
		err = s.reindex.ReindexAll(ctx, indexReq)
	} else {
		err = s.reindex.ReindexEntity(ctx, indexReq)
	}
	if err != nil {
		return s.mapError(err)
	}

	return c.JSON(http.StatusAccepted, ReindexResponse{Mode: string(s.reindex.Mode())})
}

func (s *Server) handleSearch(c echo.Context) error {
	var req SearchRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid search request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	matches, err := s.searcher.Search(c.Request().Context(), search.Request{
		Query:     req.Query,
		TenantID:  req.TenantID,
		OrgID:     req.OrgID,
		EntityIDs: req.EntityIDs,
		Limit:     req.Limit,
		DriverID:  req.DriverID,
	})
	if err != nil {
		return s.mapError(err)
	}

	if matches == nil {
		matches = []search.Match{}
	}
	return c.JSON(http.StatusOK, SearchResponse{Matches: matches})
}

func (s *Server) handlePurge(c echo.Context) error {
	var req PurgeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid purge request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.EntityID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "entity_id is required")
	}

	if err := s.admin.Purge(c.Request().Context(), req.EntityID, req.TenantID); err != nil {
		return s.mapError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleListEntries(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	limit := 100
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
	}

	page, err := s.admin.List(c.Request().Context(), c.QueryParam("driver"), f, c.QueryParam("cursor"), limit)
	if err != nil {
		return s.mapError(err)
	}

	if page.Entries == nil {
		page.Entries = []driver.Entry{}
	}
	return c.JSON(http.StatusOK, EntriesResponse{Entries: page.Entries, Cursor: page.Cursor})
}

func (s *Server) handleCountEntries(c echo.Context) error {
	f, err := filterFromQuery(c)
	if err != nil {
		return err
	}

	count, err := s.admin.Count(c.Request().Context(), c.QueryParam("driver"), f)
	if err != nil {
		return s.mapError(err)
	}
	return c.JSON(http.StatusOK, CountResponse{Count: count})
}

func filterFromQuery(c echo.Context) (driver.Filter, error) {
	f := driver.Filter{
		TenantID: c.QueryParam("tenant_id"),
		OrgID:    c.QueryParam("org_id"),
	}
	if raw := c.QueryParam("entities"); raw != "" {
		f.EntityIDs = strings.Split(raw, ",")
	}
	if f.TenantID == "" {
		return f, echo.NewHTTPError(http.StatusBadRequest, "tenant_id is required")
	}
	return f, nil
}

// mapError translates domain errors to HTTP status codes.
func (s *Server) mapError(err error) error {
	switch {
	case errors.Is(err, entity.ErrUnknownEntity):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, index.ErrTenantRequired),
		errors.Is(err, search.ErrTenantRequired),
		errors.Is(err, search.ErrEmptyQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, driver.ErrCapability):
		return echo.NewHTTPError(http.StatusNotImplemented, err.Error())
	case errors.Is(err, embeddings.ErrUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.config.Addr))
	return s.echo.Start(s.config.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
