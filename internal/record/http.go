package record

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrInvalidConfig indicates invalid source configuration.
	ErrInvalidConfig = errors.New("invalid record source configuration")

	// ErrSourceFailed indicates the upstream records API rejected a call.
	ErrSourceFailed = errors.New("record source request failed")
)

// HTTPConfig holds configuration for the HTTP record source client.
type HTTPConfig struct {
	// BaseURL is the base URL of the upstream records API.
	BaseURL string

	// Token is an optional bearer token.
	Token string

	// Timeout bounds each request. Default: 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c HTTPConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	return nil
}

// HTTPSource fetches records from an upstream JSON records API.
//
// Wire contract:
//
//	POST {base}/records/fetch  {"entity","ids","tenant_id","organization_id"}
//	  -> {"records": {"<id>": {<fields, custom.* included>}}}
//	POST {base}/records/page   {"entity","tenant_id","organization_id","page","page_size"}
//	  -> {"items": [{"id": ..., <fields>}], "has_more": bool}
type HTTPSource struct {
	config HTTPConfig
	client *http.Client
}

// NewHTTPSource creates an HTTP-backed record source.
func NewHTTPSource(config HTTPConfig) (*HTTPSource, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &HTTPSource{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
	}, nil
}

type fetchRequest struct {
	Entity   string   `json:"entity"`
	IDs      []string `json:"ids"`
	TenantID string   `json:"tenant_id"`
	OrgID    string   `json:"organization_id,omitempty"`
}

type fetchResponse struct {
	Records map[string]map[string]any `json:"records"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context, entityID string, ids []string, tenantID, orgID string) (map[string]Record, error) {
	var resp fetchResponse
	err := s.post(ctx, "/records/fetch", fetchRequest{
		Entity:   entityID,
		IDs:      ids,
		TenantID: tenantID,
		OrgID:    orgID,
	}, &resp)
	if err != nil {
		return nil, err
	}

	out := make(map[string]Record, len(resp.Records))
	for id, raw := range resp.Records {
		out[id] = Decode(id, raw)
	}
	return out, nil
}

type pageRequestBody struct {
	Entity   string `json:"entity"`
	TenantID string `json:"tenant_id"`
	OrgID    string `json:"organization_id,omitempty"`
	Page     int    `json:"page"`
	PageSize int    `json:"page_size"`
}

type pageResponse struct {
	Items   []map[string]any `json:"items"`
	HasMore bool             `json:"has_more"`
}

// Page implements Source.
func (s *HTTPSource) Page(ctx context.Context, entityID string, req PageRequest) (PageResult, error) {
	var resp pageResponse
	err := s.post(ctx, "/records/page", pageRequestBody{
		Entity:   entityID,
		TenantID: req.TenantID,
		OrgID:    req.OrgID,
		Page:     req.Page,
		PageSize: req.PageSize,
	}, &resp)
	if err != nil {
		return PageResult{}, err
	}

	records := make([]Record, 0, len(resp.Items))
	for _, raw := range resp.Items {
		id, _ := raw["id"].(string)
		records = append(records, Decode(id, raw))
	}

	return PageResult{Records: records, HasMore: resp.HasMore}, nil
}

func (s *HTTPSource) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.config.Token)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSourceFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%w: status %d: %s", ErrSourceFailed, resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
