package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// TEIConfig holds configuration for the TEI provider.
type TEIConfig struct {
	// BaseURL is the base URL of the TEI server. Empty means the provider
	// is not configured and reports unavailable.
	BaseURL string

	// Model is the embedding model name, used for metrics labels and
	// dimension inference. The TEI server itself decides the model.
	Model string

	// Timeout bounds each embed request.
	Timeout time.Duration
}

// ApplyDefaults fills in default values.
func (c *TEIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "BAAI/bge-small-en-v1.5"
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// TEIProvider generates embeddings via a text-embeddings-inference server.
type TEIProvider struct {
	config  TEIConfig
	client  *http.Client
	metrics *Metrics
}

// NewTEIProvider creates a TEI-backed embedding provider. A missing base
// URL is not an error here: the provider is constructed unavailable so
// that indexing fails fast per call instead of at startup.
func NewTEIProvider(config TEIConfig) (*TEIProvider, error) {
	config.ApplyDefaults()

	return &TEIProvider{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		metrics: NewMetrics(nil),
	}, nil
}

// Available reports whether a TEI endpoint is configured.
func (p *TEIProvider) Available() bool {
	return p.config.BaseURL != ""
}

// Dimension returns the embedding dimension for the configured model.
func (p *TEIProvider) Dimension() int {
	return dimensionForModel(p.config.Model)
}

// Close releases provider resources.
func (p *TEIProvider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

// teiRequest is the request body for the TEI embed endpoint.
type teiRequest struct {
	Inputs   any  `json:"inputs"`
	Truncate bool `json:"truncate"`
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *TEIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if !p.Available() {
		genErr = fmt.Errorf("%w: no TEI base URL configured", ErrUnavailable)
		return nil, genErr
	}
	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, texts)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d vectors for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *TEIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if !p.Available() {
		genErr = fmt.Errorf("%w: no TEI base URL configured", ErrUnavailable)
		return nil, genErr
	}
	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embed(ctx, text)
	if err != nil {
		genErr = err
		return nil, genErr
	}
	if len(vectors) == 0 {
		genErr = fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
		return nil, genErr
	}

	return vectors[0], nil
}

func (p *TEIProvider) embed(ctx context.Context, inputs any) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: inputs, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	return vectors, nil
}
