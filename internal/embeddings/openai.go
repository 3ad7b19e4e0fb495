package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// OpenAIConfig holds configuration for the OpenAI provider.
type OpenAIConfig struct {
	// APIKey authenticates against the OpenAI API. Empty means the
	// provider reports unavailable.
	APIKey string

	// Model is the embedding model name.
	Model string
}

// ApplyDefaults fills in default values.
func (c *OpenAIConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "text-embedding-3-small"
	}
}

// OpenAIProvider generates embeddings via the OpenAI embeddings API.
type OpenAIProvider struct {
	config   OpenAIConfig
	embedder lcembeddings.Embedder
	metrics  *Metrics
}

// NewOpenAIProvider creates an OpenAI-backed embedding provider. Without
// an API key the provider is constructed unavailable and every embed call
// fails fast with ErrUnavailable.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	config.ApplyDefaults()

	p := &OpenAIProvider{
		config:  config,
		metrics: NewMetrics(nil),
	}

	if config.APIKey != "" {
		llm, err := openai.New(
			openai.WithToken(config.APIKey),
			openai.WithEmbeddingModel(config.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("%w: creating openai client: %v", ErrInvalidConfig, err)
		}
		embedder, err := lcembeddings.NewEmbedder(llm)
		if err != nil {
			return nil, fmt.Errorf("%w: creating embedder: %v", ErrInvalidConfig, err)
		}
		p.embedder = embedder
	}

	return p, nil
}

// Available reports whether an API key is configured.
func (p *OpenAIProvider) Available() bool {
	return p.embedder != nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return dimensionForModel(p.config.Model)
}

// Close releases provider resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if !p.Available() {
		genErr = fmt.Errorf("%w: no OpenAI API key configured", ErrUnavailable)
		return nil, genErr
	}
	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if !p.Available() {
		genErr = fmt.Errorf("%w: no OpenAI API key configured", ErrUnavailable)
		return nil, genErr
	}
	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	return vector, nil
}
