//go:build cgo

package embeddings

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anush008/fastembed-go"
)

// fastEmbedModels maps config model names to fastembed model identifiers
// and their embedding dimensions.
var fastEmbedModels = map[string]struct {
	model     fastembed.EmbeddingModel
	dimension int
}{
	"bge-small-en-v1.5": {fastembed.BGESmallENV15, 384},
	"bge-base-en-v1.5":  {fastembed.BGEBaseENV15, 768},
	"all-minilm-l6-v2":  {fastembed.AllMiniLML6V2, 384},
}

// FastEmbedConfig holds configuration for the local ONNX provider.
type FastEmbedConfig struct {
	// Model is the model name, one of the fastEmbedModels keys.
	Model string

	// CacheDir is the model download cache directory.
	CacheDir string
}

// ApplyDefaults fills in default values.
func (c *FastEmbedConfig) ApplyDefaults() {
	if c.Model == "" {
		c.Model = "bge-small-en-v1.5"
	}
	if c.CacheDir == "" {
		c.CacheDir = ".fastembed_cache"
	}
}

// FastEmbedProvider generates embeddings locally via ONNX runtime.
// The model is loaded lazily on first use so that construction stays
// cheap for deployments that never embed.
type FastEmbedProvider struct {
	config    FastEmbedConfig
	dimension int
	metrics   *Metrics

	mu    sync.Mutex
	model *fastembed.FlagEmbedding
}

// NewFastEmbedProvider creates a local ONNX embedding provider.
func NewFastEmbedProvider(config FastEmbedConfig) (*FastEmbedProvider, error) {
	config.ApplyDefaults()

	info, ok := fastEmbedModels[config.Model]
	if !ok {
		return nil, fmt.Errorf("%w: unknown fastembed model %q", ErrInvalidConfig, config.Model)
	}

	return &FastEmbedProvider{
		config:    config,
		dimension: info.dimension,
		metrics:   NewMetrics(nil),
	}, nil
}

// Available reports whether the provider can serve embed calls. Local
// inference needs no credentials, so a constructed provider is available.
func (p *FastEmbedProvider) Available() bool {
	return true
}

// Dimension returns the embedding dimension for the configured model.
func (p *FastEmbedProvider) Dimension() int {
	return p.dimension
}

// Close releases the loaded model.
func (p *FastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		if err := p.model.Destroy(); err != nil {
			return fmt.Errorf("destroying fastembed model: %w", err)
		}
		p.model = nil
	}
	return nil
}

func (p *FastEmbedProvider) load() (*fastembed.FlagEmbedding, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.model != nil {
		return p.model, nil
	}

	showProgress := false
	model, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                fastEmbedModels[p.config.Model].model,
		CacheDir:             p.config.CacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: loading model %s: %v", ErrEmbeddingFailed, p.config.Model, err)
	}

	p.model = model
	return model, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	model, err := p.load()
	if err != nil {
		genErr = err
		return nil, genErr
	}

	vectors, err := model.PassageEmbed(texts, 256)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_query", time.Since(start), 1, genErr)
	}()

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	model, err := p.load()
	if err != nil {
		genErr = err
		return nil, genErr
	}

	vector, err := model.QueryEmbed(text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	return vector, nil
}
