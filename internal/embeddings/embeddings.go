// Package embeddings provides embedding generation via multiple providers.
//
// An unavailable embedder is a configuration problem, not a transient one:
// callers that need a vector must fail fast with ErrUnavailable rather than
// retry or fall back to stale results.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnavailable indicates the provider is not configured or usable.
	// This is the fail-fast configuration error: never retried, never
	// degraded to a cached result.
	ErrUnavailable = errors.New("embedding provider unavailable")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// Available reports whether the provider can serve embed calls.
	// When false, Embed calls return ErrUnavailable immediately.
	Available() bool

	// EmbedDocuments generates embeddings for multiple texts.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Close releases resources held by the provider.
	Close() error
}

// Config holds configuration for creating an embedding provider.
type Config struct {
	// Provider is the provider type: "tei", "openai" or "fastembed".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the TEI endpoint (TEI provider only).
	BaseURL string `koanf:"base_url"`

	// APIKey authenticates against OpenAI (openai provider only).
	APIKey string `koanf:"api_key"`

	// CacheDir is the model cache directory (fastembed provider only).
	CacheDir string `koanf:"cache_dir"`
}

// NewEmbedder creates an embedding provider from config.
func NewEmbedder(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "tei", "":
		return NewTEIProvider(TEIConfig{BaseURL: cfg.BaseURL, Model: cfg.Model})
	case "openai":
		return NewOpenAIProvider(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model})
	case "fastembed":
		return NewFastEmbedProvider(FastEmbedConfig{Model: cfg.Model, CacheDir: cfg.CacheDir})
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// dimensionForModel returns the embedding dimension for a model name,
// falling back to 384 (bge-small family).
func dimensionForModel(model string) int {
	switch {
	case strings.Contains(model, "text-embedding-3-large"):
		return 3072
	case strings.Contains(model, "text-embedding"):
		return 1536
	case strings.Contains(model, "large"):
		return 1024
	case strings.Contains(model, "base"):
		return 768
	default:
		return 384
	}
}
