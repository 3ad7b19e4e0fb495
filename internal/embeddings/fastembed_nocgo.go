//go:build !cgo

package embeddings

import (
	"context"
	"fmt"
)

// FastEmbedConfig holds configuration for the local ONNX provider.
type FastEmbedConfig struct {
	// Model is the model name.
	Model string

	// CacheDir is the model download cache directory.
	CacheDir string
}

// FastEmbedProvider is a stub when built without cgo. The ONNX runtime
// bindings require cgo, so the provider always reports unavailable.
type FastEmbedProvider struct{}

// NewFastEmbedProvider returns an error: the fastembed provider requires cgo.
func NewFastEmbedProvider(config FastEmbedConfig) (*FastEmbedProvider, error) {
	return nil, fmt.Errorf("%w: fastembed provider requires cgo", ErrInvalidConfig)
}

// Available always reports false without cgo.
func (p *FastEmbedProvider) Available() bool { return false }

// Dimension returns 0 without cgo.
func (p *FastEmbedProvider) Dimension() int { return 0 }

// Close is a no-op.
func (p *FastEmbedProvider) Close() error { return nil }

// EmbedDocuments always fails without cgo.
func (p *FastEmbedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: fastembed provider requires cgo", ErrUnavailable)
}

// EmbedQuery always fails without cgo.
func (p *FastEmbedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: fastembed provider requires cgo", ErrUnavailable)
}
