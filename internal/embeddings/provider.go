// Package embeddings provides embedding generation via multiple providers.
//
// A Provider turns chunk or query text into fixed-dimension vectors. The
// "openai" provider speaks the OpenAI embeddings API (and any compatible
// endpoint, e.g. a local TEI server) through langchaingo; the "fixture"
// provider produces deterministic vectors for tests and offline use.
package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/docsearchd/internal/config"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
)

var (
	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid provider configuration.
	ErrInvalidConfig = errors.New("invalid embeddings configuration")

	// ErrEmbeddingFailed indicates embedding generation failure (network,
	// quota, malformed response). Callers do not retry; retry policy is the
	// provider adapter's concern.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Provider is the interface for embedding providers.
//
// All vectors from one provider instance share the dimension reported by
// Dimension, fixed at construction.
type Provider interface {
	// EmbedDocuments generates embeddings for multiple texts, index-aligned
	// with the input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the embedding dimension for the current model.
	Dimension() int

	// Model returns the model identifier recorded in persisted records.
	Model() string

	// Close releases resources held by the provider.
	Close() error
}

// NewProvider creates an embedding provider based on the configuration.
func NewProvider(cfg config.EmbeddingsConfig, logger *logging.Logger) (Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	switch cfg.Provider {
	case "openai", "":
		return NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration(),
		}, logger)
	case "fixture":
		return NewFixtureProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
