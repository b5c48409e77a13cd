package embeddings

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
)

// FixtureProvider produces deterministic embeddings without network access.
//
// Vectors are derived from an FNV hash of the text and L2-normalized, so
// identical texts map to identical unit vectors while distinct texts almost
// always differ. Useful for tests and offline smoke runs; the vectors carry
// no semantic meaning.
type FixtureProvider struct {
	dimension int
}

// NewFixtureProvider creates a fixture provider with the given dimension.
func NewFixtureProvider(dimension int) (*FixtureProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return &FixtureProvider{dimension: dimension}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
func (p *FixtureProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = p.embed(text)
	}
	return vectors, nil
}

// EmbedQuery generates an embedding for a single query.
func (p *FixtureProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return p.embed(text), nil
}

// Dimension returns the configured dimension.
func (p *FixtureProvider) Dimension() int {
	return p.dimension
}

// Model identifies fixture vectors in persisted records.
func (p *FixtureProvider) Model() string {
	return "fixture"
}

// Close releases resources held by the provider.
func (p *FixtureProvider) Close() error {
	return nil
}

// embed builds a deterministic unit vector from the text content.
func (p *FixtureProvider) embed(text string) []float32 {
	vector := make([]float32, p.dimension)

	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	// Simple xorshift stream seeded by the text hash.
	state := seed
	if state == 0 {
		state = 1
	}
	var sumSq float64
	for i := range vector {
		state ^= state << 13
		state ^= state >> 7
		state ^= state << 17
		vector[i] = float32(int64(state%2000)-1000) / 1000.0
		sumSq += float64(vector[i]) * float64(vector[i])
	}

	if sumSq > 0 {
		norm := float32(1.0 / math.Sqrt(sumSq))
		for i := range vector {
			vector[i] *= norm
		}
	}
	return vector
}

var _ Provider = (*FixtureProvider)(nil)
