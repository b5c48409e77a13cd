package embeddings

import (
	"context"
	"fmt"
	"time"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docsearchd/internal/logging"
)

// OpenAIConfig holds configuration for the OpenAI-compatible provider.
type OpenAIConfig struct {
	// BaseURL is the API base URL. Works for api.openai.com and any
	// OpenAI-compatible endpoint (TEI, vLLM, ...).
	BaseURL string

	// Model is the embedding model name.
	Model string

	// APIKey is the API key. Optional for local endpoints.
	APIKey string

	// Dimension is the embedding dimension the model produces.
	Dimension int

	// Timeout bounds a single embedding call. Zero disables the bound.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c OpenAIConfig) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// OpenAIProvider generates embeddings through langchaingo's OpenAI client.
type OpenAIProvider struct {
	embedder *lcembeddings.EmbedderImpl
	config   OpenAIConfig
	logger   *logging.Logger
	metrics  *Metrics
}

// NewOpenAIProvider creates a provider for an OpenAI-compatible endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger *logging.Logger) (*OpenAIProvider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// langchaingo requires a token; local endpoints ignore it.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "placeholder"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	logger.Info(context.Background(), "embedding provider initialized",
		zap.String("provider", "openai"),
		zap.String("base_url", cfg.BaseURL),
		zap.String("model", cfg.Model),
		zap.Int("dimension", cfg.Dimension),
	)

	return &OpenAIProvider{
		embedder: embedder,
		config:   cfg,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// EmbedDocuments generates embeddings for multiple texts.
//
// The returned slice is index-aligned with the input. Provider failures wrap
// ErrEmbeddingFailed so callers can classify with errors.Is.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	var genErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, "embed_documents", time.Since(start), len(texts), genErr)
	}()

	if len(texts) == 0 {
		genErr = fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	if len(vectors) != len(texts) {
		genErr = fmt.Errorf("%w: got %d embeddings for %d texts",
			ErrEmbeddingFailed, len(vectors), len(texts))
		return nil, genErr
	}
	for i, v := range vectors {
		if len(v) != p.config.Dimension {
			genErr = fmt.Errorf("%w: embedding %d has dimension %d, expected %d",
				ErrEmbeddingFailed, i, len(v), p.config.Dimension)
			return nil, genErr
		}
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

	if text == "" {
		genErr = fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
		return nil, genErr
	}

	ctx, cancel := p.withTimeout(ctx)
	defer cancel()

	vector, err := p.embedder.EmbedQuery(ctx, text)
	if err != nil {
		genErr = fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
		return nil, genErr
	}

	if len(vector) != p.config.Dimension {
		genErr = fmt.Errorf("%w: embedding has dimension %d, expected %d",
			ErrEmbeddingFailed, len(vector), p.config.Dimension)
		return nil, genErr
	}

	return vector, nil
}

// Dimension returns the embedding dimension for the configured model.
func (p *OpenAIProvider) Dimension() int {
	return p.config.Dimension
}

// Model returns the configured model name.
func (p *OpenAIProvider) Model() string {
	return p.config.Model
}

// Close releases resources held by the provider.
func (p *OpenAIProvider) Close() error {
	return nil
}

func (p *OpenAIProvider) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.config.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, p.config.Timeout)
}

var _ Provider = (*OpenAIProvider)(nil)
