package embeddings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docsearchd/internal/config"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
)

func TestNewProviderFixture(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{
		Provider:  "fixture",
		Dimension: 16,
	}, logging.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 16, p.Dimension())
	_, ok := p.(*FixtureProvider)
	assert.True(t, ok)
}

func TestNewProviderOpenAI(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{
		Provider:  "openai",
		Model:     "text-embedding-3-small",
		BaseURL:   "https://api.openai.com/v1",
		APIKey:    config.Secret("sk-test"),
		Dimension: 1536,
		Timeout:   config.Duration(5 * time.Second),
	}, logging.NewNop())
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, 1536, p.Dimension())
}

func TestNewProviderUnknown(t *testing.T) {
	_, err := NewProvider(config.EmbeddingsConfig{
		Provider:  "cohere",
		Dimension: 8,
	}, logging.NewNop())
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestOpenAIConfigValidate(t *testing.T) {
	valid := OpenAIConfig{
		BaseURL:   "http://localhost:8080/v1",
		Model:     "BAAI/bge-small-en-v1.5",
		Dimension: 384,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*OpenAIConfig)
	}{
		{"missing base URL", func(c *OpenAIConfig) { c.BaseURL = "" }},
		{"missing model", func(c *OpenAIConfig) { c.Model = "" }},
		{"zero dimension", func(c *OpenAIConfig) { c.Dimension = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
