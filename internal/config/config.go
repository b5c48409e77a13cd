// Package config provides configuration loading for docsearchd.
//
// Configuration is loaded from a YAML file and overridden by environment
// variables. All knobs the indexing core consumes live here: the storage
// root, chunking geometry, search defaults, and the embedding provider.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete docsearchd configuration.
type Config struct {
	Storage    StorageConfig    `koanf:"storage"`
	Chunking   ChunkingConfig   `koanf:"chunking"`
	Search     SearchConfig     `koanf:"search"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Logging    LoggingConfig    `koanf:"logging"`
}

// StorageConfig holds durable storage configuration.
type StorageConfig struct {
	// Path is the root directory for persisted indices.
	// One subdirectory per document identifier.
	Path string `koanf:"path"`
}

// ChunkingConfig holds text-splitting configuration.
type ChunkingConfig struct {
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize int `koanf:"chunk_size"`

	// Overlap is the number of characters shared between consecutive
	// chunks. Must be strictly smaller than ChunkSize.
	Overlap int `koanf:"overlap"`
}

// SearchConfig holds query-time defaults.
type SearchConfig struct {
	// TopK is the default number of results returned per query.
	TopK int `koanf:"top_k"`

	// CacheSize bounds the number of index records kept in memory.
	// Eviction is memory-only; durable copies are never removed.
	CacheSize int `koanf:"cache_size"`

	// Metric selects the distance function: "cosine" or "l2".
	// Changing the metric invalidates previously persisted indices,
	// so it is recorded in each persisted artifact and checked on load.
	Metric string `koanf:"metric"`
}

// EmbeddingsConfig holds embedding provider configuration.
type EmbeddingsConfig struct {
	// Provider is the provider type: "openai" or "fixture".
	Provider string `koanf:"provider"`

	// Model is the embedding model name.
	Model string `koanf:"model"`

	// BaseURL is the API base URL. Works for OpenAI and any
	// OpenAI-compatible endpoint (e.g. a local TEI server).
	BaseURL string `koanf:"base_url"`

	// APIKey is the provider API key. Redacted in logs and serialization.
	APIKey Secret `koanf:"api_key"`

	// Dimension is the embedding dimension produced by the model.
	Dimension int `koanf:"dimension"`

	// Timeout bounds a single embedding call.
	Timeout Duration `koanf:"timeout"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is the log encoding: "json" or "console".
	Format string `koanf:"format"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Path: "~/.local/share/docsearchd/indices",
		},
		Chunking: ChunkingConfig{
			ChunkSize: 1000,
			Overlap:   200,
		},
		Search: SearchConfig{
			TopK:      5,
			CacheSize: 32,
			Metric:    "cosine",
		},
		Embeddings: EmbeddingsConfig{
			Provider:  "openai",
			Model:     "text-embedding-3-small",
			BaseURL:   "https://api.openai.com/v1",
			Dimension: 1536,
			Timeout:   Duration(30 * time.Second),
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate validates the configuration.
//
// Returns an error if:
//   - the storage path is empty
//   - chunk size is not positive, or overlap is negative or >= chunk size
//   - top-k or cache size is not positive
//   - the metric is not "cosine" or "l2"
//   - the embedding dimension is not positive
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return errors.New("storage path must not be empty")
	}

	if c.Chunking.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", c.Chunking.ChunkSize)
	}
	if c.Chunking.Overlap < 0 {
		return fmt.Errorf("overlap cannot be negative, got %d", c.Chunking.Overlap)
	}
	if c.Chunking.Overlap >= c.Chunking.ChunkSize {
		return fmt.Errorf("overlap %d must be smaller than chunk size %d",
			c.Chunking.Overlap, c.Chunking.ChunkSize)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.CacheSize <= 0 {
		return fmt.Errorf("cache size must be positive, got %d", c.Search.CacheSize)
	}
	switch c.Search.Metric {
	case "cosine", "l2":
	default:
		return fmt.Errorf("unsupported metric %q (supported: cosine, l2)", c.Search.Metric)
	}

	switch c.Embeddings.Provider {
	case "openai", "fixture":
	default:
		return fmt.Errorf("unsupported embeddings provider %q (supported: openai, fixture)",
			c.Embeddings.Provider)
	}
	if c.Embeddings.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", c.Embeddings.Dimension)
	}
	if c.Embeddings.Timeout.Duration() <= 0 {
		return errors.New("embedding timeout must be positive")
	}

	return nil
}
