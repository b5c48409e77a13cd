// Package vectorstore owns per-document vector indices: building them from
// text, answering nearest-neighbor queries, persisting them durably, and
// caching them in memory.
//
// Each document is indexed independently. A built index is immutable;
// re-ingesting a document replaces its record wholesale. On disk a document
// occupies one directory containing two artifacts: a versioned binary vector
// index and a JSON sidecar with the chunks and metadata.
package vectorstore

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidInput indicates a caller error: empty document identifier,
	// non-positive top-k, or malformed configuration.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDimensionMismatch is returned when a query vector or the active
	// embedding provider disagrees with an index's dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNotFound is returned when no index exists for a document.
	ErrNotFound = errors.New("index not found")

	// ErrLoadFailed indicates a persisted index is missing a required
	// artifact or fails validation. Distinct from ErrNotFound: the index
	// exists but cannot be trusted.
	ErrLoadFailed = errors.New("failed to load persisted index")

	// ErrPersistFailed indicates a write to durable storage failed.
	ErrPersistFailed = errors.New("failed to persist index")
)

// Metric identifies the distance function over the embedding space.
//
// The metric is chosen by configuration, recorded in every persisted
// artifact, and fixed for an index's lifetime: mixing metrics across build
// and query would silently corrupt rankings.
type Metric uint8

const (
	// MetricCosine is cosine distance: 1 - cos(a, b). Range [0, 2].
	MetricCosine Metric = iota + 1

	// MetricL2 is Euclidean distance.
	MetricL2
)

// ParseMetric parses a metric name ("cosine" or "l2").
func ParseMetric(s string) (Metric, error) {
	switch s {
	case "cosine":
		return MetricCosine, nil
	case "l2":
		return MetricL2, nil
	default:
		return 0, fmt.Errorf("%w: unknown metric %q", ErrInvalidInput, s)
	}
}

// String returns the metric name.
func (m Metric) String() string {
	switch m {
	case MetricCosine:
		return "cosine"
	case MetricL2:
		return "l2"
	default:
		return fmt.Sprintf("metric(%d)", uint8(m))
	}
}

// Chunk is one contiguous piece of a document, sized for embedding.
// Ordinal is the chunk's 0-based position within its document and is the
// only ordering used to reconstruct local context.
type Chunk struct {
	DocumentID string `json:"document_id"`
	Ordinal    int    `json:"ordinal"`
	Text       string `json:"text"`
}

// Neighbor is one nearest-neighbor search hit.
type Neighbor struct {
	// Ordinal is the chunk ordinal of the matched vector.
	Ordinal int

	// Distance is the raw distance to the query; lower is more similar.
	Distance float32
}

// Record bundles everything persisted for one document. Records are owned
// by the Store; callers borrow them for the duration of one operation and
// must not retain or mutate them.
type Record struct {
	DocumentID string
	Index      *Index
	Chunks     []Chunk
	Metadata   map[string]string
	Model      string
	CreatedAt  time.Time
}

// Info summarizes a stored index.
type Info struct {
	DocumentID string    `json:"document_id"`
	ChunkCount int       `json:"chunk_count"`
	Dimension  int       `json:"dimension"`
	Metric     string    `json:"metric"`
	Model      string    `json:"model"`
	CreatedAt  time.Time `json:"created_at"`
}
