// Package search is the application layer tying chunking, embeddings, and
// the vector store into document-level operations: ingest a document, query
// it semantically, and manage its lifecycle.
package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docsearchd/internal/docid"
	"github.com/fyrsmithlabs/docsearchd/internal/embeddings"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
	"github.com/fyrsmithlabs/docsearchd/internal/vectorstore"
)

// ErrInvalidRequest indicates a malformed ingest or query request.
var ErrInvalidRequest = errors.New("invalid request")

// DefaultTopK is the number of results returned when a query does not ask
// for a specific count.
const DefaultTopK = 5

// IngestRequest describes a document to index.
type IngestRequest struct {
	// DocumentID identifies the document. If empty, it is derived from
	// Source by sanitizing the filename.
	DocumentID string

	// Source is the originating filename or path, used to derive
	// DocumentID when unset and recorded in the document metadata.
	Source string

	// Text is the full document text. Empty text is legal and produces a
	// searchable document with no chunks.
	Text string

	// Metadata is attached to every result returned for this document.
	Metadata map[string]string
}

// IngestSummary reports what an ingest produced.
type IngestSummary struct {
	DocumentID string `json:"document_id"`
	ChunkCount int    `json:"chunk_count"`
	Dimension  int    `json:"dimension"`
	Metric     string `json:"metric"`
	Model      string `json:"model"`
}

// QueryRequest describes a semantic search against one document.
type QueryRequest struct {
	// DocumentID selects the document to search.
	DocumentID string

	// Text is the natural-language query.
	Text string

	// TopK caps the number of results. Zero means DefaultTopK; it is
	// clamped to the document's chunk count.
	TopK int
}

// Result is one query hit.
type Result struct {
	// DocumentID is the document the chunk belongs to.
	DocumentID string `json:"document_id"`

	// Ordinal is the chunk's position within the document.
	Ordinal int `json:"ordinal"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Score is the raw distance between query and chunk; lower means more
	// similar. Scores are comparable only within one metric.
	Score float32 `json:"score"`

	// Metadata is the document-level metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Service exposes document-level search operations.
type Service struct {
	store    *vectorstore.Store
	provider embeddings.Provider
	logger   *logging.Logger
	topK     int
}

// Option configures a Service.
type Option func(*Service)

// WithTopK overrides the default result count for queries that do not set
// their own.
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// NewService creates a search service over store and provider.
func NewService(store *vectorstore.Store, provider embeddings.Provider, logger *logging.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidRequest)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidRequest)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	s := &Service{
		store:    store,
		provider: provider,
		logger:   logger.Named("search"),
		topK:     DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Ingest indexes a document, replacing any previous index under the same
// identifier.
func (s *Service) Ingest(ctx context.Context, req IngestRequest) (IngestSummary, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())

	id := req.DocumentID
	if id == "" && req.Source != "" {
		id = docid.FromFilename(req.Source)
	}
	if !docid.Valid(id) {
		return IngestSummary{}, fmt.Errorf("%w: document id %q", ErrInvalidRequest, id)
	}

	metadata := req.Metadata
	if req.Source != "" {
		metadata = cloneMetadata(metadata)
		metadata["source"] = req.Source
	}

	start := time.Now()
	rec, err := s.store.Build(ctx, id, req.Text, metadata)
	if err != nil {
		return IngestSummary{}, fmt.Errorf("ingesting %s: %w", id, err)
	}

	s.logger.Info(ctx, "document ingested",
		zap.String("document_id", id),
		zap.Int("chunks", len(rec.Chunks)),
		zap.Duration("duration", time.Since(start)))

	return IngestSummary{
		DocumentID: rec.DocumentID,
		ChunkCount: len(rec.Chunks),
		Dimension:  rec.Index.Dimension(),
		Metric:     rec.Index.Metric().String(),
		Model:      rec.Model,
	}, nil
}

// Query embeds req.Text and returns the closest chunks of the selected
// document, ordered most similar first.
func (s *Service) Query(ctx context.Context, req QueryRequest) ([]Result, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())

	if req.Text == "" {
		return nil, fmt.Errorf("%w: query text cannot be empty", ErrInvalidRequest)
	}
	topK := req.TopK
	if topK == 0 {
		topK = s.topK
	}
	if topK < 0 {
		return nil, fmt.Errorf("%w: top-k cannot be negative", ErrInvalidRequest)
	}

	rec, err := s.store.Load(ctx, req.DocumentID)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", req.DocumentID, err)
	}

	if rec.Index.Size() == 0 {
		return []Result{}, nil
	}

	query, err := s.provider.EmbedQuery(ctx, req.Text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	neighbors, err := rec.Index.Search(query, topK)
	if err != nil {
		return nil, fmt.Errorf("searching %s: %w", req.DocumentID, err)
	}

	results := make([]Result, len(neighbors))
	for i, n := range neighbors {
		results[i] = Result{
			DocumentID: rec.DocumentID,
			Ordinal:    n.Ordinal,
			Text:       rec.Chunks[n.Ordinal].Text,
			Score:      n.Distance,
			Metadata:   rec.Metadata,
		}
	}

	s.logger.Debug(ctx, "query answered",
		zap.String("document_id", req.DocumentID),
		zap.Int("top_k", topK),
		zap.Int("results", len(results)))

	return results, nil
}

// Remove deletes a document's index, reporting whether one existed.
func (s *Service) Remove(ctx context.Context, documentID string) (bool, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	return s.store.Delete(ctx, documentID)
}

// List returns the identifiers of all indexed documents, sorted.
func (s *Service) List(ctx context.Context) ([]string, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	return s.store.List(ctx)
}

// Info summarizes one indexed document.
func (s *Service) Info(ctx context.Context, documentID string) (vectorstore.Info, error) {
	ctx = logging.WithRequestID(ctx, uuid.NewString())
	return s.store.Info(ctx, documentID)
}

func cloneMetadata(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}
