package search

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docsearchd/internal/chunker"
	"github.com/fyrsmithlabs/docsearchd/internal/embeddings"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
	"github.com/fyrsmithlabs/docsearchd/internal/vectorstore"
)

const testDimension = 32

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()

	splitter, err := chunker.New(chunker.Config{ChunkSize: 200, Overlap: 40})
	require.NoError(t, err)

	provider, err := embeddings.NewFixtureProvider(testDimension)
	require.NoError(t, err)

	store, err := vectorstore.NewStore(vectorstore.Config{
		Path: t.TempDir(),
	}, splitter, provider, logging.NewNop())
	require.NoError(t, err)

	svc, err := NewService(store, provider, logging.NewNop(), opts...)
	require.NoError(t, err)
	return svc
}

func testDocument(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Sentence %04d covers topic %d in some detail. ", i, i%5)
	}
	return strings.TrimSpace(b.String())
}

func TestServiceIngestAndQuery(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Ingest(ctx, IngestRequest{
		DocumentID: "handbook",
		Text:       testDocument(60),
		Metadata:   map[string]string{"lang": "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, "handbook", summary.DocumentID)
	assert.Greater(t, summary.ChunkCount, 1)
	assert.Equal(t, testDimension, summary.Dimension)
	assert.Equal(t, "cosine", summary.Metric)
	assert.Equal(t, "fixture", summary.Model)

	results, err := svc.Query(ctx, QueryRequest{
		DocumentID: "handbook",
		Text:       "which sentences cover topic three",
		TopK:       3,
	})
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, "handbook", r.DocumentID)
		assert.NotEmpty(t, r.Text)
		assert.Equal(t, "en", r.Metadata["lang"])
		if i > 0 {
			assert.GreaterOrEqual(t, r.Score, results[i-1].Score,
				"results must be ordered most similar first")
		}
	}
}

func TestServiceQueryExactChunkText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestRequest{DocumentID: "exact", Text: testDocument(60)})
	require.NoError(t, err)

	// Query with the top hit's own text: the fixture embedder is
	// deterministic, so re-querying that text must return the same chunk
	// at distance zero.
	first, err := svc.Query(ctx, QueryRequest{DocumentID: "exact", Text: "topic two", TopK: 1})
	require.NoError(t, err)
	require.Len(t, first, 1)

	again, err := svc.Query(ctx, QueryRequest{DocumentID: "exact", Text: first[0].Text, TopK: 1})
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, first[0].Ordinal, again[0].Ordinal)
	assert.InDelta(t, 0.0, again[0].Score, 1e-5)
}

func TestServiceIngestDerivesIDFromSource(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Ingest(ctx, IngestRequest{
		Source: "/data/Annual Report 2024.pdf",
		Text:   testDocument(10),
	})
	require.NoError(t, err)
	assert.Equal(t, "annual_report_2024", summary.DocumentID)

	// The source path survives as metadata on every result.
	results, err := svc.Query(ctx, QueryRequest{
		DocumentID: summary.DocumentID,
		Text:       "report",
		TopK:       1,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "/data/Annual Report 2024.pdf", results[0].Metadata["source"])
}

func TestServiceIngestExplicitIDWins(t *testing.T) {
	svc := newTestService(t)

	summary, err := svc.Ingest(context.Background(), IngestRequest{
		DocumentID: "pinned_id",
		Source:     "whatever.txt",
		Text:       testDocument(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "pinned_id", summary.DocumentID)
}

func TestServiceIngestInvalid(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestRequest{Text: "no id, no source"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Ingest(ctx, IngestRequest{DocumentID: "Not Valid!", Text: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServiceIngestEmptyText(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Ingest(ctx, IngestRequest{DocumentID: "blank", Text: ""})
	require.NoError(t, err)
	assert.Equal(t, 0, summary.ChunkCount)

	// An empty document is queryable and returns no results.
	results, err := svc.Query(ctx, QueryRequest{DocumentID: "blank", Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestServiceQueryDefaults(t *testing.T) {
	svc := newTestService(t, WithTopK(2))
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestRequest{DocumentID: "sized", Text: testDocument(60)})
	require.NoError(t, err)

	results, err := svc.Query(ctx, QueryRequest{DocumentID: "sized", Text: "topic"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestServiceQueryClampsToChunkCount(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	summary, err := svc.Ingest(ctx, IngestRequest{DocumentID: "tiny", Text: "one short document"})
	require.NoError(t, err)
	require.Equal(t, 1, summary.ChunkCount)

	results, err := svc.Query(ctx, QueryRequest{DocumentID: "tiny", Text: "short", TopK: 50})
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestServiceQueryErrors(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Query(ctx, QueryRequest{DocumentID: "missing", Text: "hello"})
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)

	_, err = svc.Query(ctx, QueryRequest{DocumentID: "missing", Text: ""})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.Query(ctx, QueryRequest{DocumentID: "missing", Text: "hello", TopK: -1})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestServiceRemoveAndList(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	for _, id := range []string{"doc_b", "doc_a"} {
		_, err := svc.Ingest(ctx, IngestRequest{DocumentID: id, Text: testDocument(5)})
		require.NoError(t, err)
	}

	ids, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_a", "doc_b"}, ids)

	existed, err := svc.Remove(ctx, "doc_a")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = svc.Remove(ctx, "doc_a")
	require.NoError(t, err)
	assert.False(t, existed)

	ids, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc_b"}, ids)
}

func TestServiceInfo(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	_, err := svc.Ingest(ctx, IngestRequest{DocumentID: "described", Text: testDocument(30)})
	require.NoError(t, err)

	info, err := svc.Info(ctx, "described")
	require.NoError(t, err)
	assert.Equal(t, "described", info.DocumentID)
	assert.Equal(t, "fixture", info.Model)
	assert.Greater(t, info.ChunkCount, 0)

	_, err = svc.Info(ctx, "absent")
	assert.ErrorIs(t, err, vectorstore.ErrNotFound)
}
