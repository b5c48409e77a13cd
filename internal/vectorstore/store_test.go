package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/docsearchd/internal/chunker"
	"github.com/fyrsmithlabs/docsearchd/internal/embeddings"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
)

const testDimension = 32

func newTestStore(t *testing.T, root string) *Store {
	t.Helper()
	return newTestStoreDim(t, root, testDimension)
}

func newTestStoreDim(t *testing.T, root string, dim int) *Store {
	t.Helper()

	splitter, err := chunker.New(chunker.Config{ChunkSize: 1000, Overlap: 200})
	require.NoError(t, err)

	provider, err := embeddings.NewFixtureProvider(dim)
	require.NoError(t, err)

	store, err := NewStore(Config{
		Path:      root,
		CacheSize: 2,
		Metric:    MetricCosine,
	}, splitter, provider, logging.NewNop())
	require.NoError(t, err)
	return store
}

// corpusText builds a document of distinct numbered sentences so every chunk
// has unique content.
func corpusText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "This is sentence %04d of the corpus, describing topic %d. ", i, i%7)
	}
	return strings.TrimSuffix(b.String(), " ")
}

func TestStoreBuildLoadRoundTrip(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	text := corpusText(120)
	meta := map[string]string{"source": "corpus 01.pdf"}

	built, err := store.Build(ctx, "corpus_01", text, meta)
	require.NoError(t, err)
	require.NotEmpty(t, built.Chunks)
	assert.Equal(t, "fixture", built.Model)
	assert.Equal(t, len(built.Chunks), built.Index.Size())

	// A fresh store has a cold cache, so this exercises the disk path.
	reopened := newTestStore(t, root)
	loaded, err := reopened.Load(ctx, "corpus_01")
	require.NoError(t, err)

	assert.Equal(t, built.DocumentID, loaded.DocumentID)
	assert.Equal(t, built.Chunks, loaded.Chunks)
	assert.Equal(t, meta, loaded.Metadata)
	assert.Equal(t, built.Model, loaded.Model)

	// Querying with a chunk's own text must return that chunk first, at
	// effectively zero distance, because the fixture embedder is a pure
	// function of the text.
	target := loaded.Chunks[1]
	provider, err := embeddings.NewFixtureProvider(testDimension)
	require.NoError(t, err)
	query, err := provider.EmbedQuery(ctx, target.Text)
	require.NoError(t, err)

	hits, err := loaded.Index.Search(query, 3)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, target.Ordinal, hits[0].Ordinal)
	assert.InDelta(t, 0.0, hits[0].Distance, 1e-5)
}

func TestStoreBuildChunkWindowing(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	// 2000 chars at size 1000 / overlap 200: windows [0,1000), [800,1800),
	// [1600,2000).
	text := strings.Repeat("a", 2000)
	rec, err := store.Build(context.Background(), "solid_block", text, nil)
	require.NoError(t, err)

	require.Len(t, rec.Chunks, 3)
	assert.Len(t, rec.Chunks[0].Text, 1000)
	assert.Len(t, rec.Chunks[1].Text, 1000)
	assert.Len(t, rec.Chunks[2].Text, 400)
	for i, c := range rec.Chunks {
		assert.Equal(t, i, c.Ordinal)
		assert.Equal(t, "solid_block", c.DocumentID)
	}
}

func TestStoreBuildEmptyDocument(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	rec, err := store.Build(ctx, "empty_doc", "", nil)
	require.NoError(t, err)
	assert.Empty(t, rec.Chunks)
	assert.Equal(t, 0, rec.Index.Size())

	// The empty record persists and reloads like any other.
	reopened := newTestStore(t, root)
	loaded, err := reopened.Load(ctx, "empty_doc")
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Index.Size())

	info, err := reopened.Info(ctx, "empty_doc")
	require.NoError(t, err)
	assert.Equal(t, 0, info.ChunkCount)
	assert.Equal(t, testDimension, info.Dimension)
}

func TestStoreBuildInvalidID(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"", "Has Spaces", "UPPER", "dot.dot", "../escape"} {
		_, err := store.Build(ctx, id, "text", nil)
		assert.ErrorIs(t, err, ErrInvalidInput, "id %q", id)
	}
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	_, err := store.Load(context.Background(), "never_built")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreLoadCorruptArtifact(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	_, err := store.Build(ctx, "doomed", corpusText(40), nil)
	require.NoError(t, err)

	// Truncate the binary artifact behind the store's back.
	path := filepath.Join(store.Root(), "doomed", "index.dsv")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)/2], 0600))

	// Cold cache forces the disk read.
	reopened := newTestStore(t, root)
	_, err = reopened.Load(ctx, "doomed")
	assert.ErrorIs(t, err, ErrLoadFailed)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestStoreLoadMissingSidecar(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	_, err := store.Build(ctx, "halved", corpusText(40), nil)
	require.NoError(t, err)
	require.NoError(t, os.Remove(filepath.Join(store.Root(), "halved", "record.json")))

	reopened := newTestStore(t, root)
	_, err = reopened.Load(ctx, "halved")
	assert.ErrorIs(t, err, ErrLoadFailed)
}

func TestStoreLoadDimensionMismatch(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	_, err := newTestStoreDim(t, root, 32).Build(ctx, "fixed_dim", corpusText(40), nil)
	require.NoError(t, err)

	// Same storage, different provider dimension.
	_, err = newTestStoreDim(t, root, 16).Load(ctx, "fixed_dim")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.Build(ctx, "transient", corpusText(20), nil)
	require.NoError(t, err)

	existed, err := store.Delete(ctx, "transient")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = store.Delete(ctx, "transient")
	require.NoError(t, err)
	assert.False(t, existed)

	_, err = store.Load(ctx, "transient")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreBuildCopiesMetadata(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	metadata := map[string]string{"title": "Quarterly Report", "lang": "en"}
	_, err := store.Build(ctx, "report", corpusText(20), metadata)
	require.NoError(t, err)

	// Mutating the caller's map after ingest must not reach the record.
	metadata["title"] = "tampered"
	metadata["extra"] = "injected"

	want := map[string]string{"title": "Quarterly Report", "lang": "en"}

	cached, err := store.Load(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, want, cached.Metadata)

	reopened := newTestStore(t, root)
	reloaded, err := reopened.Load(ctx, "report")
	require.NoError(t, err)
	assert.Equal(t, want, reloaded.Metadata)
}

func TestStoreLockTableDoesNotGrow(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("doc_%02d", i)
		_, err := store.Build(ctx, id, corpusText(5), nil)
		require.NoError(t, err)
		_, err = store.Load(ctx, id)
		require.NoError(t, err)
	}

	existed, err := store.Delete(ctx, "doc_00")
	require.NoError(t, err)
	assert.True(t, existed)

	// Every lock table entry is released once its operation finishes,
	// regardless of how many distinct documents were touched.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Empty(t, store.locks)
}

func TestStoreList(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"gamma", "alpha", "beta"} {
		_, err := store.Build(ctx, id, corpusText(10), nil)
		require.NoError(t, err)
	}

	// Neither leftover staging directories nor stray files are documents.
	require.NoError(t, os.MkdirAll(filepath.Join(store.Root(), ".staging-junk-zzz"), 0700))
	require.NoError(t, os.WriteFile(filepath.Join(store.Root(), "stray.txt"), []byte("x"), 0600))

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, ids)
}

func TestStoreListEmpty(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestStoreRebuildReplacesRecord(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	first, err := store.Build(ctx, "versioned", corpusText(120), nil)
	require.NoError(t, err)
	require.Greater(t, len(first.Chunks), 1)

	second, err := store.Build(ctx, "versioned", "short replacement text", nil)
	require.NoError(t, err)
	require.Len(t, second.Chunks, 1)

	// Both the warm cache and a cold reload see only the replacement.
	loaded, err := store.Load(ctx, "versioned")
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, loaded.Chunks)

	reopened := newTestStore(t, root)
	reloaded, err := reopened.Load(ctx, "versioned")
	require.NoError(t, err)
	assert.Equal(t, second.Chunks, reloaded.Chunks)
}

func TestStoreConcurrentBuildsSameDocument(t *testing.T) {
	root := t.TempDir()
	store := newTestStore(t, root)
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			text := fmt.Sprintf("variant %d :: %s", n, corpusText(60))
			_, err := store.Build(ctx, "contested", text, map[string]string{
				"variant": fmt.Sprintf("%d", n),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Whichever build won, the surviving record must be internally
	// coherent: all chunks from one variant, matching the metadata.
	reopened := newTestStore(t, root)
	rec, err := reopened.Load(ctx, "contested")
	require.NoError(t, err)
	require.NotEmpty(t, rec.Chunks)

	prefix := fmt.Sprintf("variant %s ::", rec.Metadata["variant"])
	assert.True(t, strings.HasPrefix(rec.Chunks[0].Text, prefix))
	assert.Equal(t, len(rec.Chunks), rec.Index.Size())
	for i, c := range rec.Chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}

func TestStoreConcurrentLoadAndDelete(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.Build(ctx, "racy", corpusText(30), nil)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := store.Load(ctx, "racy")
			// Either the full record or a clean not-found; never torn
			// state, never a load failure.
			if err != nil {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			assert.Equal(t, len(rec.Chunks), rec.Index.Size())
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := store.Delete(ctx, "racy")
		assert.NoError(t, err)
	}()
	wg.Wait()
}

func TestStoreInfo(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.Build(ctx, "described", corpusText(120), map[string]string{"lang": "en"})
	require.NoError(t, err)

	info, err := store.Info(ctx, "described")
	require.NoError(t, err)
	assert.Equal(t, "described", info.DocumentID)
	assert.Greater(t, info.ChunkCount, 1)
	assert.Equal(t, testDimension, info.Dimension)
	assert.Equal(t, "cosine", info.Metric)
	assert.Equal(t, "fixture", info.Model)
	assert.False(t, info.CreatedAt.IsZero())

	_, err = store.Info(ctx, "unknown_doc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreArtifactPermissions(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	ctx := context.Background()

	_, err := store.Build(ctx, "locked_down", corpusText(20), nil)
	require.NoError(t, err)

	dir := filepath.Join(store.Root(), "locked_down")
	for _, name := range []string{"index.dsv", "record.json"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0600), fi.Mode().Perm(), name)
	}
}

func TestNewStoreValidation(t *testing.T) {
	splitter, err := chunker.New(chunker.Config{})
	require.NoError(t, err)
	provider, err := embeddings.NewFixtureProvider(8)
	require.NoError(t, err)

	_, err = NewStore(Config{Path: t.TempDir()}, nil, provider, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewStore(Config{Path: t.TempDir()}, splitter, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewStore(Config{Path: t.TempDir(), CacheSize: -1}, splitter, provider, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewStore(Config{Path: t.TempDir(), Metric: Metric(9)}, splitter, provider, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}
