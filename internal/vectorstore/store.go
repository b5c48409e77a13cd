package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/docsearchd/internal/chunker"
	"github.com/fyrsmithlabs/docsearchd/internal/docid"
	"github.com/fyrsmithlabs/docsearchd/internal/embeddings"
	"github.com/fyrsmithlabs/docsearchd/internal/logging"
)

// tracer for OpenTelemetry instrumentation.
var tracer = otel.Tracer("docsearchd.vectorstore")

// Config holds configuration for the Store.
type Config struct {
	// Path is the root directory for persisted indices.
	// Default: "~/.local/share/docsearchd/indices"
	Path string

	// CacheSize bounds the in-memory record cache. Default: 32.
	CacheSize int

	// Metric is the distance metric for newly built indices.
	// Default: MetricCosine.
	Metric Metric

	// EmbedBatchSize caps texts per embedding request. Default: 96.
	EmbedBatchSize int

	// EmbedConcurrency caps concurrent embedding requests within one
	// build. Default: 4.
	EmbedConcurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.local/share/docsearchd/indices"
	}
	if c.CacheSize == 0 {
		c.CacheSize = 32
	}
	if c.Metric == 0 {
		c.Metric = MetricCosine
	}
	if c.EmbedBatchSize == 0 {
		c.EmbedBatchSize = 96
	}
	if c.EmbedConcurrency == 0 {
		c.EmbedConcurrency = 4
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.CacheSize < 0 {
		return fmt.Errorf("%w: cache size cannot be negative", ErrInvalidInput)
	}
	switch c.Metric {
	case MetricCosine, MetricL2:
	default:
		return fmt.Errorf("%w: unknown metric %d", ErrInvalidInput, c.Metric)
	}
	if c.EmbedBatchSize <= 0 || c.EmbedConcurrency <= 0 {
		return fmt.Errorf("%w: embed batch size and concurrency must be positive", ErrInvalidInput)
	}
	return nil
}

// Store owns the mapping from document identifier to index record: it builds
// records, persists them durably, caches them in memory, and serves loads,
// deletes, and listings.
//
// Concurrency: operations on the same document are serialized by a per-key
// mutex, so a reader never observes a half-written record and a load racing
// a delete resolves to either the old record or ErrNotFound. Operations on
// different documents never block each other.
type Store struct {
	root     string
	metric   Metric
	splitter *chunker.Splitter
	provider embeddings.Provider
	logger   *logging.Logger

	embedBatchSize   int
	embedConcurrency int

	cache *recordCache

	// mu guards locks. Entries are reference-counted by lockKey/unlockKey
	// and dropped once the last holder releases, so the table stays bounded
	// by the number of in-flight operations rather than growing with every
	// document id ever touched.
	mu    sync.Mutex
	locks map[string]*docLock
}

// docLock serializes operations on a single document. refs counts holders
// and waiters; it is guarded by Store.mu.
type docLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore creates a Store rooted at cfg.Path.
func NewStore(cfg Config, splitter *chunker.Splitter, provider embeddings.Provider, logger *logging.Logger) (*Store, error) {
	if splitter == nil {
		return nil, fmt.Errorf("%w: splitter is required", ErrInvalidInput)
	}
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", ErrInvalidInput)
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	root, err := expandPath(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("creating storage root %s: %w", root, err)
	}

	logger.Info(context.Background(), "vector store initialized",
		zap.String("path", root),
		zap.String("metric", cfg.Metric.String()),
		zap.Int("cache_size", cfg.CacheSize),
		zap.Int("dimension", provider.Dimension()),
	)

	return &Store{
		root:             root,
		metric:           cfg.Metric,
		splitter:         splitter,
		provider:         provider,
		logger:           logger.Named("vectorstore"),
		embedBatchSize:   cfg.EmbedBatchSize,
		embedConcurrency: cfg.EmbedConcurrency,
		cache:            newRecordCache(cfg.CacheSize),
		locks:            make(map[string]*docLock),
	}, nil
}

// Root returns the storage root directory.
func (s *Store) Root() string { return s.root }

// Metric returns the metric used for newly built indices.
func (s *Store) Metric() Metric { return s.metric }

// Build chunks text, embeds the chunks, builds an index, persists it, and
// atomically replaces any existing record for id in memory and on disk.
//
// Chunking and embedding run before the per-key lock is taken, so a slow
// provider call never blocks readers of the current record. Any failure
// before the final swap leaves the previous record untouched.
func (s *Store) Build(ctx context.Context, id, text string, metadata map[string]string) (rec *Record, err error) {
	start := time.Now()
	defer func() { recordOperation("build", start, err) }()

	ctx, span := tracer.Start(ctx, "vectorstore.Build")
	defer span.End()
	defer func() { spanStatus(span, err) }()

	if !docid.Valid(id) {
		err = fmt.Errorf("%w: document id %q", ErrInvalidInput, id)
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", id))
	ctx = logging.WithDocumentID(ctx, id)

	texts := s.splitter.Split(text)
	s.logger.Debug(ctx, "document chunked",
		zap.Int("chunks", len(texts)),
		zap.Int("text_bytes", len(text)))

	vectors, err := s.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	idx, err := NewIndex(s.provider.Dimension(), s.metric, vectors)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(texts))
	for i, t := range texts {
		chunks[i] = Chunk{DocumentID: id, Ordinal: i, Text: t}
	}

	rec = &Record{
		DocumentID: id,
		Index:      idx,
		Chunks:     chunks,
		// Copied so later mutations of the caller's map cannot reach the
		// cached or persisted record.
		Metadata:  cloneMetadata(metadata),
		Model:     s.provider.Model(),
		CreatedAt: time.Now().UTC(),
	}

	lock := s.lockKey(id)
	defer s.unlockKey(id, lock)

	if err = s.persist(rec); err != nil {
		return nil, err
	}

	evicted := s.cache.Put(id, rec)
	recordCacheEvent("evict", evicted)
	CachedRecords.Set(float64(s.cache.Len()))
	IndexedChunks.Observe(float64(len(chunks)))

	span.SetAttributes(attribute.Int("chunks", len(chunks)))
	s.logger.Info(ctx, "index built",
		zap.Int("chunks", len(chunks)),
		zap.Int("dimension", idx.Dimension()),
		zap.String("metric", s.metric.String()))

	return rec, nil
}

// Load returns the record for id from cache, falling back to disk.
//
// A missing document is ErrNotFound. A document whose artifacts exist but
// fail validation is ErrLoadFailed, kept distinct so an unreadable index
// never masquerades as an absent one. A persisted
// dimension that disagrees with the active embedding provider is
// ErrDimensionMismatch.
func (s *Store) Load(ctx context.Context, id string) (rec *Record, err error) {
	start := time.Now()
	defer func() { recordOperation("load", start, err) }()

	ctx, span := tracer.Start(ctx, "vectorstore.Load")
	defer span.End()
	defer func() { spanStatus(span, err) }()

	if !docid.Valid(id) {
		err = fmt.Errorf("%w: document id %q", ErrInvalidInput, id)
		return nil, err
	}
	span.SetAttributes(attribute.String("document.id", id))
	ctx = logging.WithDocumentID(ctx, id)

	if cached, ok := s.cache.Get(id); ok {
		recordCacheEvent("hit", 1)
		return cached, nil
	}
	recordCacheEvent("miss", 1)

	lock := s.lockKey(id)
	defer s.unlockKey(id, lock)

	// A concurrent loader may have won the race while we waited.
	if cached, ok := s.cache.Get(id); ok {
		recordCacheEvent("hit", 1)
		return cached, nil
	}

	rec, err = s.readRecord(id)
	if err != nil {
		return nil, err
	}

	if got, want := rec.Index.Dimension(), s.provider.Dimension(); got != want {
		err = fmt.Errorf("%w: persisted index has dimension %d, active provider produces %d",
			ErrDimensionMismatch, got, want)
		return nil, err
	}
	if rec.Index.Metric() != s.metric {
		s.logger.Warn(ctx, "persisted metric differs from configured metric; using persisted",
			zap.String("persisted", rec.Index.Metric().String()),
			zap.String("configured", s.metric.String()))
	}

	evicted := s.cache.Put(id, rec)
	recordCacheEvent("evict", evicted)
	CachedRecords.Set(float64(s.cache.Len()))

	s.logger.Debug(ctx, "index loaded from disk", zap.Int("chunks", rec.Index.Size()))
	return rec, nil
}

// Delete removes the record for id from memory and disk, reporting whether
// anything existed. Deleting an absent document is not an error.
func (s *Store) Delete(ctx context.Context, id string) (existed bool, err error) {
	start := time.Now()
	defer func() { recordOperation("delete", start, err) }()

	ctx, span := tracer.Start(ctx, "vectorstore.Delete")
	defer span.End()
	defer func() { spanStatus(span, err) }()

	if !docid.Valid(id) {
		err = fmt.Errorf("%w: document id %q", ErrInvalidInput, id)
		return false, err
	}
	span.SetAttributes(attribute.String("document.id", id))
	ctx = logging.WithDocumentID(ctx, id)

	lock := s.lockKey(id)
	defer s.unlockKey(id, lock)

	if s.cache.Remove(id) {
		existed = true
		CachedRecords.Set(float64(s.cache.Len()))
	}

	dir := s.documentDir(id)
	if _, statErr := os.Stat(dir); statErr == nil {
		existed = true
		if err = os.RemoveAll(dir); err != nil {
			err = fmt.Errorf("%w: removing %s: %v", ErrPersistFailed, dir, err)
			return false, err
		}
	}

	if existed {
		s.logger.Info(ctx, "index deleted")
	}
	return existed, nil
}

// List enumerates persisted document identifiers, sorted, independent of
// what is currently cached.
func (s *Store) List(ctx context.Context) (ids []string, err error) {
	start := time.Now()
	defer func() { recordOperation("list", start, err) }()

	_, span := tracer.Start(ctx, "vectorstore.List")
	defer span.End()
	defer func() { spanStatus(span, err) }()

	entries, err := os.ReadDir(s.root)
	if err != nil {
		err = fmt.Errorf("%w: listing %s: %v", ErrLoadFailed, s.root, err)
		return nil, err
	}

	ids = make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() && docid.Valid(e.Name()) {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)

	span.SetAttributes(attribute.Int("count", len(ids)))
	return ids, nil
}

// Info loads the record for id and summarizes it.
func (s *Store) Info(ctx context.Context, id string) (Info, error) {
	rec, err := s.Load(ctx, id)
	if err != nil {
		return Info{}, err
	}
	return Info{
		DocumentID: rec.DocumentID,
		ChunkCount: rec.Index.Size(),
		Dimension:  rec.Index.Dimension(),
		Metric:     rec.Index.Metric().String(),
		Model:      rec.Model,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// embedAll embeds texts in bounded concurrent sub-batches, reassembled in
// the original chunk order. Zero texts yield zero vectors.
func (s *Store) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.embedConcurrency)
	for begin := 0; begin < len(texts); begin += s.embedBatchSize {
		begin := begin
		end := begin + s.embedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			batch, err := s.provider.EmbedDocuments(gctx, texts[begin:end])
			if err != nil {
				return err
			}
			if len(batch) != end-begin {
				return fmt.Errorf("%w: got %d embeddings for %d texts",
					embeddings.ErrEmbeddingFailed, len(batch), end-begin)
			}
			// Writing by offset restores original chunk alignment.
			copy(vectors[begin:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// persist writes rec's artifacts to a staging directory, then swaps it into
// place so concurrent readers only ever see a complete record.
func (s *Store) persist(rec *Record) error {
	sidecar, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	staging := filepath.Join(s.root, ".staging-"+rec.DocumentID+"-"+uuid.NewString())
	if err := os.MkdirAll(staging, 0700); err != nil {
		return fmt.Errorf("%w: creating staging dir: %v", ErrPersistFailed, err)
	}
	defer os.RemoveAll(staging)

	if err := writeFileSync(filepath.Join(staging, indexFileName), encodeIndex(rec.Index)); err != nil {
		return err
	}
	if err := writeFileSync(filepath.Join(staging, recordFileName), sidecar); err != nil {
		return err
	}

	return s.swapDir(staging, s.documentDir(rec.DocumentID))
}

// swapDir atomically replaces dst with src. An existing dst is parked in a
// trash directory first and restored if the swap fails.
func (s *Store) swapDir(src, dst string) error {
	trash := ""
	if _, err := os.Stat(dst); err == nil {
		trash = dst + ".trash-" + uuid.NewString()
		if err := os.Rename(dst, trash); err != nil {
			return fmt.Errorf("%w: parking previous record: %v", ErrPersistFailed, err)
		}
	}

	if err := os.Rename(src, dst); err != nil {
		if trash != "" {
			// Best effort: put the previous record back.
			_ = os.Rename(trash, dst)
		}
		return fmt.Errorf("%w: installing record: %v", ErrPersistFailed, err)
	}

	if trash != "" {
		_ = os.RemoveAll(trash)
	}
	return nil
}

// readRecord decodes both artifacts for id from disk.
func (s *Store) readRecord(id string) (*Record, error) {
	dir := s.documentDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("%w: %v", ErrLoadFailed, err)
	}

	indexData, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading index artifact: %v", ErrLoadFailed, err)
	}
	idx, err := decodeIndex(indexData)
	if err != nil {
		return nil, err
	}

	sidecarData, err := os.ReadFile(filepath.Join(dir, recordFileName))
	if err != nil {
		return nil, fmt.Errorf("%w: reading sidecar: %v", ErrLoadFailed, err)
	}
	rec, err := decodeRecord(sidecarData, idx)
	if err != nil {
		return nil, err
	}

	if rec.DocumentID != id {
		return nil, fmt.Errorf("%w: directory %q contains record for %q",
			ErrLoadFailed, id, rec.DocumentID)
	}
	return rec, nil
}

// lockKey acquires the per-document lock for id, creating the table entry
// on first use. Callers must release with unlockKey.
func (s *Store) lockKey(id string) *docLock {
	s.mu.Lock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &docLock{}
		s.locks[id] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// unlockKey releases the per-document lock and removes the table entry once
// no other operation holds or awaits it.
func (s *Store) unlockKey(id string, lock *docLock) {
	lock.mu.Unlock()

	s.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(s.locks, id)
	}
	s.mu.Unlock()
}

func (s *Store) documentDir(id string) string {
	return filepath.Join(s.root, id)
}

// cloneMetadata returns a shallow copy of m, preserving nil.
func cloneMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// writeFileSync writes data with owner-only permissions and fsyncs it.
func writeFileSync(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("%w: creating %s: %v", ErrPersistFailed, path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("%w: writing %s: %v", ErrPersistFailed, path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("%w: syncing %s: %v", ErrPersistFailed, path, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("%w: closing %s: %v", ErrPersistFailed, path, err)
	}
	return nil
}

// expandPath expands a leading ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// spanStatus marks span failed when err is non-nil.
func spanStatus(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}
