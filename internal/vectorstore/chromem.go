package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

var chromemTracer = otel.Tracer("memoryd.vectorstore.chromem")

// probeText seeds the cached embedding used to enumerate a collection. Any
// constant works; results of enumeration queries are never ranked.
const probeText = "memoryd"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the persistence directory. Empty runs fully in memory.
	Path string

	// Compress enables gzip compression of persisted documents.
	Compress bool

	// AddConcurrency bounds parallel embedding during AddDocuments.
	AddConcurrency int
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.AddConcurrency <= 0 {
		c.AddConcurrency = 4
	}
}

// ChromemStore is an embedded Store backed by chromem-go. It needs no
// external service, which makes it the development and test tier; the
// production tier is the remote QdrantStore.
type ChromemStore struct {
	db       *chromem.DB
	config   ChromemConfig
	embedder Embedder
	logger   *zap.Logger

	embedFunc chromem.EmbeddingFunc

	probeMu sync.Mutex
	probe   []float32
}

var _ Store = (*ChromemStore)(nil)

// NewChromemStore creates a chromem-backed store. The embedder is required;
// chromem embeds documents client-side through it.
func NewChromemStore(cfg ChromemConfig, embedder Embedder, logger *zap.Logger) (*ChromemStore, error) {
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		path, perr := expandPath(cfg.Path)
		if perr != nil {
			return nil, fmt.Errorf("expanding path %s: %w", cfg.Path, perr)
		}
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", path, err)
		}
		logger.Info("chromem store opened",
			zap.String("path", path),
			zap.Bool("compress", cfg.Compress),
		)
	} else {
		db = chromem.NewDB()
		logger.Info("chromem store opened in memory")
	}

	s := &ChromemStore{
		db:       db,
		config:   cfg,
		embedder: embedder,
		logger:   logger,
	}
	s.embedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return embedder.EmbedQuery(ctx, text)
	}
	return s, nil
}

// expandPath expands a leading ~ to the user home directory.
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

// EnsureCollection creates the collection if it does not exist.
func (s *ChromemStore) EnsureCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	_, err := s.db.GetOrCreateCollection(name, nil, s.embedFunc)
	if err != nil {
		return fmt.Errorf("ensuring collection %s: %w", name, err)
	}
	return nil
}

// Add upserts documents into a collection, creating it on first use.
func (s *ChromemStore) Add(ctx context.Context, collection string, docs []Document) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Add")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("document_count", len(docs)),
	)

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}

	col, err := s.db.GetOrCreateCollection(collection, nil, s.embedFunc)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("ensuring collection %s: %w", collection, err)
	}

	cdocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		cdocs[i] = chromem.Document{
			ID:       doc.ID,
			Content:  doc.Content,
			Metadata: doc.Metadata,
		}
	}

	if err := col.AddDocuments(ctx, cdocs, s.config.AddConcurrency); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents to %s: %w", collection, err)
	}

	s.logger.Debug("added documents",
		zap.String("collection", collection),
		zap.Int("count", len(docs)),
	)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Get enumerates documents matching the metadata filter. chromem has no
// listing API, so the collection is walked through a probe-embedding query
// sized to its document count and filtered in process.
func (s *ChromemStore) Get(ctx context.Context, collection string, where map[string]string, limit int) ([]Document, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	col := s.db.GetCollection(collection, s.embedFunc)
	if col == nil {
		return nil, nil
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}

	probe, err := s.probeEmbedding(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}

	results, err := col.QueryEmbedding(ctx, probe, total, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("enumerating %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(results))
	for _, res := range results {
		if !metadataMatches(res.Metadata, where) {
			continue
		}
		docs = append(docs, Document{
			ID:       res.ID,
			Content:  res.Content,
			Metadata: res.Metadata,
		})
		if limit > 0 && len(docs) >= limit {
			break
		}
	}
	return docs, nil
}

// Query performs similarity search. n is capped at the collection size;
// when a metadata filter shrinks the candidate set below n the query is
// retried with a halved limit until it fits.
func (s *ChromemStore) Query(ctx context.Context, collection, text string, n int, where map[string]string) ([]QueryResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Query")
	defer span.End()
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("n", n),
	)

	if text == "" {
		return nil, fmt.Errorf("%w: query text required", ErrInvalidConfig)
	}
	if err := ValidateCollectionName(collection); err != nil {
		return nil, err
	}
	col := s.db.GetCollection(collection, s.embedFunc)
	if col == nil {
		return nil, nil
	}

	limit := n
	if total := col.Count(); limit > total {
		limit = total
	}
	if limit <= 0 {
		return nil, nil
	}

	var (
		results []chromem.Result
		err     error
	)
	for limit >= 1 {
		results, err = col.Query(ctx, text, limit, where, nil)
		if err == nil {
			break
		}
		// A filter can shrink the candidate set below the requested limit.
		if strings.Contains(err.Error(), "nResults") {
			limit /= 2
			continue
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying %s: %w", collection, err)
	}
	if err != nil {
		return nil, nil
	}

	out := make([]QueryResult, len(results))
	for i, res := range results {
		out[i] = QueryResult{
			Document: Document{
				ID:       res.ID,
				Content:  res.Content,
				Metadata: res.Metadata,
			},
			Distance: 1 - res.Similarity,
		}
	}
	span.SetAttributes(attribute.Int("results", len(out)))
	span.SetStatus(codes.Ok, "")
	return out, nil
}

// Delete removes documents by id. Missing collections and ids are ignored.
func (s *ChromemStore) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := ValidateCollectionName(collection); err != nil {
		return err
	}
	col := s.db.GetCollection(collection, s.embedFunc)
	if col == nil {
		return nil
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("deleting from %s: %w", collection, err)
	}
	s.logger.Debug("deleted documents",
		zap.String("collection", collection),
		zap.Int("count", len(ids)),
	)
	return nil
}

// DeleteCollection removes a collection and all its documents.
func (s *ChromemStore) DeleteCollection(ctx context.Context, name string) error {
	if err := ValidateCollectionName(name); err != nil {
		return err
	}
	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("deleting collection %s: %w", name, err)
	}
	return nil
}

// ListCollections returns all collection names, sorted.
func (s *ChromemStore) ListCollections(ctx context.Context) ([]string, error) {
	cols := s.db.ListCollections()
	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Count returns the document count of a collection, zero when missing.
func (s *ChromemStore) Count(ctx context.Context, collection string) (int, error) {
	if err := ValidateCollectionName(collection); err != nil {
		return 0, err
	}
	col := s.db.GetCollection(collection, s.embedFunc)
	if col == nil {
		return 0, nil
	}
	return col.Count(), nil
}

// Heartbeat always succeeds; the embedded store has no connection to lose.
func (s *ChromemStore) Heartbeat(ctx context.Context) error {
	return nil
}

// Close releases nothing; chromem persists synchronously.
func (s *ChromemStore) Close() error {
	return nil
}

// probeEmbedding lazily embeds and caches the enumeration probe.
func (s *ChromemStore) probeEmbedding(ctx context.Context) ([]float32, error) {
	s.probeMu.Lock()
	defer s.probeMu.Unlock()
	if s.probe != nil {
		return s.probe, nil
	}
	emb, err := s.embedder.EmbedQuery(ctx, probeText)
	if err != nil {
		return nil, err
	}
	s.probe = emb
	return emb, nil
}

// metadataMatches reports whether metadata satisfies every filter entry.
func metadataMatches(metadata, where map[string]string) bool {
	for k, want := range where {
		if metadata[k] != want {
			return false
		}
	}
	return true
}
