package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
	"github.com/fyrsmithlabs/memoryd/internal/secrets"
	"github.com/fyrsmithlabs/memoryd/internal/vectorstore"
)

var tracer = otel.Tracer("memoryd.store")

var (
	// ErrStoreWrite indicates a write that failed even after the
	// minimized-metadata retry.
	ErrStoreWrite = errors.New("store: write failed")

	// ErrItemNotFound indicates a lookup for an id with no stored chunks.
	ErrItemNotFound = errors.New("store: item not found")

	// ErrDegraded is returned by health checks while the store runs in
	// no-op mode.
	ErrDegraded = errors.New("store: operating in degraded no-op mode")

	// ErrNilBackend indicates construction without a vector store.
	ErrNilBackend = errors.New("store: backend is required")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Config holds store configuration.
type Config struct {
	// ChunkSize is the content length above which items are chunked.
	ChunkSize int

	// ChunkOverlap is the byte overlap between adjacent chunks.
	ChunkOverlap int

	// CacheEnabled turns on the reconstruction cache for GetByID.
	CacheEnabled bool

	// CacheMaxBytes bounds the cache by total content size. Default 32MB.
	CacheMaxBytes int64

	// HeartbeatTimeout bounds the startup connectivity probe. Default 5s.
	HeartbeatTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = DefaultChunkOverlap
	}
	if c.CacheMaxBytes <= 0 {
		c.CacheMaxBytes = 32 << 20
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 5 * time.Second
	}
}

// Stats aggregates item counts for observability.
type Stats struct {
	TotalItems   int
	TotalChunks  int
	ByCollection map[string]int
	ByType       map[string]int
	BySource     map[string]int
	Degraded     bool
}

// Store is the durable persistence tier for context items.
type Store struct {
	backend  vectorstore.Store
	scrubber secrets.Scrubber
	chunker  *Chunker
	cache    *ristretto.Cache
	logger   *zap.Logger
	config   Config

	// degraded is set once during construction and read-only afterwards.
	degraded bool
}

// New creates a Store over the given backend. If the backend fails its
// startup heartbeat the store degrades to a no-op mode: writes and
// searches silently do nothing so the calling agent keeps working without
// memory.
func New(cfg Config, backend vectorstore.Store, scrubber secrets.Scrubber, logger *zap.Logger) (*Store, error) {
	if backend == nil {
		return nil, ErrNilBackend
	}
	if scrubber == nil {
		scrubber = &secrets.NoopScrubber{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	s := &Store{
		backend:  backend,
		scrubber: scrubber,
		chunker:  NewChunker(cfg.ChunkSize, cfg.ChunkOverlap),
		logger:   logger,
		config:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HeartbeatTimeout)
	defer cancel()
	if err := backend.Heartbeat(ctx); err != nil {
		vectorstore.RecordHeartbeat(err)
		logger.Warn("vector store unreachable, memory degraded to no-op mode",
			zap.Error(err),
		)
		s.backend = vectorstore.NewNoopStore()
		s.degraded = true
		return s, nil
	}
	vectorstore.RecordHeartbeat(nil)

	for _, col := range AllCollections {
		if err := s.backend.EnsureCollection(ctx, col); err != nil {
			logger.Warn("ensuring collection failed",
				zap.String("collection", col),
				zap.Error(err),
			)
		}
	}

	if cfg.CacheEnabled {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: 10_000,
			MaxCost:     cfg.CacheMaxBytes,
			BufferItems: 64,
		})
		if err != nil {
			return nil, fmt.Errorf("creating item cache: %w", err)
		}
		s.cache = cache
	}

	return s, nil
}

// Degraded reports whether the store is running in no-op mode.
func (s *Store) Degraded() bool {
	return s.degraded
}

// Store persists an item, chunking oversized content. Secrets are redacted
// before anything reaches the backend. A write failure is retried once
// with minimized metadata before propagating as ErrStoreWrite.
func (s *Store) Store(ctx context.Context, item *memory.ContextItem) error {
	ctx, span := tracer.Start(ctx, "Store.Store")
	defer span.End()

	if err := item.Validate(); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("item_id", item.ID),
		attribute.String("type", string(item.Type)),
	)
	if s.degraded {
		return nil
	}

	content := item.Content
	if s.scrubber.IsEnabled() {
		result, err := s.scrubber.Scrub(content)
		if err != nil {
			s.logger.Warn("secret scrubbing failed, storing unscrubbed",
				zap.String("item_id", item.ID),
				zap.Error(err),
			)
		} else {
			if result.TotalFindings > 0 {
				s.logger.Info("redacted secrets from item",
					zap.String("item_id", item.ID),
					zap.Int("findings", result.TotalFindings),
				)
			}
			content = result.Scrubbed
		}
	}

	chunks := s.chunker.Split(content)
	docs := encodeDocuments(item, chunks)
	collection := CollectionFor(item.Type, item.Source)
	span.SetAttributes(
		attribute.String("collection", collection),
		attribute.Int("chunks", len(chunks)),
	)

	if err := s.backend.Add(ctx, collection, docs); err != nil {
		writeRetries.Inc()
		s.logger.Warn("write failed, retrying with minimized metadata",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
		if err := s.backend.Add(ctx, collection, minimizeDocuments(docs)); err != nil {
			writeFailures.Inc()
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("%w: item %s: %v", ErrStoreWrite, item.ID, err)
		}
	}

	itemsStored.WithLabelValues(collection).Inc()
	s.cacheDel(item.ID)
	span.SetStatus(codes.Ok, "")
	return nil
}

// Update replaces an item: delete of every chunk sharing the id, then a
// fresh store. Not atomic; a crash in between loses the item until its
// source event recreates it.
func (s *Store) Update(ctx context.Context, item *memory.ContextItem) error {
	if err := item.Validate(); err != nil {
		return err
	}
	if err := s.Remove(ctx, item.ID); err != nil {
		return err
	}
	return s.Store(ctx, item)
}

// Remove deletes every chunk of an item across all collections. A miss is
// logged, not an error, so deletes are idempotent.
func (s *Store) Remove(ctx context.Context, id string) error {
	ctx, span := tracer.Start(ctx, "Store.Remove")
	defer span.End()
	span.SetAttributes(attribute.String("item_id", id))

	if id == "" {
		return memory.ErrEmptyID
	}
	if s.degraded {
		return nil
	}

	removed := 0
	for _, col := range AllCollections {
		docs, err := s.backend.Get(ctx, col, map[string]string{metaKeyOriginalID: id}, 0)
		if err != nil {
			s.logger.Warn("chunk lookup failed during remove",
				zap.String("collection", col),
				zap.String("item_id", id),
				zap.Error(err),
			)
			continue
		}
		if len(docs) == 0 {
			continue
		}
		ids := make([]string, len(docs))
		for i, doc := range docs {
			ids[i] = doc.ID
		}
		if err := s.backend.Delete(ctx, col, ids...); err != nil {
			s.logger.Warn("chunk delete failed",
				zap.String("collection", col),
				zap.String("item_id", id),
				zap.Error(err),
			)
			continue
		}
		removed += len(ids)
	}

	if removed == 0 {
		s.logger.Debug("remove found no chunks", zap.String("item_id", id))
	}
	s.cacheDel(id)
	span.SetAttributes(attribute.Int("chunks_removed", removed))
	return nil
}

// candidate accumulates the chunks of one logical item during a search.
type candidate struct {
	collection string
	docs       []chunkedDoc
	score      float64
	scored     bool
}

// Search runs a query across the candidate collections, reconstructs one
// logical item per original id, filters, scores, sorts and truncates.
// Backend failures degrade to partial or empty results, never an error;
// only a malformed query errors.
func (s *Store) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	start := timeNow()
	searchesTotal.Inc()
	defer func() {
		searchDuration.Observe(time.Since(start).Seconds())
	}()

	ctx, span := tracer.Start(ctx, "Store.Search")
	defer span.End()

	if q == nil {
		q = &memory.Query{}
	}
	if s.degraded {
		return nil, nil
	}

	cols := CollectionsForTypes(q.Types)
	span.SetAttributes(
		attribute.Bool("has_text", q.Text != ""),
		attribute.Int("collections", len(cols)),
	)

	candidates := make(map[string]*candidate)
	for _, col := range cols {
		if q.Text != "" {
			s.gatherBySimilarity(ctx, col, q, candidates)
		} else {
			s.gatherByMetadata(ctx, col, q, candidates)
		}
	}
	s.completeChunkSets(ctx, candidates)

	now := timeNow()
	items := make([]*memory.ContextItem, 0, len(candidates))
	for _, cand := range candidates {
		item := decodeItem(s.chunker, cand.docs)
		if item == nil {
			continue
		}
		if pinned, ok := pinnedScore(item); ok {
			item.RelevanceScore = pinned
		} else if cand.scored {
			item.RelevanceScore = cand.score
		}
		if !s.matchesQuery(item, q, now) {
			continue
		}
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RelevanceScore != items[j].RelevanceScore {
			return items[i].RelevanceScore > items[j].RelevanceScore
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	if limit := q.Limit(); len(items) > limit {
		items = items[:limit]
	}

	span.SetAttributes(attribute.Int("results", len(items)))
	span.SetStatus(codes.Ok, "")
	return items, nil
}

// gatherBySimilarity collects chunk candidates via content similarity. The
// per-collection fetch size is padded well past the result limit because
// chunk deduplication and filtering shrink the set.
func (s *Store) gatherBySimilarity(ctx context.Context, col string, q *memory.Query, candidates map[string]*candidate) {
	results, err := s.backend.Query(ctx, col, q.Text, fetchSize(q.Limit()), nil)
	if err != nil {
		s.logger.Warn("similarity search failed",
			zap.String("collection", col),
			zap.Error(err),
		)
		return
	}
	for _, res := range results {
		cd := parseChunkedDoc(res.Document)
		relevance := memory.ClampScore(1 - float64(res.Distance))
		cand, ok := candidates[cd.originalID]
		if !ok {
			cand = &candidate{collection: col}
			candidates[cd.originalID] = cand
		}
		cand.docs = append(cand.docs, cd)
		if !cand.scored || relevance > cand.score {
			cand.score = relevance
			cand.scored = true
		}
	}
}

// gatherByMetadata collects chunk candidates by pure metadata filtering.
// Correlation keys are pushed down to the backend; everything else is
// filtered after reconstruction.
func (s *Store) gatherByMetadata(ctx context.Context, col string, q *memory.Query, candidates map[string]*candidate) {
	where := make(map[string]string)
	if q.ProjectID != "" {
		where[metaKeyProjectID] = q.ProjectID
	}
	if q.SessionID != "" {
		where[metaKeySessionID] = q.SessionID
	}
	if q.TaskID != "" {
		where[metaKeyTaskID] = q.TaskID
	}
	if q.ChatID != "" {
		where[metaKeyChatID] = q.ChatID
	}
	if len(where) == 0 {
		where = nil
	}

	docs, err := s.backend.Get(ctx, col, where, 0)
	if err != nil {
		s.logger.Warn("metadata search failed",
			zap.String("collection", col),
			zap.Error(err),
		)
		return
	}
	for _, doc := range docs {
		cd := parseChunkedDoc(doc)
		cand, ok := candidates[cd.originalID]
		if !ok {
			cand = &candidate{collection: col}
			candidates[cd.originalID] = cand
		}
		cand.docs = append(cand.docs, cd)
	}
}

// completeChunkSets fetches the chunks a similarity search missed. A query
// returns the best-matching chunks, not necessarily all chunks of an item;
// reconstruction needs the full set.
func (s *Store) completeChunkSets(ctx context.Context, candidates map[string]*candidate) {
	for id, cand := range candidates {
		if len(cand.docs) == 0 {
			continue
		}
		total := cand.docs[0].chunk.Total
		if total <= len(uniqueChunkIndexes(cand.docs)) {
			continue
		}
		docs, err := s.backend.Get(ctx, cand.collection, map[string]string{metaKeyOriginalID: id}, 0)
		if err != nil || len(docs) == 0 {
			// Keep the partial set; a truncated item beats a lost one.
			continue
		}
		full := make([]chunkedDoc, 0, len(docs))
		for _, doc := range docs {
			full = append(full, parseChunkedDoc(doc))
		}
		cand.docs = full
	}
}

func uniqueChunkIndexes(docs []chunkedDoc) map[int]bool {
	seen := make(map[int]bool, len(docs))
	for _, cd := range docs {
		seen[cd.chunk.Index] = true
	}
	return seen
}

// matchesQuery applies the post-reconstruction filters, including the
// expiry invariant: an expired item is never returned.
func (s *Store) matchesQuery(item *memory.ContextItem, q *memory.Query, now time.Time) bool {
	if item.Expired(now) {
		return false
	}
	if !q.WantsType(item.Type) {
		return false
	}
	if len(q.Sources) > 0 {
		found := false
		for _, src := range q.Sources {
			if item.Source == src {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.ProjectID != "" && item.ProjectID != q.ProjectID {
		return false
	}
	if q.SessionID != "" && item.SessionID != q.SessionID {
		return false
	}
	if q.TaskID != "" && item.TaskID != q.TaskID {
		return false
	}
	if q.ChatID != "" && item.ChatID != q.ChatID {
		return false
	}
	if len(q.Tags) > 0 {
		found := false
		for _, tag := range q.Tags {
			if item.HasTag(tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.MinRelevance > 0 && item.RelevanceScore < q.MinRelevance {
		return false
	}
	if item.Priority < q.MinPriority {
		return false
	}
	if !q.Since.IsZero() && item.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && item.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// GetByID reconstructs one item by its logical id. Expired items are
// treated as not found, matching the search expiry invariant.
func (s *Store) GetByID(ctx context.Context, id string) (*memory.ContextItem, error) {
	if id == "" {
		return nil, memory.ErrEmptyID
	}
	if s.degraded {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}

	if s.cache != nil {
		if cached, ok := s.cache.Get(id); ok {
			cacheHits.Inc()
			return cached.(*memory.ContextItem).Clone(), nil
		}
		cacheMisses.Inc()
	}

	for _, col := range AllCollections {
		docs, err := s.backend.Get(ctx, col, map[string]string{metaKeyOriginalID: id}, 0)
		if err != nil {
			s.logger.Warn("chunk lookup failed",
				zap.String("collection", col),
				zap.String("item_id", id),
				zap.Error(err),
			)
			continue
		}
		if len(docs) == 0 {
			continue
		}
		cds := make([]chunkedDoc, 0, len(docs))
		for _, doc := range docs {
			cds = append(cds, parseChunkedDoc(doc))
		}
		item := decodeItem(s.chunker, cds)
		if item == nil || item.Expired(timeNow()) {
			break
		}
		if pinned, ok := pinnedScore(item); ok {
			item.RelevanceScore = pinned
		}
		if s.cache != nil {
			s.cache.Set(id, item.Clone(), int64(len(item.Content)))
		}
		return item, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
}

// Cleanup deletes every chunk whose expiry has passed, across all
// collections. Returns the number of chunks removed.
func (s *Store) Cleanup(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "Store.Cleanup")
	defer span.End()

	if s.degraded {
		return 0, nil
	}
	now := timeNow()
	removed := 0

	for _, col := range AllCollections {
		docs, err := s.backend.Get(ctx, col, nil, 0)
		if err != nil {
			s.logger.Warn("cleanup enumeration failed",
				zap.String("collection", col),
				zap.Error(err),
			)
			continue
		}
		var expired []string
		for _, doc := range docs {
			exp := doc.Metadata[metaKeyExpiresAt]
			if exp == "" {
				continue
			}
			parsed, err := time.Parse(time.RFC3339Nano, exp)
			if err != nil {
				continue
			}
			if parsed.Before(now) {
				expired = append(expired, doc.ID)
				s.cacheDel(doc.Metadata[metaKeyOriginalID])
			}
		}
		if len(expired) == 0 {
			continue
		}
		if err := s.backend.Delete(ctx, col, expired...); err != nil {
			s.logger.Warn("cleanup delete failed",
				zap.String("collection", col),
				zap.Error(err),
			)
			continue
		}
		removed += len(expired)
	}

	expiredRemoved.Add(float64(removed))
	span.SetAttributes(attribute.Int("chunks_removed", removed))
	s.logger.Info("cleanup complete", zap.Int("chunks_removed", removed))
	return removed, nil
}

// Stats aggregates item counts by collection, type and source. Logical
// items are counted once regardless of chunk count.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByCollection: make(map[string]int),
		ByType:       make(map[string]int),
		BySource:     make(map[string]int),
		Degraded:     s.degraded,
	}
	if s.degraded {
		return stats, nil
	}

	for _, col := range AllCollections {
		count, err := s.backend.Count(ctx, col)
		if err != nil {
			s.logger.Warn("count failed",
				zap.String("collection", col),
				zap.Error(err),
			)
			continue
		}
		stats.ByCollection[col] = count
		stats.TotalChunks += count
		vectorstore.RecordCollectionSize(col, count)

		if count == 0 {
			continue
		}
		docs, err := s.backend.Get(ctx, col, nil, 0)
		if err != nil {
			continue
		}
		for _, doc := range docs {
			if parseIntOr(doc.Metadata[metaKeyChunkIndex], 0) != 0 {
				continue
			}
			stats.TotalItems++
			stats.ByType[doc.Metadata[metaKeyType]]++
			stats.BySource[doc.Metadata[metaKeySource]]++
		}
	}
	return stats, nil
}

// HealthCheck probes the backend. A degraded store reports ErrDegraded;
// liveness of the no-op backend is not health.
func (s *Store) HealthCheck(ctx context.Context) error {
	if s.degraded {
		return ErrDegraded
	}
	err := s.backend.Heartbeat(ctx)
	vectorstore.RecordHeartbeat(err)
	return err
}

// Close releases the cache and the backend connection.
func (s *Store) Close() error {
	if s.cache != nil {
		s.cache.Close()
	}
	return s.backend.Close()
}

func (s *Store) cacheDel(id string) {
	if s.cache != nil && id != "" {
		s.cache.Del(id)
	}
}

// fetchSize pads the per-collection fetch so chunk deduplication and
// post-filtering still leave enough logical items.
func fetchSize(limit int) int {
	n := limit * 5
	if n < 25 {
		n = 25
	}
	if n > 100 {
		n = 100
	}
	return n
}
