// Package longterm accumulates learnings that outlive any single session.
//
// Every recorded experience folds into a LearningPattern keyed by a
// normalized hash of its category and text, so rephrased sightings of the
// same lesson strengthen one pattern instead of scattering. Raw experiences
// are also persisted as learning items, and patterns seen often enough are
// handed to the consolidator for distillation.
package longterm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/consolidator"
	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.longterm")

var (
	// ErrEmptyExperience indicates a learning with no text.
	ErrEmptyExperience = errors.New("longterm: experience cannot be empty")

	// ErrInvalidCategory indicates an unknown pattern category.
	ErrInvalidCategory = errors.New("longterm: unknown category")

	// ErrNoScheduler indicates a consolidation request on a manager built
	// without a scheduler.
	ErrNoScheduler = errors.New("longterm: no consolidation scheduler configured")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// defaultConsolidationThreshold is the pattern frequency at which
// consolidation becomes worthwhile.
const defaultConsolidationThreshold = 3

// Writer is the slice of the context store the manager persists through.
type Writer interface {
	Store(ctx context.Context, item *memory.ContextItem) error
}

// Retriever answers pattern queries. Satisfied by the retrieval engine.
type Retriever interface {
	Search(ctx context.Context, q *memory.Query) (*memory.SearchResult, error)
}

// Scheduler hands pattern batches to the consolidation pipeline.
type Scheduler interface {
	ScheduleConsolidation(ctx context.Context, items []*memory.ContextItem, jobType consolidator.JobType) (string, error)
}

// patternRecord pairs a pattern with the tags merged across its sightings.
type patternRecord struct {
	pattern *memory.LearningPattern
	tags    []string
}

// Manager owns the in-memory pattern cache and the learning write path.
// It doubles as the LearningRecorder the task manager and consolidator
// feed.
type Manager struct {
	store     Writer
	retriever Retriever
	scheduler Scheduler
	threshold int
	logger    *zap.Logger

	mu       sync.RWMutex
	patterns map[string]*patternRecord
}

var _ consolidator.LearningRecorder = (*Manager)(nil)

// Option configures a Manager.
type Option func(*Manager)

// WithScheduler wires the consolidation pipeline. Without it,
// ConsolidatePatterns returns ErrNoScheduler.
func WithScheduler(s Scheduler) Option {
	return func(m *Manager) {
		m.scheduler = s
	}
}

// WithConsolidationThreshold overrides the frequency a pattern needs before
// it is consolidated.
func WithConsolidationThreshold(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// NewManager creates a long-term memory manager. Store and retriever are
// required.
func NewManager(store Writer, retriever Retriever, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("longterm: store is required")
	}
	if retriever == nil {
		return nil, errors.New("longterm: retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		retriever: retriever,
		threshold: defaultConsolidationThreshold,
		logger:    logger,
		patterns:  make(map[string]*patternRecord),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// RecordLearning folds an experience into its pattern and persists the raw
// experience as a learning item. A first sighting creates the pattern at
// the baseline confidence; repeats raise frequency, merge tags and grow
// confidence. The returned pattern is a snapshot.
func (m *Manager) RecordLearning(ctx context.Context, experience string, category memory.PatternCategory, contextText, projectID string, tags []string) (*memory.LearningPattern, error) {
	ctx, span := tracer.Start(ctx, "LongTerm.RecordLearning")
	defer span.End()

	experience = strings.TrimSpace(experience)
	if experience == "" {
		return nil, ErrEmptyExperience
	}
	if !validCategory(category) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	key := patternKey(category, experience)
	now := timeNow()

	m.mu.Lock()
	rec, ok := m.patterns[key]
	if ok {
		rec.pattern.Observe(projectID, now)
		rec.tags = mergeTags(rec.tags, tags)
	} else {
		p := &memory.LearningPattern{
			ID:         key,
			Pattern:    experience,
			Category:   category,
			Frequency:  1,
			LastSeen:   now,
			Confidence: memory.NewPatternConfidence,
		}
		if projectID != "" {
			p.Projects = []string{projectID}
		}
		rec = &patternRecord{pattern: p, tags: mergeTags(nil, tags)}
		m.patterns[key] = rec
	}
	snapshot := rec.pattern.Clone()
	tracked := len(m.patterns)
	m.mu.Unlock()

	learningsRecorded.WithLabelValues(string(category)).Inc()
	patternsTracked.Set(float64(tracked))
	span.SetAttributes(
		attribute.String("category", string(category)),
		attribute.String("pattern_key", key),
		attribute.Int("frequency", snapshot.Frequency),
	)

	item := memory.NewItem(memory.TypeLearning, sourceForCategory(category), experience)
	item.ProjectID = projectID
	item.Timestamp = now
	item.Tags = append(mergeTags(nil, tags), string(category))
	item.Metadata["pattern_key"] = key
	item.Metadata["category"] = string(category)
	item.Metadata["frequency"] = snapshot.Frequency
	item.Metadata["confidence"] = snapshot.Confidence
	if contextText != "" {
		item.Metadata["context"] = contextText
	}
	m.persist(ctx, item)

	m.logger.Debug("learning recorded",
		zap.String("category", string(category)),
		zap.String("pattern_key", key),
		zap.Int("frequency", snapshot.Frequency),
		zap.Float64("confidence", snapshot.Confidence),
	)
	return snapshot, nil
}

// ConsolidatePatterns hands every pattern at or above the frequency
// threshold to the consolidator as one knowledge-distillation job. It
// returns how many patterns were scheduled; zero eligible patterns is not
// an error.
func (m *Manager) ConsolidatePatterns(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "LongTerm.ConsolidatePatterns")
	defer span.End()

	if m.scheduler == nil {
		return 0, ErrNoScheduler
	}

	m.mu.RLock()
	var items []*memory.ContextItem
	for key, rec := range m.patterns {
		if rec.pattern.Frequency < m.threshold {
			continue
		}
		items = append(items, patternItem(key, rec))
	}
	m.mu.RUnlock()

	span.SetAttributes(attribute.Int("patterns", len(items)))
	if len(items) == 0 {
		return 0, nil
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	jobID, err := m.scheduler.ScheduleConsolidation(ctx, items, consolidator.JobKnowledgeDistillation)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scheduling failed")
		return 0, fmt.Errorf("scheduling consolidation: %w", err)
	}
	consolidationsScheduled.Inc()

	m.logger.Info("patterns handed to consolidator",
		zap.Int("patterns", len(items)),
		zap.String("job_id", jobID),
	)
	return len(items), nil
}

// RelevantPatterns searches learned knowledge of every kind and re-scores
// hits for the given context.
func (m *Manager) RelevantPatterns(ctx context.Context, contextText string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "LongTerm.RelevantPatterns")
	defer span.End()
	items, err := m.searchPatterns(ctx, contextText, []memory.ItemSource{
		memory.SourceConsolidatedLearning,
		memory.SourceSuccessPattern,
		memory.SourceFailurePattern,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}

// SuccessPatterns searches success-sourced learnings only.
func (m *Manager) SuccessPatterns(ctx context.Context, contextText string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "LongTerm.SuccessPatterns")
	defer span.End()
	items, err := m.searchPatterns(ctx, contextText, []memory.ItemSource{memory.SourceSuccessPattern})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}

// FailurePatterns searches failure-sourced learnings only.
func (m *Manager) FailurePatterns(ctx context.Context, contextText string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "LongTerm.FailurePatterns")
	defer span.End()
	items, err := m.searchPatterns(ctx, contextText, []memory.ItemSource{memory.SourceFailurePattern})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}

// searchPatterns queries the retriever and applies the long-term boost
// pipeline on top of the base relevance.
func (m *Manager) searchPatterns(ctx context.Context, contextText string, sources []memory.ItemSource) ([]*memory.ContextItem, error) {
	result, err := m.retriever.Search(ctx, &memory.Query{
		Text:       contextText,
		Sources:    sources,
		MaxResults: memory.DefaultMaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("searching patterns: %w", err)
	}

	items := result.Items
	for _, it := range items {
		it.RelevanceScore = boostScore(it, contextText)
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RelevanceScore != items[j].RelevanceScore {
			return items[i].RelevanceScore > items[j].RelevanceScore
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
	return items, nil
}

// boostScore rewards distilled and proven knowledge: consolidated items,
// success-sourced items, high recorded effectiveness, multi-project reach
// and direct context overlap.
func boostScore(it *memory.ContextItem, contextText string) float64 {
	score := it.RelevanceScore
	switch it.Source {
	case memory.SourceConsolidatedLearning:
		score += 0.3
	case memory.SourceSuccessPattern:
		score += 0.2
	}
	if eff, ok := memory.MetadataFloat(it.Metadata, memory.MetaEffectiveness); ok && eff >= 0.7 {
		score += 0.2
	}
	if n, ok := memory.MetadataInt(it.Metadata, "project_count"); ok && n >= 2 {
		score += 0.15
	}
	if matchesContext(it.Content, contextText) {
		score += 0.2
	}
	return memory.ClampScore(score)
}

// matchesContext reports containment in either direction, case folded.
func matchesContext(content, contextText string) bool {
	text := strings.ToLower(strings.TrimSpace(contextText))
	if text == "" {
		return false
	}
	lower := strings.ToLower(content)
	return strings.Contains(lower, text) || strings.Contains(text, lower)
}

// Patterns returns snapshots of every tracked pattern, strongest first.
func (m *Manager) Patterns() []*memory.LearningPattern {
	m.mu.RLock()
	out := make([]*memory.LearningPattern, 0, len(m.patterns))
	for _, rec := range m.patterns {
		out = append(out, rec.pattern.Clone())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// PatternCount reports how many distinct patterns are tracked.
func (m *Manager) PatternCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.patterns)
}

// patternItem renders a pattern as a context item for the consolidator.
func patternItem(key string, rec *patternRecord) *memory.ContextItem {
	p := rec.pattern
	item := memory.NewItem(memory.TypeLearning, sourceForCategory(p.Category), p.Pattern)
	item.ID = "pattern_" + key
	item.RelevanceScore = p.Confidence
	item.Timestamp = p.LastSeen
	item.Tags = append(append([]string(nil), rec.tags...), string(p.Category))
	item.Metadata["pattern_key"] = key
	item.Metadata["category"] = string(p.Category)
	item.Metadata["frequency"] = p.Frequency
	item.Metadata["confidence"] = p.Confidence
	if len(p.Projects) > 0 {
		item.Metadata["projects"] = strings.Join(p.Projects, ",")
	}
	if len(p.Projects) == 1 {
		item.ProjectID = p.Projects[0]
	}
	return item
}

// persist absorbs storage failures: learning still happened in memory even
// when the write misses.
func (m *Manager) persist(ctx context.Context, item *memory.ContextItem) {
	if err := m.store.Store(ctx, item); err != nil {
		m.logger.Warn("storing learning item failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

// patternKey derives the cache key from the category and the normalized
// experience text, so case, punctuation and spacing differences collapse
// onto one pattern.
func patternKey(category memory.PatternCategory, experience string) string {
	hash := sha256.Sum256([]byte(string(category) + "|" + normalizeExperience(experience)))
	return hex.EncodeToString(hash[:])[:16]
}

// normalizeExperience lowercases, strips punctuation and collapses
// whitespace.
func normalizeExperience(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func validCategory(c memory.PatternCategory) bool {
	switch c {
	case memory.CategorySuccess, memory.CategoryFailure, memory.CategoryTechnique, memory.CategoryAntipattern:
		return true
	}
	return false
}

// sourceForCategory routes learnings to the source axis searches filter on.
func sourceForCategory(c memory.PatternCategory) memory.ItemSource {
	switch c {
	case memory.CategoryFailure, memory.CategoryAntipattern:
		return memory.SourceFailurePattern
	case memory.CategoryTechnique:
		return memory.SourceToolUsage
	default:
		return memory.SourceSuccessPattern
	}
}

// mergeTags unions tag lists preserving first-seen order, dropping empties.
func mergeTags(existing, incoming []string) []string {
	seen := make(map[string]struct{}, len(existing)+len(incoming))
	out := make([]string, 0, len(existing)+len(incoming))
	add := func(tags []string) {
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t == "" {
				continue
			}
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			out = append(out, t)
		}
	}
	add(existing)
	add(incoming)
	return out
}
