package retrieval

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Relevance re-scoring weights. The base score is the store's similarity;
// the bonuses are additive and the sum clamps to [0,1].
const (
	contentOverlapWeight = 0.3
	tagOverlapWeight     = 0.2
	priorityStepBonus    = 0.025
	recencyBonusMax      = 0.1
	typeMatchBonus       = 0.1

	relevanceRecencyWindow = 10 * 24 * time.Hour
)

// RelevanceStrategy is the general-purpose fallback. It always applies and
// re-scores store results by term overlap, tags, priority and freshness.
type RelevanceStrategy struct {
	store  Searcher
	logger *zap.Logger
}

var _ Strategy = (*RelevanceStrategy)(nil)

// NewRelevanceStrategy creates the fallback ranking strategy.
func NewRelevanceStrategy(store Searcher, logger *zap.Logger) *RelevanceStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelevanceStrategy{store: store, logger: logger}
}

func (s *RelevanceStrategy) Name() string { return "relevance" }

func (s *RelevanceStrategy) Priority() int { return relevancePriority }

// CanHandle always reports true; relevance is the strategy of last resort.
func (s *RelevanceStrategy) CanHandle(*memory.Query) bool { return true }

// Search re-scores store results for general queries.
func (s *RelevanceStrategy) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	items, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	queryTokens := tokenize(q.Text)
	now := time.Now()
	for _, item := range items {
		score := item.RelevanceScore
		if len(queryTokens) > 0 {
			score += contentOverlapWeight * termOverlap(queryTokens, tokenize(item.Content))
			score += tagOverlapWeight * termOverlap(queryTokens, tokenize(strings.Join(item.Tags, " ")))
		}
		score += priorityStepBonus * float64(item.Priority)
		score += recencyBonusMax * linearDecay(now.Sub(item.Timestamp), relevanceRecencyWindow, 0)
		if len(q.Types) > 0 && q.WantsType(item.Type) {
			score += typeMatchBonus
		}
		item.RelevanceScore = memory.ClampScore(score)
	}

	sortRanked(items)
	return truncate(items, q.Limit()), nil
}

// linearDecay maps an age onto [floor,1]: 1 at age zero, falling linearly
// to floor at the window edge and staying there.
func linearDecay(age, window time.Duration, floor float64) float64 {
	if age <= 0 {
		return 1
	}
	if age >= window {
		return floor
	}
	frac := float64(age) / float64(window)
	return 1 - (1-floor)*frac
}
