package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

const (
	// Recency blending: the similarity score keeps 30% weight, freshness
	// takes 70%.
	recencyOriginalWeight = 0.3
	recencyFreshWeight    = 0.7

	// Freshness decays linearly from 1.0 to the floor across the window.
	recencyWindow = 7 * 24 * time.Hour
	recencyFloor  = 0.1
)

// RecencyStrategy favors fresh items. It applies when the query is scoped
// to a live working context (session, task or chat), where what just
// happened matters more than what matches best.
type RecencyStrategy struct {
	store  Searcher
	logger *zap.Logger
}

var _ Strategy = (*RecencyStrategy)(nil)

// NewRecencyStrategy creates the freshness-weighted strategy.
func NewRecencyStrategy(store Searcher, logger *zap.Logger) *RecencyStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecencyStrategy{store: store, logger: logger}
}

func (s *RecencyStrategy) Name() string { return "recency" }

func (s *RecencyStrategy) Priority() int { return recencyPriority }

// CanHandle reports true when a session, task or chat id scopes the query.
func (s *RecencyStrategy) CanHandle(q *memory.Query) bool {
	return q.SessionID != "" || q.TaskID != "" || q.ChatID != ""
}

// Search blends each item's similarity with its freshness.
func (s *RecencyStrategy) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	items, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	for _, item := range items {
		fresh := linearDecay(now.Sub(item.Timestamp), recencyWindow, recencyFloor)
		item.RelevanceScore = memory.ClampScore(
			recencyOriginalWeight*item.RelevanceScore + recencyFreshWeight*fresh,
		)
	}

	sortRanked(items)
	return truncate(items, q.Limit()), nil
}
