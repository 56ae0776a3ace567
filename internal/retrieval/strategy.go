package retrieval

import (
	"context"
	"sort"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Strategy priorities. Higher wins when more than one strategy can handle
// a query; ties break by registration order.
const (
	taskPriority          = 50
	projectPriority       = 40
	recencyPriority       = 30
	documentationPriority = 20
	relevancePriority     = 10
)

// Searcher is the slice of the context store the strategies consume.
type Searcher interface {
	Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error)
}

// Strategy is one pluggable ranking policy.
type Strategy interface {
	// Name identifies the strategy in results and metrics.
	Name() string

	// Priority orders strategy selection; higher wins.
	Priority() int

	// CanHandle reports whether this strategy applies to the query.
	CanHandle(q *memory.Query) bool

	// Search retrieves and re-scores items for the query. Returned items
	// are owned by the caller; scores are clamped to [0,1].
	Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error)
}

// sortRanked orders items by score, newest first on ties.
func sortRanked(items []*memory.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RelevanceScore != items[j].RelevanceScore {
			return items[i].RelevanceScore > items[j].RelevanceScore
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}

// truncate caps a ranked list at the query limit.
func truncate(items []*memory.ContextItem, limit int) []*memory.ContextItem {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
