package memory

import "time"

// DefaultMaxResults bounds a search when the query does not say otherwise.
const DefaultMaxResults = 10

// Query describes one retrieval request. Zero values mean "no filter".
type Query struct {
	// Text is the free-text portion. Empty text turns the search into pure
	// metadata filtering.
	Text string

	Types   []ItemType
	Sources []ItemSource

	ProjectID string
	SessionID string
	TaskID    string
	ChatID    string

	Tags []string

	MinRelevance float64
	MinPriority  Priority

	// Since/Until bound the item timestamp. Zero means unbounded.
	Since time.Time
	Until time.Time

	MaxResults int
}

// Limit returns the effective result cap.
func (q *Query) Limit() int {
	if q.MaxResults <= 0 {
		return DefaultMaxResults
	}
	return q.MaxResults
}

// WantsType reports whether the query requests the given item type.
// An empty type list matches every type.
func (q *Query) WantsType(t ItemType) bool {
	if len(q.Types) == 0 {
		return true
	}
	for _, want := range q.Types {
		if want == t {
			return true
		}
	}
	return false
}

// HasCorrelation reports whether any correlation key is set.
func (q *Query) HasCorrelation() bool {
	return q.ProjectID != "" || q.SessionID != "" || q.TaskID != "" || q.ChatID != ""
}

// SearchResult is the ranked answer to a Query.
type SearchResult struct {
	Items      []*ContextItem
	TotalCount int

	// Strategy names the ranking strategy (or strategies, comma-joined for
	// blended results) that produced the ordering.
	Strategy string

	SearchTime time.Duration
}
