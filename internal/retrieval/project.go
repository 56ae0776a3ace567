package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Project scoping boosts.
const (
	sameProjectBoost     = 0.4
	projectTypeBoost     = 0.3
	longTermTypeBoost    = 0.2
	architectureTagBoost = 0.1
)

// architectureTagTerms mark tags that describe project structure.
var architectureTagTerms = []string{"project", "architecture", "pattern"}

// ProjectStrategy surfaces project-level knowledge: architecture notes,
// conventions and long-term patterns scoped to the project at hand.
type ProjectStrategy struct {
	store  Searcher
	logger *zap.Logger
}

var _ Strategy = (*ProjectStrategy)(nil)

// NewProjectStrategy creates the project-scoped strategy.
func NewProjectStrategy(store Searcher, logger *zap.Logger) *ProjectStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProjectStrategy{store: store, logger: logger}
}

func (s *ProjectStrategy) Name() string { return "project" }

func (s *ProjectStrategy) Priority() int { return projectPriority }

// CanHandle reports true when the query names a project or asks for
// project-typed items.
func (s *ProjectStrategy) CanHandle(q *memory.Query) bool {
	if q.ProjectID != "" {
		return true
	}
	for _, t := range q.Types {
		if t == memory.TypeProject {
			return true
		}
	}
	return false
}

// Search boosts items belonging to the current project and items that
// describe project structure. The fetch deliberately drops the project
// filter: knowledge from other projects stays reachable, it just ranks
// below the current project's.
func (s *ProjectStrategy) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	broad := *q
	broad.ProjectID = ""
	items, err := s.store.Search(ctx, &broad)
	if err != nil {
		return nil, err
	}

	for _, item := range items {
		score := item.RelevanceScore
		if q.ProjectID != "" && item.ProjectID == q.ProjectID {
			score += sameProjectBoost
		}
		switch item.Type {
		case memory.TypeProject:
			score += projectTypeBoost
		case memory.TypeLongTerm:
			score += longTermTypeBoost
		}
		for _, tag := range item.Tags {
			if tagMentionsArchitecture(tag) {
				score += architectureTagBoost
			}
		}
		item.RelevanceScore = memory.ClampScore(score)
	}

	sortRanked(items)
	return truncate(items, q.Limit()), nil
}

func tagMentionsArchitecture(tag string) bool {
	tag = strings.ToLower(tag)
	for _, term := range architectureTagTerms {
		if strings.Contains(tag, term) {
			return true
		}
	}
	return false
}
