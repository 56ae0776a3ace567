package retrieval

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Documentation boosts.
const (
	documentationTypeBoost = 0.2
	docsTagBoost           = 0.1
	expandedTermBoost      = 0.1
)

// technicalTerms gate the documentation strategy: only queries that look
// like a lookup (APIs, usage, errors, configuration) trigger it.
var technicalTerms = []string{
	"api", "function", "method", "class", "interface", "module", "library",
	"package", "install", "usage", "example", "config", "configuration",
	"error", "exception", "syntax", "command", "flag", "option", "parameter",
	"documentation", "docs", "reference", "guide", "tutorial",
}

// languageHints map file extensions and language words found in a query to
// expansion terms that match how documentation items are written. Ordered
// so expansion is deterministic.
var languageHints = []struct {
	hint string
	term string
}{
	{".go", "golang"},
	{"golang", "golang"},
	{".py", "python"},
	{"python", "python"},
	{".js", "javascript"},
	{".ts", "typescript"},
	{".rs", "rust"},
	{"rust", "rust"},
	{".java", "java"},
	{".rb", "ruby"},
	{".sh", "shell"},
	{"bash", "shell"},
}

// DocumentationStrategy answers lookup-style queries. It expands the query
// with language and reference terms before delegating to the store, then
// boosts documentation-typed and docs-tagged items.
type DocumentationStrategy struct {
	store  Searcher
	logger *zap.Logger
}

var _ Strategy = (*DocumentationStrategy)(nil)

// NewDocumentationStrategy creates the documentation lookup strategy.
func NewDocumentationStrategy(store Searcher, logger *zap.Logger) *DocumentationStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentationStrategy{store: store, logger: logger}
}

func (s *DocumentationStrategy) Name() string { return "documentation" }

func (s *DocumentationStrategy) Priority() int { return documentationPriority }

// CanHandle reports true for queries containing technical lookup terms.
func (s *DocumentationStrategy) CanHandle(q *memory.Query) bool {
	if q.Text == "" {
		return false
	}
	lower := strings.ToLower(q.Text)
	for _, term := range technicalTerms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// Search expands the query and boosts documentation items.
func (s *DocumentationStrategy) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	expansions := expandQuery(q.Text)
	expanded := *q
	if len(expansions) > 0 {
		expanded.Text = q.Text + " " + strings.Join(expansions, " ")
	}

	items, err := s.store.Search(ctx, &expanded)
	if err != nil {
		return nil, err
	}

	expansionTokens := tokenize(strings.Join(expansions, " "))
	for _, item := range items {
		score := item.RelevanceScore
		if item.Type == memory.TypeDocumentation {
			score += documentationTypeBoost
		}
		if item.HasTag("docs") || item.HasTag("official-docs") || item.HasTag("documentation") {
			score += docsTagBoost
		}
		if len(expansionTokens) > 0 && termOverlap(expansionTokens, tokenize(item.Content)) > 0 {
			score += expandedTermBoost
		}
		item.RelevanceScore = memory.ClampScore(score)
	}

	sortRanked(items)
	return truncate(items, q.Limit()), nil
}

// expandQuery derives extra search terms from language hints in the query.
// The word "reference" rides along so documentation phrased as reference
// material ranks close.
func expandQuery(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var terms []string
	for _, lh := range languageHints {
		if strings.Contains(lower, lh.hint) && !seen[lh.term] {
			seen[lh.term] = true
			terms = append(terms, lh.term)
		}
	}
	if len(terms) > 0 {
		terms = append(terms, "reference")
	}
	return terms
}
