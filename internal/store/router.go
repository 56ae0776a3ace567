package store

import "github.com/fyrsmithlabs/memoryd/internal/memory"

// Topic collections. Every item type maps deterministically to exactly one
// collection; consolidated learnings land in the learning collection
// regardless of type so distilled knowledge stays in one place.
const (
	CollectionCode          = "code_context"
	CollectionTask          = "task_context"
	CollectionConversation  = "conversation_context"
	CollectionProject       = "project_context"
	CollectionLearning      = "learning_context"
	CollectionDocumentation = "documentation_context"
	CollectionGeneral       = "general_context"
)

// AllCollections lists every collection the store writes to.
var AllCollections = []string{
	CollectionCode,
	CollectionTask,
	CollectionConversation,
	CollectionProject,
	CollectionLearning,
	CollectionDocumentation,
	CollectionGeneral,
}

// CollectionFor routes an item to its collection by type and source.
func CollectionFor(t memory.ItemType, s memory.ItemSource) string {
	if s == memory.SourceConsolidatedLearning {
		return CollectionLearning
	}
	switch t {
	case memory.TypeCode, memory.TypeDependency:
		return CollectionCode
	case memory.TypeTask:
		return CollectionTask
	case memory.TypeChat, memory.TypeConversation, memory.TypeSession:
		return CollectionConversation
	case memory.TypeProject:
		return CollectionProject
	case memory.TypeLongTerm, memory.TypeLearning:
		return CollectionLearning
	case memory.TypeDocumentation:
		return CollectionDocumentation
	default:
		return CollectionGeneral
	}
}

// CollectionsForTypes returns the candidate collections for a type filter.
// An empty filter means every collection. The result preserves routing
// order and contains no duplicates.
func CollectionsForTypes(types []memory.ItemType) []string {
	if len(types) == 0 {
		return AllCollections
	}
	seen := make(map[string]bool, len(types))
	cols := make([]string, 0, len(types))
	for _, t := range types {
		// A type filter cannot know the source, so route source-neutral.
		col := CollectionFor(t, "")
		if !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}
	// Consolidated learnings are routed by source, so they can match any
	// requested type while living in the learning collection.
	if !seen[CollectionLearning] {
		cols = append(cols, CollectionLearning)
	}
	return cols
}
