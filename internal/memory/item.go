package memory

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// ItemType is the taxonomy axis used for storage routing.
type ItemType string

const (
	TypeLongTerm      ItemType = "long_term"
	TypeProject       ItemType = "project"
	TypeTask          ItemType = "task"
	TypeChat          ItemType = "chat"
	TypeSession       ItemType = "session"
	TypeDocumentation ItemType = "documentation"
	TypeCode          ItemType = "code"
	TypeDependency    ItemType = "dependency"
	TypeConversation  ItemType = "conversation"
	TypeLearning      ItemType = "learning"
)

// AllTypes lists every valid item type, in routing order.
var AllTypes = []ItemType{
	TypeLongTerm,
	TypeProject,
	TypeTask,
	TypeChat,
	TypeSession,
	TypeDocumentation,
	TypeCode,
	TypeDependency,
	TypeConversation,
	TypeLearning,
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	for _, known := range AllTypes {
		if t == known {
			return true
		}
	}
	return false
}

// ItemSource is the provenance axis used for trust and priority weighting.
type ItemSource string

const (
	SourceUserInput            ItemSource = "user_input"
	SourceCodeAnalysis         ItemSource = "code_analysis"
	SourceDocumentation        ItemSource = "documentation"
	SourceErrorRecovery        ItemSource = "error_recovery"
	SourceSuccessPattern       ItemSource = "success_pattern"
	SourceFailurePattern       ItemSource = "failure_pattern"
	SourceFileSystem           ItemSource = "file_system"
	SourceToolUsage            ItemSource = "tool_usage"
	SourceConsolidatedLearning ItemSource = "consolidated_learning"
	SourceConversation         ItemSource = "conversation"
)

// AllSources lists every valid item source.
var AllSources = []ItemSource{
	SourceUserInput,
	SourceCodeAnalysis,
	SourceDocumentation,
	SourceErrorRecovery,
	SourceSuccessPattern,
	SourceFailurePattern,
	SourceFileSystem,
	SourceToolUsage,
	SourceConsolidatedLearning,
	SourceConversation,
}

// Valid reports whether s is a known item source.
func (s ItemSource) Valid() bool {
	for _, known := range AllSources {
		if s == known {
			return true
		}
	}
	return false
}

// FailureSourced reports whether s records a failed outcome. Both the raw
// error-recovery attempts and the mined failure patterns count.
func (s ItemSource) FailureSourced() bool {
	return s == SourceErrorRecovery || s == SourceFailurePattern
}

// Priority is a ranking tie-breaker and retention hint.
type Priority int

const (
	PriorityVeryLow Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityVeryLow:  "very_low",
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the wire name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "medium"
}

// ParsePriority converts a wire name back to a Priority. Unknown names map
// to PriorityMedium so that items written by newer versions stay readable.
func ParsePriority(name string) Priority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityMedium
}

// Validation sentinels raised synchronously for malformed input.
var (
	ErrEmptyID       = errors.New("memory: item id cannot be empty")
	ErrEmptyContent  = errors.New("memory: item content cannot be empty")
	ErrInvalidType   = errors.New("memory: unknown item type")
	ErrInvalidSource = errors.New("memory: unknown item source")
)

// Metadata keys shared across managers. Components that mine stored items
// (task strategy, technique extraction, long-term rescoring) key off these.
const (
	MetaAttempt       = "attempt"
	MetaSolution      = "solution"
	MetaTool          = "tool"
	MetaEffectiveness = "effectiveness"
	MetaStoredScore   = "relevance_score"

	// TagToolPrefix marks a tag as a tool-usage marker, e.g. "tool:grep".
	TagToolPrefix = "tool:"
)

// ContextItem is the unit of stored memory. Content may be chunked on write
// and reassembled on read by the store; callers always see whole items.
type ContextItem struct {
	ID             string
	Type           ItemType
	Source         ItemSource
	Content        string
	Metadata       map[string]any
	RelevanceScore float64
	Priority       Priority
	Timestamp      time.Time
	ExpiresAt      time.Time
	Tags           []string

	// Correlation keys linking the item to the domain entity that produced
	// it. Empty when not applicable.
	ProjectID string
	SessionID string
	TaskID    string
	ChatID    string
}

// NewItem creates an item with a generated id, the current timestamp and
// medium priority. The caller fills correlation keys and metadata.
func NewItem(typ ItemType, source ItemSource, content string) *ContextItem {
	return &ContextItem{
		ID:        uuid.New().String(),
		Type:      typ,
		Source:    source,
		Content:   content,
		Metadata:  make(map[string]any),
		Priority:  PriorityMedium,
		Timestamp: time.Now(),
	}
}

// Validate checks the fields a caller must supply before the item can be
// persisted. Violations are programming errors and raise synchronously.
func (it *ContextItem) Validate() error {
	if it.ID == "" {
		return ErrEmptyID
	}
	if !it.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, it.Type)
	}
	if !it.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidSource, it.Source)
	}
	if it.Content == "" {
		return ErrEmptyContent
	}
	return nil
}

// Expired reports whether the item's expiry has passed at the given instant.
// A zero ExpiresAt means the item never expires.
func (it *ContextItem) Expired(now time.Time) bool {
	return !it.ExpiresAt.IsZero() && it.ExpiresAt.Before(now)
}

// HasTag reports whether the item carries the given tag.
func (it *ContextItem) HasTag(tag string) bool {
	for _, t := range it.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy. Managers hand out clones so callers cannot
// mutate shared in-memory state.
func (it *ContextItem) Clone() *ContextItem {
	cp := *it
	if it.Metadata != nil {
		cp.Metadata = make(map[string]any, len(it.Metadata))
		for k, v := range it.Metadata {
			cp.Metadata[k] = v
		}
	}
	if it.Tags != nil {
		cp.Tags = append([]string(nil), it.Tags...)
	}
	return &cp
}

// MetadataFloat reads a numeric metadata value, accepting the numeric and
// string encodings that survive a storage round-trip.
func MetadataFloat(meta map[string]any, key string) (float64, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case string:
		if f, err := strconv.ParseFloat(t, 64); err == nil {
			return f, true
		}
	}
	return 0, false
}

// MetadataInt reads an integer metadata value under the same tolerance as
// MetadataFloat.
func MetadataInt(meta map[string]any, key string) (int, bool) {
	v, ok := meta[key]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n, true
		}
	}
	return 0, false
}
