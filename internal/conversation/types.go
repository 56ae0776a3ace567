// Package conversation tracks live chat sessions: ordered turns, a running
// intent histogram, an entity-mention index, and a topic stack. One session
// is active per chat id; ending a session writes a narrative summary item
// and evicts the in-memory state.
package conversation

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Human reports whether the role is the human participant. Human turns are
// seeded with a higher pinned relevance when persisted.
func (r Role) Human() bool {
	return r == RoleHuman
}

// Intent classifies what a turn is trying to do.
type Intent string

const (
	IntentQuestion  Intent = "question"
	IntentCommand   Intent = "command"
	IntentFeedback  Intent = "feedback"
	IntentStatement Intent = "statement"
)

// Message is one incoming chat turn. Intent and Entities are optional; the
// manager classifies and extracts them when absent.
type Message struct {
	Role     Role
	Content  string
	Intent   Intent
	Entities []string

	// Timestamp defaults to now when zero.
	Timestamp time.Time
}

// Turn is a recorded message with its position in the session.
type Turn struct {
	Index     int
	Role      Role
	Content   string
	Intent    Intent
	Entities  []string
	Timestamp time.Time
}

// SessionMetrics are derived on demand from in-memory state. They are never
// persisted as items; only the end-of-session narrative summary is.
type SessionMetrics struct {
	ChatID       string
	Messages     int
	HumanShare   float64
	Engagement   float64
	Coherence    float64
	Duration     time.Duration
	Topics       []string
	Intents      map[Intent]int
	TopEntities  []string
	LastActivity time.Time
}
