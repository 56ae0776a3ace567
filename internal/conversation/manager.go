package conversation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.conversation")

var (
	// ErrSessionNotFound indicates an operation on a chat id with no
	// active session.
	ErrSessionNotFound = errors.New("conversation: session not found")

	// ErrEmptyChatID indicates a call without a chat id.
	ErrEmptyChatID = errors.New("conversation: chat id cannot be empty")

	// ErrEmptyMessage indicates a message with no content.
	ErrEmptyMessage = errors.New("conversation: message content cannot be empty")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Pinned relevance seeds for persisted turns. Human turns matter more on
// recall than the assistant's own output.
const (
	humanTurnScore   = 0.8
	machineTurnScore = 0.5
)

// topEntityCount bounds the entity list reported by Metrics.
const topEntityCount = 5

// Writer is the slice of the context store the manager writes through.
type Writer interface {
	Store(ctx context.Context, item *memory.ContextItem) error
}

// Retriever answers recall queries. Satisfied by the retrieval engine.
type Retriever interface {
	Search(ctx context.Context, q *memory.Query) (*memory.SearchResult, error)
}

type session struct {
	chatID       string
	sessionID    string
	startedAt    time.Time
	lastActivity time.Time
	turns        []Turn
	intents      map[Intent]int
	entities     map[string]int
	topics       []string
}

func (s *session) currentTopic() string {
	if len(s.topics) == 0 {
		return ""
	}
	return s.topics[len(s.topics)-1]
}

func (s *session) humanTurns() int {
	n := 0
	for _, t := range s.turns {
		if t.Role.Human() {
			n++
		}
	}
	return n
}

// Manager owns the active sessions and their persistence.
type Manager struct {
	store     Writer
	retriever Retriever
	extractor *Extractor
	projectID string
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithProjectID stamps every item the manager writes with the given
// project correlation key.
func WithProjectID(id string) Option {
	return func(m *Manager) {
		m.projectID = id
	}
}

// NewManager creates a conversation manager. Store and retriever are
// required.
func NewManager(store Writer, retriever Retriever, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("conversation: store is required")
	}
	if retriever == nil {
		return nil, errors.New("conversation: retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		retriever: retriever,
		extractor: NewExtractor(),
		logger:    logger,
		sessions:  make(map[string]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// AddMessage appends a turn to the chat's active session, creating the
// session on first use. The turn is persisted as a conversation item and
// the session metadata item is refreshed with the new message count,
// last-activity time and turn list.
func (m *Manager) AddMessage(ctx context.Context, chatID string, msg Message) (Turn, error) {
	ctx, span := tracer.Start(ctx, "Conversation.AddMessage")
	defer span.End()

	if chatID == "" {
		return Turn{}, ErrEmptyChatID
	}
	if strings.TrimSpace(msg.Content) == "" {
		return Turn{}, ErrEmptyMessage
	}
	span.SetAttributes(attribute.String("chat_id", chatID))

	if msg.Role == "" {
		msg.Role = RoleHuman
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = timeNow()
	}
	if msg.Intent == "" {
		msg.Intent = m.extractor.Intent(msg.Content)
	}
	if msg.Entities == nil {
		msg.Entities = m.extractor.Entities(msg.Content)
	}

	m.mu.Lock()
	sess, ok := m.sessions[chatID]
	if !ok {
		sess = &session{
			chatID:    chatID,
			sessionID: uuid.New().String(),
			startedAt: msg.Timestamp,
			intents:   make(map[Intent]int),
			entities:  make(map[string]int),
		}
		m.sessions[chatID] = sess
		sessionsStarted.Inc()
	}
	turn := Turn{
		Index:     len(sess.turns) + 1,
		Role:      msg.Role,
		Content:   msg.Content,
		Intent:    msg.Intent,
		Entities:  msg.Entities,
		Timestamp: msg.Timestamp,
	}
	sess.turns = append(sess.turns, turn)
	sess.lastActivity = msg.Timestamp
	sess.intents[msg.Intent]++
	for _, entity := range msg.Entities {
		sess.entities[entity]++
	}
	if len(msg.Entities) > 0 && msg.Entities[0] != sess.currentTopic() {
		sess.topics = append(sess.topics, msg.Entities[0])
	}
	sessionID := sess.sessionID
	messageCount := len(sess.turns)
	topic := sess.currentTopic()
	startedAt := sess.startedAt
	m.mu.Unlock()

	messagesRecorded.WithLabelValues(string(msg.Role)).Inc()

	m.persist(ctx, m.turnItem(chatID, sessionID, turn))
	m.persist(ctx, m.sessionItem(chatID, sessionID, messageCount, topic, startedAt, msg.Timestamp))
	return turn, nil
}

// turnItem builds the persisted form of one turn. Human turns carry a
// higher pinned relevance score.
func (m *Manager) turnItem(chatID, sessionID string, turn Turn) *memory.ContextItem {
	item := memory.NewItem(memory.TypeConversation, memory.SourceConversation, turn.Content)
	item.ID = fmt.Sprintf("chat_%s_turn_%d", chatID, turn.Index)
	item.ChatID = chatID
	item.SessionID = sessionID
	item.ProjectID = m.projectID
	item.Timestamp = turn.Timestamp
	item.Tags = []string{"conversation", string(turn.Intent)}
	item.Metadata["role"] = string(turn.Role)
	item.Metadata["intent"] = string(turn.Intent)
	item.Metadata["turn"] = turn.Index
	score := machineTurnScore
	if turn.Role.Human() {
		score = humanTurnScore
	}
	item.Metadata[memory.MetaStoredScore] = score
	if len(turn.Entities) > 0 {
		item.Metadata["entities"] = strings.Join(turn.Entities, ",")
	}
	return item
}

// sessionItem builds the refreshed session metadata item. The id is stable
// per chat so every refresh replaces the previous one.
func (m *Manager) sessionItem(chatID, sessionID string, messageCount int, topic string, startedAt, lastActivity time.Time) *memory.ContextItem {
	turnIDs := make([]string, messageCount)
	for i := range turnIDs {
		turnIDs[i] = fmt.Sprintf("chat_%s_turn_%d", chatID, i+1)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chat session %s: %d messages since %s.", chatID, messageCount, startedAt.Format(time.RFC3339))
	if topic != "" {
		fmt.Fprintf(&b, " Current topic: %s.", topic)
	}

	item := memory.NewItem(memory.TypeSession, memory.SourceConversation, b.String())
	item.ID = "chat_" + chatID + "_session"
	item.ChatID = chatID
	item.SessionID = sessionID
	item.ProjectID = m.projectID
	item.Tags = []string{"conversation", "session"}
	item.Metadata["message_count"] = messageCount
	item.Metadata["last_activity"] = lastActivity.UTC().Format(time.RFC3339Nano)
	item.Metadata["turns"] = strings.Join(turnIDs, ",")
	if topic != "" {
		item.Metadata["current_topic"] = topic
	}
	return item
}

// EndSession writes a narrative summary of the session and evicts its
// in-memory state. The next AddMessage for the chat id starts a fresh
// session.
func (m *Manager) EndSession(ctx context.Context, chatID string) error {
	ctx, span := tracer.Start(ctx, "Conversation.EndSession")
	defer span.End()

	if chatID == "" {
		return ErrEmptyChatID
	}
	m.mu.Lock()
	sess, ok := m.sessions[chatID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, chatID)
	}
	delete(m.sessions, chatID)
	m.mu.Unlock()

	sessionsEnded.Inc()

	duration := sess.lastActivity.Sub(sess.startedAt).Round(time.Second)
	human := sess.humanTurns()
	topic := sess.currentTopic()
	if topic == "" {
		topic = "general discussion"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Chat session %s ended after %d messages (%d from the human) over %s.",
		chatID, len(sess.turns), human, duration)
	fmt.Fprintf(&b, " Last topic: %s.", topic)
	if intent := dominantIntent(sess.intents); intent != "" {
		fmt.Fprintf(&b, " Dominant intent: %s.", intent)
	}

	item := memory.NewItem(memory.TypeSession, memory.SourceConversation, b.String())
	item.ID = "chat_" + chatID + "_summary"
	item.ChatID = chatID
	item.SessionID = sess.sessionID
	item.ProjectID = m.projectID
	item.Priority = memory.PriorityHigh
	item.Tags = []string{"conversation", "summary"}
	item.Metadata["message_count"] = len(sess.turns)
	item.Metadata["human_messages"] = human
	item.Metadata["duration"] = duration.String()
	item.Metadata["last_topic"] = topic
	m.persist(ctx, item)

	m.logger.Info("chat session ended",
		zap.String("chat_id", chatID),
		zap.Int("messages", len(sess.turns)),
		zap.Duration("duration", duration),
	)
	return nil
}

// History returns a copy of the active session's turns in order.
func (m *Manager) History(chatID string) ([]Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, chatID)
	}
	out := make([]Turn, len(sess.turns))
	copy(out, sess.turns)
	return out, nil
}

// ActiveSessions lists chat ids with an active session.
func (m *Manager) ActiveSessions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Metrics derives engagement and coherence from in-memory state. Nothing
// here is persisted.
func (m *Manager) Metrics(chatID string) (SessionMetrics, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[chatID]
	if !ok {
		return SessionMetrics{}, fmt.Errorf("%w: %s", ErrSessionNotFound, chatID)
	}

	total := len(sess.turns)
	humanShare := 0.0
	if total > 0 {
		humanShare = float64(sess.humanTurns()) / float64(total)
	}
	// Engagement rewards human participation and sustained exchanges.
	engagement := memory.ClampScore(0.6*humanShare + 0.4*minFloat(1, float64(total)/20))
	// Coherence penalizes topic churn relative to session length.
	coherence := 1.0
	if total > 0 {
		switches := len(sess.topics)
		if switches > 0 {
			switches--
		}
		coherence = memory.ClampScore(1 - float64(switches)/float64(total))
	}

	intents := make(map[Intent]int, len(sess.intents))
	for k, v := range sess.intents {
		intents[k] = v
	}

	return SessionMetrics{
		ChatID:       chatID,
		Messages:     total,
		HumanShare:   humanShare,
		Engagement:   engagement,
		Coherence:    coherence,
		Duration:     sess.lastActivity.Sub(sess.startedAt),
		Topics:       append([]string(nil), sess.topics...),
		Intents:      intents,
		TopEntities:  topEntities(sess.entities, topEntityCount),
		LastActivity: sess.lastActivity,
	}, nil
}

// RecentContext recalls items correlated to the chat, letting the recency
// strategy order them.
func (m *Manager) RecentContext(ctx context.Context, chatID, text string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "Conversation.RecentContext")
	defer span.End()

	if chatID == "" {
		return nil, ErrEmptyChatID
	}
	result, err := m.retriever.Search(ctx, &memory.Query{
		Text:       text,
		ChatID:     chatID,
		MaxResults: memory.DefaultMaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("searching chat context: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(result.Items)))
	return result.Items, nil
}

// persist writes an item, absorbing storage errors so chat flow never
// fails on a flaky backend.
func (m *Manager) persist(ctx context.Context, item *memory.ContextItem) {
	if err := m.store.Store(ctx, item); err != nil {
		m.logger.Warn("storing conversation item failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

// dominantIntent returns the most frequent intent, ties broken
// lexicographically.
func dominantIntent(counts map[Intent]int) Intent {
	var best Intent
	bestCount := 0
	for intent, count := range counts {
		if count > bestCount || (count == bestCount && string(intent) < string(best)) {
			best = intent
			bestCount = count
		}
	}
	return best
}

// topEntities returns up to n entities by mention count, ties broken
// lexicographically.
func topEntities(counts map[string]int, n int) []string {
	entities := make([]string, 0, len(counts))
	for e := range counts {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		if counts[entities[i]] != counts[entities[j]] {
			return counts[entities[i]] > counts[entities[j]]
		}
		return entities[i] < entities[j]
	})
	if len(entities) > n {
		entities = entities[:n]
	}
	return entities
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
