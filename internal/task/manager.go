// Package task tracks explicit task lifecycles and distills attempts into
// reusable success and failure knowledge.
//
// A task moves through start, zero or more attempts, and exactly one terminal
// transition (complete or abandon). In-memory state is authoritative for the
// lifetime of the task; every transition also writes a ContextItem so the
// history survives process exit.
package task

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.task")

var (
	// ErrTaskNotFound indicates an operation on a task id that was never
	// started.
	ErrTaskNotFound = errors.New("task: not found")

	// ErrTaskTerminal indicates an operation on a task that already
	// completed or was abandoned.
	ErrTaskTerminal = errors.New("task: already terminal")

	// ErrEmptyTaskID indicates a lifecycle call without a task id.
	ErrEmptyTaskID = errors.New("task: id cannot be empty")

	// ErrTaskExists indicates a start for an id that is still active.
	ErrTaskExists = errors.New("task: already active")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

const (
	statusActive    = "active"
	statusCompleted = "completed"
	statusAbandoned = "abandoned"
)

// Writer is the slice of the context store the manager writes through.
type Writer interface {
	Store(ctx context.Context, item *memory.ContextItem) error
}

// Retriever answers recall queries. Satisfied by the retrieval engine.
type Retriever interface {
	Search(ctx context.Context, q *memory.Query) (*memory.SearchResult, error)
}

// LearningRecorder folds distilled task outcomes into long-term memory.
// Satisfied by the longterm manager.
type LearningRecorder interface {
	RecordLearning(ctx context.Context, experience string, category memory.PatternCategory, contextText, projectID string, tags []string) (*memory.LearningPattern, error)
}

// Attempt is one recorded try at a task.
type Attempt struct {
	// Description says what was tried.
	Description string

	// Tool names the tool used, if any. Feeds technique extraction.
	Tool string

	// Error carries the failure detail when Success is false.
	Error string

	// Solution carries the working fix when the attempt produced one.
	Solution string

	Success   bool
	Timestamp time.Time
}

type taskState struct {
	id          string
	description string
	startedAt   time.Time
	attempts    []Attempt
}

func (s *taskState) failures() []Attempt {
	var out []Attempt
	for _, a := range s.attempts {
		if !a.Success {
			out = append(out, a)
		}
	}
	return out
}

// Manager owns in-memory task state and the task-scoped read paths.
type Manager struct {
	store     Writer
	retriever Retriever
	learning  LearningRecorder
	projectID string
	logger    *zap.Logger

	mu       sync.RWMutex
	tasks    map[string]*taskState
	terminal map[string]string
}

// Option configures a Manager.
type Option func(*Manager)

// WithLearningRecorder enables LearningPattern extraction on task
// completion. Without it, completion still writes the completion item but
// extracts nothing.
func WithLearningRecorder(r LearningRecorder) Option {
	return func(m *Manager) {
		m.learning = r
	}
}

// WithProjectID stamps every item the manager writes with the given
// project correlation key.
func WithProjectID(id string) Option {
	return func(m *Manager) {
		m.projectID = id
	}
}

// NewManager creates a task manager. Store and retriever are required.
func NewManager(store Writer, retriever Retriever, logger *zap.Logger, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.New("task: store is required")
	}
	if retriever == nil {
		return nil, errors.New("task: retriever is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:     store,
		retriever: retriever,
		logger:    logger,
		tasks:     make(map[string]*taskState),
		terminal:  make(map[string]string),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// StartTask opens a new task lifecycle and persists its metadata item.
// Restarting a terminal id begins a fresh lifecycle.
func (m *Manager) StartTask(ctx context.Context, id, description string) error {
	ctx, span := tracer.Start(ctx, "Task.StartTask")
	defer span.End()

	if id == "" {
		return ErrEmptyTaskID
	}
	span.SetAttributes(attribute.String("task_id", id))

	m.mu.Lock()
	if _, ok := m.tasks[id]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskExists, id)
	}
	delete(m.terminal, id)
	m.tasks[id] = &taskState{
		id:          id,
		description: description,
		startedAt:   timeNow(),
	}
	m.mu.Unlock()

	tasksStarted.Inc()

	item := memory.NewItem(memory.TypeTask, memory.SourceUserInput, fmt.Sprintf("Task started: %s", description))
	item.ID = "task_" + id
	item.TaskID = id
	item.ProjectID = m.projectID
	item.Tags = []string{"task"}
	item.Metadata["status"] = statusActive
	item.Metadata["attempts"] = 0
	m.persist(ctx, item)

	m.logger.Info("task started",
		zap.String("task_id", id),
		zap.String("description", description),
	)
	return nil
}

// RecordAttempt appends an attempt to an active task and persists it as a
// success_pattern or error_recovery item. From the second failure onward it
// mines the accumulated failures for repeated error keywords and tools, and
// writes a failure_pattern item when any are found.
func (m *Manager) RecordAttempt(ctx context.Context, taskID string, attempt Attempt) error {
	ctx, span := tracer.Start(ctx, "Task.RecordAttempt")
	defer span.End()

	if taskID == "" {
		return ErrEmptyTaskID
	}
	span.SetAttributes(
		attribute.String("task_id", taskID),
		attribute.Bool("success", attempt.Success),
	)
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = timeNow()
	}

	m.mu.Lock()
	if status, ok := m.terminal[taskID]; ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, taskID, status)
	}
	st, ok := m.tasks[taskID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}
	st.attempts = append(st.attempts, attempt)
	number := len(st.attempts)
	description := st.description
	var failures []Attempt
	if !attempt.Success {
		failures = st.failures()
	}
	m.mu.Unlock()

	outcome := "failure"
	source := memory.SourceErrorRecovery
	priority := memory.PriorityMedium
	if attempt.Success {
		outcome = "success"
		source = memory.SourceSuccessPattern
		priority = memory.PriorityHigh
	}
	attemptsRecorded.WithLabelValues(outcome).Inc()

	item := memory.NewItem(memory.TypeTask, source, formatAttempt(description, number, attempt))
	item.ID = fmt.Sprintf("task_%s_attempt_%d", taskID, number)
	item.TaskID = taskID
	item.ProjectID = m.projectID
	item.Priority = priority
	item.Timestamp = attempt.Timestamp
	item.Tags = []string{"attempt"}
	if attempt.Tool != "" {
		item.Tags = append(item.Tags, memory.TagToolPrefix+attempt.Tool)
		item.Metadata[memory.MetaTool] = attempt.Tool
	}
	item.Metadata[memory.MetaAttempt] = number
	item.Metadata["success"] = attempt.Success
	if attempt.Solution != "" {
		item.Metadata[memory.MetaSolution] = attempt.Solution
	}
	if attempt.Error != "" {
		item.Metadata["error"] = attempt.Error
	}
	m.persist(ctx, item)

	if len(failures) >= minFailuresForMining {
		m.mineFailures(ctx, taskID, description, failures)
	}
	return nil
}

// CompleteTask marks the task terminal, writes a critical-priority
// completion item, extracts learnings from the attempt history, and evicts
// the task from memory.
func (m *Manager) CompleteTask(ctx context.Context, id, solution string) error {
	ctx, span := tracer.Start(ctx, "Task.CompleteTask")
	defer span.End()

	st, err := m.evict(id, statusCompleted)
	if err != nil {
		return err
	}
	tasksFinished.WithLabelValues(statusCompleted).Inc()

	duration := timeNow().Sub(st.startedAt).Round(time.Second)
	failures := st.failures()

	var b strings.Builder
	fmt.Fprintf(&b, "Task completed: %s.", st.description)
	if solution != "" {
		fmt.Fprintf(&b, " Solution: %s.", solution)
	}
	fmt.Fprintf(&b, " Finished after %d attempts (%d failed) in %s.",
		len(st.attempts), len(failures), duration)

	item := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, b.String())
	item.ID = "task_" + id + "_completed"
	item.TaskID = id
	item.ProjectID = m.projectID
	item.Priority = memory.PriorityCritical
	item.Tags = []string{"task", "completed"}
	item.Metadata["status"] = statusCompleted
	item.Metadata["attempts"] = len(st.attempts)
	item.Metadata["duration"] = duration.String()
	if solution != "" {
		item.Metadata[memory.MetaSolution] = solution
	}
	m.persist(ctx, item)

	m.extractLearnings(ctx, st, failures)

	m.logger.Info("task completed",
		zap.String("task_id", id),
		zap.Int("attempts", len(st.attempts)),
		zap.Duration("duration", duration),
	)
	return nil
}

// AbandonTask marks the task terminal with a medium-priority abandonment
// item and evicts it from memory.
func (m *Manager) AbandonTask(ctx context.Context, id, reason string) error {
	ctx, span := tracer.Start(ctx, "Task.AbandonTask")
	defer span.End()

	st, err := m.evict(id, statusAbandoned)
	if err != nil {
		return err
	}
	tasksFinished.WithLabelValues(statusAbandoned).Inc()

	var b strings.Builder
	fmt.Fprintf(&b, "Task abandoned: %s.", st.description)
	if reason != "" {
		fmt.Fprintf(&b, " Reason: %s.", reason)
	}
	fmt.Fprintf(&b, " Abandoned after %d attempts.", len(st.attempts))

	item := memory.NewItem(memory.TypeTask, memory.SourceErrorRecovery, b.String())
	item.ID = "task_" + id + "_abandoned"
	item.TaskID = id
	item.ProjectID = m.projectID
	item.Tags = []string{"task", "abandoned"}
	item.Metadata["status"] = statusAbandoned
	item.Metadata["attempts"] = len(st.attempts)
	if reason != "" {
		item.Metadata["reason"] = reason
	}
	m.persist(ctx, item)

	m.logger.Info("task abandoned",
		zap.String("task_id", id),
		zap.String("reason", reason),
	)
	return nil
}

// evict atomically removes an active task and records its terminal status.
func (m *Manager) evict(id, status string) (*taskState, error) {
	if id == "" {
		return nil, ErrEmptyTaskID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prior, ok := m.terminal[id]; ok {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, id, prior)
	}
	st, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	delete(m.tasks, id)
	m.terminal[id] = status
	return st, nil
}

// AttemptCount returns the number of attempts recorded for an active task.
func (m *Manager) AttemptCount(id string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if status, ok := m.terminal[id]; ok {
		return 0, fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, id, status)
	}
	st, ok := m.tasks[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return len(st.attempts), nil
}

// Attempts returns a copy of the attempt history for an active task.
func (m *Manager) Attempts(id string) ([]Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if status, ok := m.terminal[id]; ok {
		return nil, fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, id, status)
	}
	st, ok := m.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	out := make([]Attempt, len(st.attempts))
	copy(out, st.attempts)
	return out, nil
}

// ActiveTasks lists the ids of tasks that have started but not finished.
func (m *Manager) ActiveTasks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SimilarFailures recalls failure-sourced items matching either the error
// text or the task description, deduplicated by id and sorted by relevance.
func (m *Manager) SimilarFailures(ctx context.Context, description, errText string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "Task.SimilarFailures")
	defer span.End()

	failureSources := []memory.ItemSource{memory.SourceFailurePattern, memory.SourceErrorRecovery}
	var texts []string
	if description != "" {
		texts = append(texts, description)
	}
	if errText != "" {
		texts = append(texts, errText)
	}
	if len(texts) == 0 {
		return nil, nil
	}

	byID := make(map[string]*memory.ContextItem)
	for _, text := range texts {
		result, err := m.retriever.Search(ctx, &memory.Query{
			Text:       text,
			Sources:    failureSources,
			ProjectID:  m.projectID,
			MaxResults: memory.DefaultMaxResults,
		})
		if err != nil {
			return nil, fmt.Errorf("searching failures: %w", err)
		}
		for _, it := range result.Items {
			if have, ok := byID[it.ID]; !ok || it.RelevanceScore > have.RelevanceScore {
				byID[it.ID] = it
			}
		}
	}

	items := make([]*memory.ContextItem, 0, len(byID))
	for _, it := range byID {
		items = append(items, it)
	}
	sortByRelevance(items)
	span.SetAttributes(attribute.Int("results", len(items)))
	return items, nil
}

// SuccessPatterns recalls success-sourced task items matching the
// description.
func (m *Manager) SuccessPatterns(ctx context.Context, description string) ([]*memory.ContextItem, error) {
	ctx, span := tracer.Start(ctx, "Task.SuccessPatterns")
	defer span.End()

	result, err := m.retriever.Search(ctx, &memory.Query{
		Text:       description,
		Types:      []memory.ItemType{memory.TypeTask},
		Sources:    []memory.ItemSource{memory.SourceSuccessPattern},
		ProjectID:  m.projectID,
		MaxResults: memory.DefaultMaxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("searching success patterns: %w", err)
	}
	span.SetAttributes(attribute.Int("results", len(result.Items)))
	return result.Items, nil
}

// mineFailures looks for repeated error keywords and repeated tool usage
// across every failed attempt and persists the evidence as a
// failure_pattern item. The item id is stable per task so later mining
// refines rather than duplicates.
func (m *Manager) mineFailures(ctx context.Context, taskID, description string, failures []Attempt) {
	keywords := repeatedErrorKeywords(failures)
	tools := repeatedTools(failures)
	if len(keywords) == 0 && len(tools) == 0 {
		return
	}
	failurePatternsMined.Inc()

	item := memory.NewItem(memory.TypeTask, memory.SourceFailurePattern,
		formatFailureEvidence(description, keywords, tools, len(failures)))
	item.ID = "task_" + taskID + "_failure_pattern"
	item.TaskID = taskID
	item.ProjectID = m.projectID
	item.Priority = memory.PriorityHigh
	item.Tags = []string{"failure", "repeated"}
	item.Metadata["failure_count"] = len(failures)
	if len(keywords) > 0 {
		item.Metadata["keywords"] = strings.Join(keywords, ",")
	}
	if len(tools) > 0 {
		item.Metadata["tools"] = strings.Join(tools, ",")
	}
	m.persist(ctx, item)

	m.logger.Info("failure pattern mined",
		zap.String("task_id", taskID),
		zap.Strings("keywords", keywords),
		zap.Strings("tools", tools),
	)
}

// extractLearnings records one success pattern per solution-bearing attempt
// and one failure pattern per repeated error keyword.
func (m *Manager) extractLearnings(ctx context.Context, st *taskState, failures []Attempt) {
	if m.learning == nil {
		return
	}
	for _, a := range st.attempts {
		if a.Solution == "" {
			continue
		}
		tags := []string{"task"}
		if a.Tool != "" {
			tags = append(tags, memory.TagToolPrefix+a.Tool)
		}
		if _, err := m.learning.RecordLearning(ctx, a.Solution, memory.CategorySuccess, st.description, m.projectID, tags); err != nil {
			m.logger.Warn("recording success learning failed",
				zap.String("task_id", st.id),
				zap.Error(err),
			)
		}
	}
	for _, kw := range repeatedErrorKeywords(failures) {
		experience := fmt.Sprintf("Repeated error %q while working on: %s", kw, st.description)
		if _, err := m.learning.RecordLearning(ctx, experience, memory.CategoryFailure, st.description, m.projectID, []string{"task", "failure"}); err != nil {
			m.logger.Warn("recording failure learning failed",
				zap.String("task_id", st.id),
				zap.Error(err),
			)
		}
	}
}

// persist writes an item, absorbing storage errors so lifecycle transitions
// never fail on a flaky backend.
func (m *Manager) persist(ctx context.Context, item *memory.ContextItem) {
	if err := m.store.Store(ctx, item); err != nil {
		m.logger.Warn("storing task item failed",
			zap.String("item_id", item.ID),
			zap.Error(err),
		)
	}
}

func sortByRelevance(items []*memory.ContextItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].RelevanceScore != items[j].RelevanceScore {
			return items[i].RelevanceScore > items[j].RelevanceScore
		}
		return items[i].Timestamp.After(items[j].Timestamp)
	})
}
