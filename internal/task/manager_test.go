package task

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

type capturingStore struct {
	mu    sync.Mutex
	items []*memory.ContextItem
	err   error
}

func (s *capturingStore) Store(_ context.Context, item *memory.ContextItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.items = append(s.items, item.Clone())
	return nil
}

func (s *capturingStore) byID(id string) *memory.ContextItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.items) - 1; i >= 0; i-- {
		if s.items[i].ID == id {
			return s.items[i]
		}
	}
	return nil
}

func (s *capturingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

type stubRetriever struct {
	mu      sync.Mutex
	queries []*memory.Query
	results map[string][]*memory.ContextItem
	err     error
}

func (r *stubRetriever) Search(_ context.Context, q *memory.Query) (*memory.SearchResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	cp := *q
	r.queries = append(r.queries, &cp)
	var items []*memory.ContextItem
	for _, it := range r.results[q.Text] {
		items = append(items, it.Clone())
	}
	return &memory.SearchResult{Items: items, TotalCount: len(items)}, nil
}

type recordedLearning struct {
	experience string
	category   memory.PatternCategory
	context    string
	projectID  string
	tags       []string
}

type stubRecorder struct {
	mu       sync.Mutex
	recorded []recordedLearning
	err      error
}

func (r *stubRecorder) RecordLearning(_ context.Context, experience string, category memory.PatternCategory, contextText, projectID string, tags []string) (*memory.LearningPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.recorded = append(r.recorded, recordedLearning{
		experience: experience,
		category:   category,
		context:    contextText,
		projectID:  projectID,
		tags:       append([]string(nil), tags...),
	})
	return &memory.LearningPattern{Pattern: experience, Category: category}, nil
}

func newTestManager(t *testing.T, opts ...Option) (*Manager, *capturingStore, *stubRetriever) {
	t.Helper()
	store := &capturingStore{}
	retriever := &stubRetriever{results: make(map[string][]*memory.ContextItem)}
	m, err := NewManager(store, retriever, zaptest.NewLogger(t), opts...)
	require.NoError(t, err)
	return m, store, retriever
}

func TestNewManagerRequiresDependencies(t *testing.T) {
	_, err := NewManager(nil, &stubRetriever{}, nil)
	require.Error(t, err)
	_, err = NewManager(&capturingStore{}, nil, nil)
	require.Error(t, err)
}

func TestStartTask(t *testing.T) {
	m, store, _ := newTestManager(t, WithProjectID("proj-1"))
	ctx := context.Background()

	require.NoError(t, m.StartTask(ctx, "t1", "fix the flaky watcher test"))

	item := store.byID("task_t1")
	require.NotNil(t, item)
	assert.Equal(t, memory.TypeTask, item.Type)
	assert.Equal(t, memory.SourceUserInput, item.Source)
	assert.Equal(t, "t1", item.TaskID)
	assert.Equal(t, "proj-1", item.ProjectID)
	assert.Equal(t, statusActive, item.Metadata["status"])
	assert.Equal(t, 0, item.Metadata["attempts"])
	assert.Contains(t, item.Content, "fix the flaky watcher test")

	count, err := m.AttemptCount("t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestStartTaskEmptyID(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.ErrorIs(t, m.StartTask(context.Background(), "", "anything"), ErrEmptyTaskID)
}

func TestStartTaskDuplicate(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "first"))
	require.ErrorIs(t, m.StartTask(ctx, "t1", "second"), ErrTaskExists)
}

func TestRecordAttemptPersistsOutcomes(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "add retry to fetcher"))

	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{
		Description: "wrap call in backoff loop",
		Tool:        "editor",
		Solution:    "exponential backoff with jitter",
		Success:     true,
	}))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{
		Description: "bump timeout",
		Tool:        "editor",
		Error:       "request timeout exceeded",
		Success:     false,
	}))

	success := store.byID("task_t1_attempt_1")
	require.NotNil(t, success)
	assert.Equal(t, memory.SourceSuccessPattern, success.Source)
	assert.Equal(t, memory.PriorityHigh, success.Priority)
	assert.Equal(t, 1, success.Metadata[memory.MetaAttempt])
	assert.Equal(t, "exponential backoff with jitter", success.Metadata[memory.MetaSolution])
	assert.Contains(t, success.Tags, memory.TagToolPrefix+"editor")
	assert.Contains(t, success.Content, "Outcome: success")

	failure := store.byID("task_t1_attempt_2")
	require.NotNil(t, failure)
	assert.Equal(t, memory.SourceErrorRecovery, failure.Source)
	assert.Equal(t, memory.PriorityMedium, failure.Priority)
	assert.Equal(t, "request timeout exceeded", failure.Metadata["error"])
	assert.Contains(t, failure.Content, "Outcome: failure")

	count, err := m.AttemptCount("t1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestRecordAttemptUnknownTask(t *testing.T) {
	m, _, _ := newTestManager(t)
	err := m.RecordAttempt(context.Background(), "ghost", Attempt{Success: true})
	require.ErrorIs(t, err, ErrTaskNotFound)
}

func TestAttemptCountMatchesRecorded(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "count attempts"))

	for i := 0; i < 5; i++ {
		require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Description: "try", Success: i%2 == 0}))
	}

	count, err := m.AttemptCount("t1")
	require.NoError(t, err)
	assert.Equal(t, 5, count)

	attempts, err := m.Attempts("t1")
	require.NoError(t, err)
	assert.Len(t, attempts, 5)
}

func TestFailureMiningOnSecondFailure(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "stabilize integration suite"))

	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{
		Tool:    "curl",
		Error:   "connection timeout reaching registry",
		Success: false,
	}))
	assert.Nil(t, store.byID("task_t1_failure_pattern"), "one failure must not trigger mining")

	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{
		Tool:    "curl",
		Error:   "registry timeout again after retry",
		Success: false,
	}))

	pattern := store.byID("task_t1_failure_pattern")
	require.NotNil(t, pattern)
	assert.Equal(t, memory.SourceFailurePattern, pattern.Source)
	assert.Equal(t, memory.PriorityHigh, pattern.Priority)
	assert.Equal(t, 2, pattern.Metadata["failure_count"])
	assert.Contains(t, pattern.Metadata["keywords"], "timeout")
	assert.Contains(t, pattern.Metadata["keywords"], "registry")
	assert.Equal(t, "curl", pattern.Metadata["tools"])
	assert.Contains(t, pattern.Content, "timeout")
}

func TestFailureMiningNeedsSharedSignal(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "unrelated failures"))

	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Tool: "grep", Error: "nothing matched", Success: false}))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Tool: "sed", Error: "bad substitution", Success: false}))

	assert.Nil(t, store.byID("task_t1_failure_pattern"))
}

func TestCompleteTask(t *testing.T) {
	recorder := &stubRecorder{}
	m, store, _ := newTestManager(t, WithProjectID("proj-1"), WithLearningRecorder(recorder))
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "migrate config loader"))

	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Error: "missing env overrides on load", Success: false}))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Error: "env overrides still missing", Success: false}))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{
		Solution: "merge env provider after file provider",
		Success:  true,
	}))

	require.NoError(t, m.CompleteTask(ctx, "t1", "layer env on top of yaml"))

	completion := store.byID("task_t1_completed")
	require.NotNil(t, completion)
	assert.Equal(t, memory.PriorityCritical, completion.Priority)
	assert.Equal(t, memory.SourceSuccessPattern, completion.Source)
	assert.Equal(t, statusCompleted, completion.Metadata["status"])
	assert.Equal(t, 3, completion.Metadata["attempts"])
	assert.Equal(t, "layer env on top of yaml", completion.Metadata[memory.MetaSolution])
	assert.Contains(t, completion.Content, "layer env on top of yaml")

	var successes, failures int
	for _, rec := range recorder.recorded {
		switch rec.category {
		case memory.CategorySuccess:
			successes++
			assert.Equal(t, "merge env provider after file provider", rec.experience)
			assert.Equal(t, "proj-1", rec.projectID)
		case memory.CategoryFailure:
			failures++
			assert.Contains(t, rec.experience, "migrate config loader")
		}
	}
	assert.Equal(t, 1, successes, "one learning per solution-bearing attempt")
	assert.GreaterOrEqual(t, failures, 1, "one learning per repeated error keyword")

	_, err := m.AttemptCount("t1")
	require.ErrorIs(t, err, ErrTaskTerminal)
	require.ErrorIs(t, m.RecordAttempt(ctx, "t1", Attempt{Success: true}), ErrTaskTerminal)
}

func TestCompleteTaskUnknown(t *testing.T) {
	m, _, _ := newTestManager(t)
	require.ErrorIs(t, m.CompleteTask(context.Background(), "ghost", ""), ErrTaskNotFound)
}

func TestAbandonTask(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "spike websocket transport"))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Error: "handshake rejected", Success: false}))

	require.NoError(t, m.AbandonTask(ctx, "t1", "descoped for this release"))

	item := store.byID("task_t1_abandoned")
	require.NotNil(t, item)
	assert.Equal(t, memory.PriorityMedium, item.Priority)
	assert.Equal(t, memory.SourceErrorRecovery, item.Source)
	assert.Equal(t, statusAbandoned, item.Metadata["status"])
	assert.Equal(t, "descoped for this release", item.Metadata["reason"])

	require.ErrorIs(t, m.RecordAttempt(ctx, "t1", Attempt{Success: true}), ErrTaskTerminal)
	require.ErrorIs(t, m.AbandonTask(ctx, "t1", "again"), ErrTaskTerminal)
}

func TestRestartAfterTerminal(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "first run"))
	require.NoError(t, m.CompleteTask(ctx, "t1", "done"))

	require.NoError(t, m.StartTask(ctx, "t1", "second run"))
	count, err := m.AttemptCount("t1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestActiveTasks(t *testing.T) {
	m, _, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "beta", "b"))
	require.NoError(t, m.StartTask(ctx, "alpha", "a"))
	require.NoError(t, m.StartTask(ctx, "gamma", "c"))
	require.NoError(t, m.AbandonTask(ctx, "gamma", ""))

	assert.Equal(t, []string{"alpha", "beta"}, m.ActiveTasks())
}

func TestSimilarFailuresUnionsAndSorts(t *testing.T) {
	m, _, retriever := newTestManager(t)
	ctx := context.Background()

	shared := memory.NewItem(memory.TypeTask, memory.SourceFailurePattern, "timeout pattern")
	shared.ID = "shared"
	shared.RelevanceScore = 0.4
	sharedHigher := shared.Clone()
	sharedHigher.RelevanceScore = 0.9
	only := memory.NewItem(memory.TypeTask, memory.SourceErrorRecovery, "handshake failure")
	only.ID = "only"
	only.RelevanceScore = 0.6

	retriever.results["connect to registry"] = []*memory.ContextItem{shared, only}
	retriever.results["connection timeout"] = []*memory.ContextItem{sharedHigher}

	items, err := m.SimilarFailures(ctx, "connect to registry", "connection timeout")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "shared", items[0].ID, "dedup keeps the higher score")
	assert.InDelta(t, 0.9, items[0].RelevanceScore, 1e-9)
	assert.Equal(t, "only", items[1].ID)

	require.Len(t, retriever.queries, 2)
	for _, q := range retriever.queries {
		assert.ElementsMatch(t,
			[]memory.ItemSource{memory.SourceFailurePattern, memory.SourceErrorRecovery},
			q.Sources)
	}
}

func TestSimilarFailuresWithoutErrorText(t *testing.T) {
	m, _, retriever := newTestManager(t)
	_, err := m.SimilarFailures(context.Background(), "some description", "")
	require.NoError(t, err)
	assert.Len(t, retriever.queries, 1)

	items, err := m.SimilarFailures(context.Background(), "", "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestSuccessPatternsQueryShape(t *testing.T) {
	m, _, retriever := newTestManager(t, WithProjectID("proj-1"))
	_, err := m.SuccessPatterns(context.Background(), "retry logic")
	require.NoError(t, err)

	require.Len(t, retriever.queries, 1)
	q := retriever.queries[0]
	assert.Equal(t, "retry logic", q.Text)
	assert.Equal(t, []memory.ItemType{memory.TypeTask}, q.Types)
	assert.Equal(t, []memory.ItemSource{memory.SourceSuccessPattern}, q.Sources)
	assert.Equal(t, "proj-1", q.ProjectID)
}

func TestStoreFailuresAbsorbed(t *testing.T) {
	store := &capturingStore{err: errors.New("backend down")}
	retriever := &stubRetriever{results: make(map[string][]*memory.ContextItem)}
	m, err := NewManager(store, retriever, zaptest.NewLogger(t))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.StartTask(ctx, "t1", "survive outages"))
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Success: true}))
	require.NoError(t, m.CompleteTask(ctx, "t1", "kept going"))
	assert.Zero(t, store.count())
}

func TestRepeatedErrorKeywords(t *testing.T) {
	failures := []Attempt{
		{Error: "connection timeout timeout reaching host"},
		{Error: "TIMEOUT after connection reset"},
		{Error: "disk full"},
	}

	keywords := repeatedErrorKeywords(failures)
	assert.Equal(t, []string{"connection", "timeout"}, keywords,
		"per-attempt duplicates count once, order is first seen")
}

func TestRepeatedErrorKeywordsShortWordsIgnored(t *testing.T) {
	failures := []Attempt{
		{Error: "it is bad"},
		{Error: "it is bad"},
	}
	assert.Empty(t, repeatedErrorKeywords(failures))
}

func TestRepeatedTools(t *testing.T) {
	failures := []Attempt{
		{Tool: "curl"},
		{Tool: "grep"},
		{Tool: "curl"},
		{Tool: ""},
	}
	assert.Equal(t, []string{"curl"}, repeatedTools(failures))
}

func TestFormatAttempt(t *testing.T) {
	success := formatAttempt("ship feature", 2, Attempt{
		Description: "rework parser",
		Tool:        "editor",
		Solution:    "tokenize first",
		Success:     true,
	})
	assert.Equal(t, `Attempt 2 for task "ship feature": rework parser. Tool: editor. Outcome: success. Solution: tokenize first.`, success)

	failure := formatAttempt("ship feature", 3, Attempt{
		Error:   "parse error at column 7",
		Success: false,
	})
	assert.Equal(t, `Attempt 3 for task "ship feature". Outcome: failure. Error: parse error at column 7.`, failure)
}

func TestAttemptTimestampDefaults(t *testing.T) {
	m, store, _ := newTestManager(t)
	ctx := context.Background()
	require.NoError(t, m.StartTask(ctx, "t1", "timestamps"))

	before := time.Now().Add(-time.Second)
	require.NoError(t, m.RecordAttempt(ctx, "t1", Attempt{Success: true}))
	item := store.byID("task_t1_attempt_1")
	require.NotNil(t, item)
	assert.True(t, item.Timestamp.After(before))
}
