package consolidator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

type capturingStore struct {
	mu        sync.Mutex
	items     []*memory.ContextItem
	failFirst int
}

func (s *capturingStore) Store(_ context.Context, item *memory.ContextItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFirst > 0 {
		s.failFirst--
		return errors.New("store unavailable")
	}
	s.items = append(s.items, item.Clone())
	return nil
}

func (s *capturingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *capturingStore) consolidated() []*memory.ContextItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*memory.ContextItem
	for _, it := range s.items {
		if strings.HasPrefix(it.ID, "consolidated_") {
			out = append(out, it)
		}
	}
	return out
}

type recordedLearning struct {
	experience string
	category   memory.PatternCategory
	tags       []string
}

type stubRecorder struct {
	mu       sync.Mutex
	recorded []recordedLearning
}

func (r *stubRecorder) RecordLearning(_ context.Context, experience string, category memory.PatternCategory, _, _ string, tags []string) (*memory.LearningPattern, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recorded = append(r.recorded, recordedLearning{
		experience: experience,
		category:   category,
		tags:       append([]string(nil), tags...),
	})
	return &memory.LearningPattern{Pattern: experience, Category: category}, nil
}

func newTestConsolidator(t *testing.T, cfg Config, opts ...Option) (*Consolidator, *capturingStore) {
	t.Helper()
	store := &capturingStore{}
	c, err := New(store, zaptest.NewLogger(t), cfg, opts...)
	require.NoError(t, err)
	return c, store
}

func TestNewRequiresStore(t *testing.T) {
	_, err := New(nil, nil, Config{})
	require.Error(t, err)
}

func TestScheduleValidation(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{})
	ctx := context.Background()
	item := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "anything")

	_, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{item}, JobType("reticulation"))
	assert.ErrorIs(t, err, ErrUnknownJobType)

	_, err = c.ScheduleConsolidation(ctx, nil, JobPatternExtraction)
	assert.ErrorIs(t, err, ErrNoItems)
}

func TestScheduleQueueFull(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{QueueLimit: 1})
	ctx := context.Background()
	items := []*memory.ContextItem{memory.NewItem(memory.TypeLearning, memory.SourceConversation, "x")}

	_, err := c.ScheduleConsolidation(ctx, items, JobKnowledgeDistillation)
	require.NoError(t, err)
	_, err = c.ScheduleConsolidation(ctx, items, JobKnowledgeDistillation)
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestScheduleClonesItems(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	ctx := context.Background()

	item := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "original knowledge survives caller mutation")
	_, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{item}, JobKnowledgeDistillation)
	require.NoError(t, err)

	item.Content = "mutated after scheduling"
	require.Equal(t, 1, c.ProcessPending(ctx))

	stored := store.consolidated()
	require.Len(t, stored, 1)
	assert.Equal(t, "original knowledge survives caller mutation", stored[0].Content)
}

func TestPatternExtractionEndToEnd(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	ctx := context.Background()

	a := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Loader merges overrides last")
	a.ID = "a"
	a.Tags = []string{"config", "env"}
	a.RelevanceScore = 0.6
	b := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Parsing falls back to defaults")
	b.ID = "b"
	b.Tags = []string{"config", "env", "yaml"}
	b.RelevanceScore = 0.8
	other := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Socket deadline raised to thirty seconds")
	other.ID = "c"
	other.Tags = []string{"network"}

	jobID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{a, b, other}, JobPatternExtraction)
	require.NoError(t, err)
	require.Equal(t, 1, c.ProcessPending(ctx))

	view, ok := c.Job(jobID)
	require.True(t, ok)
	assert.Equal(t, JobCompleted, view.Status)
	assert.Empty(t, view.Error)
	require.Len(t, view.Results, 1)

	result := view.Results[0]
	assert.Equal(t, memory.ConsolidationPattern, result.Type)
	assert.Equal(t, 2, result.Frequency)
	assert.Equal(t, []string{"a", "b"}, result.Evidence)
	assert.InDelta(t, 0.9, result.Confidence, 1e-9)

	stored := store.consolidated()
	require.Len(t, stored, 1)
	item := stored[0]
	assert.Equal(t, "consolidated_"+result.ID, item.ID)
	assert.Equal(t, memory.TypeLearning, item.Type)
	assert.Equal(t, memory.SourceConsolidatedLearning, item.Source)
	assert.Equal(t, memory.PriorityHigh, item.Priority)
	assert.Equal(t, "pattern", item.Metadata["consolidation_type"])
	assert.Equal(t, 2, item.Metadata["frequency"])
	assert.Equal(t, "a,b", item.Metadata["evidence"])
	assert.InDelta(t, result.Confidence, item.Metadata[memory.MetaEffectiveness].(float64), 1e-9)
	assert.InDelta(t, result.Confidence, item.Metadata[memory.MetaStoredScore].(float64), 1e-9)
	assert.Equal(t, "consolidated", item.Tags[len(item.Tags)-1])

	stats := c.Stats()
	assert.Equal(t, 0, stats.QueueDepth)
	assert.Equal(t, 1, stats.ByStatus[JobCompleted])
}

func TestFailureAnalysisFiltersSources(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	ctx := context.Background()

	fail1 := memory.NewItem(memory.TypeTask, memory.SourceErrorRecovery, "Connection reset during deploy")
	fail1.ID = "f1"
	fail1.Tags = []string{"deploy", "network"}
	fail2 := memory.NewItem(memory.TypeTask, memory.SourceFailurePattern, "Connection dropped mid deploy")
	fail2.ID = "f2"
	fail2.Tags = []string{"deploy", "network", "retry"}
	success := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Deploy finished on the second run")
	success.ID = "s1"
	success.Tags = []string{"deploy", "network"}

	jobID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{fail1, success, fail2}, JobFailureAnalysis)
	require.NoError(t, err)
	require.Equal(t, 1, c.ProcessPending(ctx))

	view, _ := c.Job(jobID)
	require.Len(t, view.Results, 1)
	result := view.Results[0]
	assert.Equal(t, memory.ConsolidationAntipattern, result.Type)
	assert.Equal(t, []string{"f1", "f2"}, result.Evidence)
	assert.Contains(t, result.Pattern, "Recurring failure")

	require.Len(t, store.consolidated(), 1)
	assert.Equal(t, "antipattern", store.consolidated()[0].Metadata["consolidation_type"])
}

func TestKnowledgeDistillationPromotes(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	ctx := context.Background()

	successPattern := memory.NewItem(memory.TypeLearning, memory.SourceSuccessPattern, "Pin the formatter version in CI")
	successPattern.Metadata["category"] = "success"
	successPattern.Metadata["frequency"] = 3
	successPattern.Metadata["confidence"] = 0.7
	technique := memory.NewItem(memory.TypeLearning, memory.SourceToolUsage, "Bisect flaky tests with stress runs")
	technique.Metadata["category"] = "technique"

	jobID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{successPattern, technique}, JobKnowledgeDistillation)
	require.NoError(t, err)
	require.Equal(t, 1, c.ProcessPending(ctx))

	view, _ := c.Job(jobID)
	require.Len(t, view.Results, 2)
	assert.Equal(t, memory.ConsolidationPattern, view.Results[0].Type)
	assert.Equal(t, 3, view.Results[0].Frequency)
	assert.InDelta(t, 0.7, view.Results[0].Confidence, 1e-9)
	assert.Equal(t, memory.ConsolidationTechnique, view.Results[1].Type)
	assert.Len(t, store.consolidated(), 2)
}

func TestKnowledgeDistillationInsights(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{})
	ctx := context.Background()

	now := time.Now()
	var items []*memory.ContextItem
	for i := 0; i < 5; i++ {
		it := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "Shared lesson about rollout order")
		it.Timestamp = now.Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			it.ProjectID = "proj-a"
		} else {
			it.ProjectID = "proj-b"
		}
		items = append(items, it)
	}

	jobID, err := c.ScheduleConsolidation(ctx, items, JobKnowledgeDistillation)
	require.NoError(t, err)
	require.Equal(t, 1, c.ProcessPending(ctx))

	view, _ := c.Job(jobID)
	// Five promotions plus a cross-context and a burst insight.
	require.Len(t, view.Results, 7)
	var crossContext, burst bool
	for _, r := range view.Results[5:] {
		assert.Equal(t, memory.ConsolidationInsight, r.Type)
		if strings.Contains(r.Pattern, "across 2 projects") {
			crossContext = true
		}
		if strings.Contains(r.Pattern, "Burst of 5 related items") {
			burst = true
		}
	}
	assert.True(t, crossContext)
	assert.True(t, burst)
}

func TestJobsProcessFIFO(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	ctx := context.Background()

	for _, content := range []string{"first lesson", "second lesson", "third lesson"} {
		item := memory.NewItem(memory.TypeLearning, memory.SourceConversation, content)
		_, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{item}, JobKnowledgeDistillation)
		require.NoError(t, err)
	}

	require.Equal(t, 3, c.ProcessPending(ctx))

	stored := store.consolidated()
	require.Len(t, stored, 3)
	assert.Equal(t, "first lesson", stored[0].Content)
	assert.Equal(t, "second lesson", stored[1].Content)
	assert.Equal(t, "third lesson", stored[2].Content)
}

func TestFailedJobDoesNotStopQueue(t *testing.T) {
	c, store := newTestConsolidator(t, Config{})
	store.failFirst = 1
	ctx := context.Background()

	first := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "doomed write")
	second := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "healthy write")
	firstID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{first}, JobKnowledgeDistillation)
	require.NoError(t, err)
	secondID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{second}, JobKnowledgeDistillation)
	require.NoError(t, err)

	require.Equal(t, 2, c.ProcessPending(ctx))

	failed, _ := c.Job(firstID)
	assert.Equal(t, JobFailed, failed.Status)
	assert.Contains(t, failed.Error, "store unavailable")

	completed, _ := c.Job(secondID)
	assert.Equal(t, JobCompleted, completed.Status)
	require.Len(t, store.consolidated(), 1)
	assert.Equal(t, "healthy write", store.consolidated()[0].Content)

	stats := c.Stats()
	assert.Equal(t, 1, stats.ByStatus[JobFailed])
	assert.Equal(t, 1, stats.ByStatus[JobCompleted])
}

func TestLearningRecorderReceivesResults(t *testing.T) {
	recorder := &stubRecorder{}
	store := &capturingStore{}
	c, err := New(store, zaptest.NewLogger(t), Config{}, WithLearningRecorder(recorder))
	require.NoError(t, err)
	ctx := context.Background()

	a := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Retry transient fetch errors")
	a.Tags = []string{"fetch", "retry"}
	b := memory.NewItem(memory.TypeTask, memory.SourceSuccessPattern, "Retry transient fetch errors with backoff")
	b.Tags = []string{"fetch", "retry"}

	_, err = c.ScheduleConsolidation(ctx, []*memory.ContextItem{a, b}, JobPatternExtraction)
	require.NoError(t, err)
	require.Equal(t, 1, c.ProcessPending(ctx))

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.recorded, 1)
	assert.Equal(t, memory.CategorySuccess, recorder.recorded[0].category)
	assert.Contains(t, recorder.recorded[0].experience, "Recurring approach")
	assert.Equal(t, []string{"fetch", "retry"}, recorder.recorded[0].tags)
}

func TestWorkerProcessesScheduledJob(t *testing.T) {
	c, store := newTestConsolidator(t, Config{Interval: 50 * time.Millisecond})
	ctx := context.Background()

	require.NoError(t, c.Start())
	assert.ErrorIs(t, c.Start(), ErrAlreadyRunning)

	item := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "background lesson")
	jobID, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{item}, JobKnowledgeDistillation)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		view, ok := c.Job(jobID)
		return ok && view.Status == JobCompleted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, store.count())

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, c.Stop(stopCtx))
	require.NoError(t, c.Stop(stopCtx))

	// A stopped consolidator can be started again.
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop(stopCtx))
}

func TestProcessPendingEmptyQueue(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{})
	assert.Equal(t, 0, c.ProcessPending(context.Background()))
}

func TestJobUnknown(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{})
	_, ok := c.Job("nope")
	assert.False(t, ok)
}

func TestHistoryTrimsOldestTerminalJobs(t *testing.T) {
	c, _ := newTestConsolidator(t, Config{HistoryLimit: 2})
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		item := memory.NewItem(memory.TypeLearning, memory.SourceConversation, "lesson")
		id, err := c.ScheduleConsolidation(ctx, []*memory.ContextItem{item}, JobKnowledgeDistillation)
		require.NoError(t, err)
		ids = append(ids, id)
		require.Equal(t, 1, c.ProcessPending(ctx))
	}

	_, ok := c.Job(ids[0])
	assert.False(t, ok, "oldest finished job should be trimmed")
	_, ok = c.Job(ids[2])
	assert.True(t, ok)
}
