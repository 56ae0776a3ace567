package retrieval

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

// Task scoping boosts.
const (
	currentTaskBoost     = 0.5
	successSourceBoost   = 0.4
	failureSourceBoost   = 0.3
	activeTaskBoost      = 0.2
	attemptMetadataBoost = 0.15

	// activeTaskWindow is how long a task item counts as "in flight".
	activeTaskWindow = 30 * time.Minute
)

// TaskStrategy assembles working context for an active task: the task's
// own items plus previously recorded success and failure patterns that
// might transfer. The three fetches run in parallel.
type TaskStrategy struct {
	store  Searcher
	logger *zap.Logger
}

var _ Strategy = (*TaskStrategy)(nil)

// NewTaskStrategy creates the task-scoped strategy.
func NewTaskStrategy(store Searcher, logger *zap.Logger) *TaskStrategy {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskStrategy{store: store, logger: logger}
}

func (s *TaskStrategy) Name() string { return "task" }

func (s *TaskStrategy) Priority() int { return taskPriority }

// CanHandle reports true when the query names a task or asks for
// task-typed items.
func (s *TaskStrategy) CanHandle(q *memory.Query) bool {
	if q.TaskID != "" {
		return true
	}
	for _, t := range q.Types {
		if t == memory.TypeTask {
			return true
		}
	}
	return false
}

// Search fetches task-scoped items and transferable outcome patterns
// concurrently, unions them by id and boosts by task affinity.
func (s *TaskStrategy) Search(ctx context.Context, q *memory.Query) ([]*memory.ContextItem, error) {
	taskScoped := &memory.Query{
		Text:       q.Text,
		TaskID:     q.TaskID,
		ProjectID:  q.ProjectID,
		MaxResults: q.Limit(),
	}
	if q.TaskID == "" {
		// No task id to pin on; fall back to task-typed items.
		taskScoped.Types = []memory.ItemType{memory.TypeTask}
	}
	queries := []*memory.Query{
		taskScoped,
		{
			Text:       q.Text,
			ProjectID:  q.ProjectID,
			Sources:    []memory.ItemSource{memory.SourceSuccessPattern},
			MaxResults: q.Limit(),
		},
		{
			Text:       q.Text,
			ProjectID:  q.ProjectID,
			Sources:    []memory.ItemSource{memory.SourceFailurePattern, memory.SourceErrorRecovery},
			MaxResults: q.Limit(),
		},
	}

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		byID   = make(map[string]*memory.ContextItem)
		errOut error
	)
	for _, sub := range queries {
		wg.Add(1)
		go func(sub *memory.Query) {
			defer wg.Done()
			items, err := s.store.Search(ctx, sub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errOut = err
				return
			}
			for _, item := range items {
				if _, ok := byID[item.ID]; !ok {
					byID[item.ID] = item
				}
			}
		}(sub)
	}
	wg.Wait()
	if errOut != nil {
		return nil, errOut
	}

	now := time.Now()
	items := make([]*memory.ContextItem, 0, len(byID))
	for _, item := range byID {
		score := item.RelevanceScore
		if q.TaskID != "" && item.TaskID == q.TaskID {
			score += currentTaskBoost
		}
		if item.Source == memory.SourceSuccessPattern {
			score += successSourceBoost
		}
		if item.Source.FailureSourced() {
			score += failureSourceBoost
		}
		if item.Type == memory.TypeTask && now.Sub(item.Timestamp) < activeTaskWindow {
			score += activeTaskBoost
		}
		if hasAttemptMetadata(item) {
			score += attemptMetadataBoost
		}
		item.RelevanceScore = memory.ClampScore(score)
		items = append(items, item)
	}

	sortRanked(items)
	return truncate(items, q.Limit()), nil
}

// hasAttemptMetadata reports whether the item records attempt or solution
// details from a task run.
func hasAttemptMetadata(item *memory.ContextItem) bool {
	for key := range item.Metadata {
		if strings.Contains(key, "attempt") || strings.Contains(key, "solution") {
			return true
		}
	}
	return false
}
