// Package consolidator mines accumulated context items for repeated
// structure and writes back distilled, higher-confidence knowledge.
//
// Work arrives as jobs on an in-process FIFO queue owned by a single worker
// goroutine. Scheduling a job wakes the worker immediately; a fixed-period
// ticker also wakes it whenever the queue is non-empty, so jobs are
// eventually processed even without explicit wake-ups. Exactly one job is
// processed at a time, and a failing job is marked failed without stopping
// the queue.
package consolidator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.consolidator")

var (
	// ErrUnknownJobType indicates a schedule call with an unrecognized
	// job type.
	ErrUnknownJobType = errors.New("consolidator: unknown job type")

	// ErrNoItems indicates a schedule call without items.
	ErrNoItems = errors.New("consolidator: no items to consolidate")

	// ErrQueueFull indicates the pending queue hit its limit.
	ErrQueueFull = errors.New("consolidator: queue full")

	// ErrAlreadyRunning indicates a second Start without a Stop.
	ErrAlreadyRunning = errors.New("consolidator: already running")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// JobType selects the extraction a job runs.
type JobType string

const (
	JobPatternExtraction     JobType = "pattern_extraction"
	JobKnowledgeDistillation JobType = "knowledge_distillation"
	JobFailureAnalysis       JobType = "failure_analysis"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobPatternExtraction, JobKnowledgeDistillation, JobFailureAnalysis:
		return true
	}
	return false
}

// JobStatus tracks a job through its lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// job is the internal queue entry. External observers see JobView
// snapshots only.
type job struct {
	id         string
	jobType    JobType
	items      []*memory.ContextItem
	status     JobStatus
	enqueuedAt time.Time
	startedAt  time.Time
	finishedAt time.Time
	results    []*memory.ConsolidationResult
	err        string
}

// JobView is an observer snapshot of a job.
type JobView struct {
	ID         string
	Type       JobType
	Status     JobStatus
	ItemCount  int
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time
	Results    []*memory.ConsolidationResult
	Error      string
}

// Stats summarizes the queue for observability.
type Stats struct {
	QueueDepth int
	ByStatus   map[JobStatus]int
}

// Writer is the slice of the context store results are written through.
type Writer interface {
	Store(ctx context.Context, item *memory.ContextItem) error
}

// LearningRecorder folds consolidation results into long-term memory.
// Satisfied by the longterm manager.
type LearningRecorder interface {
	RecordLearning(ctx context.Context, experience string, category memory.PatternCategory, contextText, projectID string, tags []string) (*memory.LearningPattern, error)
}

// Config holds consolidator configuration.
type Config struct {
	// Interval is the worker wake-up period. Default 30s.
	Interval time.Duration

	// QueueLimit bounds the pending queue. Default 256.
	QueueLimit int

	// HistoryLimit bounds how many finished jobs stay observable.
	// Default 256.
	HistoryLimit int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Second
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = 256
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 256
	}
}

// Consolidator owns the job queue and the background worker.
type Consolidator struct {
	store    Writer
	learning LearningRecorder
	logger   *zap.Logger
	config   Config

	wakeCh chan struct{}

	mu       sync.Mutex
	queue    []*job
	jobs     map[string]*job
	jobOrder []string
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// Option configures a Consolidator.
type Option func(*Consolidator)

// WithLearningRecorder folds every stored result into long-term memory as
// well. Without it, results are stored as items only.
func WithLearningRecorder(r LearningRecorder) Option {
	return func(c *Consolidator) {
		c.learning = r
	}
}

// SetLearningRecorder wires the recorder after construction, for callers
// that build the consolidator before the long-term manager that feeds it.
// Must be called before Start.
func (c *Consolidator) SetLearningRecorder(r LearningRecorder) {
	c.learning = r
}

// New creates a consolidator. The store is required; call Start to begin
// background processing, or drive the queue synchronously with
// ProcessPending.
func New(store Writer, logger *zap.Logger, cfg Config, opts ...Option) (*Consolidator, error) {
	if store == nil {
		return nil, errors.New("consolidator: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	c := &Consolidator{
		store:  store,
		logger: logger,
		config: cfg,
		wakeCh: make(chan struct{}, 1),
		jobs:   make(map[string]*job),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ScheduleConsolidation enqueues a job and wakes the worker if it is idle.
// Items are cloned so callers can keep mutating their copies.
func (c *Consolidator) ScheduleConsolidation(ctx context.Context, items []*memory.ContextItem, jobType JobType) (string, error) {
	_, span := tracer.Start(ctx, "Consolidator.ScheduleConsolidation")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_type", string(jobType)),
		attribute.Int("items", len(items)),
	)

	if !jobType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownJobType, jobType)
	}
	if len(items) == 0 {
		return "", ErrNoItems
	}

	cloned := make([]*memory.ContextItem, len(items))
	for i, it := range items {
		cloned[i] = it.Clone()
	}
	j := &job{
		id:         uuid.New().String(),
		jobType:    jobType,
		items:      cloned,
		status:     JobPending,
		enqueuedAt: timeNow(),
	}

	c.mu.Lock()
	if len(c.queue) >= c.config.QueueLimit {
		c.mu.Unlock()
		return "", ErrQueueFull
	}
	c.queue = append(c.queue, j)
	c.jobs[j.id] = j
	c.jobOrder = append(c.jobOrder, j.id)
	c.trimHistoryLocked()
	depth := len(c.queue)
	c.mu.Unlock()

	jobsScheduled.WithLabelValues(string(jobType)).Inc()
	queueDepth.Set(float64(depth))

	select {
	case c.wakeCh <- struct{}{}:
	default:
	}

	c.logger.Debug("consolidation job scheduled",
		zap.String("job_id", j.id),
		zap.String("job_type", string(jobType)),
		zap.Int("items", len(items)),
	)
	return j.id, nil
}

// Start launches the background worker. It is an error to start a running
// consolidator.
func (c *Consolidator) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrAlreadyRunning
	}
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	c.running = true

	go c.run()

	c.logger.Info("consolidator started",
		zap.Duration("interval", c.config.Interval),
	)
	return nil
}

// Stop signals the worker and waits for the in-flight job to finish, up to
// the context deadline. Stopping a consolidator that is not running is a
// no-op.
func (c *Consolidator) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopCh)
	done := c.doneCh
	c.mu.Unlock()

	select {
	case <-done:
		c.logger.Info("consolidator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("consolidator: stop: %w", ctx.Err())
	}
}

// run is the worker loop. Jobs run with a background context; a job in
// flight is never cancelled, shutdown takes effect between jobs.
func (c *Consolidator) run() {
	c.mu.Lock()
	stopCh, doneCh := c.stopCh, c.doneCh
	c.mu.Unlock()

	defer close(doneCh)
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("consolidator worker panicked",
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
		}
	}()

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-c.wakeCh:
		case <-ticker.C:
		}
		c.drain(stopCh)
	}
}

// drain processes queued jobs until the queue empties or stop is
// signalled. Stop takes effect between jobs, never mid-job.
func (c *Consolidator) drain(stopCh <-chan struct{}) {
	for {
		select {
		case <-stopCh:
			return
		default:
		}
		if !c.processNext(context.Background()) {
			return
		}
	}
}

// ProcessPending drains the queue synchronously, one job at a time, and
// returns the number of jobs processed. The background worker covers the
// steady state; tests and admin endpoints call this directly.
func (c *Consolidator) ProcessPending(ctx context.Context) int {
	processed := 0
	for c.processNext(ctx) {
		processed++
	}
	return processed
}

// processNext pulls the oldest pending job and runs it. Returns false when
// the queue is empty.
func (c *Consolidator) processNext(ctx context.Context) bool {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return false
	}
	j := c.queue[0]
	c.queue = c.queue[1:]
	j.status = JobProcessing
	j.startedAt = timeNow()
	depth := len(c.queue)
	c.mu.Unlock()

	queueDepth.Set(float64(depth))
	start := time.Now()
	results, err := c.runJob(ctx, j)
	processDuration.Observe(time.Since(start).Seconds())

	c.mu.Lock()
	j.finishedAt = timeNow()
	if err != nil {
		j.status = JobFailed
		j.err = err.Error()
	} else {
		j.status = JobCompleted
		j.results = results
	}
	c.mu.Unlock()

	if err != nil {
		jobsProcessed.WithLabelValues(string(JobFailed)).Inc()
		c.logger.Warn("consolidation job failed",
			zap.String("job_id", j.id),
			zap.String("job_type", string(j.jobType)),
			zap.Error(err),
		)
	} else {
		jobsProcessed.WithLabelValues(string(JobCompleted)).Inc()
		c.logger.Info("consolidation job completed",
			zap.String("job_id", j.id),
			zap.String("job_type", string(j.jobType)),
			zap.Int("results", len(results)),
		)
	}
	return true
}

// runJob executes the type-specific extraction and stores every result. A
// panic inside extraction fails the job, not the worker.
func (c *Consolidator) runJob(ctx context.Context, j *job) (results []*memory.ConsolidationResult, err error) {
	ctx, span := tracer.Start(ctx, "Consolidator.RunJob")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", j.id),
		attribute.String("job_type", string(j.jobType)),
		attribute.Int("items", len(j.items)),
	)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("consolidator: job panicked: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "job failed")
		}
	}()

	switch j.jobType {
	case JobPatternExtraction:
		results = extractSimilarityPatterns(j.items, memory.ConsolidationPattern)
		results = append(results, extractTechniques(j.items)...)
	case JobFailureAnalysis:
		results = extractSimilarityPatterns(failureSourced(j.items), memory.ConsolidationAntipattern)
	case JobKnowledgeDistillation:
		results = distillKnowledge(j.items)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobType, j.jobType)
	}

	var storeErrs []error
	for _, result := range results {
		if storeErr := c.storeResult(ctx, result); storeErr != nil {
			storeErrs = append(storeErrs, storeErr)
		}
	}
	if len(storeErrs) > 0 {
		return results, errors.Join(storeErrs...)
	}
	return results, nil
}

// storeResult persists a result as a consolidated_learning item and folds
// it into long-term memory when a recorder is wired.
func (c *Consolidator) storeResult(ctx context.Context, result *memory.ConsolidationResult) error {
	item := memory.NewItem(memory.TypeLearning, memory.SourceConsolidatedLearning, result.Pattern)
	item.ID = "consolidated_" + result.ID
	item.Priority = memory.PriorityHigh
	item.RelevanceScore = result.Confidence
	item.Timestamp = result.CreatedAt
	item.Tags = append(append([]string(nil), result.Applicability...), "consolidated")
	item.Metadata[memory.MetaStoredScore] = result.Confidence
	item.Metadata[memory.MetaEffectiveness] = result.Confidence
	item.Metadata["consolidation_type"] = string(result.Type)
	item.Metadata["frequency"] = result.Frequency
	if len(result.Evidence) > 0 {
		item.Metadata["evidence"] = joinLimited(result.Evidence, ",", 50)
	}
	if n := projectCount(result.Applicability); n > 0 {
		item.Metadata["project_count"] = n
	}

	if err := c.store.Store(ctx, item); err != nil {
		return fmt.Errorf("storing result %s: %w", result.ID, err)
	}
	resultsStored.WithLabelValues(string(result.Type)).Inc()

	if c.learning != nil {
		if _, err := c.learning.RecordLearning(ctx, result.Pattern, categoryFor(result.Type), "", "", result.Applicability); err != nil {
			c.logger.Warn("recording consolidated learning failed",
				zap.String("result_id", result.ID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Job returns an observer snapshot of a job.
func (c *Consolidator) Job(id string) (JobView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return JobView{}, false
	}
	return JobView{
		ID:         j.id,
		Type:       j.jobType,
		Status:     j.status,
		ItemCount:  len(j.items),
		EnqueuedAt: j.enqueuedAt,
		StartedAt:  j.startedAt,
		FinishedAt: j.finishedAt,
		Results:    append([]*memory.ConsolidationResult(nil), j.results...),
		Error:      j.err,
	}, true
}

// Stats summarizes queue depth and job counts by status.
func (c *Consolidator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := Stats{
		QueueDepth: len(c.queue),
		ByStatus:   make(map[JobStatus]int),
	}
	for _, j := range c.jobs {
		stats.ByStatus[j.status]++
	}
	return stats
}

// trimHistoryLocked drops the oldest terminal jobs beyond the history
// limit. Pending and processing jobs are never dropped.
func (c *Consolidator) trimHistoryLocked() {
	for len(c.jobOrder) > c.config.HistoryLimit {
		trimmed := false
		for i, id := range c.jobOrder {
			j := c.jobs[id]
			if j.status == JobCompleted || j.status == JobFailed {
				delete(c.jobs, id)
				c.jobOrder = append(c.jobOrder[:i], c.jobOrder[i+1:]...)
				trimmed = true
				break
			}
		}
		if !trimmed {
			return
		}
	}
}

func failureSourced(items []*memory.ContextItem) []*memory.ContextItem {
	var out []*memory.ContextItem
	for _, it := range items {
		if it.Source.FailureSourced() {
			out = append(out, it)
		}
	}
	return out
}

// categoryFor maps a consolidation type to the long-term pattern category.
func categoryFor(t memory.ConsolidationType) memory.PatternCategory {
	switch t {
	case memory.ConsolidationAntipattern:
		return memory.CategoryAntipattern
	case memory.ConsolidationTechnique:
		return memory.CategoryTechnique
	case memory.ConsolidationInsight:
		return memory.CategoryTechnique
	default:
		return memory.CategorySuccess
	}
}

// joinLimited joins at most n elements to keep metadata payloads bounded.
func joinLimited(parts []string, sep string, n int) string {
	if len(parts) > n {
		parts = parts[:n]
	}
	return strings.Join(parts, sep)
}

func projectCount(applicability []string) int {
	n := 0
	for _, a := range applicability {
		if strings.HasPrefix(a, applicabilityProjectPrefix) && len(a) > len(applicabilityProjectPrefix) {
			n++
		}
	}
	return n
}
