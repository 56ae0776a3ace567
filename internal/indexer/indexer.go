// Package indexer walks project trees and loads source files into memory as
// code, documentation and dependency items. Gitignore-style rules and a
// skip-list of generated directories filter the walk. File analyses run with
// bounded concurrency, admitted in walk order through a weighted semaphore,
// and per-file outcomes can be observed on a progress channel. An optional
// watcher re-indexes files as they change on disk.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/memoryd/internal/memory"
)

var tracer = otel.Tracer("memoryd.indexer")

var (
	// ErrAlreadyRunning is returned when a watcher is started twice.
	ErrAlreadyRunning = errors.New("indexer: watcher already running")

	// ErrWatcherFailed indicates the filesystem watcher could not be created.
	ErrWatcherFailed = errors.New("indexer: filesystem watcher failed to initialize")
)

// timeNow is stubbed in tests.
var timeNow = time.Now

// Writer is the slice of the store the indexer writes through. Update
// replaces any chunks already stored under the item id, so re-indexing a
// file never accumulates stale chunks.
type Writer interface {
	Update(ctx context.Context, item *memory.ContextItem) error
	Remove(ctx context.Context, id string) error
}

// FileStatus labels the outcome of one file during indexing.
type FileStatus string

const (
	StatusIndexed FileStatus = "indexed"
	StatusSkipped FileStatus = "skipped"
	StatusFailed  FileStatus = "failed"
)

// Progress reports the outcome of a single file during a batch run. Done is
// the number of files handled so far out of Total candidates; events from
// concurrent analyses may arrive out of Done order.
type Progress struct {
	Path   string
	Status FileStatus
	Err    error
	Done   int
	Total  int
}

// Result summarizes one batch indexing run. Skipped counts candidate files
// passed over for size, binary content or unrecognized type; files matching
// an exclude rule are never candidates and are not counted.
type Result struct {
	Root            string
	FilesIndexed    int
	FilesSkipped    int
	FilesFailed     int
	ExcludePatterns []string
	Duration        time.Duration
	IndexedAt       time.Time
}

const (
	defaultConcurrency = 4
	defaultMaxFileSize = 1 << 20  // 1MB
	maxFileSizeLimit   = 10 << 20 // hard cap
)

// Config controls indexing behavior.
type Config struct {
	// Concurrency caps the number of file analyses in flight at once.
	Concurrency int

	// MaxFileSize is the largest file, in bytes, that will be indexed.
	// Larger files are skipped.
	MaxFileSize int64

	// IncludePatterns, when set, restrict indexing to matching files.
	IncludePatterns []string

	// ExcludePatterns are applied on top of the ignore-file rules.
	ExcludePatterns []string

	// IgnoreFiles are the ignore file names read from the indexed root.
	IgnoreFiles []string
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = defaultMaxFileSize
	}
	if len(c.IgnoreFiles) == 0 {
		c.IgnoreFiles = defaultIgnoreFiles
	}
}

// Indexer loads files from disk into the store.
type Indexer struct {
	store     Writer
	logger    *zap.Logger
	config    Config
	projectID string
	progress  chan<- Progress
}

// Option configures optional indexer collaborators.
type Option func(*Indexer)

// WithProjectID stamps indexed items with a project correlation id.
func WithProjectID(id string) Option {
	return func(ix *Indexer) {
		ix.projectID = id
	}
}

// WithProgress registers a channel receiving per-file progress events.
// Sends never block; a slow consumer loses events rather than stalling
// indexing.
func WithProgress(ch chan<- Progress) Option {
	return func(ix *Indexer) {
		ix.progress = ch
	}
}

// New creates an indexer writing through store.
func New(store Writer, logger *zap.Logger, cfg Config, opts ...Option) (*Indexer, error) {
	if store == nil {
		return nil, errors.New("indexer: store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if cfg.MaxFileSize > maxFileSizeLimit {
		return nil, fmt.Errorf("indexer: max file size cannot exceed %d bytes", int64(maxFileSizeLimit))
	}
	if err := validatePatterns(cfg.IncludePatterns); err != nil {
		return nil, fmt.Errorf("indexer: invalid include pattern: %w", err)
	}
	if err := validatePatterns(cfg.ExcludePatterns); err != nil {
		return nil, fmt.Errorf("indexer: invalid exclude pattern: %w", err)
	}

	ix := &Indexer{
		store:  store,
		logger: logger,
		config: cfg,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix, nil
}

// fileEntry is one candidate file discovered during the walk.
type fileEntry struct {
	path    string
	relPath string
	size    int64
}

// Index walks root and stores every indexable file. At most Concurrency
// analyses run at once; the semaphore admits waiters in walk order, so files
// are picked up FIFO even under contention. Per-file failures are counted
// and logged, not propagated; only a broken walk or cancellation aborts the
// run.
func (ix *Indexer) Index(ctx context.Context, root string) (*Result, error) {
	ctx, span := tracer.Start(ctx, "Indexer.Index")
	defer span.End()
	start := timeNow()

	cleanRoot, err := validateRoot(root)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	span.SetAttributes(attribute.String("root", cleanRoot))

	patterns, err := loadExcludePatterns(cleanRoot, ix.config.IgnoreFiles)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}
	patterns = deduplicate(append(patterns, ix.config.ExcludePatterns...))

	candidates, err := collectFiles(ctx, cleanRoot, patterns, ix.config.IncludePatterns)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("walking file tree: %w", err)
	}

	var indexed, skipped, failed, done atomic.Int64
	total := len(candidates)

	sem := semaphore.NewWeighted(int64(ix.config.Concurrency))
	var wg sync.WaitGroup
	var admitErr error
	for _, entry := range candidates {
		// Acquiring before spawning bounds goroutines and preserves the
		// walk order of admissions.
		if err := sem.Acquire(ctx, 1); err != nil {
			admitErr = err
			break
		}
		wg.Add(1)
		go func(entry fileEntry) {
			defer wg.Done()
			defer sem.Release(1)

			status, ferr := ix.indexFile(ctx, entry)
			switch status {
			case StatusIndexed:
				indexed.Add(1)
			case StatusSkipped:
				skipped.Add(1)
			case StatusFailed:
				failed.Add(1)
			}
			filesTotal.WithLabelValues(string(status)).Inc()
			ix.emit(Progress{
				Path:   entry.relPath,
				Status: status,
				Err:    ferr,
				Done:   int(done.Add(1)),
				Total:  total,
			})
			if ferr != nil {
				ix.logger.Warn("indexing file failed",
					zap.String("file", entry.relPath),
					zap.Error(ferr),
				)
			}
		}(entry)
	}
	wg.Wait()

	if admitErr != nil {
		span.RecordError(admitErr)
		span.SetStatus(codes.Error, admitErr.Error())
		return nil, fmt.Errorf("indexing interrupted: %w", admitErr)
	}

	result := &Result{
		Root:            cleanRoot,
		FilesIndexed:    int(indexed.Load()),
		FilesSkipped:    int(skipped.Load()),
		FilesFailed:     int(failed.Load()),
		ExcludePatterns: patterns,
		Duration:        timeNow().Sub(start),
		IndexedAt:       start,
	}
	indexDuration.Observe(result.Duration.Seconds())
	span.SetAttributes(
		attribute.Int("files_indexed", result.FilesIndexed),
		attribute.Int("files_skipped", result.FilesSkipped),
		attribute.Int("files_failed", result.FilesFailed),
	)
	ix.logger.Info("directory indexed",
		zap.String("root", cleanRoot),
		zap.Int("indexed", result.FilesIndexed),
		zap.Int("skipped", result.FilesSkipped),
		zap.Int("failed", result.FilesFailed),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// indexFile analyzes one candidate and writes it to the store.
func (ix *Indexer) indexFile(ctx context.Context, entry fileEntry) (FileStatus, error) {
	class, ok := classify(entry.relPath)
	if !ok {
		return StatusSkipped, nil
	}
	if entry.size > ix.config.MaxFileSize {
		return StatusSkipped, nil
	}

	content, err := os.ReadFile(entry.path)
	if err != nil {
		return StatusFailed, fmt.Errorf("reading file: %w", err)
	}
	// Binary files cannot be embedded as text.
	if !utf8.Valid(content) {
		return StatusSkipped, nil
	}

	item := fileItem(ix.projectID, entry.relPath, content, class)
	if err := ix.store.Update(ctx, item); err != nil {
		return StatusFailed, fmt.Errorf("storing %s: %w", entry.relPath, err)
	}
	return StatusIndexed, nil
}

// emit sends a progress event without blocking.
func (ix *Indexer) emit(p Progress) {
	if ix.progress == nil {
		return
	}
	select {
	case ix.progress <- p:
	default:
	}
}

// collectFiles walks root and returns the files surviving directory skips
// and pattern filters, in walk order.
func collectFiles(ctx context.Context, root string, excludes, includes []string) ([]fileEntry, error) {
	var files []fileEntry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != root && defaultSkipDirs[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return fmt.Errorf("computing relative path: %w", err)
		}
		if excluded(excludes, relPath) {
			return nil
		}
		if len(includes) > 0 && !matchesInclude(includes, relPath) {
			return nil
		}
		files = append(files, fileEntry{path: path, relPath: relPath, size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// matchesInclude reports whether relPath matches any include pattern,
// tried against the basename and the full relative path.
func matchesInclude(patterns []string, relPath string) bool {
	basename := filepath.Base(relPath)
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, basename); matched {
			return true
		}
		if matched, _ := filepath.Match(pattern, relPath); matched {
			return true
		}
	}
	return false
}

// validateRoot cleans the path and requires an existing directory.
func validateRoot(path string) (string, error) {
	if path == "" {
		return "", errors.New("path cannot be empty")
	}
	cleanPath := filepath.Clean(path)
	info, err := os.Stat(cleanPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("path does not exist: %s", cleanPath)
		}
		return "", fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path must be a directory: %s", cleanPath)
	}
	return cleanPath, nil
}
