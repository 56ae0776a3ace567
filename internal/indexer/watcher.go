package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-indexes files as they change on disk. fsnotify does not watch
// recursively, so every non-skipped directory under the root is registered,
// and directories created while watching are added as they appear. Events
// are handled one at a time on the watch goroutine, which serializes writes
// for any one file id.
type Watcher struct {
	ix       *Indexer
	root     string
	patterns []string
	fsw      *fsnotify.Watcher
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// Watch creates a watcher for root. Ignore rules are snapshotted at creation
// time. Call Start to begin processing events; a stopped watcher cannot be
// restarted.
func (ix *Indexer) Watch(root string) (*Watcher, error) {
	cleanRoot, err := validateRoot(root)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	patterns, err := loadExcludePatterns(cleanRoot, ix.config.IgnoreFiles)
	if err != nil {
		return nil, fmt.Errorf("reading ignore files: %w", err)
	}
	patterns = deduplicate(append(patterns, ix.config.ExcludePatterns...))

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrWatcherFailed, err)
	}

	return &Watcher{
		ix:       ix,
		root:     cleanRoot,
		patterns: patterns,
		fsw:      fsw,
		logger:   ix.logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start registers the directory tree with the filesystem watcher and begins
// processing events in the background.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case <-w.stopCh:
		return errors.New("indexer: watcher is stopped")
	default:
	}
	if w.running {
		return ErrAlreadyRunning
	}
	if err := w.addDirs(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	w.running = true

	go w.run(ctx)

	w.logger.Info("watching directory for changes", zap.String("root", w.root))
	return nil
}

// Stop stops the watcher and releases its filesystem resources. Safe to
// call more than once.
func (w *Watcher) Stop() {
	w.mu.Lock()
	started := w.running
	w.running = false
	select {
	case <-w.stopCh:
		w.mu.Unlock()
		return
	default:
		close(w.stopCh)
	}
	w.mu.Unlock()

	_ = w.fsw.Close()
	if started {
		<-w.doneCh
	}
}

// run processes filesystem events until stopped.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("filesystem watcher error", zap.Error(err))
		}
	}
}

// handleEvent routes one filesystem event.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) {
	watchEvents.WithLabelValues(strings.ToLower(event.Op.String())).Inc()

	relPath, err := filepath.Rel(w.root, event.Name)
	if err != nil || relPath == "." || strings.HasPrefix(relPath, "..") {
		return
	}

	switch {
	case event.Op&fsnotify.Create == fsnotify.Create:
		info, err := os.Stat(event.Name)
		if err != nil {
			return
		}
		if info.IsDir() {
			w.watchNewDir(ctx, event.Name, relPath)
			return
		}
		w.reindex(ctx, event.Name, relPath, info.Size())

	case event.Op&fsnotify.Write == fsnotify.Write:
		info, err := os.Stat(event.Name)
		if err != nil || info.IsDir() {
			return
		}
		w.reindex(ctx, event.Name, relPath, info.Size())

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		// The path is gone; drop whatever item it produced. Removes are
		// idempotent, so a directory or never-indexed file is harmless.
		if err := w.ix.store.Remove(ctx, itemID(w.ix.projectID, relPath)); err != nil {
			w.logger.Warn("removing index entry failed",
				zap.String("file", relPath),
				zap.Error(err),
			)
		}
	}
}

// watchNewDir registers a directory created while watching and indexes any
// files that landed in it before the watch was in place.
func (w *Watcher) watchNewDir(ctx context.Context, dir, relDir string) {
	if defaultSkipDirs[filepath.Base(dir)] {
		return
	}
	if err := w.addDirs(dir); err != nil {
		w.logger.Warn("watching new directory failed",
			zap.String("dir", relDir),
			zap.Error(err),
		)
		return
	}
	_ = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if defaultSkipDirs[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		relPath, err := filepath.Rel(w.root, path)
		if err != nil {
			return nil
		}
		w.reindex(ctx, path, relPath, info.Size())
		return nil
	})
}

// reindex runs one file through the same filters and analysis as a batch
// run.
func (w *Watcher) reindex(ctx context.Context, path, relPath string, size int64) {
	if excluded(w.patterns, relPath) {
		return
	}
	if len(w.ix.config.IncludePatterns) > 0 && !matchesInclude(w.ix.config.IncludePatterns, relPath) {
		return
	}

	status, err := w.ix.indexFile(ctx, fileEntry{path: path, relPath: relPath, size: size})
	filesTotal.WithLabelValues(string(status)).Inc()
	w.ix.emit(Progress{Path: relPath, Status: status, Err: err})
	if err != nil {
		w.logger.Warn("re-indexing file failed",
			zap.String("file", relPath),
			zap.Error(err),
		)
		return
	}
	if status == StatusIndexed {
		w.logger.Debug("re-indexed changed file", zap.String("file", relPath))
	}
}

// addDirs registers dir and every non-skipped directory below it.
func (w *Watcher) addDirs(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return nil
		}
		if path != dir && defaultSkipDirs[filepath.Base(path)] {
			return filepath.SkipDir
		}
		return w.fsw.Add(path)
	})
}
