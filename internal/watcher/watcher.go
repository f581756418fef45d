package watcher

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes to the local store's files so the daemon can sync
// edits made by other processes
type Watcher struct {
	rootPath       string
	watcher        *fsnotify.Watcher
	debouncer      *Debouncer
	watchPatterns  []string
	ignorePatterns []string
	stopCh         chan struct{}
}

// NewWatcher creates a watcher over rootPath. Only paths matching one of
// watchPatterns are reported; an empty list reports everything.
func NewWatcher(rootPath string, debounce time.Duration, watchPatterns, ignorePatterns []string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		rootPath:       rootPath,
		watcher:        fsWatcher,
		debouncer:      NewDebouncer(debounce),
		watchPatterns:  watchPatterns,
		ignorePatterns: ignorePatterns,
		stopCh:         make(chan struct{}),
	}, nil
}

// Start begins watching the root directory and its subdirectories
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.rootPath); err != nil {
		return err
	}

	go w.processEvents(ctx)

	slog.Info("watcher started",
		"path", w.rootPath,
		"watch_patterns", w.watchPatterns)
	return nil
}

// Batches returns the channel of debounced change batches
func (w *Watcher) Batches() <-chan Batch {
	return w.debouncer.Batches()
}

// Stop stops the watcher and closes the batch channel
func (w *Watcher) Stop() error {
	close(w.stopCh)
	w.debouncer.Stop()
	return w.watcher.Close()
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			slog.Warn("error walking path", "path", path, "error", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if rel := w.relPath(path); rel != "." && w.shouldIgnore(rel) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			slog.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}

func (w *Watcher) relPath(path string) string {
	rel, err := filepath.Rel(w.rootPath, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "error", err)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	rel := w.relPath(event.Name)
	if w.shouldIgnore(rel) {
		return
	}

	info, statErr := os.Stat(event.Name)
	isDir := statErr == nil && info.IsDir()

	switch {
	case event.Has(fsnotify.Create) && isDir:
		if err := w.addRecursive(event.Name); err != nil {
			slog.Warn("failed to add new directory", "path", event.Name, "error", err)
		}
	case isDir:
	case !w.shouldWatch(rel):
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.debouncer.Add(rel, OpWrite)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.debouncer.Add(rel, OpRemove)
	}
}

// shouldIgnore reports whether the path or any of its parents matches an
// ignore pattern
func (w *Watcher) shouldIgnore(relPath string) bool {
	parts := strings.Split(relPath, "/")
	for _, pattern := range w.ignorePatterns {
		for i := 1; i <= len(parts); i++ {
			if matched, _ := doublestar.Match(pattern, strings.Join(parts[:i], "/")); matched {
				return true
			}
		}
	}
	return false
}

func (w *Watcher) shouldWatch(relPath string) bool {
	if len(w.watchPatterns) == 0 {
		return true
	}
	for _, pattern := range w.watchPatterns {
		if matched, _ := doublestar.Match(pattern, relPath); matched {
			return true
		}
		// bare file patterns also match inside subdirectories
		if matched, _ := doublestar.Match(pattern, filepath.Base(relPath)); matched {
			return true
		}
	}
	return false
}

// Flush emits pending changes immediately
func (w *Watcher) Flush() {
	w.debouncer.Flush()
}
