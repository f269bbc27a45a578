// Package watch submits image batches automatically: it watches a
// directory for new image files, debounces the burst of filesystem events
// a multi-file copy produces, and hands the settled batch to a submit
// callback.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Error backoff for sustained watcher errors (e.g. kernel buffer
// overflow). Prevents a tight warn loop.
const (
	errInitBackoff = 100 * time.Millisecond
	errMaxBackoff  = 5 * time.Second
	errBackoffMult = 2
)

// SubmitFunc receives one settled batch of image paths, sorted. Batches
// are delivered sequentially; the watcher keeps collecting while a submit
// is in flight only after it returns.
type SubmitFunc func(ctx context.Context, paths []string)

// Watcher collects image files appearing in a directory into batches.
type Watcher struct {
	dir      string
	debounce time.Duration
	exts     map[string]bool
	submit   SubmitFunc
	logger   *slog.Logger
}

// New creates a watcher for dir. extensions are bare lowercase suffixes
// without the dot ("jpg", "png").
func New(dir string, debounce time.Duration, extensions []string, submit SubmitFunc, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}

	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}

	return &Watcher{
		dir:      dir,
		debounce: debounce,
		exts:     exts,
		submit:   submit,
		logger:   logger,
	}
}

// Run watches until ctx is canceled. Files already present in the
// directory at startup are collected into the first batch, so a watch
// started on a pre-filled directory does not silently ignore it.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watch: watching %s: %w", w.dir, err)
	}

	w.logger.Info("watching directory",
		slog.String("dir", w.dir),
		slog.Duration("debounce", w.debounce),
	)

	pending := map[string]bool{}

	for _, path := range w.existingImages() {
		pending[path] = true
	}

	// The timer starts stopped; each collected file rearms it.
	timer := time.NewTimer(w.debounce)
	if len(pending) == 0 && !timer.Stop() {
		<-timer.C
	}

	defer timer.Stop()

	errBackoff := errInitBackoff

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if w.collect(event, pending) {
				timer.Reset(w.debounce)
			}

			errBackoff = errInitBackoff

		case watchErr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			w.logger.Warn("filesystem watcher error",
				slog.String("error", watchErr.Error()),
				slog.Duration("backoff", errBackoff),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errBackoff):
			}

			errBackoff *= errBackoffMult
			if errBackoff > errMaxBackoff {
				errBackoff = errMaxBackoff
			}

		case <-timer.C:
			w.flush(ctx, pending)
			pending = map[string]bool{}
		}
	}
}

// collect folds one filesystem event into the pending batch and reports
// whether the debounce window should rearm.
func (w *Watcher) collect(event fsnotify.Event, pending map[string]bool) bool {
	// Mode changes are noise.
	if event.Has(fsnotify.Chmod) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		if pending[event.Name] {
			delete(pending, event.Name)

			return len(pending) > 0
		}

		return false
	}

	if !w.isImage(event.Name) {
		return false
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		return false
	}

	pending[event.Name] = true

	w.logger.Debug("image collected", slog.String("path", event.Name))

	return true
}

// flush hands the settled batch to the submit callback.
func (w *Watcher) flush(ctx context.Context, pending map[string]bool) {
	if len(pending) == 0 {
		return
	}

	paths := make([]string, 0, len(pending))
	for path := range pending {
		paths = append(paths, path)
	}

	sort.Strings(paths)

	w.logger.Info("submitting batch", slog.Int("files", len(paths)))

	w.submit(ctx, paths)
}

// existingImages lists image files already present in the watched
// directory.
func (w *Watcher) existingImages() []string {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("initial directory scan failed", slog.String("error", err.Error()))

		return nil
	}

	var paths []string

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(w.dir, entry.Name())
		if w.isImage(path) {
			paths = append(paths, path)
		}
	}

	return paths
}

// isImage reports whether a path has one of the configured image
// extensions.
func (w *Watcher) isImage(path string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))

	return ext != "" && w.exts[ext]
}
