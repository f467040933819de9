package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrNoRoots is returned by Start when none of the roots exist.
var ErrNoRoots = errors.New("no documentation roots to watch")

// DocsWatcher watches documentation roots with fsnotify, falling back to
// polling, and emits debounced batches of markdown page changes.
type DocsWatcher struct {
	opts      Options
	fsWatcher *fsnotify.Watcher
	debouncer *Debouncer
	events    chan []FileEvent
	errors    chan error
	stopCh    chan struct{}
	roots     []string

	mu             sync.RWMutex
	stopped        bool
	polling        atomic.Bool
	droppedBatches atomic.Uint64
}

// New creates a watcher. fsnotify initialization failures select polling
// mode instead of failing.
func New(opts Options) (*DocsWatcher, error) {
	opts = opts.WithDefaults()

	w := &DocsWatcher{
		opts:      opts,
		debouncer: NewDebouncer(opts.DebounceWindow),
		events:    make(chan []FileEvent, opts.EventBufferSize),
		errors:    make(chan error, 10),
		stopCh:    make(chan struct{}),
	}

	if !opts.ForcePolling {
		fsw, err := fsnotify.NewWatcher()
		if err != nil {
			slog.Warn("fsnotify unavailable, using polling",
				slog.String("error", err.Error()))
		} else {
			w.fsWatcher = fsw
		}
	}
	w.polling.Store(w.fsWatcher == nil)

	return w, nil
}

// Start watches roots until ctx is cancelled or Stop is called. Roots that
// do not exist are skipped; ErrNoRoots is returned when none remain.
func (w *DocsWatcher) Start(ctx context.Context, roots []string) error {
	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return fmt.Errorf("resolve absolute path: %w", err)
		}
		if info, err := os.Stat(abs); err != nil || !info.IsDir() {
			slog.Debug("skipping missing docs root", slog.String("root", abs))
			continue
		}
		w.roots = append(w.roots, abs)
	}
	if len(w.roots) == 0 {
		return ErrNoRoots
	}
	// Longest first so nested roots win in rootFor.
	sort.Slice(w.roots, func(i, j int) bool { return len(w.roots[i]) > len(w.roots[j]) })

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	go w.forwardDebouncedEvents(runCtx)

	if !w.polling.Load() {
		if err := w.addRoots(); err != nil {
			slog.Warn("fsnotify cannot watch docs roots, using polling",
				slog.String("error", err.Error()))
			w.polling.Store(true)
		}
	}

	slog.Info("watching documentation",
		slog.Int("roots", len(w.roots)),
		slog.Bool("polling", w.polling.Load()))

	var err error
	if w.polling.Load() {
		err = NewPollingWatcher(w.opts.PollInterval, w.debouncer.Add).Start(runCtx, w.roots)
	} else {
		err = w.runFsnotify(runCtx)
	}

	if ctx.Err() != nil {
		_ = w.Stop()
		return ctx.Err()
	}
	if w.isStopped() {
		return nil
	}
	return err
}

func (w *DocsWatcher) addRoots() error {
	for _, root := range w.roots {
		if err := w.addRecursive(root); err != nil {
			return err
		}
	}
	return nil
}

func (w *DocsWatcher) runFsnotify(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handleFsnotifyEvent(event)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			w.emitError(err)
		}
	}
}

// handleFsnotifyEvent converts a raw event into a page event.
func (w *DocsWatcher) handleFsnotifyEvent(event fsnotify.Event) {
	root := w.rootFor(event.Name)
	if root == "" {
		return
	}
	rel, err := filepath.Rel(root, event.Name)
	if err != nil || rel == "." || hiddenPath(rel) {
		return
	}

	isDir := false
	if info, err := os.Stat(event.Name); err == nil {
		isDir = info.IsDir()
	}

	if isDir {
		// Pages written before the new directory was watched are emitted
		// here, otherwise a fast clone or checkout loses them.
		if event.Op&fsnotify.Create != 0 && !skipDir(filepath.Base(event.Name)) {
			_ = w.addRecursive(event.Name)
			w.emitTree(root, event.Name)
		}
		return
	}
	if !isDocFile(event.Name) {
		return
	}

	var op Operation
	switch {
	case event.Op&fsnotify.Create != 0:
		op = OpCreate
	case event.Op&fsnotify.Write != 0:
		op = OpModify
	case event.Op&fsnotify.Remove != 0:
		op = OpDelete
	case event.Op&fsnotify.Rename != 0:
		op = OpRename
	default:
		return
	}

	w.debouncer.Add(FileEvent{
		Root:      root,
		Path:      filepath.ToSlash(rel),
		Operation: op,
		Timestamp: time.Now(),
	})
}

// emitTree reports every page below dir as created.
func (w *DocsWatcher) emitTree(root, dir string) {
	for _, snap := range scanRoots([]string{dir}) {
		rel, err := filepath.Rel(root, filepath.Join(dir, filepath.FromSlash(snap.rel)))
		if err != nil {
			continue
		}
		w.debouncer.Add(FileEvent{
			Root:      root,
			Path:      filepath.ToSlash(rel),
			Operation: OpCreate,
			Timestamp: time.Now(),
		})
	}
}

// rootFor returns the watched root containing path, or "".
func (w *DocsWatcher) rootFor(path string) string {
	for _, root := range w.roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return root
		}
	}
	return ""
}

// addRecursive adds dir and its non-hidden subdirectories to fsnotify.
func (w *DocsWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil // Skip directories we can't access
		}
		if !d.IsDir() {
			return nil
		}
		if path != dir && skipDir(d.Name()) {
			return filepath.SkipDir
		}
		return w.fsWatcher.Add(path)
	})
}

func (w *DocsWatcher) forwardDebouncedEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return
			}
			if len(batch) > 0 {
				w.emitEvents(batch)
			}
		}
	}
}

func (w *DocsWatcher) emitEvents(batch []FileEvent) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}
	select {
	case w.events <- batch:
	default:
		count := w.droppedBatches.Add(1)
		slog.Warn("event buffer full, dropping batch",
			slog.Int("batch_size", len(batch)),
			slog.Uint64("total_dropped_batches", count))
	}
}

func (w *DocsWatcher) emitError(err error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.stopped {
		return
	}
	select {
	case w.errors <- err:
	default:
	}
}

// Events returns the channel of debounced page batches.
// The channel is closed when the watcher stops.
func (w *DocsWatcher) Events() <-chan []FileEvent {
	return w.events
}

// Errors returns non-fatal watcher errors.
func (w *DocsWatcher) Errors() <-chan error {
	return w.errors
}

// IsPolling reports whether the watcher runs in polling mode.
func (w *DocsWatcher) IsPolling() bool {
	return w.polling.Load()
}

// DroppedBatches returns the number of batches lost to a full buffer.
func (w *DocsWatcher) DroppedBatches() uint64 {
	return w.droppedBatches.Load()
}

func (w *DocsWatcher) isStopped() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stopped
}

// Stop stops the watcher and closes its channels. Safe to call multiple times.
func (w *DocsWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)
	w.debouncer.Stop()

	var err error
	if w.fsWatcher != nil {
		err = w.fsWatcher.Close()
	}
	close(w.events)
	close(w.errors)
	return err
}

// Watch runs a watcher over roots and calls onChange with every batch until
// ctx is cancelled. Watcher errors are logged and do not stop the loop.
func Watch(ctx context.Context, roots []string, opts Options, onChange func([]FileEvent)) error {
	w, err := New(opts)
	if err != nil {
		return err
	}
	defer func() { _ = w.Stop() }()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx, roots) }()

	errs := w.Errors()
	for {
		select {
		case err := <-done:
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			slog.Info("documentation changed",
				slog.Int("pages", len(batch)),
				slog.String("first", batch[0].Path))
			onChange(batch)
		case werr, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			slog.Warn("watcher error", slog.String("error", werr.Error()))
		}
	}
}
