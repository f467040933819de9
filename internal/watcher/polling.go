package watcher

import (
	"context"
	"io/fs"
	"path/filepath"
	"time"
)

// PollingWatcher detects page changes by rescanning the docs roots on an
// interval. Used when fsnotify is unavailable or cannot watch a root.
type PollingWatcher struct {
	interval time.Duration
	emit     func(FileEvent)
	state    map[string]fileSnapshot
}

type fileSnapshot struct {
	root    string
	rel     string
	modTime time.Time
	size    int64
}

// NewPollingWatcher creates a poller that reports changes to emit.
func NewPollingWatcher(interval time.Duration, emit func(FileEvent)) *PollingWatcher {
	return &PollingWatcher{
		interval: interval,
		emit:     emit,
		state:    make(map[string]fileSnapshot),
	}
}

// Start takes a baseline of roots and polls until ctx is done.
func (p *PollingWatcher) Start(ctx context.Context, roots []string) error {
	p.state = scanRoots(roots)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.Poll(roots)
		}
	}
}

// Poll rescans roots once and emits the differences from the last scan.
func (p *PollingWatcher) Poll(roots []string) {
	current := scanRoots(roots)
	now := time.Now()

	for k, snap := range current {
		prev, seen := p.state[k]
		switch {
		case !seen:
			p.emit(FileEvent{Root: snap.root, Path: snap.rel, Operation: OpCreate, Timestamp: now})
		case !prev.modTime.Equal(snap.modTime) || prev.size != snap.size:
			p.emit(FileEvent{Root: snap.root, Path: snap.rel, Operation: OpModify, Timestamp: now})
		}
	}
	for k, snap := range p.state {
		if _, ok := current[k]; !ok {
			p.emit(FileEvent{Root: snap.root, Path: snap.rel, Operation: OpDelete, Timestamp: now})
		}
	}
	p.state = current
}

// scanRoots records every markdown page below roots. Missing roots and
// unreadable entries are skipped.
func scanRoots(roots []string) map[string]fileSnapshot {
	out := make(map[string]fileSnapshot)
	for _, root := range roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if d.IsDir() {
				if path != root && skipDir(d.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !isDocFile(d.Name()) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return nil
			}
			snap := fileSnapshot{
				root:    root,
				rel:     filepath.ToSlash(rel),
				modTime: info.ModTime(),
				size:    info.Size(),
			}
			out[FileEvent{Root: snap.root, Path: snap.rel}.key()] = snap
			return nil
		})
	}
	return out
}
