package watcher

import (
	"path/filepath"
	"strings"
	"time"
)

// Operation represents a file system operation type.
type Operation int

const (
	// OpCreate indicates a new page was created.
	OpCreate Operation = iota
	// OpModify indicates an existing page was modified.
	OpModify
	// OpDelete indicates a page was deleted.
	OpDelete
	// OpRename indicates a page was renamed away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is a change to one markdown page under a watched docs root.
type FileEvent struct {
	// Root is the absolute docs root the page belongs to.
	Root string

	// Path is the slash-separated path relative to Root.
	Path string

	Operation Operation
	IsDir     bool
	Timestamp time.Time
}

// key identifies the page across roots.
func (e FileEvent) key() string {
	return e.Root + "\x00" + e.Path
}

// Options configures the watcher behavior.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 2s. A git pull touches many pages at once.
	DebounceWindow time.Duration

	// PollInterval is the scan interval in polling mode.
	// Default: 10s
	PollInterval time.Duration

	// EventBufferSize is the number of batches buffered for consumers.
	// Default: 64
	EventBufferSize int

	// ForcePolling skips fsnotify entirely.
	ForcePolling bool
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  2 * time.Second,
		PollInterval:    10 * time.Second,
		EventBufferSize: 64,
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaults.PollInterval
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	return o
}

// isDocFile reports whether a file name is a markdown page.
func isDocFile(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}

// skipDir reports whether a directory below a root is never watched.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || name == "target" || name == "node_modules"
}

// hiddenPath reports whether any component of a root-relative path is a
// skipped directory.
func hiddenPath(rel string) bool {
	parts := strings.Split(filepath.ToSlash(rel), "/")
	for _, part := range parts[:len(parts)-1] {
		if skipDir(part) {
			return true
		}
	}
	return false
}
