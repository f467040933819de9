package indexer

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// LockFileName marks an indexing pass in progress inside the data directory.
// A lock left behind means the previous pass was interrupted.
const LockFileName = "indexing.lock"

// RunFunc is one indexing pass.
type RunFunc func(ctx context.Context) error

// Background runs indexing passes in a goroutine so the server can answer
// requests while the indexes are built.
//
// A Trigger while a pass is running schedules exactly one follow-up pass.
type Background struct {
	dataDir string
	run     RunFunc

	mu      sync.Mutex
	running bool
	pending bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
}

// NewBackground creates a background runner for run.
func NewBackground(dataDir string, run RunFunc) *Background {
	done := make(chan struct{})
	close(done)
	return &Background{
		dataDir: dataDir,
		run:     run,
		done:    done,
	}
}

// IsRunning returns true while a pass is in progress.
func (b *Background) IsRunning() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Err returns the error of the last finished pass.
func (b *Background) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Trigger starts a pass, or schedules one after the current pass.
// It never blocks.
func (b *Background) Trigger(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		b.pending = true
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	b.running = true
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.loop(ctx, b.done)
}

func (b *Background) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := b.runOnce(ctx)

		b.mu.Lock()
		b.err = err
		if !b.pending || ctx.Err() != nil {
			b.running = false
			b.pending = false
			b.cancel()
			b.mu.Unlock()
			return
		}
		b.pending = false
		b.mu.Unlock()

		slog.Info("reindex_pending_starting")
	}
}

func (b *Background) runOnce(ctx context.Context) error {
	lockPath := filepath.Join(b.dataDir, LockFileName)
	if err := os.MkdirAll(b.dataDir, 0o755); err != nil {
		return errors.IOError("failed to create data directory", err)
	}
	if err := os.WriteFile(lockPath, []byte(time.Now().Format(time.RFC3339)), 0o644); err != nil {
		return errors.IOError("failed to write indexing lock", err)
	}

	err := b.run(ctx)
	if err != nil {
		slog.Error("background_index_failed", slog.String("error", err.Error()))
		// The lock stays behind when the pass was interrupted so the next
		// start knows the indexes may be incomplete.
		if ctx.Err() != nil {
			return err
		}
	}

	_ = os.Remove(lockPath)
	return err
}

// Wait blocks until the current pass, and any pass it scheduled, finishes.
func (b *Background) Wait() error {
	b.mu.Lock()
	done := b.done
	b.mu.Unlock()

	<-done

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Stop cancels the running pass and waits for it to return.
func (b *Background) Stop() {
	b.mu.Lock()
	cancel := b.cancel
	done := b.done
	b.pending = false
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-done
}

// HasIncompleteLock reports whether a previous pass was interrupted.
func HasIncompleteLock(dataDir string) bool {
	_, err := os.Stat(filepath.Join(dataDir, LockFileName))
	return err == nil
}
