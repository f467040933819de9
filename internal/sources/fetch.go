package sources

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// GitRunner runs git with args in dir and returns its combined output.
type GitRunner func(ctx context.Context, dir string, args ...string) ([]byte, error)

// Fetcher clones documentation repositories into a data directory.
type Fetcher struct {
	dataDir string
	retry   errors.RetryConfig

	// For testing: override command execution
	runGit   GitRunner
	lookPath func(file string) (string, error)
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithRetry sets the clone retry policy.
func WithRetry(cfg errors.RetryConfig) FetcherOption {
	return func(f *Fetcher) {
		f.retry = cfg
	}
}

// WithGitRunner replaces git execution.
func WithGitRunner(run GitRunner) FetcherOption {
	return func(f *Fetcher) {
		f.runGit = run
		f.lookPath = func(string) (string, error) { return "git", nil }
	}
}

// NewFetcher creates a fetcher that clones into dataDir.
func NewFetcher(dataDir string, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		dataDir:  dataDir,
		retry:    errors.DefaultRetryConfig(),
		runGit:   execGit,
		lookPath: exec.LookPath,
	}
	for _, opt := range opts {
		opt(f)
	}
	f.retry.ShouldRetry = errors.IsRetryable
	return f
}

func execGit(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// Available reports whether src's markdown tree is present.
func (f *Fetcher) Available(src Source) bool {
	info, err := os.Stat(src.DocsPath(f.dataDir))
	return err == nil && info.IsDir()
}

// FetchResult reports the outcome for one source.
type FetchResult struct {
	Source   Source
	Cloned   bool // false when the tree was already present
	Duration time.Duration
	Err      error
}

// Fetch makes src's markdown tree available, cloning the repository with
// --depth 1 when it is missing. Returns true when a clone happened.
//
// The clone lands in a temporary directory and is renamed into place, so an
// interrupted fetch never leaves a half-populated checkout behind.
func (f *Fetcher) Fetch(ctx context.Context, src Source) (bool, error) {
	if f.Available(src) {
		slog.Debug("source_present", slog.String("source", src.ID))
		return false, nil
	}

	if _, err := f.lookPath("git"); err != nil {
		return false, errors.New(errors.ErrCodeNotFound, "git executable not found", err).
			WithSuggestion("Install git and make sure it is on PATH")
	}

	if err := os.MkdirAll(f.dataDir, 0o755); err != nil {
		return false, errors.IOError("failed to create data directory", err)
	}

	// A checkout without its docs tree is a leftover; replace it.
	target := src.RepoPath(f.dataDir)
	if err := os.RemoveAll(target); err != nil {
		return false, errors.IOError("failed to remove incomplete checkout", err)
	}

	start := time.Now()
	slog.Info("source_clone_started",
		slog.String("source", src.ID),
		slog.String("url", src.CloneURL()))

	err := errors.Retry(ctx, f.retry, func() error {
		return f.clone(ctx, src, target)
	})
	if err != nil {
		return false, err
	}

	if !f.Available(src) {
		return false, errors.Newf(errors.ErrCodeNotFound, "source %s: %s missing after clone", src.ID, src.SrcPath)
	}

	slog.Info("source_clone_complete",
		slog.String("source", src.ID),
		slog.Duration("duration", time.Since(start)))
	return true, nil
}

func (f *Fetcher) clone(ctx context.Context, src Source, target string) error {
	tmp, err := os.MkdirTemp(f.dataDir, ".clone-"+src.DirName()+"-")
	if err != nil {
		return errors.IOError("failed to create clone directory", err)
	}
	defer func() { _ = os.RemoveAll(tmp) }()

	dest := filepath.Join(tmp, src.DirName())
	out, err := f.runGit(ctx, f.dataDir, "clone", "--depth", "1", "--quiet", src.CloneURL(), dest)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(string(out))
		slog.Warn("source_clone_failed",
			slog.String("source", src.ID),
			slog.String("error", err.Error()),
			slog.String("output", msg))
		return errors.New(errors.ErrCodeNetwork, fmt.Sprintf("git clone %s failed: %s", src.Repo, msg), err)
	}

	if err := os.Rename(dest, target); err != nil {
		return errors.IOError("failed to move checkout into place", err)
	}
	return nil
}

// FetchAll fetches every source in order. A failing source is logged and
// reported in its result; the rest are still fetched.
func (f *Fetcher) FetchAll(ctx context.Context, srcs []Source) []FetchResult {
	results := make([]FetchResult, 0, len(srcs))
	for _, src := range srcs {
		if ctx.Err() != nil {
			results = append(results, FetchResult{Source: src, Err: ctx.Err()})
			continue
		}
		start := time.Now()
		cloned, err := f.Fetch(ctx, src)
		if err != nil {
			slog.Warn("source_fetch_failed",
				slog.String("source", src.ID),
				slog.String("error", err.Error()))
		}
		results = append(results, FetchResult{
			Source:   src,
			Cloned:   cloned,
			Duration: time.Since(start),
			Err:      err,
		})
	}
	return results
}
