package cmd

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/logging"
	"github.com/tauanbinato/rust-lang-mcp/internal/mcp"
	"github.com/tauanbinato/rust-lang-mcp/internal/watcher"
)

type serveOptions struct {
	watch bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server over stdio",
		Long: `Run the MCP server over stdin/stdout.

When the index is empty the documentation sources are fetched and indexed
in the background; tools answer with an indexing notice until the first
pass completes. Logs go to ~/.rust-lang-mcp/logs/server.log.

Example MCP client entry:
  {"command": "rust-lang-mcp", "args": ["serve", "--watch"]}`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Reindex when documentation files change")

	return cmd
}

// runServe composes the stack and blocks until the client disconnects or
// ctx is cancelled. Nothing may be written to stdout before the server
// starts.
func runServe(ctx context.Context, g *globalOptions, opts serveOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	level := cfg.Server.LogLevel
	if g.debug {
		level = "debug"
	}
	cleanup, err := logging.SetupServerMode(level)
	if err != nil {
		return err
	}
	defer cleanup()

	a, err := openApp(ctx, cfg, openOptions{})
	if err != nil {
		slog.Error("serve_startup_failed", slog.String("error", err.Error()))
		return err
	}
	defer a.close()

	ix, err := a.newIndexer()
	if err != nil {
		return err
	}
	fetcher := a.newFetcher()
	bg := indexer.NewBackground(cfg.DataDir, func(ctx context.Context) error {
		_, err := ix.FetchAndRun(ctx, fetcher)
		return err
	})
	defer bg.Stop()

	srv, err := mcp.NewServer(a.engine,
		mcp.WithPages(cfg.DataDir, a.registry),
		mcp.WithLogger(slog.Default()))
	if err != nil {
		return err
	}
	srv.SetProgress(ix.Progress())

	empty, err := a.isIndexEmpty(ctx)
	if err != nil {
		return err
	}
	switch {
	case empty:
		slog.Info("index_empty_starting_background_index", slog.String("data_dir", cfg.DataDir))
		bg.Trigger(ctx)
	case indexer.HasIncompleteLock(cfg.DataDir):
		slog.Warn("previous_index_incomplete_reindexing", slog.String("data_dir", cfg.DataDir))
		bg.Trigger(ctx)
	}

	if opts.watch {
		go watchDocs(ctx, a, bg)
	}

	slog.Info("server_starting",
		slog.Bool("watch", opts.watch),
		slog.Bool("semantic", a.engine.SemanticEnabled()))
	return srv.Serve(ctx)
}

// watchDocs reindexes on documentation changes. It waits for any running
// pass first, since that pass may still be cloning the roots.
func watchDocs(ctx context.Context, a *app, bg *indexer.Background) {
	_ = bg.Wait()
	if ctx.Err() != nil {
		return
	}

	opts := watcher.Options{DebounceWindow: a.cfg.WatchDebounceDuration()}
	err := watcher.Watch(ctx, a.docsRoots(), opts, func([]watcher.FileEvent) {
		bg.Trigger(ctx)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("docs_watcher_stopped", slog.String("error", err.Error()))
	}
}
