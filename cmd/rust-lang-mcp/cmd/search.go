package cmd

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	rmerrors "github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/output"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit       int
	mode        string
	sources     []string
	jsonOutput  bool
	keywordOnly bool
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed documentation",
		Long: `Search the indexed documentation with hybrid search.

Combines keyword (BM25) and semantic (embedding) search with Reciprocal
Rank Fusion.

Examples:
  rust-lang-mcp search "borrow checker"
  rust-lang-mcp search "trait objects" --limit 3 --source rust-book
  rust-lang-mcp search "Pin<Box<T>>" --mode keyword --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.mode, "mode", "m", "", "Search mode: hybrid, keyword, semantic (default from config)")
	cmd.Flags().StringSliceVarP(&opts.sources, "source", "s", nil, "Restrict to source IDs (repeatable)")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword-only", false, "Do not load the embedding model")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, query string, opts searchOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	mode := search.ParseMode(cfg.Search.DefaultMode)
	if opts.mode != "" {
		mode = search.ParseMode(opts.mode)
	}
	limit := opts.limit
	if limit <= 0 {
		limit = cfg.Search.DefaultLimit
	}

	a, err := openApp(ctx, cfg, openOptions{keywordOnly: opts.keywordOnly || mode == search.ModeKeyword})
	if err != nil {
		return err
	}
	defer a.close()

	if len(opts.sources) > 0 {
		if _, err := a.registry.Select(opts.sources); err != nil {
			return err
		}
	}

	empty, err := a.isIndexEmpty(ctx)
	if err != nil {
		return err
	}
	if empty {
		return rmerrors.NotFound("the documentation index is empty").
			WithSuggestion("Run 'rust-lang-mcp index' first")
	}

	slog.Info("search_started",
		slog.String("query", query),
		slog.Int("limit", limit),
		slog.String("mode", mode.String()))

	results, err := a.engine.Search(ctx, query, limit, mode, opts.sources)
	if err != nil {
		return err
	}

	if opts.jsonOutput {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	output.New(cmd.OutOrStdout()).Results(results)
	return nil
}
