package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/output"
)

type indexOptions struct {
	keywordOnly bool
	skipFetch   bool
}

func newIndexCmd(g *globalOptions) *cobra.Command {
	var opts indexOptions

	cmd := &cobra.Command{
		Use:   "index",
		Short: "Fetch the documentation sources and rebuild the indexes",
		Long: `Clone any missing documentation repositories, parse every markdown
page and rebuild the keyword and vector indexes.

The embedding model is downloaded on first use. Pass --keyword-only to skip
it and build the keyword index alone.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runIndex(cmd.Context(), cmd, g, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.keywordOnly, "keyword-only", false, "Skip embeddings and build the keyword index only")
	cmd.Flags().BoolVar(&opts.skipFetch, "skip-fetch", false, "Index what is on disk without cloning missing sources")

	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, g *globalOptions, opts indexOptions) error {
	out := output.New(cmd.OutOrStdout())

	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}

	a, err := openApp(ctx, cfg, openOptions{
		keywordOnly:   opts.keywordOnly,
		downloadModel: !opts.keywordOnly,
	})
	if err != nil {
		return err
	}
	defer a.close()

	if !opts.keywordOnly && a.model == nil && cfg.EmbeddingsEnabled() {
		out.Warning("Embedding model unavailable, building the keyword index only")
	}

	ix, err := a.newIndexer()
	if err != nil {
		return err
	}

	stop := reportProgress(ctx, out, ix.Progress())
	var result *indexer.Result
	if opts.skipFetch {
		result, err = ix.Run(ctx)
	} else {
		result, err = ix.FetchAndRun(ctx, a.newFetcher())
	}
	stop()
	if err != nil {
		return err
	}

	slog.Info("index_command_complete",
		slog.Int("documents", result.Documents),
		slog.Duration("duration", result.Duration))

	if result.Documents == 0 {
		out.Warning("No documentation found. Check the sources with 'rust-lang-mcp sources list'.")
		return nil
	}

	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return err
	}
	out.Successf("Indexed %s documents from %d sources in %s",
		output.Count(result.Documents), len(result.Sources), result.Duration.Round(time.Millisecond))
	out.KeyValue("files", output.Count(result.Files))
	out.KeyValue("parse errors", result.ParseErrors)
	out.KeyValue("duplicates", result.Duplicates)
	out.KeyValue("vectors", output.Count(stats.Vectors))
	if stats.ModelName != "" {
		out.KeyValue("model", stats.ModelName)
	}
	return nil
}

// reportProgress draws the embedding progress bar until the returned stop
// function is called.
func reportProgress(ctx context.Context, out *output.Writer, p *indexer.Progress) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		ticker := time.NewTicker(250 * time.Millisecond)
		defer ticker.Stop()

		lastStage := ""
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			snap := p.Snapshot()
			if snap.Stage != "" && snap.Stage != lastStage && snap.Stage != string(indexer.StageEmbedding) {
				out.Status("", fmt.Sprintf("%s...", snap.Stage))
			}
			lastStage = snap.Stage
			if snap.Stage == string(indexer.StageEmbedding) && snap.EmbedTotal > 0 && snap.Embedded < snap.EmbedTotal {
				out.Progress(snap.Embedded, snap.EmbedTotal, "Embedding documents")
			}
		}
	}()

	return func() {
		cancel()
		<-done
		if snap := p.Snapshot(); snap.EmbedTotal > 0 {
			out.Progress(snap.EmbedTotal, snap.EmbedTotal, "Embedding documents")
		}
	}
}
