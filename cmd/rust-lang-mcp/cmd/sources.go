package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/tauanbinato/rust-lang-mcp/internal/output"
	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
)

func newSourcesCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List and fetch documentation sources",
	}
	cmd.AddCommand(newSourcesListCmd(g))
	cmd.AddCommand(newSourcesFetchCmd(g))
	return cmd
}

func newSourcesListCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the registered sources and whether they are on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}
			registry, err := buildRegistry(cfg)
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			fetcher := sources.NewFetcher(cfg.DataDir)
			for _, src := range registry.All() {
				state := "missing"
				if fetcher.Available(src) {
					state = "fetched"
				}
				out.Statusf("", "%-16s %-8s %s (%s)", src.ID, state, src.Name, src.Repo)
			}
			return nil
		},
	}
}

func newSourcesFetchCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fetch [source-id...]",
		Short: "Clone missing documentation repositories",
		Long: `Clone the documentation repositories that are not on disk yet.
With no arguments every registered source is fetched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSourcesFetch(cmd.Context(), cmd, g, args)
		},
	}
}

func runSourcesFetch(ctx context.Context, cmd *cobra.Command, g *globalOptions, ids []string) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	selected, err := registry.Select(ids)
	if err != nil {
		return err
	}

	out := output.New(cmd.OutOrStdout())
	failed := 0
	for _, r := range sources.NewFetcher(cfg.DataDir).FetchAll(ctx, selected) {
		switch {
		case r.Err != nil:
			failed++
			out.Errorf("%s: %v", r.Source.ID, r.Err)
		case r.Cloned:
			out.Successf("%s: cloned in %s", r.Source.ID, r.Duration.Round(time.Millisecond))
		default:
			out.Successf("%s: already present", r.Source.ID)
		}
	}
	if failed > 0 {
		out.Warningf("%d of %d sources failed to fetch", failed, len(selected))
	}
	return ctx.Err()
}
