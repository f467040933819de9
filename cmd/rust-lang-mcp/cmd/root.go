// Package cmd provides the CLI commands for rust-lang-mcp.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tauanbinato/rust-lang-mcp/internal/config"
	rmerrors "github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/logging"
	"github.com/tauanbinato/rust-lang-mcp/internal/profiling"
	"github.com/tauanbinato/rust-lang-mcp/pkg/version"
)

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	debug   bool
	dataDir string
	workDir string
	profile profiling.Options
}

// NewRootCmd creates the root command for the rust-lang-mcp CLI.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	var (
		loggingCleanup func()
		profiler       *profiling.Session
	)

	cmd := &cobra.Command{
		Use:   "rust-lang-mcp",
		Short: "Hybrid search over the official Rust documentation, served over MCP",
		Long: `rust-lang-mcp indexes the Rust Book, the Reference, Rust by Example,
the Rustonomicon, the API Guidelines and Rust Design Patterns, and answers
queries with hybrid keyword + semantic search.

Run 'rust-lang-mcp serve' from an MCP client to expose the search tools.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if opts.profile.Enabled() {
				session, err := profiling.Start(opts.profile)
				if err != nil {
					return err
				}
				profiler = session
			}
			// serve installs file-only logging itself
			if cmd.Name() == "serve" {
				return nil
			}
			cfg := logging.DefaultConfig()
			cfg.Level = "warn"
			if opts.debug {
				cfg = logging.DebugConfig()
			}
			cleanup, err := logging.SetupDefault(cfg)
			if err != nil {
				return fmt.Errorf("failed to setup logging: %w", err)
			}
			loggingCleanup = cleanup
			return nil
		},
		PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
			if loggingCleanup != nil {
				loggingCleanup()
				loggingCleanup = nil
			}
			if profiler != nil {
				err := profiler.Stop()
				profiler = nil
				return err
			}
			return nil
		},
	}

	cmd.SetVersionTemplate("rust-lang-mcp version {{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&opts.debug, "debug", false, "Enable debug logging to ~/.rust-lang-mcp/logs/")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "Override the data directory (checkouts, index, models)")
	cmd.PersistentFlags().StringVarP(&opts.workDir, "dir", "C", "", "Directory to read .rust-lang-mcp.yaml and .env from")
	cmd.PersistentFlags().StringVar(&opts.profile.CPU, "profile-cpu", "", "Write CPU profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Heap, "profile-mem", "", "Write memory profile to file")
	cmd.PersistentFlags().StringVar(&opts.profile.Trace, "profile-trace", "", "Write execution trace to file")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newSourcesCmd(opts))
	cmd.AddCommand(newModelCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newDoctorCmd(opts))
	cmd.AddCommand(newLogsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := NewRootCmd().ExecuteContext(ctx)
	if err != nil {
		fmt.Fprint(os.Stderr, rmerrors.FormatForCLI(err))
	}
	return err
}

// loadConfig loads configuration for the working directory and applies the
// persistent flag overrides.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	dir := o.workDir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	cfg, err := config.Load(dir)
	if err != nil {
		return nil, err
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}
	slog.Debug("config_loaded",
		slog.String("dir", dir),
		slog.String("data_dir", cfg.DataDir),
		slog.String("lexical_backend", cfg.Lexical.Backend))
	return cfg, nil
}
