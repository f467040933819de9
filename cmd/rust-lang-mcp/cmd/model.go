package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tauanbinato/rust-lang-mcp/internal/output"
)

func newModelCmd(g *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Manage the local embedding model",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "download",
		Short: "Download the embedding model and tokenizer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModelDownload(cmd.Context(), cmd, g)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show where the model lives and whether it is present",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runModelStatus(cmd, g)
		},
	})
	return cmd
}

func runModelDownload(ctx context.Context, cmd *cobra.Command, g *globalOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	mm := newModelManager(cfg)

	if mm.Exists() {
		out.Successf("Model already present in %s (%s)", mm.Dir(), output.Bytes(mm.Size()))
		return nil
	}

	out.Statusf("", "Downloading %s to %s", cfg.Embeddings.Model, mm.Dir())
	files, err := mm.EnsureModel(ctx, func(file string, downloaded, total int64) {
		if total <= 0 {
			return
		}
		out.Progress(int(downloaded/1024), int(total/1024), file)
	})
	if err != nil {
		return err
	}

	out.Successf("Model ready (%s)", output.Bytes(mm.Size()))
	out.KeyValue("model", files.Model)
	out.KeyValue("tokenizer", files.Tokenizer)
	return nil
}

func runModelStatus(cmd *cobra.Command, g *globalOptions) error {
	cfg, err := g.loadConfig()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())
	mm := newModelManager(cfg)

	out.KeyValue("model", cfg.Embeddings.Model)
	out.KeyValue("directory", mm.Dir())
	out.KeyValue("enabled", cfg.EmbeddingsEnabled())
	lib := cfg.Embeddings.ONNXLibrary
	if lib == "" {
		lib = "(system default)"
	}
	out.KeyValue("onnxruntime", lib)

	if !mm.Exists() {
		out.Warning("Model not downloaded. Run 'rust-lang-mcp model download'.")
		return nil
	}
	out.KeyValue("size", output.Bytes(mm.Size()))
	for _, f := range []string{mm.Files().Model, mm.Files().Tokenizer} {
		if info, err := os.Stat(f); err == nil {
			out.KeyValue("file", fmt.Sprintf("%s (%s)", f, output.Bytes(info.Size())))
		}
	}
	return nil
}
