package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tauanbinato/rust-lang-mcp/internal/config"
	"github.com/tauanbinato/rust-lang-mcp/internal/embed"
	rmerrors "github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// app holds the components shared by serve, index and search.
type app struct {
	cfg      *config.Config
	registry *sources.Registry
	engine   *search.Engine
	model    embed.Embedder // nil when running keyword-only
}

// openOptions controls how much of the stack openApp builds.
type openOptions struct {
	// keywordOnly skips the embedding model entirely.
	keywordOnly bool

	// downloadModel fetches missing model files instead of running
	// keyword-only.
	downloadModel bool
}

// buildRegistry returns the configured sources, or the built-in registry.
func buildRegistry(cfg *config.Config) (*sources.Registry, error) {
	if len(cfg.Sources) == 0 {
		return sources.NewRegistry(nil)
	}
	list := make([]sources.Source, 0, len(cfg.Sources))
	for _, s := range cfg.Sources {
		list = append(list, sources.Source{
			ID:      s.ID,
			Name:    s.Name,
			Repo:    s.Repo,
			SrcPath: s.DocsSubdir,
		})
	}
	return sources.NewRegistry(list)
}

func vectorConfig(cfg *config.Config) store.VectorConfig {
	return store.VectorConfig{
		M:                cfg.Vector.M,
		EfConstruction:   cfg.Vector.EfConstruction,
		EfSearchMin:      cfg.Vector.EfSearchMin,
		ExactSearchLimit: cfg.Vector.ExactSearchLimit,
	}
}

// openApp opens the lexical index, loads the persisted vector index and, when
// enabled, the embedding model. Model failures are logged and leave the
// engine keyword-only.
func openApp(ctx context.Context, cfg *config.Config, opts openOptions) (*app, error) {
	registry, err := buildRegistry(cfg)
	if err != nil {
		return nil, err
	}

	lexical, err := store.NewLexicalIndex(cfg.Lexical.Backend, cfg.IndexDir(), store.LexicalConfig{
		SnippetLength: cfg.Search.SnippetLength,
		SQLiteCacheMB: cfg.Lexical.SQLiteCacheMB,
	})
	if err != nil {
		return nil, err
	}

	vcfg := vectorConfig(cfg)
	vectors, err := store.LoadVectorIndex(ctx, cfg.VectorDir(), vcfg)
	if err != nil {
		slog.Warn("vector_index_unreadable",
			slog.String("dir", cfg.VectorDir()),
			slog.String("error", err.Error()),
			slog.String("hint", "run 'rust-lang-mcp index' to rebuild it"))
		vectors = nil
	}

	a := &app{cfg: cfg, registry: registry}
	if !opts.keywordOnly && cfg.EmbeddingsEnabled() {
		a.model = loadModel(ctx, cfg, opts.downloadModel)
	}

	engineOpts := []search.Option{
		search.WithVectorIndex(vectors),
		search.WithCircuitBreaker(rmerrors.NewCircuitBreaker("inference")),
	}
	if a.model != nil {
		engineOpts = append(engineOpts, search.WithEmbedder(a.model))
	}

	a.engine, err = search.NewEngine(lexical, search.Config{
		RRFConstant:         cfg.Search.RRFConstant,
		CandidateMultiplier: cfg.Search.CandidateMultiplier,
		EmbedBatchSize:      cfg.Embeddings.BatchSize,
		MinContentLength:    cfg.Indexing.MinContentLen,
		VectorDir:           cfg.VectorDir(),
		Vector:              vcfg,
	}, engineOpts...)
	if err != nil {
		_ = lexical.Close()
		if a.model != nil {
			_ = a.model.Close()
		}
		return nil, err
	}
	return a, nil
}

// loadModel returns the embedding service, or nil when it is unavailable.
func loadModel(ctx context.Context, cfg *config.Config, download bool) embed.Embedder {
	mm := newModelManager(cfg)
	if !mm.Exists() && !download {
		slog.Warn("embedding_model_missing",
			slog.String("dir", mm.Dir()),
			slog.String("hint", "run 'rust-lang-mcp model download' to enable semantic search"))
		return nil
	}

	files, err := mm.EnsureModel(ctx, nil)
	if err != nil {
		slog.Warn("embedding_model_unavailable", slog.String("error", err.Error()))
		return nil
	}

	model, err := embed.LoadModel(embed.LoadOptions{
		Model: embed.ModelConfig{
			Name:         cfg.Embeddings.Model,
			Dimensions:   cfg.Embeddings.Dimensions,
			MaxSeqLength: cfg.Embeddings.MaxSeqLength,
			BatchSize:    cfg.Embeddings.BatchSize,
		},
		Files:       files,
		ONNXLibrary: cfg.Embeddings.ONNXLibrary,
	})
	if err != nil {
		slog.Warn("embedding_model_load_failed",
			slog.String("error", err.Error()),
			slog.String("hint", "set RUST_MCP_ONNX_LIB to the onnxruntime shared library"))
		return nil
	}

	if cfg.Embeddings.CacheSize > 0 {
		return embed.NewCachedEmbedder(model, cfg.Embeddings.CacheSize)
	}
	return model
}

func newModelManager(cfg *config.Config) *embed.ModelManager {
	return embed.NewModelManager(cfg.ResolvedModelDir(),
		embed.WithURLs(cfg.Embeddings.ModelURL, cfg.Embeddings.TokenizerURL))
}

// newIndexer builds an indexer over every registered source.
func (a *app) newIndexer() (*indexer.Indexer, error) {
	return indexer.New(a.engine, a.registry.All(), indexer.Config{
		DataDir: a.cfg.DataDir,
		Workers: a.cfg.Indexing.Workers,
	})
}

// newFetcher returns a fetcher cloning into the data directory.
func (a *app) newFetcher() *sources.Fetcher {
	return sources.NewFetcher(a.cfg.DataDir)
}

// docsRoots returns the markdown roots of every registered source.
func (a *app) docsRoots() []string {
	all := a.registry.All()
	roots := make([]string, 0, len(all))
	for _, src := range all {
		roots = append(roots, src.DocsPath(a.cfg.DataDir))
	}
	return roots
}

func (a *app) close() {
	if err := a.engine.Close(); err != nil {
		slog.Warn("close_failed", slog.String("error", err.Error()))
	}
}

// isIndexEmpty reports whether the lexical index holds no documents.
func (a *app) isIndexEmpty(ctx context.Context) (bool, error) {
	stats, err := a.engine.Stats(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read index stats: %w", err)
	}
	return stats.Documents == 0, nil
}
