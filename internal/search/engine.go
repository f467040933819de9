package search

import (
	"context"
	stderrors "errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tauanbinato/rust-lang-mcp/internal/embed"
	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New(errors.ErrCodeInvalidInput, "nil dependency", nil)

// Engine answers queries against the lexical index and the vector index and
// rebuilds both on Index.
//
// The embedder is optional. Without it, or while the vector index is empty,
// hybrid and semantic queries are served by the lexical index alone.
type Engine struct {
	lexical  store.LexicalIndex
	embedder embed.Embedder
	fusion   *RRFFusion
	breaker  *errors.CircuitBreaker
	config   Config

	mu      sync.RWMutex
	vectors *store.VectorIndex

	indexMu sync.Mutex
}

// Ensure Engine implements Searcher.
var _ Searcher = (*Engine)(nil)

// Option configures the search engine.
type Option func(*Engine)

// WithEmbedder sets the model service used for query and document
// embeddings. A nil embedder leaves the engine keyword-only.
func WithEmbedder(em embed.Embedder) Option {
	return func(e *Engine) {
		e.embedder = em
	}
}

// WithVectorIndex sets the initial vector index, typically one loaded from
// disk at startup.
func WithVectorIndex(v *store.VectorIndex) Option {
	return func(e *Engine) {
		if v != nil {
			e.vectors = v
		}
	}
}

// WithCircuitBreaker replaces the breaker guarding query embedding.
func WithCircuitBreaker(cb *errors.CircuitBreaker) Option {
	return func(e *Engine) {
		if cb != nil {
			e.breaker = cb
		}
	}
}

// NewEngine creates a search engine over lexical.
func NewEngine(lexical store.LexicalIndex, cfg Config, opts ...Option) (*Engine, error) {
	if lexical == nil {
		return nil, ErrNilDependency
	}

	cfg = cfg.withDefaults()
	e := &Engine{
		lexical: lexical,
		fusion:  NewRRFFusionWithK(cfg.RRFConstant),
		breaker: errors.NewCircuitBreaker("inference"),
		config:  cfg,
		vectors: store.NewVectorIndex(cfg.Vector),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.embedder != nil && e.vectors.Len() > 0 && e.vectors.Dimensions() != e.embedder.Dimensions() {
		slog.Warn("vector_dimension_mismatch",
			slog.Int("index_dims", e.vectors.Dimensions()),
			slog.Int("model_dims", e.embedder.Dimensions()),
			slog.String("hint", "run 'rust-lang-mcp index' to rebuild the vector index"))
	}

	return e, nil
}

// Search returns up to limit results for query using mode.
//
// Hybrid and semantic queries fall back to keyword search when the vector
// index is empty or no model is configured. In hybrid mode a failing
// semantic side is logged and the keyword results are returned; in semantic
// mode the failure is returned.
func (e *Engine) Search(ctx context.Context, query string, limit int, mode Mode, sources []string) ([]store.SearchResult, error) {
	if limit <= 0 || strings.TrimSpace(query) == "" {
		return []store.SearchResult{}, nil
	}

	start := time.Now()
	vectors := e.vectorIndex()

	effective := mode
	if mode != ModeKeyword && !e.semanticReady(vectors) {
		slog.Info("semantic_unavailable_keyword_fallback",
			slog.String("mode", mode.String()),
			slog.Bool("model_loaded", e.embedder != nil),
			slog.Int("vectors", vectors.Len()))
		effective = ModeKeyword
	}

	var (
		results []store.SearchResult
		err     error
	)
	switch effective {
	case ModeKeyword:
		results, err = e.keywordSearch(ctx, query, limit, sources)
	case ModeSemantic:
		results, err = e.semanticSearch(ctx, vectors, query, limit, sources)
	default:
		results, err = e.hybridSearch(ctx, vectors, query, limit, sources)
	}
	if err != nil {
		return nil, err
	}

	slog.Debug("search_complete",
		slog.String("query", query),
		slog.String("mode", effective.String()),
		slog.Int("results", len(results)),
		slog.Duration("duration", time.Since(start)))

	return results, nil
}

func (e *Engine) semanticReady(vectors *store.VectorIndex) bool {
	return e.embedder != nil && vectors.Len() > 0
}

func (e *Engine) keywordSearch(ctx context.Context, query string, limit int, sources []string) ([]store.SearchResult, error) {
	if len(sources) > 0 {
		return e.lexical.SearchSources(ctx, query, limit, sources)
	}
	return e.lexical.Search(ctx, query, limit)
}

// semanticCandidates embeds query through the circuit breaker and returns
// the k nearest documents.
func (e *Engine) semanticCandidates(ctx context.Context, vectors *store.VectorIndex, query string, k int) ([]store.VectorResult, error) {
	embedding, err := errors.CircuitExecute(e.breaker, func() ([]float32, error) {
		return e.embedder.Embed(ctx, query)
	})
	if err != nil {
		if stderrors.Is(err, errors.ErrCircuitOpen) {
			return nil, errors.New(errors.ErrCodeInference, "inference temporarily disabled after repeated failures", err).
				WithSuggestion("Use keyword mode, or retry once the model recovers")
		}
		if !errors.IsKind(err, errors.KindInference) {
			return nil, errors.InferenceError("query embedding failed", err)
		}
		return nil, err
	}

	return vectors.Search(embedding, k)
}

// hybridSearch runs both backends in parallel and fuses their rankings.
func (e *Engine) hybridSearch(ctx context.Context, vectors *store.VectorIndex, query string, limit int, sources []string) ([]store.SearchResult, error) {
	candidates := limit * e.config.CandidateMultiplier

	var (
		keyword  []store.SearchResult
		semantic []store.VectorResult
		semErr   error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		keyword, err = e.keywordSearch(gctx, query, candidates, sources)
		return err
	})
	g.Go(func() error {
		// Semantic failures never fail the group; keyword results still serve.
		semantic, semErr = e.semanticCandidates(gctx, vectors, query, candidates)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if semErr != nil {
		slog.Warn("semantic_search_failed_keyword_fallback",
			slog.String("query", query),
			slog.String("error", semErr.Error()),
			slog.String("code", errors.GetCode(semErr)))
		return e.keywordSearch(ctx, query, limit, sources)
	}

	lookups := make(map[string]*store.SearchResult)
	if len(sources) > 0 {
		semantic = e.filterSemantic(ctx, query, semantic, keyword, sources, lookups)
	}

	keywordPaths := make([]string, len(keyword))
	keywordByPath := make(map[string]store.SearchResult, len(keyword))
	for i, r := range keyword {
		keywordPaths[i] = r.Path
		if _, ok := keywordByPath[r.Path]; !ok {
			keywordByPath[r.Path] = r
		}
	}
	semanticPaths := make([]string, len(semantic))
	for i, r := range semantic {
		semanticPaths[i] = r.Path
	}

	fused := e.fusion.Fuse(keywordPaths, semanticPaths)
	if len(fused) > limit {
		fused = fused[:limit]
	}

	results := make([]store.SearchResult, 0, len(fused))
	for _, f := range fused {
		var r store.SearchResult
		if kr, ok := keywordByPath[f.Path]; ok {
			r = kr
		} else if lr, ok := lookups[f.Path]; ok {
			r = *lr
		} else {
			r = e.materialize(ctx, f.Path, query)
		}
		r.Score = f.Score
		results = append(results, r)
	}

	return results, nil
}

// filterSemantic keeps the semantic candidates whose source is allowed.
// A candidate is accepted when it is among the source-filtered keyword
// results; otherwise its source is resolved by an exact-path lookup, whose
// result is cached in lookups.
func (e *Engine) filterSemantic(
	ctx context.Context,
	query string,
	semantic []store.VectorResult,
	keyword []store.SearchResult,
	sources []string,
	lookups map[string]*store.SearchResult,
) []store.VectorResult {
	allowed := sourceSet(sources)
	inKeyword := make(map[string]bool, len(keyword))
	for _, r := range keyword {
		if allowed[r.Source] {
			inKeyword[r.Path] = true
		}
	}

	kept := make([]store.VectorResult, 0, len(semantic))
	for _, hit := range semantic {
		if inKeyword[hit.Path] {
			kept = append(kept, hit)
			continue
		}
		r, err := e.lexical.Lookup(ctx, hit.Path, query)
		if err != nil {
			slog.Debug("semantic_candidate_unresolved",
				slog.String("path", hit.Path),
				slog.String("error", err.Error()))
			continue
		}
		if allowed[r.Source] {
			lookups[hit.Path] = r
			kept = append(kept, hit)
		}
	}
	return kept
}

// semanticSearch serves a query from the vector index alone. Display fields
// come from the lexical index; the score is the cosine similarity.
func (e *Engine) semanticSearch(ctx context.Context, vectors *store.VectorIndex, query string, limit int, sources []string) ([]store.SearchResult, error) {
	k := limit
	if len(sources) > 0 {
		k = limit * e.config.CandidateMultiplier
	}

	hits, err := e.semanticCandidates(ctx, vectors, query, k)
	if err != nil {
		return nil, err
	}

	allowed := sourceSet(sources)
	results := make([]store.SearchResult, 0, min(limit, len(hits)))
	for _, hit := range hits {
		if len(results) == limit {
			break
		}
		r := e.materialize(ctx, hit.Path, query)
		if allowed != nil && !allowed[r.Source] {
			continue
		}
		r.Score = float64(hit.Similarity)
		results = append(results, r)
	}
	return results, nil
}

// materialize resolves path to a full result, or synthesizes a minimal one
// when the lexical index cannot.
func (e *Engine) materialize(ctx context.Context, path, query string) store.SearchResult {
	r, err := e.lexical.Lookup(ctx, path, query)
	if err != nil {
		slog.Debug("result_lookup_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		return store.SearchResult{Title: path, Path: path}
	}
	return *r
}

// IndexProgress receives embedding progress during Index.
type IndexProgress func(embedded, total int)

// Index rebuilds the lexical index from docs and, when a model is
// configured, builds a fresh vector index and swaps it in. It returns the
// lexical document count.
func (e *Engine) Index(ctx context.Context, docs []store.Document) (int, error) {
	return e.IndexWithProgress(ctx, docs, nil)
}

// IndexWithProgress is Index with an embedding progress callback.
func (e *Engine) IndexWithProgress(ctx context.Context, docs []store.Document, progress IndexProgress) (int, error) {
	e.indexMu.Lock()
	defer e.indexMu.Unlock()

	start := time.Now()
	docs = store.DedupeByPath(docs)

	count, err := e.lexical.Rebuild(ctx, docs)
	if err != nil {
		return 0, err
	}

	if e.embedder == nil {
		slog.Info("vector_index_skipped", slog.String("reason", "no embedding model"))
		return count, nil
	}

	next := store.NewVectorIndex(e.config.Vector)
	failed, err := e.buildVectors(ctx, next, docs, progress)
	if err != nil {
		return count, err
	}

	e.SetVectorIndex(next)

	if e.config.VectorDir != "" {
		if err := next.Save(e.config.VectorDir); err != nil {
			return count, err
		}
	}

	slog.Info("index_complete",
		slog.Int("documents", count),
		slog.Int("vectors", next.Len()),
		slog.Int("failed_batches", failed),
		slog.Duration("duration", time.Since(start)))

	return count, nil
}

// buildVectors embeds docs in batches into v. Failed batches are logged and
// skipped. Returns the number of failed batches.
func (e *Engine) buildVectors(ctx context.Context, v *store.VectorIndex, docs []store.Document, progress IndexProgress) (int, error) {
	batchSize := e.config.EmbedBatchSize
	failed := 0

	for start := 0; start < len(docs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return failed, err
		}

		end := min(start+batchSize, len(docs))
		batch := docs[start:end]

		texts := make([]string, len(batch))
		paths := make([]string, len(batch))
		for i, d := range batch {
			texts[i] = e.embeddingText(d)
			paths[i] = d.Path
		}

		embeddings, err := e.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			err = v.AddBatch(ctx, paths, embeddings)
		}
		if err != nil {
			if ctx.Err() != nil {
				return failed, ctx.Err()
			}
			failed++
			slog.Warn("embedding_batch_failed",
				slog.Int("batch_start", start),
				slog.Int("batch_size", len(batch)),
				slog.String("error", err.Error()))
		}

		if progress != nil {
			progress(end, len(docs))
		}
	}

	return failed, nil
}

// embeddingText is the content when it is long enough to carry meaning,
// else the title.
func (e *Engine) embeddingText(d store.Document) string {
	if len(d.Content) > e.config.MinContentLength {
		return d.Content
	}
	return d.Title
}

// SetVectorIndex swaps in v as the vector index.
func (e *Engine) SetVectorIndex(v *store.VectorIndex) {
	if v == nil {
		v = store.NewVectorIndex(e.config.Vector)
	}
	e.mu.Lock()
	e.vectors = v
	e.mu.Unlock()
}

func (e *Engine) vectorIndex() *store.VectorIndex {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.vectors
}

// SemanticEnabled reports whether semantic retrieval is currently possible.
func (e *Engine) SemanticEnabled() bool {
	return e.semanticReady(e.vectorIndex())
}

// Stats returns index statistics.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	docs, err := e.lexical.Count(ctx)
	if err != nil {
		return nil, err
	}

	vectors := e.vectorIndex()
	stats := &Stats{
		Documents:       docs,
		Vectors:         vectors.Len(),
		Dimensions:      vectors.Dimensions(),
		SemanticEnabled: e.semanticReady(vectors),
		CircuitState:    e.breaker.State().String(),
	}
	if e.embedder != nil {
		stats.ModelName = e.embedder.ModelName()
	}
	return stats, nil
}

// Close releases the lexical index and the embedder.
func (e *Engine) Close() error {
	var errs []error

	if err := e.lexical.Close(); err != nil {
		errs = append(errs, err)
	}

	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return stderrors.Join(errs...)
}

func sourceSet(sources []string) map[string]bool {
	if len(sources) == 0 {
		return nil
	}
	set := make(map[string]bool, len(sources))
	for _, s := range sources {
		set[s] = true
	}
	return set
}
