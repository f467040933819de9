package search

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tauanbinato/rust-lang-mcp/internal/embed"
	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// =============================================================================
// Test doubles
// =============================================================================

// vocab defines the axes of the bag-of-words embedding used by mockEmbedder.
var vocab = []string{"ownership", "borrowing", "memory", "references", "lifetimes", "traits", "closures", "ghost"}

// mockEmbedder embeds text as a normalized bag of vocab words.
type mockEmbedder struct {
	mu     sync.Mutex
	calls  atomic.Int64
	err    error
	failOn string
	texts  []string
	closed bool
}

var _ embed.Embedder = (*mockEmbedder)(nil)

func (m *mockEmbedder) vector(text string) []float32 {
	lower := strings.ToLower(text)
	vec := make([]float32, len(vocab)+1)
	for i, w := range vocab {
		vec[i] = float32(strings.Count(lower, w))
	}
	vec[len(vocab)] = 0.1
	embed.Normalize(vec)
	return vec
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	m.calls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	return m.vector(text), nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.texts = append(m.texts, texts...)
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if m.failOn != "" && strings.Contains(text, m.failOn) {
			return nil, errors.InferenceError("batch failed", nil)
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *mockEmbedder) Dimensions() int   { return len(vocab) + 1 }
func (m *mockEmbedder) ModelName() string { return "mock" }
func (m *mockEmbedder) Close() error {
	m.closed = true
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func newTestLexical(t *testing.T) store.LexicalIndex {
	t.Helper()
	idx, err := store.NewLexicalIndex(string(store.BackendBleve), "", store.DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func newTestEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := NewEngine(newTestLexical(t), DefaultConfig(), opts...)
	require.NoError(t, err)
	return e
}

func scenarioDocs() []store.Document {
	return []store.Document{
		{Title: "Ownership", Content: "Rust uses ownership to manage memory safely.", Path: "ownership.md", Source: "rust-book"},
		{Title: "Borrowing", Content: "Borrowing allows references without taking ownership.", Path: "borrowing.md", Source: "rust-book"},
	}
}

func mixedSourceDocs() []store.Document {
	return []store.Document{
		{Title: "Ownership basics", Content: "Ownership rules: each value has a single owner and memory is freed when the owner goes out of scope.", Path: "book/ownership.md", Source: "rust-book"},
		{Title: "Borrowing", Content: "Borrowing lets code use references to a value without taking ownership of it.", Path: "book/borrowing.md", Source: "rust-book"},
		{Title: "Ownership in unsafe code", Content: "Ownership and memory invariants must be upheld manually when writing unsafe code with raw pointers.", Path: "nomicon/ownership.md", Source: "rustonomicon"},
		{Title: "Lifetimes of references", Content: "References carry lifetimes; ownership of the referent must outlive every borrowing reference.", Path: "nomicon/lifetimes.md", Source: "rustonomicon"},
		{Title: "Closures", Content: "Closures capture variables by reference, by mutable reference, or by taking ownership with move.", Path: "rbe/closures.md", Source: "rust-by-example"},
	}
}

func resultPaths(results []store.SearchResult) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.Path
	}
	return paths
}

func rankOf(results []store.SearchResult, path string) int {
	for i, r := range results {
		if r.Path == path {
			return i
		}
	}
	return -1
}

// =============================================================================
// Construction
// =============================================================================

func TestNewEngine_NilLexical(t *testing.T) {
	_, err := NewEngine(nil, DefaultConfig())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNilDependency)
}

func TestNewEngine_AppliesDefaults(t *testing.T) {
	e, err := NewEngine(newTestLexical(t), Config{})
	require.NoError(t, err)

	assert.Equal(t, DefaultRRFConstant, e.fusion.K)
	assert.Equal(t, 3, e.config.CandidateMultiplier)
	assert.Equal(t, 32, e.config.EmbedBatchSize)
	assert.Equal(t, 50, e.config.MinContentLength)
}

// =============================================================================
// Search
// =============================================================================

// TS01: Empty index is safe in every mode
func TestEngine_EmptyIndexReturnsEmpty(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))

	for _, mode := range []Mode{ModeHybrid, ModeKeyword, ModeSemantic} {
		t.Run(mode.String(), func(t *testing.T) {
			results, err := e.Search(context.Background(), "ownership", 10, mode, nil)
			require.NoError(t, err)
			require.NotNil(t, results)
			assert.Empty(t, results)
		})
	}
}

func TestEngine_BlankQueryOrLimit(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.Index(context.Background(), scenarioDocs())
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "   ", 10, ModeKeyword, nil)
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = e.Search(context.Background(), "ownership", 0, ModeKeyword, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

// TS02: Ownership scenario
func TestEngine_OwnershipScenario(t *testing.T) {
	for _, withModel := range []bool{false, true} {
		t.Run(fmt.Sprintf("model=%v", withModel), func(t *testing.T) {
			var opts []Option
			if withModel {
				opts = append(opts, WithEmbedder(&mockEmbedder{}))
			}
			e := newTestEngine(t, opts...)

			// Given: the two rust-book documents indexed
			n, err := e.Index(context.Background(), scenarioDocs())
			require.NoError(t, err)
			require.Equal(t, 2, n)

			// When: searching for "ownership"
			results, err := e.Search(context.Background(), "ownership", 10, ModeHybrid, nil)
			require.NoError(t, err)

			// Then: ownership.md ranks at or above borrowing.md
			own := rankOf(results, "ownership.md")
			require.GreaterOrEqual(t, own, 0)
			if borrow := rankOf(results, "borrowing.md"); borrow >= 0 {
				assert.LessOrEqual(t, own, borrow)
			}
		})
	}
}

// TS03: Degraded hybrid equals keyword
func TestEngine_DegradedHybridEqualsKeyword(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no model", nil},
		{"empty vector index", []Option{WithEmbedder(&mockEmbedder{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lexical := newTestLexical(t)
			_, err := lexical.Rebuild(context.Background(), mixedSourceDocs())
			require.NoError(t, err)
			e, err := NewEngine(lexical, DefaultConfig(), tt.opts...)
			require.NoError(t, err)

			for _, limit := range []int{1, 2, 10} {
				keyword, err := e.Search(context.Background(), "ownership memory", limit, ModeKeyword, nil)
				require.NoError(t, err)
				hybrid, err := e.Search(context.Background(), "ownership memory", limit, ModeHybrid, nil)
				require.NoError(t, err)
				semantic, err := e.Search(context.Background(), "ownership memory", limit, ModeSemantic, nil)
				require.NoError(t, err)

				assert.Equal(t, keyword, hybrid)
				assert.Equal(t, keyword, semantic)
			}
		})
	}
}

func TestEngine_HybridFusesScores(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	_, err := e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "ownership", 3, ModeHybrid, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)

	// Scores are RRF sums, bounded by two first-place contributions
	for i, r := range results {
		assert.Greater(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 2.0/61+1e-12)
		if i > 0 {
			assert.GreaterOrEqual(t, results[i-1].Score, r.Score)
		}
		assert.NotEmpty(t, r.Title)
		assert.NotEmpty(t, r.Source)
	}
}

// TS04: Source filter correctness
func TestEngine_SourceFilter(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	_, err := e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	queries := []string{"ownership", "memory", "references lifetimes", "borrowing ownership", "closures"}
	for _, mode := range []Mode{ModeHybrid, ModeKeyword, ModeSemantic} {
		for _, q := range queries {
			results, err := e.Search(context.Background(), q, 10, mode, []string{"rust-book"})
			require.NoError(t, err)
			for _, r := range results {
				assert.Equal(t, "rust-book", r.Source, "mode=%s query=%q path=%s", mode, q, r.Path)
			}
		}
	}
}

func TestEngine_SourceFilterDropsOtherSemanticCandidates(t *testing.T) {
	// Given: every page is a semantic candidate for any query
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	_, err := e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	// When: searching scoped to rust-by-example
	results, err := e.Search(context.Background(), "closures", 10, ModeHybrid, []string{"rust-by-example"})
	require.NoError(t, err)

	// Then: only the rust-by-example page survives the provenance check
	require.NotEmpty(t, results)
	assert.Equal(t, []string{"rbe/closures.md"}, resultPaths(results))
}

// TS05: Materialization
func TestEngine_SemanticOnlyHitIsMaterialized(t *testing.T) {
	em := &mockEmbedder{}
	vectors := store.NewVectorIndex(store.DefaultVectorConfig())
	e := newTestEngine(t, WithEmbedder(em), WithVectorIndex(vectors))

	docs := scenarioDocs()
	_, err := e.lexical.Rebuild(context.Background(), docs)
	require.NoError(t, err)

	// Given: vectors for both docs plus a path the lexical index does not hold
	require.NoError(t, vectors.Add("ownership.md", em.vector(docs[0].Content)))
	require.NoError(t, vectors.Add("borrowing.md", em.vector(docs[1].Content)))
	require.NoError(t, vectors.Add("ghost.md", em.vector("ghost ghost")))

	// When: a query that only the vector side can answer
	results, err := e.Search(context.Background(), "ghost", 10, ModeHybrid, nil)
	require.NoError(t, err)

	// Then: the unknown path is synthesized instead of failing the search
	i := rankOf(results, "ghost.md")
	require.GreaterOrEqual(t, i, 0)
	assert.Equal(t, store.SearchResult{Title: "ghost.md", Path: "ghost.md", Score: results[i].Score}, results[i])

	// And: semantic-only hits that are indexed get full display fields
	j := rankOf(results, "ownership.md")
	require.GreaterOrEqual(t, j, 0)
	assert.Equal(t, "Ownership", results[j].Title)
	assert.Equal(t, "rust-book", results[j].Source)
}

func TestEngine_PureSemanticUsesSimilarity(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	_, err := e.Index(context.Background(), scenarioDocs())
	require.NoError(t, err)

	results, err := e.Search(context.Background(), "borrowing references", 2, ModeSemantic, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.Equal(t, "borrowing.md", results[0].Path)
	assert.Equal(t, "Borrowing", results[0].Title)
	for _, r := range results {
		assert.LessOrEqual(t, r.Score, 1.0+1e-6)
		assert.GreaterOrEqual(t, r.Score, -1.0-1e-6)
	}
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

// TS06: Inference failures
func TestEngine_InferenceFailure(t *testing.T) {
	em := &mockEmbedder{}
	e := newTestEngine(t, WithEmbedder(em))
	_, err := e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	keyword, err := e.Search(context.Background(), "ownership", 2, ModeKeyword, nil)
	require.NoError(t, err)

	// Given: the model starts failing at query time
	em.err = fmt.Errorf("onnx session crashed")

	// When/Then: hybrid serves keyword results
	hybrid, err := e.Search(context.Background(), "ownership", 2, ModeHybrid, nil)
	require.NoError(t, err)
	assert.Equal(t, resultPaths(keyword), resultPaths(hybrid))

	// When/Then: semantic returns an inference error
	_, err = e.Search(context.Background(), "ownership", 2, ModeSemantic, nil)
	require.Error(t, err)
	assert.Equal(t, errors.KindInference, errors.KindOf(err))
}

func TestEngine_CircuitBreakerStopsCallingModel(t *testing.T) {
	em := &mockEmbedder{}
	cb := errors.NewCircuitBreaker("test", errors.WithMaxFailures(1))
	e := newTestEngine(t, WithEmbedder(em), WithCircuitBreaker(cb))
	_, err := e.Index(context.Background(), scenarioDocs())
	require.NoError(t, err)

	em.err = errors.InferenceError("model broken", nil)

	// First failure opens the breaker
	_, err = e.Search(context.Background(), "ownership", 5, ModeSemantic, nil)
	require.Error(t, err)
	require.Equal(t, int64(1), em.calls.Load())
	assert.Equal(t, errors.StateOpen, cb.State())

	// Later queries fail fast without touching the model
	_, err = e.Search(context.Background(), "ownership", 5, ModeSemantic, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCircuitOpen)
	assert.Equal(t, errors.KindInference, errors.KindOf(err))
	assert.Equal(t, int64(1), em.calls.Load())

	// Hybrid still answers from the lexical index
	results, err := e.Search(context.Background(), "ownership", 5, ModeHybrid, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

// =============================================================================
// Index
// =============================================================================

// TS07: Rebuild semantics
func TestEngine_IndexTwiceKeepsCount(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	docs := mixedSourceDocs()

	for i := 0; i < 2; i++ {
		n, err := e.Index(context.Background(), docs)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
	}

	stats, err := e.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.Documents)
	assert.Equal(t, 5, stats.Vectors)
	assert.True(t, stats.SemanticEnabled)
	assert.Equal(t, "mock", stats.ModelName)
	assert.Equal(t, "closed", stats.CircuitState)
}

func TestEngine_IndexDedupesPaths(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	docs := append(scenarioDocs(), store.Document{
		Title: "Ownership (revised)", Content: "Ownership, revised.", Path: "ownership.md", Source: "rust-book",
	})

	n, err := e.Index(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, e.vectorIndex().Len())

	r, err := e.lexical.Lookup(context.Background(), "ownership.md", "ownership")
	require.NoError(t, err)
	assert.Equal(t, "Ownership (revised)", r.Title)
}

func TestEngine_IndexEmbeddingText(t *testing.T) {
	em := &mockEmbedder{}
	e := newTestEngine(t, WithEmbedder(em))
	long := strings.Repeat("x", 51)
	docs := []store.Document{
		{Title: "Short", Content: "tiny", Path: "a.md", Source: "rust-book"},
		{Title: "Exactly fifty", Content: strings.Repeat("y", 50), Path: "b.md", Source: "rust-book"},
		{Title: "Long", Content: long, Path: "c.md", Source: "rust-book"},
	}

	_, err := e.Index(context.Background(), docs)
	require.NoError(t, err)

	// Content longer than 50 characters is embedded, otherwise the title
	assert.Equal(t, []string{"Short", "Exactly fifty", long}, em.texts)
}

func TestEngine_IndexBatchesAndSkipsFailures(t *testing.T) {
	em := &mockEmbedder{failOn: "Closures"}
	cfg := DefaultConfig()
	cfg.EmbedBatchSize = 2
	e, err := NewEngine(newTestLexical(t), cfg, WithEmbedder(em))
	require.NoError(t, err)

	docs := mixedSourceDocs()
	// Short content forces title embedding so failOn matches only the last doc
	docs[4].Content = "move"

	var progress []int
	n, err := e.IndexWithProgress(context.Background(), docs, func(embedded, total int) {
		assert.Equal(t, 5, total)
		progress = append(progress, embedded)
	})

	// Then: the lexical side has everything; the failed batch is missing
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, 4, e.vectorIndex().Len())
	assert.Equal(t, []int{2, 4, 5}, progress)
}

func TestEngine_IndexWithoutModel(t *testing.T) {
	e := newTestEngine(t)

	n, err := e.Index(context.Background(), scenarioDocs())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, e.vectorIndex().Len())
	assert.False(t, e.SemanticEnabled())
}

func TestEngine_IndexPersistsVectors(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.VectorDir = dir
	em := &mockEmbedder{}
	e, err := NewEngine(newTestLexical(t), cfg, WithEmbedder(em))
	require.NoError(t, err)

	_, err = e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	loaded, err := store.LoadVectorIndex(context.Background(), dir, store.DefaultVectorConfig())
	require.NoError(t, err)
	assert.Equal(t, 5, loaded.Len())

	// Same query against the built and the reloaded index
	q := em.vector("ownership memory")
	want, err := e.vectorIndex().Search(q, 3)
	require.NoError(t, err)
	got, err := loaded.Search(q, 3)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestEngine_IndexCancelled(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Index(ctx, mixedSourceDocs())
	require.Error(t, err)
}

func TestEngine_ConcurrentSearchDuringIndex(t *testing.T) {
	e := newTestEngine(t, WithEmbedder(&mockEmbedder{}))
	_, err := e.Index(context.Background(), mixedSourceDocs())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				results, err := e.Search(context.Background(), "ownership", 5, ModeHybrid, nil)
				assert.NoError(t, err)
				assert.NotEmpty(t, results)
			}
		}()
	}
	for i := 0; i < 3; i++ {
		_, err := e.Index(context.Background(), mixedSourceDocs())
		require.NoError(t, err)
	}
	wg.Wait()
}

func TestEngine_CloseClosesEmbedder(t *testing.T) {
	em := &mockEmbedder{}
	e, err := NewEngine(newTestLexical(t), DefaultConfig(), WithEmbedder(em))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	assert.True(t, em.closed)
}

func TestMockEmbedder_Normalized(t *testing.T) {
	v := (&mockEmbedder{}).vector("ownership and borrowing")
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}
