package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	rmerrors "github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// searchCall records one Search invocation.
type searchCall struct {
	Query   string
	Limit   int
	Mode    search.Mode
	Sources []string
}

// MockSearcher implements search.Searcher for testing.
type MockSearcher struct {
	SearchFn func(ctx context.Context, query string, limit int, mode search.Mode, sources []string) ([]store.SearchResult, error)
	StatsFn  func(ctx context.Context) (*search.Stats, error)

	mu    sync.Mutex
	calls []searchCall
}

func (m *MockSearcher) Search(ctx context.Context, query string, limit int, mode search.Mode, sources []string) ([]store.SearchResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, searchCall{Query: query, Limit: limit, Mode: mode, Sources: sources})
	m.mu.Unlock()
	if m.SearchFn != nil {
		return m.SearchFn(ctx, query, limit, mode, sources)
	}
	return []store.SearchResult{}, nil
}

func (m *MockSearcher) Index(_ context.Context, docs []store.Document) (int, error) {
	return len(docs), nil
}

func (m *MockSearcher) Stats(ctx context.Context) (*search.Stats, error) {
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	return &search.Stats{Documents: 10, CircuitState: "closed"}, nil
}

func (m *MockSearcher) lastCall(t *testing.T) searchCall {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.calls, "engine was not called")
	return m.calls[len(m.calls)-1]
}

func (m *MockSearcher) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Ensure MockSearcher implements search.Searcher
var _ search.Searcher = (*MockSearcher)(nil)

// mockProgress implements ProgressReporter.
type mockProgress struct {
	indexing bool
	snap     indexer.ProgressSnapshot
}

func (p *mockProgress) IsIndexing() bool                   { return p.indexing }
func (p *mockProgress) Snapshot() indexer.ProgressSnapshot { return p.snap }

func sampleResults() []store.SearchResult {
	return []store.SearchResult{
		{
			Title:   "What is Ownership?",
			Snippet: "Ownership is a set of rules that govern how a Rust program manages memory.",
			Path:    "rust-book/ch04-01-what-is-ownership.md",
			Source:  "rust-book",
			Score:   0.0328,
		},
		{
			Title:   "References and Borrowing",
			Snippet: "A reference is like a pointer.",
			Path:    "rust-book/ch04-02-references-and-borrowing.md",
			Source:  "rust-book",
			Score:   0.0161,
		},
	}
}

func newTestServer(t *testing.T, engine *MockSearcher) *Server {
	t.Helper()
	srv, err := NewServer(engine)
	require.NoError(t, err)
	return srv
}

// ============================================================================
// TS01: Construction
// ============================================================================

func TestNewServer_NilEngine(t *testing.T) {
	_, err := NewServer(nil)
	require.Error(t, err)
}

func TestServer_Info(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	name, ver := srv.Info()
	assert.Equal(t, "rust-lang-mcp", name)
	assert.NotEmpty(t, ver)
	assert.NotNil(t, srv.MCPServer())
}

func TestServer_ListTools(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	names := make([]string, 0, 5)
	for _, tool := range srv.ListTools() {
		names = append(names, tool.Name)
		assert.NotEmpty(t, tool.Description)
	}
	assert.Equal(t, []string{
		"search_rust_docs", "explain_concept", "get_best_practice", "show_example", "index_status",
	}, names)
}

func TestServer_UnknownTool(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	_, err := srv.CallTool(context.Background(), "search_code", nil)

	var mcpErr *MCPError
	require.ErrorAs(t, err, &mcpErr)
	assert.Equal(t, ErrCodeMethodNotFound, mcpErr.Code)
}

// ============================================================================
// TS02: search_rust_docs
// ============================================================================

func TestSearchRustDocs_ReturnsPrettyJSON(t *testing.T) {
	// Given: engine returning two results
	engine := &MockSearcher{
		SearchFn: func(context.Context, string, int, search.Mode, []string) ([]store.SearchResult, error) {
			return sampleResults(), nil
		},
	}
	srv := newTestServer(t, engine)

	// When: calling the tool
	text, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{
		"query": "ownership",
	})

	// Then: results are indented JSON with every field
	require.NoError(t, err)
	assert.Contains(t, text, "\n  {\n    \"title\": \"What is Ownership?\"")

	var items []SearchItem
	require.NoError(t, json.Unmarshal([]byte(text), &items))
	require.Len(t, items, 2)
	assert.Equal(t, "rust-book/ch04-01-what-is-ownership.md", items[0].Path)
	assert.Equal(t, "rust-book", items[0].Source)
	assert.InDelta(t, 0.0328, items[0].Score, 1e-9)
	assert.NotEmpty(t, items[0].Snippet)

	call := engine.lastCall(t)
	assert.Equal(t, "ownership", call.Query)
	assert.Equal(t, search.ModeHybrid, call.Mode)
	assert.Nil(t, call.Sources)
}

func TestSearchRustDocs_NoResults(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	text, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{
		"query": "xyzzy",
	})

	require.NoError(t, err)
	assert.Equal(t, "No results found for your query. Try different keywords.", text)
}

func TestSearchRustDocs_LimitClamping(t *testing.T) {
	tests := []struct {
		name      string
		args      map[string]any
		wantLimit int
	}{
		{"default", map[string]any{"query": "traits"}, 5},
		{"zero", map[string]any{"query": "traits", "limit": 0}, 5},
		{"negative", map[string]any{"query": "traits", "limit": -3}, 5},
		{"within range", map[string]any{"query": "traits", "limit": 7}, 7},
		{"max", map[string]any{"query": "traits", "limit": 20}, 20},
		{"above max", map[string]any{"query": "traits", "limit": 500}, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockSearcher{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolSearchRustDocs, tt.args)

			require.NoError(t, err)
			assert.Equal(t, tt.wantLimit, engine.lastCall(t).Limit)
		})
	}
}

func TestSearchRustDocs_Mode(t *testing.T) {
	tests := []struct {
		mode string
		want search.Mode
	}{
		{"", search.ModeHybrid},
		{"hybrid", search.ModeHybrid},
		{"keyword", search.ModeKeyword},
		{"SEMANTIC", search.ModeSemantic},
		{"fuzzy", search.ModeHybrid},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			engine := &MockSearcher{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{
				"query": "closures",
				"mode":  tt.mode,
			})

			require.NoError(t, err)
			assert.Equal(t, tt.want, engine.lastCall(t).Mode)
		})
	}
}

func TestSearchRustDocs_InvalidQuery(t *testing.T) {
	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing", map[string]any{}},
		{"nil args", nil},
		{"empty", map[string]any{"query": ""}},
		{"whitespace", map[string]any{"query": "   \t\n"}},
		{"wrong type", map[string]any{"query": "ok", "limit": "ten"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := &MockSearcher{}
			srv := newTestServer(t, engine)

			_, err := srv.CallTool(context.Background(), ToolSearchRustDocs, tt.args)

			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
			assert.Zero(t, engine.callCount())
		})
	}
}

func TestSearchRustDocs_EngineError(t *testing.T) {
	// Given: engine failing with an index error
	engine := &MockSearcher{
		SearchFn: func(context.Context, string, int, search.Mode, []string) ([]store.SearchResult, error) {
			return nil, rmerrors.IndexError("index corrupt", nil)
		},
	}
	srv := newTestServer(t, engine)

	// When: calling the tool
	_, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{"query": "traits"})

	// Then: the error keeps its kind for mapping
	require.Error(t, err)
	assert.Equal(t, rmerrors.KindIndex, rmerrors.KindOf(err))
	assert.Equal(t, ErrCodeIndexFailed, MapError(err).Code)
}

// ============================================================================
// TS03: Source-scoped tools
// ============================================================================

func TestScopedTools(t *testing.T) {
	tests := []struct {
		tool         string
		param        string
		wantSources  []string
		wantDefault  int
		wantMax      int
		wantField    string
		emptyContain string
	}{
		{
			tool:         ToolExplainConcept,
			param:        "concept",
			wantSources:  []string{"rust-book", "rust-reference"},
			wantDefault:  3,
			wantMax:      10,
			wantField:    "explanation",
			emptyContain: "No documentation found for concept 'xyzzy'",
		},
		{
			tool:         ToolGetBestPractice,
			param:        "topic",
			wantSources:  []string{"rust-patterns", "api-guidelines", "rustonomicon"},
			wantDefault:  5,
			wantMax:      15,
			wantField:    "practice",
			emptyContain: "No best practices found for 'xyzzy'",
		},
		{
			tool:         ToolShowExample,
			param:        "topic",
			wantSources:  []string{"rust-by-example"},
			wantDefault:  3,
			wantMax:      10,
			wantField:    "example",
			emptyContain: "No examples found for 'xyzzy'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			ctx := context.Background()

			// Results carry the snippet under the tool's field name
			engine := &MockSearcher{
				SearchFn: func(context.Context, string, int, search.Mode, []string) ([]store.SearchResult, error) {
					return sampleResults(), nil
				},
			}
			srv := newTestServer(t, engine)

			text, err := srv.CallTool(ctx, tt.tool, map[string]any{tt.param: "ownership"})
			require.NoError(t, err)

			var items []map[string]any
			require.NoError(t, json.Unmarshal([]byte(text), &items))
			require.Len(t, items, 2)
			assert.Equal(t, "What is Ownership?", items[0]["title"])
			assert.Equal(t, sampleResults()[0].Snippet, items[0][tt.wantField])
			assert.Equal(t, "rust-book", items[0]["source"])
			assert.NotContains(t, items[0], "score")

			call := engine.lastCall(t)
			assert.Equal(t, tt.wantSources, call.Sources)
			assert.Equal(t, search.ModeHybrid, call.Mode)
			assert.Equal(t, tt.wantDefault, call.Limit)

			// Limits are capped
			_, err = srv.CallTool(ctx, tt.tool, map[string]any{tt.param: "ownership", "limit": 1000})
			require.NoError(t, err)
			assert.Equal(t, tt.wantMax, engine.lastCall(t).Limit)

			// Empty results name the topic
			empty := newTestServer(t, &MockSearcher{})
			text, err = empty.CallTool(ctx, tt.tool, map[string]any{tt.param: "xyzzy"})
			require.NoError(t, err)
			assert.Contains(t, text, tt.emptyContain)

			// Blank topic is rejected
			_, err = srv.CallTool(ctx, tt.tool, map[string]any{tt.param: " "})
			var mcpErr *MCPError
			require.ErrorAs(t, err, &mcpErr)
			assert.Equal(t, ErrCodeInvalidParams, mcpErr.Code)
		})
	}
}

// ============================================================================
// TS04: index_status and indexing notice
// ============================================================================

func TestIndexStatus(t *testing.T) {
	// Given: engine stats and a running pass
	engine := &MockSearcher{
		StatsFn: func(context.Context) (*search.Stats, error) {
			return &search.Stats{
				Documents:       412,
				Vectors:         410,
				Dimensions:      384,
				ModelName:       "all-MiniLM-L6-v2",
				SemanticEnabled: true,
				CircuitState:    "closed",
			}, nil
		},
	}
	srv := newTestServer(t, engine)
	srv.SetProgress(&mockProgress{
		indexing: true,
		snap:     indexer.ProgressSnapshot{Status: "indexing", Stage: "embedding", Embedded: 64, EmbedTotal: 412},
	})

	// When: calling index_status
	text, err := srv.CallTool(context.Background(), ToolIndexStatus, nil)

	// Then: stats and progress are reported
	require.NoError(t, err)
	var out IndexStatusOutput
	require.NoError(t, json.Unmarshal([]byte(text), &out))
	assert.Equal(t, uint64(412), out.Index.Documents)
	assert.Equal(t, 410, out.Index.Vectors)
	assert.True(t, out.Index.SemanticEnabled)
	require.NotNil(t, out.Indexing)
	assert.Equal(t, "embedding", out.Indexing.Stage)
	assert.Equal(t, 64, out.Indexing.Embedded)
}

func TestIndexStatus_WithoutProgress(t *testing.T) {
	srv := newTestServer(t, &MockSearcher{})

	text, err := srv.CallTool(context.Background(), ToolIndexStatus, nil)

	require.NoError(t, err)
	assert.NotContains(t, text, "\"indexing\"")
}

func TestIndexStatus_StatsError(t *testing.T) {
	engine := &MockSearcher{
		StatsFn: func(context.Context) (*search.Stats, error) {
			return nil, rmerrors.IndexError("count failed", nil)
		},
	}
	srv := newTestServer(t, engine)

	_, err := srv.CallTool(context.Background(), ToolIndexStatus, nil)
	require.Error(t, err)
}

func TestSearch_IndexingNoticeOnEmptyIndex(t *testing.T) {
	// Given: first pass running, nothing indexed yet
	engine := &MockSearcher{
		StatsFn: func(context.Context) (*search.Stats, error) {
			return &search.Stats{}, nil
		},
	}
	srv := newTestServer(t, engine)
	srv.SetProgress(&mockProgress{
		indexing: true,
		snap:     indexer.ProgressSnapshot{Status: "indexing", Stage: "parsing", FilesTotal: 200, FilesParsed: 50, ProgressPct: 25},
	})

	// When: searching
	text, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{"query": "traits"})

	// Then: a progress notice is returned and the engine is not queried
	require.NoError(t, err)
	assert.Contains(t, text, "Indexing in progress: 25.0%")
	assert.Contains(t, text, "50/200")
	assert.Zero(t, engine.callCount())
}

func TestSearch_ServesPreviousSnapshotDuringReindex(t *testing.T) {
	// Given: a reindex running over an existing index
	engine := &MockSearcher{
		SearchFn: func(context.Context, string, int, search.Mode, []string) ([]store.SearchResult, error) {
			return sampleResults(), nil
		},
	}
	srv := newTestServer(t, engine)
	srv.SetProgress(&mockProgress{indexing: true})

	// When: searching
	text, err := srv.CallTool(context.Background(), ToolShowExample, map[string]any{"topic": "ownership"})

	// Then: results come from the engine
	require.NoError(t, err)
	assert.Contains(t, text, "What is Ownership?")
	assert.Equal(t, 1, engine.callCount())
}

func TestServer_ConcurrentCalls(t *testing.T) {
	engine := &MockSearcher{
		SearchFn: func(context.Context, string, int, search.Mode, []string) ([]store.SearchResult, error) {
			return sampleResults(), nil
		},
	}
	srv := newTestServer(t, engine)

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := srv.CallTool(context.Background(), ToolSearchRustDocs, map[string]any{"query": "traits"})
			errs <- err
		}()
		go func() {
			defer wg.Done()
			srv.SetProgress(&mockProgress{})
			_, err := srv.CallTool(context.Background(), ToolIndexStatus, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 20, engine.callCount())
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 5, clampLimit(0, 5, 20))
	assert.Equal(t, 5, clampLimit(-1, 5, 20))
	assert.Equal(t, 1, clampLimit(1, 5, 20))
	assert.Equal(t, 20, clampLimit(21, 5, 20))
}

func TestFormatSearchResults_SerializeFailure(t *testing.T) {
	// NaN scores cannot be encoded as JSON
	results := []store.SearchResult{{Title: "x", Score: math.NaN()}}

	_, err := FormatSearchResults(results)

	require.Error(t, err)
	assert.Equal(t, rmerrors.ErrCodeSerialize, rmerrors.GetCode(err))
	assert.True(t, errors.Is(err, &rmerrors.Error{Code: rmerrors.ErrCodeSerialize}))
}
