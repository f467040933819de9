package mcp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
	"github.com/tauanbinato/rust-lang-mcp/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "rust-lang-mcp"

// ProgressReporter exposes indexing progress to the server.
type ProgressReporter interface {
	IsIndexing() bool
	Snapshot() indexer.ProgressSnapshot
}

// Server is the MCP server for rust-lang-mcp.
// It bridges AI clients with the hybrid documentation search engine.
type Server struct {
	mcp     *mcp.Server
	engine  search.Searcher
	pages   *pageReader
	sources []string
	logger  *slog.Logger

	// Background indexing progress (nil until set)
	progress ProgressReporter

	mu sync.RWMutex
}

// ToolInfo contains information about a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

// Option configures a Server.
type Option func(*Server)

// WithPages serves documentation pages from the source checkouts in dataDir
// as rustdoc:// resources.
func WithPages(dataDir string, registry *sources.Registry) Option {
	return func(s *Server) {
		if registry == nil {
			return
		}
		s.pages = &pageReader{dataDir: dataDir, registry: registry}
		s.sources = registry.IDs()
	}
}

// WithLogger sets the server logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

var toolDescriptions = []ToolInfo{
	{
		Name:        ToolSearchRustDocs,
		Description: "Search the indexed Rust documentation (The Rust Book, Rust Reference, etc.) for information about Rust concepts, syntax, and best practices. Uses hybrid search (keyword + semantic) by default for best results.",
	},
	{
		Name:        ToolExplainConcept,
		Description: "Get a detailed explanation of a Rust concept. Searches The Rust Book and Rust Reference for comprehensive explanations of concepts like ownership, lifetimes, traits, borrowing, etc.",
	},
	{
		Name:        ToolGetBestPractice,
		Description: "Get Rust best practices and idiomatic patterns for a topic. Searches Rust Design Patterns, API Guidelines and the Rustonomicon for recommendations on error handling, API design, naming conventions, and more.",
	},
	{
		Name:        ToolShowExample,
		Description: "Get code examples for a Rust topic. Searches Rust by Example for practical, runnable examples demonstrating iterators, pattern matching, closures, error handling, and more.",
	},
	{
		Name:        ToolIndexStatus,
		Description: "Check whether the documentation index is ready: document and vector counts, semantic search availability, and progress of a running indexing pass.",
	},
}

// NewServer creates a new MCP server over engine.
func NewServer(engine search.Searcher, opts ...Option) (*Server, error) {
	if engine == nil {
		return nil, errors.New("search engine is required")
	}

	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mcp = mcp.NewServer(
		&mcp.Implementation{
			Name:    ServerName,
			Version: version.Version,
		},
		nil, // capabilities are inferred from registered tools/resources
	)

	s.registerTools()
	s.registerResources()

	return s, nil
}

// SetProgress sets the tracker of background indexing. This enables
// index_status progress reporting and the indexing notice returned by the
// search tools while the first pass is still running.
func (s *Server) SetProgress(p ProgressReporter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.progress = p
}

// MCPServer returns the underlying MCP server instance.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcp
}

// Info returns the server name and version.
func (s *Server) Info() (name, ver string) {
	return ServerName, version.Version
}

// ListTools returns all registered tools.
func (s *Server) ListTools() []ToolInfo {
	out := make([]ToolInfo, len(toolDescriptions))
	copy(out, toolDescriptions)
	return out
}

// CallTool invokes a tool by name with JSON-style arguments and returns the
// text the MCP client would receive.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch name {
	case ToolSearchRustDocs:
		var in SearchDocsInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		return s.searchRustDocs(ctx, in)
	case ToolExplainConcept:
		var in ExplainConceptInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		return s.explainConcept(ctx, in)
	case ToolGetBestPractice:
		var in BestPracticeInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		return s.getBestPractice(ctx, in)
	case ToolShowExample:
		var in ShowExampleInput
		if err := decodeArgs(args, &in); err != nil {
			return "", err
		}
		return s.showExample(ctx, in)
	case ToolIndexStatus:
		return s.indexStatus(ctx, IndexStatusInput{})
	default:
		return "", NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

// searchRustDocs searches every source.
func (s *Server) searchRustDocs(ctx context.Context, in SearchDocsInput) (string, error) {
	query, err := requireText("query", in.Query)
	if err != nil {
		return "", err
	}
	if msg, busy := s.indexingNotice(ctx); busy {
		return msg, nil
	}

	limit := clampLimit(in.Limit, searchDefaultLimit, searchMaxLimit)
	results, err := s.runSearch(ctx, ToolSearchRustDocs, query, limit, search.ParseMode(in.Mode), nil)
	if err != nil {
		return "", err
	}
	return FormatSearchResults(results)
}

func (s *Server) explainConcept(ctx context.Context, in ExplainConceptInput) (string, error) {
	return s.scopedSearch(ctx, explainConceptTool, "concept", in.Concept, in.Limit)
}

func (s *Server) getBestPractice(ctx context.Context, in BestPracticeInput) (string, error) {
	return s.scopedSearch(ctx, bestPracticeTool, "topic", in.Topic, in.Limit)
}

func (s *Server) showExample(ctx context.Context, in ShowExampleInput) (string, error) {
	return s.scopedSearch(ctx, showExampleTool, "topic", in.Topic, in.Limit)
}

// scopedSearch runs a hybrid search restricted to the tool's sources.
func (s *Server) scopedSearch(ctx context.Context, tool scopedTool, param, text string, limit int) (string, error) {
	topic, err := requireText(param, text)
	if err != nil {
		return "", err
	}
	if msg, busy := s.indexingNotice(ctx); busy {
		return msg, nil
	}

	limit = clampLimit(limit, tool.defaultLimit, tool.maxLimit)
	results, err := s.runSearch(ctx, tool.name, topic, limit, search.ModeHybrid, tool.sources)
	if err != nil {
		return "", err
	}
	return formatScoped(tool, topic, results)
}

func (s *Server) runSearch(ctx context.Context, tool, query string, limit int, mode search.Mode, srcs []string) ([]store.SearchResult, error) {
	start := time.Now()
	requestID := generateRequestID()

	s.logger.Info("tool_search_started",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.String("query", query),
		slog.Int("limit", limit),
		slog.String("mode", mode.String()))

	results, err := s.engine.Search(ctx, query, limit, mode, srcs)
	duration := time.Since(start)
	if err != nil {
		s.logger.Error("tool_search_failed",
			slog.String("request_id", requestID),
			slog.String("tool", tool),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()))
		return nil, err
	}

	s.logger.Info("tool_search_completed",
		slog.String("request_id", requestID),
		slog.String("tool", tool),
		slog.Duration("duration", duration),
		slog.Int("result_count", len(results)))
	return results, nil
}

// indexingNotice returns a notice instead of results while the first
// indexing pass runs and nothing is searchable yet. Once documents exist,
// searches are served from the previous snapshot during a reindex.
func (s *Server) indexingNotice(ctx context.Context) (string, bool) {
	s.mu.RLock()
	progress := s.progress
	s.mu.RUnlock()

	if progress == nil || !progress.IsIndexing() {
		return "", false
	}
	stats, err := s.engine.Stats(ctx)
	if err != nil || stats.Documents > 0 {
		return "", false
	}
	return FormatIndexing(progress.Snapshot()), true
}

// indexStatus reports index statistics and indexing progress as JSON.
func (s *Server) indexStatus(ctx context.Context, _ IndexStatusInput) (string, error) {
	requestID := generateRequestID()
	s.logger.Info("index_status_started", slog.String("request_id", requestID))

	stats, err := s.engine.Stats(ctx)
	if err != nil {
		return "", err
	}

	out := IndexStatusOutput{
		Index:   *stats,
		Sources: s.sources,
	}

	s.mu.RLock()
	progress := s.progress
	s.mu.RUnlock()
	if progress != nil {
		snap := progress.Snapshot()
		out.Indexing = &snap
	}

	s.logger.Info("index_status_completed",
		slog.String("request_id", requestID),
		slog.Uint64("documents", stats.Documents),
		slog.Int("vectors", stats.Vectors))

	return toJSON(out)
}

func requireText(param, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", NewInvalidParamsError(fmt.Sprintf("%s parameter is required and cannot be empty or whitespace only", param))
	}
	return value, nil
}

// textHandler adapts a text-producing tool to the MCP SDK handler shape.
// Failures become tool errors carrying the mapped code.
func textHandler[In any](fn func(context.Context, In) (string, error)) mcp.ToolHandlerFor[In, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, in In) (*mcp.CallToolResult, any, error) {
		text, err := fn(ctx, in)
		if err != nil {
			return nil, nil, MapError(err)
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: text}},
		}, nil, nil
	}
}

// registerTools registers all tools with the MCP server.
func (s *Server) registerTools() {
	s.logger.Debug("Registering MCP tools")

	tool := func(name string) *mcp.Tool {
		for _, t := range toolDescriptions {
			if t.Name == name {
				return &mcp.Tool{Name: t.Name, Description: t.Description}
			}
		}
		panic("unknown tool " + name)
	}

	mcp.AddTool(s.mcp, tool(ToolSearchRustDocs), textHandler(s.searchRustDocs))
	mcp.AddTool(s.mcp, tool(ToolExplainConcept), textHandler(s.explainConcept))
	mcp.AddTool(s.mcp, tool(ToolGetBestPractice), textHandler(s.getBestPractice))
	mcp.AddTool(s.mcp, tool(ToolShowExample), textHandler(s.showExample))
	mcp.AddTool(s.mcp, tool(ToolIndexStatus), textHandler(s.indexStatus))

	s.logger.Info("MCP tools registered", slog.Int("count", len(toolDescriptions)))
}

// Serve runs the server on stdio until ctx is canceled or the client
// disconnects.
func (s *Server) Serve(ctx context.Context) error {
	s.logger.Info("Starting MCP server", slog.String("transport", "stdio"))

	err := s.mcp.Run(ctx, &mcp.StdioTransport{})
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("MCP server stopped with error",
			slog.String("error", err.Error()))
		return err
	}
	s.logger.Info("MCP server stopped gracefully")
	return nil
}

// generateRequestID creates a short unique request ID for log correlation.
func generateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
