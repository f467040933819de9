package mcp

import (
	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
)

// Tool names.
const (
	ToolSearchRustDocs  = "search_rust_docs"
	ToolExplainConcept  = "explain_concept"
	ToolGetBestPractice = "get_best_practice"
	ToolShowExample     = "show_example"
	ToolIndexStatus     = "index_status"
)

// SearchDocsInput defines the input schema for the search_rust_docs tool.
type SearchDocsInput struct {
	Query string `json:"query" jsonschema:"the search query (keywords or phrases to search for)"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default: 5, max: 20)"`
	Mode  string `json:"mode,omitempty" jsonschema:"search mode: hybrid (default, combines keyword and semantic), keyword (BM25 only) or semantic (embedding similarity only)"`
}

// ExplainConceptInput defines the input schema for the explain_concept tool.
type ExplainConceptInput struct {
	Concept string `json:"concept" jsonschema:"the Rust concept to explain, e.g. ownership, lifetimes, traits, borrowing"`
	Limit   int    `json:"limit,omitempty" jsonschema:"maximum number of documentation sections to return (default: 3, max: 10)"`
}

// BestPracticeInput defines the input schema for the get_best_practice tool.
type BestPracticeInput struct {
	Topic string `json:"topic" jsonschema:"the topic to get best practices for, e.g. error handling, API design, naming"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results to return (default: 5, max: 15)"`
}

// ShowExampleInput defines the input schema for the show_example tool.
type ShowExampleInput struct {
	Topic string `json:"topic" jsonschema:"the topic to show examples for, e.g. iterators, pattern matching, closures"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of examples to return (default: 3, max: 10)"`
}

// IndexStatusInput defines the input schema for the index_status tool (no parameters).
type IndexStatusInput struct{}

// SearchItem is one search_rust_docs result.
type SearchItem struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Path    string  `json:"path"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// ConceptItem is one explain_concept result.
type ConceptItem struct {
	Title       string `json:"title"`
	Explanation string `json:"explanation"`
	Path        string `json:"path"`
	Source      string `json:"source"`
}

// PracticeItem is one get_best_practice result.
type PracticeItem struct {
	Title    string `json:"title"`
	Practice string `json:"practice"`
	Path     string `json:"path"`
	Source   string `json:"source"`
}

// ExampleItem is one show_example result.
type ExampleItem struct {
	Title   string `json:"title"`
	Example string `json:"example"`
	Path    string `json:"path"`
	Source  string `json:"source"`
}

// IndexStatusOutput defines the output of the index_status tool.
type IndexStatusOutput struct {
	Index    search.Stats              `json:"index"`
	Sources  []string                  `json:"sources,omitempty"`
	Indexing *indexer.ProgressSnapshot `json:"indexing,omitempty"` // Present once a pass has been tracked
}

// scopedTool describes a tool that searches a fixed subset of sources.
type scopedTool struct {
	name         string
	defaultLimit int
	maxLimit     int
	sources      []string
	emptyMessage string // formatted with the topic
}

var (
	explainConceptTool = scopedTool{
		name:         ToolExplainConcept,
		defaultLimit: 3,
		maxLimit:     10,
		sources:      []string{"rust-book", "rust-reference"},
		emptyMessage: "No documentation found for concept '%s'. Try a different term or check spelling.",
	}
	bestPracticeTool = scopedTool{
		name:         ToolGetBestPractice,
		defaultLimit: 5,
		maxLimit:     15,
		sources:      []string{"rust-patterns", "api-guidelines", "rustonomicon"},
		emptyMessage: "No best practices found for '%s'. Try searching for related topics like 'error handling', 'API design', or 'naming'.",
	}
	showExampleTool = scopedTool{
		name:         ToolShowExample,
		defaultLimit: 3,
		maxLimit:     10,
		sources:      []string{"rust-by-example"},
		emptyMessage: "No examples found for '%s'. Try topics like 'iterators', 'match', 'closures', or 'error handling'.",
	}
)

const (
	searchDefaultLimit = 5
	searchMaxLimit     = 20
)
