// Package search provides hybrid search over Rust documentation, combining
// the lexical index and the vector index with Reciprocal Rank Fusion (RRF).
package search

import (
	"context"
	"strings"

	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// Mode selects the retrieval path for a query.
type Mode int

const (
	// ModeHybrid fuses keyword and semantic results (default).
	ModeHybrid Mode = iota
	// ModeKeyword uses the lexical index only.
	ModeKeyword
	// ModeSemantic uses the vector index only.
	ModeSemantic
)

// String returns the canonical mode name.
func (m Mode) String() string {
	switch m {
	case ModeKeyword:
		return "keyword"
	case ModeSemantic:
		return "semantic"
	default:
		return "hybrid"
	}
}

// ParseMode maps a mode string to a Mode. Matching is case-insensitive and
// unrecognized values select ModeHybrid.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "keyword", "bm25":
		return ModeKeyword
	case "semantic", "embedding", "vector":
		return ModeSemantic
	default:
		return ModeHybrid
	}
}

// Searcher is the retrieval surface used by the serving layer.
type Searcher interface {
	// Search returns up to limit results for query. A non-empty sources
	// list restricts results to those documentation sets.
	Search(ctx context.Context, query string, limit int, mode Mode, sources []string) ([]store.SearchResult, error)

	// Index rebuilds both indexes from docs and returns the lexical count.
	Index(ctx context.Context, docs []store.Document) (int, error)

	// Stats returns index statistics.
	Stats(ctx context.Context) (*Stats, error)
}

// Config configures the search engine.
type Config struct {
	// RRFConstant is the RRF smoothing constant K (default: 60).
	RRFConstant int

	// CandidateMultiplier scales limit into the per-backend candidate count
	// (default: 3).
	CandidateMultiplier int

	// EmbedBatchSize is the number of documents embedded per call during
	// indexing (default: 32).
	EmbedBatchSize int

	// MinContentLength is the content length above which a document is
	// embedded by its content rather than its title (default: 50).
	MinContentLength int

	// VectorDir is where the vector index is persisted after Index.
	// Empty disables persistence.
	VectorDir string

	// Vector configures vector indexes built by Index.
	Vector store.VectorConfig
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		RRFConstant:         DefaultRRFConstant,
		CandidateMultiplier: 3,
		EmbedBatchSize:      32,
		MinContentLength:    50,
		Vector:              store.DefaultVectorConfig(),
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RRFConstant <= 0 {
		c.RRFConstant = d.RRFConstant
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = d.CandidateMultiplier
	}
	if c.EmbedBatchSize <= 0 {
		c.EmbedBatchSize = d.EmbedBatchSize
	}
	if c.MinContentLength <= 0 {
		c.MinContentLength = d.MinContentLength
	}
	return c
}

// Stats describes the engine's indexes.
type Stats struct {
	Documents       uint64 `json:"documents"`
	Vectors         int    `json:"vectors"`
	Dimensions      int    `json:"dimensions"`
	ModelName       string `json:"model_name,omitempty"`
	SemanticEnabled bool   `json:"semantic_enabled"`
	CircuitState    string `json:"circuit_state"`
}
