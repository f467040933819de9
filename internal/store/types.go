// Package store holds the two retrieval backends: the lexical (keyword)
// index, with bleve and SQLite FTS5 implementations, and the HNSW vector
// index. Both are rebuilt wholesale on every indexing pass.
package store

import (
	"context"
	"fmt"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// Document is one parsed documentation page.
// Path is the unique key; Source names the documentation set.
type Document struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Path    string `json:"path"`
	Source  string `json:"source"`
}

// SearchResult is one ranked answer. The meaning of Score depends on the
// retrieval path that produced it and is not comparable across modes.
type SearchResult struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Path    string  `json:"path"`
	Source  string  `json:"source"`
	Score   float64 `json:"score"`
}

// LexicalIndex is a full-text index over documents.
//
// Rebuild replaces the entire contents atomically: concurrent searches see
// either the old snapshot or the new one, never a mix or an empty index.
type LexicalIndex interface {
	// Rebuild replaces the index contents with docs and returns the entry count.
	Rebuild(ctx context.Context, docs []Document) (int, error)

	// Search returns up to limit results ranked by relevance.
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// SearchSources is Search restricted to the given sources inside the same scan.
	SearchSources(ctx context.Context, query string, limit int, sources []string) ([]SearchResult, error)

	// Lookup returns the stored document at path with a snippet built for query.
	// Returns a KindNotFound error when no such path is indexed.
	Lookup(ctx context.Context, path, query string) (*SearchResult, error)

	// Count returns the number of indexed documents.
	Count(ctx context.Context) (uint64, error)

	// Close releases the index.
	Close() error
}

// IsEmpty reports whether idx holds no documents.
func IsEmpty(ctx context.Context, idx LexicalIndex) (bool, error) {
	n, err := idx.Count(ctx)
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// LexicalConfig configures a lexical backend.
type LexicalConfig struct {
	// SnippetLength is the snippet window in characters (default: 200).
	SnippetLength int

	// StopWords are dropped by the analyzer at index and query time.
	StopWords []string

	// SQLiteCacheMB sizes the SQLite page cache.
	SQLiteCacheMB int
}

// DefaultLexicalConfig returns the default lexical configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{
		SnippetLength: DefaultSnippetLength,
		StopWords:     DefaultStopWords,
		SQLiteCacheMB: 32,
	}
}

func (c LexicalConfig) withDefaults() LexicalConfig {
	if c.SnippetLength <= 0 {
		c.SnippetLength = DefaultSnippetLength
	}
	if c.StopWords == nil {
		c.StopWords = DefaultStopWords
	}
	if c.SQLiteCacheMB <= 0 {
		c.SQLiteCacheMB = 32
	}
	return c
}

// DefaultStopWords are high-frequency English words that carry no signal in
// documentation prose.
var DefaultStopWords = []string{
	"a", "an", "and", "are", "as", "at", "be", "but", "by", "for", "if",
	"in", "into", "is", "it", "of", "on", "or", "such", "that", "the",
	"their", "then", "there", "these", "they", "this", "to", "was", "will",
	"with", "how", "what", "when", "why", "do", "does",
}

// ErrIndexClosed is returned by operations on a closed index.
var ErrIndexClosed = errors.New(errors.ErrCodeIndexClosed, "index is closed", nil)

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	Path       string
	Similarity float32
}

// ErrDimensionMismatch indicates an embedding of the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (run 'rust-lang-mcp index' to rebuild)", e.Expected, e.Got)
}
