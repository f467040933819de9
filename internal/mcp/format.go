package mcp

import (
	"encoding/json"
	"fmt"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/indexer"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// NoResultsMessage is returned by search_rust_docs when nothing matched.
const NoResultsMessage = "No results found for your query. Try different keywords."

// FormatSearchResults renders search_rust_docs results as pretty JSON.
func FormatSearchResults(results []store.SearchResult) (string, error) {
	if len(results) == 0 {
		return NoResultsMessage, nil
	}
	items := make([]SearchItem, len(results))
	for i, r := range results {
		items[i] = SearchItem{
			Title:   r.Title,
			Snippet: r.Snippet,
			Path:    r.Path,
			Source:  r.Source,
			Score:   r.Score,
		}
	}
	return toJSON(items)
}

// formatScoped renders results of a source-scoped tool. The snippet is
// published under the field name each tool uses.
func formatScoped(tool scopedTool, topic string, results []store.SearchResult) (string, error) {
	if len(results) == 0 {
		return fmt.Sprintf(tool.emptyMessage, topic), nil
	}

	var items any
	switch tool.name {
	case ToolExplainConcept:
		out := make([]ConceptItem, len(results))
		for i, r := range results {
			out[i] = ConceptItem{Title: r.Title, Explanation: r.Snippet, Path: r.Path, Source: r.Source}
		}
		items = out
	case ToolGetBestPractice:
		out := make([]PracticeItem, len(results))
		for i, r := range results {
			out[i] = PracticeItem{Title: r.Title, Practice: r.Snippet, Path: r.Path, Source: r.Source}
		}
		items = out
	default:
		out := make([]ExampleItem, len(results))
		for i, r := range results {
			out[i] = ExampleItem{Title: r.Title, Example: r.Snippet, Path: r.Path, Source: r.Source}
		}
		items = out
	}
	return toJSON(items)
}

// FormatIndexing tells the caller the index is still being built.
func FormatIndexing(snap indexer.ProgressSnapshot) string {
	return fmt.Sprintf("Indexing in progress: %.1f%% (%d/%d files parsed, stage %s). "+
		"Search results will be available once the first pass completes. Please try again in a moment.",
		snap.ProgressPct, snap.FilesParsed, snap.FilesTotal, snap.Stage)
}

func toJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", errors.New(errors.ErrCodeSerialize, "failed to serialize results", err)
	}
	return string(data), nil
}

// clampLimit applies the tool default to non-positive limits and caps the rest.
func clampLimit(limit, defaultVal, max int) int {
	if limit <= 0 {
		return defaultVal
	}
	if limit > max {
		return max
	}
	return limit
}
