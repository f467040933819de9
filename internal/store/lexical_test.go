package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// ============================================================================
// Lexical index tests, run against every backend
// ============================================================================

var backends = []Backend{BackendBleve, BackendSQLite}

func newTestIndex(t *testing.T, backend Backend, dir string) LexicalIndex {
	t.Helper()
	idx, err := NewLexicalIndex(string(backend), dir, DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func forEachBackend(t *testing.T, fn func(t *testing.T, backend Backend)) {
	for _, b := range backends {
		t.Run(string(b), func(t *testing.T) { fn(t, b) })
	}
}

func sampleDocs(n int) []Document {
	docs := make([]Document, n)
	for i := range docs {
		docs[i] = Document{
			Title:   fmt.Sprintf("Chapter %d", i),
			Content: fmt.Sprintf("Chapter %d explains traits and generics in section %d.", i, i),
			Path:    fmt.Sprintf("book/ch%02d.md", i),
			Source:  "rust-book",
		}
	}
	return docs
}

// TS01: Rebuild replaces rather than appends
func TestLexicalIndex_RebuildTwiceKeepsCount(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")
		docs := sampleDocs(5)

		// When: indexing the same 5 documents twice
		n, err := idx.Rebuild(ctx, docs)
		require.NoError(t, err)
		assert.Equal(t, 5, n)
		n, err = idx.Rebuild(ctx, docs)
		require.NoError(t, err)

		// Then: exactly 5 entries remain
		assert.Equal(t, 5, n)
		count, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(5), count)
	})
}

// TS02: Rebuild drops documents missing from the new corpus
func TestLexicalIndex_RebuildDropsStaleDocuments(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")

		_, err := idx.Rebuild(ctx, sampleDocs(5))
		require.NoError(t, err)

		// When: rebuilding with a smaller corpus
		_, err = idx.Rebuild(ctx, sampleDocs(2))
		require.NoError(t, err)

		// Then: removed paths are gone
		_, err = idx.Lookup(ctx, "book/ch04.md", "")
		assert.True(t, errors.IsKind(err, errors.KindNotFound))
		count, err := idx.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), count)
	})
}

// TS03: Empty index
func TestLexicalIndex_EmptySearchReturnsEmpty(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")

		results, err := idx.Search(ctx, "ownership", 10)

		require.NoError(t, err)
		assert.NotNil(t, results)
		assert.Empty(t, results)

		empty, err := IsEmpty(ctx, idx)
		require.NoError(t, err)
		assert.True(t, empty)
	})
}

// TS04: Ownership ranks at or above borrowing
func TestLexicalIndex_OwnershipScenario(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")
		_, err := idx.Rebuild(ctx, []Document{
			{Title: "Ownership", Content: "Rust uses ownership to manage memory safely.", Path: "ownership.md", Source: "rust-book"},
			{Title: "Borrowing", Content: "Borrowing allows references without taking ownership.", Path: "borrowing.md", Source: "rust-book"},
		})
		require.NoError(t, err)

		results, err := idx.Search(ctx, "ownership", 10)
		require.NoError(t, err)

		require.NotEmpty(t, results)
		assert.Equal(t, "ownership.md", results[0].Path)
		assert.Equal(t, "Ownership", results[0].Title)
		assert.Equal(t, "rust-book", results[0].Source)
		assert.Contains(t, results[0].Snippet, "ownership")
		for i := 1; i < len(results); i++ {
			assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
		}
	})
}

// TS05: Source filter is applied inside the scan
func TestLexicalIndex_SearchSourcesFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")

		var docs []Document
		for i := 0; i < 6; i++ {
			src := "a"
			if i%2 == 1 {
				src = "b"
			}
			docs = append(docs, Document{
				Title:   fmt.Sprintf("Iterators %d", i),
				Content: "Iterators are lazy adapters over sequences.",
				Path:    fmt.Sprintf("%s/iter%d.md", src, i),
				Source:  src,
			})
		}
		_, err := idx.Rebuild(ctx, docs)
		require.NoError(t, err)

		// When: scoping to source a with a limit equal to its document count
		results, err := idx.SearchSources(ctx, "iterators", 3, []string{"a"})
		require.NoError(t, err)

		// Then: limit is filled with source a only
		require.Len(t, results, 3)
		for _, r := range results {
			assert.Equal(t, "a", r.Source)
		}

		// And: an empty allow-list matches nothing
		results, err = idx.SearchSources(ctx, "iterators", 3, nil)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

// TS06: Lookup by path
func TestLexicalIndex_Lookup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")
		_, err := idx.Rebuild(ctx, sampleDocs(3))
		require.NoError(t, err)

		got, err := idx.Lookup(ctx, "book/ch01.md", "generics")
		require.NoError(t, err)
		assert.Equal(t, "Chapter 1", got.Title)
		assert.Equal(t, "rust-book", got.Source)
		assert.Contains(t, got.Snippet, "generics")

		_, err = idx.Lookup(ctx, "book/missing.md", "")
		require.Error(t, err)
		assert.Equal(t, errors.KindNotFound, errors.KindOf(err))
	})
}

func TestLexicalIndex_BlankQueryAndLimit(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")
		_, err := idx.Rebuild(ctx, sampleDocs(3))
		require.NoError(t, err)

		results, err := idx.Search(ctx, "   ", 10)
		require.NoError(t, err)
		assert.Empty(t, results)

		results, err = idx.Search(ctx, "traits", 2)
		require.NoError(t, err)
		assert.Len(t, results, 2)
	})
}

func TestLexicalIndex_DuplicatePathLastWins(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")

		n, err := idx.Rebuild(ctx, []Document{
			{Title: "Old", Content: "old text", Path: "dup.md", Source: "s"},
			{Title: "New", Content: "new text", Path: "dup.md", Source: "s"},
		})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		got, err := idx.Lookup(ctx, "dup.md", "")
		require.NoError(t, err)
		assert.Equal(t, "New", got.Title)
	})
}

func TestLexicalIndex_ClosedIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		idx, err := NewLexicalIndex(string(backend), "", DefaultLexicalConfig())
		require.NoError(t, err)
		require.NoError(t, idx.Close())
		require.NoError(t, idx.Close())

		_, err = idx.Search(context.Background(), "x", 1)
		assert.ErrorIs(t, err, ErrIndexClosed)
	})
}

func TestLexicalIndex_PersistsAcrossReopen(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		dir := t.TempDir()

		idx, err := NewLexicalIndex(string(backend), dir, DefaultLexicalConfig())
		require.NoError(t, err)
		_, err = idx.Rebuild(ctx, sampleDocs(4))
		require.NoError(t, err)
		require.NoError(t, idx.Close())

		// When: reopening
		reopened := newTestIndex(t, backend, dir)

		// Then: documents survive
		count, err := reopened.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), count)
		assert.Equal(t, backend, DetectBackend(dir))
	})
}

// TS07: Configured stop words apply on both backends and survive reopen
func TestLexicalIndex_CustomStopWords(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		dir := t.TempDir()
		cfg := DefaultLexicalConfig()
		cfg.StopWords = []string{"traits"}

		// Given: an index whose only stop word is "traits"
		idx, err := NewLexicalIndex(string(backend), dir, cfg)
		require.NoError(t, err)
		_, err = idx.Rebuild(ctx, sampleDocs(3))
		require.NoError(t, err)

		// Then: "traits" is dropped while default stop words are searchable
		results, err := idx.Search(ctx, "traits", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
		results, err = idx.Search(ctx, "in", 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
		require.NoError(t, idx.Close())

		// When: reopening with the same configuration
		reopened, err := NewLexicalIndex(string(backend), dir, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = reopened.Close() })

		// Then: the persisted analyzer still uses the configured list
		results, err = reopened.Search(ctx, "traits", 10)
		require.NoError(t, err)
		assert.Empty(t, results)
		results, err = reopened.Search(ctx, "generics", 10)
		require.NoError(t, err)
		assert.Len(t, results, 3)
	})
}

// TS08: Default stop words are dropped from queries
func TestLexicalIndex_DefaultStopWordsDropped(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, "")
		_, err := idx.Rebuild(ctx, sampleDocs(3))
		require.NoError(t, err)

		// When: searching for a default stop word
		results, err := idx.Search(ctx, "in", 10)

		// Then: nothing matches
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

// TS09: Readers never observe an empty index during rebuild
func TestLexicalIndex_ConcurrentSearchDuringRebuild(t *testing.T) {
	forEachBackend(t, func(t *testing.T, backend Backend) {
		ctx := context.Background()
		idx := newTestIndex(t, backend, t.TempDir())
		docs := sampleDocs(20)
		_, err := idx.Rebuild(ctx, docs)
		require.NoError(t, err)

		var wg sync.WaitGroup
		stop := make(chan struct{})
		failures := make(chan string, 100)
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					res, err := idx.Search(ctx, "traits", 5)
					if err != nil {
						failures <- err.Error()
						return
					}
					if len(res) != 5 {
						failures <- fmt.Sprintf("got %d results", len(res))
						return
					}
				}
			}()
		}

		for i := 0; i < 3; i++ {
			_, err := idx.Rebuild(ctx, docs)
			require.NoError(t, err)
		}
		close(stop)
		wg.Wait()
		close(failures)

		for f := range failures {
			t.Errorf("reader saw partial index: %s", f)
		}
	})
}

// ============================================================================
// Backend-specific behaviour
// ============================================================================

func TestBleveIndex_QuerySyntaxError(t *testing.T) {
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	// When: the query is a bare required-term operator
	_, err = idx.Search(context.Background(), "+", 5)

	// Then: a query-kind error is returned
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
}

func TestBleveIndex_RustSyntaxDoesNotBreakParsing(t *testing.T) {
	ctx := context.Background()
	idx, err := NewBleveIndex("", DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = idx.Rebuild(ctx, []Document{
		{Title: "HashMap", Content: "std::collections::HashMap<K, V> stores pairs.", Path: "std/hashmap.md", Source: "std"},
	})
	require.NoError(t, err)

	for _, q := range []string{"std::collections::HashMap", "HashMap<K, V>", "what is a hashmap?", "a/b"} {
		_, err := idx.Search(ctx, q, 5)
		assert.NoError(t, err, q)
	}

	results, err := idx.Search(ctx, "hash map", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestBleveIndex_GenerationSwap(t *testing.T) {
	ctx := context.Background()
	root := filepath.Join(t.TempDir(), "bleve")
	idx, err := NewBleveIndex(root, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	_, err = idx.Rebuild(ctx, sampleDocs(2))
	require.NoError(t, err)
	_, err = idx.Rebuild(ctx, sampleDocs(3))
	require.NoError(t, err)

	// Then: only the live generation remains and CURRENT names it
	assert.Equal(t, 3, readCurrentGeneration(root))
	assert.DirExists(t, generationPath(root, 3))
	assert.NoDirExists(t, generationPath(root, 1))
	assert.NoDirExists(t, generationPath(root, 2))
}

func TestBleveIndex_CorruptGenerationIsRecreated(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bleve")
	require.NoError(t, os.MkdirAll(generationPath(root, 1), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(generationPath(root, 1), "index_meta.json"), []byte("{broken"), 0o644))
	require.NoError(t, writeCurrentGeneration(root, 1))

	idx, err := NewBleveIndex(root, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestBleveIndex_StaleGenerationsRemovedOnOpen(t *testing.T) {
	root := filepath.Join(t.TempDir(), "bleve")
	require.NoError(t, os.MkdirAll(generationPath(root, 7), 0o755))

	idx, err := NewBleveIndex(root, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	assert.NoDirExists(t, generationPath(root, 7))
}

func TestEscapeQueryString(t *testing.T) {
	assert.Equal(t, `std\:\:io`, escapeQueryString("std::io"))
	assert.Equal(t, `Box\<T\>`, escapeQueryString("Box<T>"))
	assert.Equal(t, `"exact phrase" +must -not`, escapeQueryString(`"exact phrase" +must -not`))
}

func TestSQLiteIndex_CorruptFileIsReplaced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.db")
	require.NoError(t, os.WriteFile(path, []byte("not a database"), 0o644))

	idx, err := NewSQLiteIndex(path, DefaultLexicalConfig())
	require.NoError(t, err)
	defer func() { _ = idx.Close() }()

	count, err := idx.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), count)
}

func TestNewLexicalIndex_UnknownBackend(t *testing.T) {
	_, err := NewLexicalIndex("lucene", "", DefaultLexicalConfig())
	require.Error(t, err)
	assert.Equal(t, errors.KindQuery, errors.KindOf(err))
}
