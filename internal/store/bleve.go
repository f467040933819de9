package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

const (
	currentFile   = "CURRENT"
	genPrefix     = "gen-"
	rebuildBatch  = 500
	storedTitle   = "title"
	storedContent = "content"
	storedPath    = "path"
	storedSource  = "source"
)

var storedFields = []string{storedTitle, storedContent, storedPath, storedSource}

// BleveIndex is the default LexicalIndex, backed by bleve.
//
// On disk the index is a set of generations, root/gen-N, with root/CURRENT
// naming the live one. Rebuild writes gen-N+1 next to the live generation,
// repoints CURRENT, swaps the open handle and deletes gen-N. A crash at any
// point leaves CURRENT naming a complete generation.
type BleveIndex struct {
	mu      sync.RWMutex
	index   bleve.Index
	root    string
	gen     int
	config  LexicalConfig
	mapping *mapping.IndexMappingImpl
	closed  bool

	rebuildMu sync.Mutex
}

type bleveDocument struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Path    string `json:"path"`
	Source  string `json:"source"`
}

var _ LexicalIndex = (*BleveIndex)(nil)

// NewBleveIndex opens or creates a bleve index under root.
// An empty root creates an in-memory index.
func NewBleveIndex(root string, cfg LexicalConfig) (*BleveIndex, error) {
	cfg = cfg.withDefaults()

	im, err := newIndexMapping(cfg.StopWords)
	if err != nil {
		return nil, errors.IndexError("failed to create index mapping", err)
	}

	b := &BleveIndex{root: root, config: cfg, mapping: im}

	if root == "" {
		idx, err := bleve.NewMemOnly(im)
		if err != nil {
			return nil, errors.IndexError("failed to create in-memory index", err)
		}
		b.index = idx
		return b, nil
	}

	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, errors.IOError(fmt.Sprintf("failed to create directory %s", root), err)
	}

	gen := readCurrentGeneration(root)
	if gen == 0 {
		gen = 1
	}
	idx, err := b.openGeneration(gen)
	if err != nil {
		return nil, err
	}
	if err := writeCurrentGeneration(root, gen); err != nil {
		_ = idx.Close()
		return nil, err
	}

	b.index = idx
	b.gen = gen
	removeStaleGenerations(root, gen)

	return b, nil
}

// openGeneration opens gen under root, recreating it empty when missing or
// corrupt. A corrupt index is logged and cleared; the caller reindexes.
func (b *BleveIndex) openGeneration(gen int) (bleve.Index, error) {
	path := generationPath(b.root, gen)

	if validErr := validateIndexIntegrity(path); validErr != nil {
		slog.Warn("lexical_index_corrupted",
			slog.String("path", path),
			slog.String("error", validErr.Error()))
		if err := os.RemoveAll(path); err != nil {
			return nil, errors.New(errors.ErrCodeIndexCorrupt,
				fmt.Sprintf("index corrupted at %s and cannot be removed", path), err)
		}
		slog.Info("lexical_index_cleared", slog.String("path", path))
	}

	idx, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		idx, err = bleve.New(path, b.mapping)
	} else if err != nil && isCorruptionError(err) {
		slog.Warn("lexical_index_open_failed",
			slog.String("path", path),
			slog.String("error", err.Error()))
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return nil, errors.New(errors.ErrCodeIndexCorrupt, "index corrupted and cannot be cleared", rmErr)
		}
		idx, err = bleve.New(path, b.mapping)
	}
	if err != nil {
		return nil, errors.IndexError(fmt.Sprintf("failed to open index at %s", path), err)
	}
	return idx, nil
}

func newIndexMapping(stopWords []string) (*mapping.IndexMappingImpl, error) {
	im := bleve.NewIndexMapping()

	err := im.AddCustomTokenFilter(docStopFilterInstance, map[string]interface{}{
		"type":       DocStopFilterName,
		"stop_words": stopWords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add stop word filter: %w", err)
	}

	err = im.AddCustomAnalyzer(DocAnalyzerName, map[string]interface{}{
		"type":      custom.Name,
		"tokenizer": DocTokenizerName,
		"token_filters": []string{
			lowercase.Name,
			docStopFilterInstance,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}
	im.DefaultAnalyzer = DocAnalyzerName

	textField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = DocAnalyzerName
		fm.Store = true
		fm.IncludeInAll = true
		return fm
	}

	// source is indexed verbatim for filtering only and kept out of _all
	sourceField := bleve.NewKeywordFieldMapping()
	sourceField.Store = true
	sourceField.IncludeInAll = false

	pathField := bleve.NewTextFieldMapping()
	pathField.Index = false
	pathField.Store = true
	pathField.IncludeInAll = false
	pathField.IncludeTermVectors = false

	doc := bleve.NewDocumentStaticMapping()
	doc.AddFieldMappingsAt(storedTitle, textField())
	doc.AddFieldMappingsAt(storedContent, textField())
	doc.AddFieldMappingsAt(storedSource, sourceField)
	doc.AddFieldMappingsAt(storedPath, pathField)

	im.DefaultMapping = doc
	im.StoreDynamic = false
	im.IndexDynamic = false
	im.DocValuesDynamic = false

	return im, nil
}

// Rebuild builds a new generation holding exactly docs and swaps it in.
// Documents that fail to index are logged and skipped.
func (b *BleveIndex) Rebuild(ctx context.Context, docs []Document) (int, error) {
	b.rebuildMu.Lock()
	defer b.rebuildMu.Unlock()

	b.mu.RLock()
	closed, gen := b.closed, b.gen
	b.mu.RUnlock()
	if closed {
		return 0, ErrIndexClosed
	}

	next, nextGen, err := b.newSnapshot(gen)
	if err != nil {
		return 0, err
	}
	discard := func() {
		_ = next.Close()
		if b.root != "" {
			_ = os.RemoveAll(generationPath(b.root, nextGen))
		}
	}

	if err := fillIndex(ctx, next, docs); err != nil {
		discard()
		return 0, err
	}

	count, err := next.DocCount()
	if err != nil {
		discard()
		return 0, errors.IndexError("failed to count rebuilt index", err)
	}

	if b.root != "" {
		if err := writeCurrentGeneration(b.root, nextGen); err != nil {
			discard()
			return 0, err
		}
	}

	b.mu.Lock()
	old := b.index
	b.index = next
	b.gen = nextGen
	b.mu.Unlock()

	if err := old.Close(); err != nil {
		slog.Warn("lexical_index_close_failed", slog.String("error", err.Error()))
	}
	if b.root != "" {
		_ = os.RemoveAll(generationPath(b.root, gen))
	}

	slog.Info("lexical_rebuild_complete",
		slog.Int("documents", int(count)),
		slog.Int("generation", nextGen))

	return int(count), nil
}

func (b *BleveIndex) newSnapshot(gen int) (bleve.Index, int, error) {
	if b.root == "" {
		idx, err := bleve.NewMemOnly(b.mapping)
		if err != nil {
			return nil, 0, errors.IndexError("failed to create in-memory index", err)
		}
		return idx, gen + 1, nil
	}

	nextGen := gen + 1
	path := generationPath(b.root, nextGen)
	_ = os.RemoveAll(path)
	idx, err := bleve.New(path, b.mapping)
	if err != nil {
		return nil, 0, errors.IndexError(fmt.Sprintf("failed to create index at %s", path), err)
	}
	return idx, nextGen, nil
}

func fillIndex(ctx context.Context, idx bleve.Index, docs []Document) error {
	batch := idx.NewBatch()
	for i, doc := range docs {
		if i%rebuildBatch == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if doc.Path == "" {
			slog.Warn("lexical_document_skipped", slog.String("reason", "empty path"), slog.String("title", doc.Title))
			continue
		}
		bd := bleveDocument{Title: doc.Title, Content: doc.Content, Path: doc.Path, Source: doc.Source}
		if err := batch.Index(doc.Path, bd); err != nil {
			slog.Warn("lexical_document_skipped",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
			continue
		}
		if batch.Size() >= rebuildBatch {
			if err := idx.Batch(batch); err != nil {
				return errors.IndexError("failed to write index batch", err)
			}
			batch.Reset()
		}
	}
	if batch.Size() > 0 {
		if err := idx.Batch(batch); err != nil {
			return errors.IndexError("failed to write index batch", err)
		}
	}
	return nil
}

// Search returns up to limit documents matching queryStr.
func (b *BleveIndex) Search(ctx context.Context, queryStr string, limit int) ([]SearchResult, error) {
	return b.search(ctx, queryStr, limit, nil)
}

// SearchSources is Search restricted to the given sources.
func (b *BleveIndex) SearchSources(ctx context.Context, queryStr string, limit int, sources []string) ([]SearchResult, error) {
	if len(sources) == 0 {
		return []SearchResult{}, nil
	}
	return b.search(ctx, queryStr, limit, sources)
}

func (b *BleveIndex) search(ctx context.Context, queryStr string, limit int, sources []string) ([]SearchResult, error) {
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return []SearchResult{}, nil
	}

	qsq := bleve.NewQueryStringQuery(escapeQueryString(queryStr))
	if _, err := qsq.Parse(); err != nil {
		return nil, errors.QueryError(fmt.Sprintf("invalid query %q", queryStr), err).
			WithSuggestion("check for unbalanced quotes or parentheses")
	}

	var q query.Query = qsq
	if len(sources) > 0 {
		filters := make([]query.Query, 0, len(sources))
		for _, s := range sources {
			tq := bleve.NewTermQuery(s)
			tq.SetField(storedSource)
			filters = append(filters, tq)
		}
		q = bleve.NewConjunctionQuery(qsq, bleve.NewDisjunctionQuery(filters...))
	}

	req := bleve.NewSearchRequestOptions(q, limit, 0, false)
	req.Fields = storedFields

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrIndexClosed
	}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.IndexError("search failed", err)
	}

	results := make([]SearchResult, 0, len(res.Hits))
	for _, hit := range res.Hits {
		results = append(results, b.hitToResult(hit, queryStr))
	}
	return results, nil
}

// Lookup returns the document stored under path.
func (b *BleveIndex) Lookup(ctx context.Context, path, queryStr string) (*SearchResult, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewDocIDQuery([]string{path}), 1, 0, false)
	req.Fields = storedFields

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrIndexClosed
	}

	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, errors.IndexError("lookup failed", err)
	}
	if len(res.Hits) == 0 {
		return nil, errors.NotFound(fmt.Sprintf("document not indexed: %s", path))
	}

	r := b.hitToResult(res.Hits[0], queryStr)
	r.Score = 0
	return &r, nil
}

// Count returns the number of documents in the live generation.
func (b *BleveIndex) Count(ctx context.Context) (uint64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return 0, ErrIndexClosed
	}
	n, err := b.index.DocCount()
	if err != nil {
		return 0, errors.IndexError("failed to count documents", err)
	}
	return n, nil
}

// Close closes the index. Safe to call more than once.
func (b *BleveIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if b.index != nil {
		return b.index.Close()
	}
	return nil
}

func (b *BleveIndex) hitToResult(hit *search.DocumentMatch, queryStr string) SearchResult {
	field := func(name string) string {
		s, _ := hit.Fields[name].(string)
		return s
	}
	path := field(storedPath)
	if path == "" {
		path = hit.ID
	}
	return SearchResult{
		Title:   field(storedTitle),
		Snippet: Snippet(field(storedContent), queryStr, b.config.SnippetLength),
		Path:    path,
		Source:  field(storedSource),
		Score:   hit.Score,
	}
}

// escapeQueryString escapes query-string operators that show up in natural
// language and Rust syntax ("Box<T>", "what is a trait?", "std::io").
// Quotes, parentheses and leading +/- keep their query meaning.
func escapeQueryString(q string) string {
	var sb strings.Builder
	sb.Grow(len(q) + 8)
	for _, r := range q {
		switch r {
		case '\\', ':', '/', '<', '>', '=', '&', '|', '!', '{', '}', '[', ']', '^', '~', '?', '*':
			sb.WriteRune('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// validateIndexIntegrity checks a bleve index directory before opening it.
// A missing directory is valid; it will be created.
func validateIndexIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	metaPath := filepath.Join(path, "index_meta.json")
	info, err := os.Stat(metaPath)
	if os.IsNotExist(err) {
		return fmt.Errorf("index_meta.json missing (corrupted index)")
	}
	if err != nil {
		return fmt.Errorf("cannot stat index_meta.json: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("index_meta.json is empty (corrupted)")
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return fmt.Errorf("cannot read index_meta.json: %w", err)
	}
	var meta map[string]interface{}
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("index_meta.json is corrupt: %w", err)
	}
	return nil
}

func isCorruptionError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return err == bleve.ErrorIndexMetaCorrupt ||
		strings.Contains(msg, "unexpected end of JSON") ||
		strings.Contains(msg, "error parsing mapping JSON") ||
		strings.Contains(msg, "failed to load segment") ||
		strings.Contains(msg, "error opening bolt")
}

func generationPath(root string, gen int) string {
	return filepath.Join(root, genPrefix+strconv.Itoa(gen))
}

func readCurrentGeneration(root string) int {
	data, err := os.ReadFile(filepath.Join(root, currentFile))
	if err != nil {
		return 0
	}
	gen, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || gen < 1 {
		return 0
	}
	return gen
}

func writeCurrentGeneration(root string, gen int) error {
	path := filepath.Join(root, currentFile)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(strconv.Itoa(gen)+"\n"), 0o644); err != nil {
		return errors.IOError("failed to write index pointer", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.IOError("failed to swap index pointer", err)
	}
	return nil
}

// removeStaleGenerations deletes generations left behind by interrupted rebuilds.
func removeStaleGenerations(root string, live int) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), genPrefix) {
			continue
		}
		gen, err := strconv.Atoi(strings.TrimPrefix(e.Name(), genPrefix))
		if err != nil || gen == live {
			continue
		}
		_ = os.RemoveAll(filepath.Join(root, e.Name()))
		slog.Debug("lexical_stale_generation_removed", slog.Int("generation", gen))
	}
}
