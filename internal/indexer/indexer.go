// Package indexer collects documentation pages from every source and feeds
// them to the search engine.
package indexer

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/tauanbinato/rust-lang-mcp/internal/docs"
	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/search"
	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// DocumentIndexer rebuilds the search indexes from a document set.
type DocumentIndexer interface {
	IndexWithProgress(ctx context.Context, docs []store.Document, progress search.IndexProgress) (int, error)
}

// Config configures an Indexer.
type Config struct {
	// DataDir holds the source checkouts.
	DataDir string

	// Workers is the parse pool size (0 = NumCPU).
	Workers int

	// Scan configures markdown discovery.
	Scan docs.ScanOptions
}

// Result summarizes one indexing pass.
type Result struct {
	Sources     []string      // Sources that contributed documents
	Files       int           // Markdown files found
	ParseErrors int           // Files skipped because they could not be read
	Duplicates  int           // Documents replaced by a later one with the same path
	Documents   int           // Documents in the lexical index
	Duration    time.Duration // Wall time of the pass
}

// Indexer collects documents across sources and rebuilds the indexes.
type Indexer struct {
	engine   DocumentIndexer
	sources  []sources.Source
	config   Config
	progress *Progress

	// Serializes passes; the engine already serializes Index calls.
	runMu sync.Mutex
}

// New creates an indexer over srcs.
func New(engine DocumentIndexer, srcs []sources.Source, cfg Config) (*Indexer, error) {
	if engine == nil {
		return nil, search.ErrNilDependency
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	return &Indexer{
		engine:   engine,
		sources:  srcs,
		config:   cfg,
		progress: NewProgress(),
	}, nil
}

// Progress returns the tracker updated by Run.
func (ix *Indexer) Progress() *Progress {
	return ix.progress
}

type job struct {
	source string
	file   docs.File
}

// Collect parses every markdown file of every available source.
// Unreadable files are logged and skipped. Sources whose docs tree is
// missing are skipped. Documents are deduplicated by path, last wins.
func (ix *Indexer) Collect(ctx context.Context) ([]store.Document, *Result, error) {
	result := &Result{}

	ix.progress.SetStage(StageScanning)
	var jobs []job
	for _, src := range ix.sources {
		root := src.DocsPath(ix.config.DataDir)
		if _, err := os.Stat(root); err != nil {
			slog.Debug("source_unavailable",
				slog.String("source", src.ID),
				slog.String("path", root))
			continue
		}

		files, err := docs.Scan(ctx, root, ix.config.Scan)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			slog.Warn("source_scan_failed",
				slog.String("source", src.ID),
				slog.String("error", err.Error()))
			continue
		}
		slog.Info("source_scanned",
			slog.String("source", src.ID),
			slog.Int("files", len(files)))

		for _, f := range files {
			jobs = append(jobs, job{source: src.ID, file: f})
		}
		if len(files) > 0 {
			result.Sources = append(result.Sources, src.ID)
		}
	}

	result.Files = len(jobs)
	ix.progress.SetFilesTotal(len(jobs))

	parsed, failed, err := ix.parseAll(ctx, jobs)
	if err != nil {
		return nil, nil, err
	}
	result.ParseErrors = failed

	collected := make([]store.Document, 0, len(parsed))
	for _, d := range parsed {
		if d != nil {
			collected = append(collected, *d)
		}
	}

	deduped := store.DedupeByPath(collected)
	if n := len(collected) - len(deduped); n > 0 {
		result.Duplicates = n
		slog.Warn("duplicate_document_paths", slog.Int("replaced", n))
	}

	return deduped, result, nil
}

// parseAll parses jobs on an ants pool. Output order matches jobs.
func (ix *Indexer) parseAll(ctx context.Context, jobs []job) ([]*store.Document, int, error) {
	out := make([]*store.Document, len(jobs))
	if len(jobs) == 0 {
		return out, 0, nil
	}

	pool, err := ants.NewPool(min(ix.config.Workers, len(jobs)))
	if err != nil {
		return nil, 0, errors.InternalError("failed to create parse pool", err)
	}
	defer pool.Release()

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed int
	)

	for i, j := range jobs {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			doc, err := docs.ParseFile(j.source, j.file)
			if err != nil {
				slog.Warn("document_parse_failed",
					slog.String("source", j.source),
					slog.String("path", j.file.RelPath),
					slog.String("error", err.Error()))
				mu.Lock()
				failed++
				mu.Unlock()
				ix.progress.FileParsed(true)
				return
			}
			out[i] = &doc
			ix.progress.FileParsed(false)
		}
		if err := pool.Submit(task); err != nil {
			task()
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	return out, failed, nil
}

// Run collects documents and rebuilds the indexes. When no documents are
// found the existing indexes are left untouched.
func (ix *Indexer) Run(ctx context.Context) (*Result, error) {
	return ix.run(ctx, nil)
}

// FetchAndRun clones missing sources with f, then runs a pass. Sources that
// fail to fetch are logged and left out.
func (ix *Indexer) FetchAndRun(ctx context.Context, f *sources.Fetcher) (*Result, error) {
	return ix.run(ctx, f)
}

func (ix *Indexer) run(ctx context.Context, f *sources.Fetcher) (*Result, error) {
	ix.runMu.Lock()
	defer ix.runMu.Unlock()

	start := time.Now()
	ix.progress.Start()

	if f != nil {
		ix.progress.SetStage(StageFetching)
		cloned := 0
		for _, r := range f.FetchAll(ctx, ix.sources) {
			if r.Cloned {
				cloned++
			}
		}
		if err := ctx.Err(); err != nil {
			ix.progress.SetError(err.Error())
			return nil, err
		}
		slog.Info("sources_fetched", slog.Int("cloned", cloned), slog.Int("sources", len(ix.sources)))
	}

	collected, result, err := ix.Collect(ctx)
	if err != nil {
		ix.progress.SetError(err.Error())
		return nil, err
	}

	if len(collected) == 0 {
		slog.Warn("no_documents_found",
			slog.String("data_dir", ix.config.DataDir),
			slog.String("hint", "run 'rust-lang-mcp sources fetch' to clone documentation"))
		result.Duration = time.Since(start)
		ix.progress.SetReady()
		return result, nil
	}

	ix.progress.SetDocuments(len(collected))
	ix.progress.SetStage(StageIndexing)

	count, err := ix.engine.IndexWithProgress(ctx, collected, ix.progress.UpdateEmbedded)
	if err != nil {
		ix.progress.SetError(err.Error())
		return nil, err
	}

	result.Documents = count
	result.Duration = time.Since(start)
	ix.progress.SetDocuments(count)
	ix.progress.SetReady()

	slog.Info("indexing_complete",
		slog.Int("documents", count),
		slog.Int("files", result.Files),
		slog.Int("parse_errors", result.ParseErrors),
		slog.Any("sources", result.Sources),
		slog.Duration("duration", result.Duration))

	return result, nil
}
