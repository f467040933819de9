package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	_ "modernc.org/sqlite" // pure Go driver, no cgo

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// SQLiteIndex implements LexicalIndex with SQLite FTS5.
//
// Text is run through the same analyzer as the bleve backend before it is
// stored, so both backends agree on what a term is. Rebuild replaces all rows
// in one transaction; readers see the old rows until it commits.
type SQLiteIndex struct {
	mu        sync.RWMutex
	db        *sql.DB
	path      string
	config    LexicalConfig
	stopWords map[string]struct{}
	closed    bool
}

var _ LexicalIndex = (*SQLiteIndex)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id      INTEGER PRIMARY KEY,
	path    TEXT NOT NULL UNIQUE,
	title   TEXT NOT NULL,
	content TEXT NOT NULL,
	source  TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS documents_source ON documents(source);

-- analyzed terms only; rowid joins back to documents.id
CREATE VIRTUAL TABLE IF NOT EXISTS documents_fts USING fts5(
	title,
	content,
	tokenize='unicode61'
);

INSERT OR IGNORE INTO meta (key, value) VALUES ('doc_count', 0);
INSERT OR IGNORE INTO meta (key, value) VALUES ('schema_version', 1);
`

// validateSQLiteIntegrity checks an existing database before it is opened.
func validateSQLiteIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database corrupted: %s", result)
	}

	var count int
	err = db.QueryRow(`SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name IN ('documents', 'documents_fts', 'meta')`).Scan(&count)
	if err != nil {
		return fmt.Errorf("cannot query schema: %w", err)
	}
	if count != 3 {
		return fmt.Errorf("schema incomplete: found %d of 3 tables", count)
	}
	return nil
}

// NewSQLiteIndex opens or creates an FTS5 index at path.
// An empty path creates an in-memory database.
func NewSQLiteIndex(path string, cfg LexicalConfig) (*SQLiteIndex, error) {
	cfg = cfg.withDefaults()

	dsn := ":memory:"
	if path != "" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.IOError(fmt.Sprintf("failed to create directory %s", dir), err)
		}

		if validErr := validateSQLiteIntegrity(path); validErr != nil {
			slog.Warn("lexical_index_corrupted",
				slog.String("path", path),
				slog.String("error", validErr.Error()))
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				return nil, errors.New(errors.ErrCodeIndexCorrupt,
					fmt.Sprintf("index corrupted at %s and cannot be removed", path), err)
			}
			_ = os.Remove(path + "-wal")
			_ = os.Remove(path + "-shm")
			slog.Info("lexical_index_cleared",
				slog.String("path", path),
				slog.String("reason", "corruption detected, reindex required"))
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.IndexError("failed to open database", err)
	}

	// one connection: a single writer, and :memory: stays one database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		fmt.Sprintf("PRAGMA cache_size = -%d", cfg.SQLiteCacheMB*1024),
		"PRAGMA temp_store = MEMORY",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, errors.IndexError("failed to set pragma", err).WithDetail("pragma", p)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errors.IndexError("failed to initialize schema", err)
	}

	return &SQLiteIndex{
		db:        db,
		path:      path,
		config:    cfg,
		stopWords: StopWordSet(cfg.StopWords),
	}, nil
}

// Rebuild replaces every row with docs. When a path repeats, the last
// document wins.
func (s *SQLiteIndex) Rebuild(ctx context.Context, docs []Document) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrIndexClosed
	}

	docs = DedupeByPath(docs)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.IndexError("failed to begin transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range []string{`DELETE FROM documents_fts`, `DELETE FROM documents`} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return 0, errors.IndexError("failed to clear index", err)
		}
	}

	docStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents(path, title, content, source) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return 0, errors.IndexError("failed to prepare document statement", err)
	}
	defer docStmt.Close()

	ftsStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents_fts(rowid, title, content) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, errors.IndexError("failed to prepare FTS statement", err)
	}
	defer ftsStmt.Close()

	count := 0
	for _, doc := range docs {
		if doc.Path == "" {
			slog.Warn("lexical_document_skipped", slog.String("reason", "empty path"), slog.String("title", doc.Title))
			continue
		}
		res, err := docStmt.ExecContext(ctx, doc.Path, doc.Title, doc.Content, doc.Source)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			slog.Warn("lexical_document_skipped",
				slog.String("path", doc.Path),
				slog.String("error", err.Error()))
			continue
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, errors.IndexError("failed to read row id", err)
		}
		title := strings.Join(AnalyzeTerms(doc.Title, s.stopWords), " ")
		content := strings.Join(AnalyzeTerms(doc.Content, s.stopWords), " ")
		if _, err := ftsStmt.ExecContext(ctx, id, title, content); err != nil {
			return 0, errors.IndexError(fmt.Sprintf("failed to index %s", doc.Path), err)
		}
		count++
	}

	if _, err := tx.ExecContext(ctx, `UPDATE meta SET value = ? WHERE key = 'doc_count'`, count); err != nil {
		return 0, errors.IndexError("failed to update document count", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, errors.IndexError("failed to commit rebuild", err)
	}

	slog.Info("lexical_rebuild_complete", slog.Int("documents", count))
	return count, nil
}

// Search returns up to limit documents matching any analyzed query term,
// best BM25 score first.
func (s *SQLiteIndex) Search(ctx context.Context, queryStr string, limit int) ([]SearchResult, error) {
	return s.search(ctx, queryStr, limit, nil)
}

// SearchSources is Search restricted to the given sources.
func (s *SQLiteIndex) SearchSources(ctx context.Context, queryStr string, limit int, sources []string) ([]SearchResult, error) {
	if len(sources) == 0 {
		return []SearchResult{}, nil
	}
	return s.search(ctx, queryStr, limit, sources)
}

func (s *SQLiteIndex) search(ctx context.Context, queryStr string, limit int, sources []string) ([]SearchResult, error) {
	if strings.TrimSpace(queryStr) == "" || limit <= 0 {
		return []SearchResult{}, nil
	}
	terms := AnalyzeTerms(queryStr, s.stopWords)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}

	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	match := strings.Join(quoted, " OR ")

	q := `
		SELECT d.title, d.content, d.path, d.source, bm25(documents_fts) AS score
		FROM documents_fts
		JOIN documents d ON d.id = documents_fts.rowid
		WHERE documents_fts MATCH ?`
	args := []any{match}
	if len(sources) > 0 {
		q += ` AND d.source IN (` + placeholders(len(sources)) + `)`
		for _, src := range sources {
			args = append(args, src)
		}
	}
	q += ` ORDER BY score, d.id LIMIT ?`
	args = append(args, limit)

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrIndexClosed
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, errors.QueryError(fmt.Sprintf("invalid query %q", queryStr), err)
		}
		return nil, errors.IndexError("search failed", err)
	}
	defer rows.Close()

	results := []SearchResult{}
	for rows.Next() {
		var title, content, path, source string
		var score float64
		if err := rows.Scan(&title, &content, &path, &source, &score); err != nil {
			return nil, errors.IndexError("failed to scan result", err)
		}
		// bm25() is negative, lower is better
		results = append(results, SearchResult{
			Title:   title,
			Snippet: Snippet(content, queryStr, s.config.SnippetLength),
			Path:    path,
			Source:  source,
			Score:   -score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.IndexError("search failed", err)
	}
	return results, nil
}

// Lookup returns the document stored under path.
func (s *SQLiteIndex) Lookup(ctx context.Context, path, queryStr string) (*SearchResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrIndexClosed
	}

	var title, content, source string
	err := s.db.QueryRowContext(ctx,
		`SELECT title, content, source FROM documents WHERE path = ?`, path).
		Scan(&title, &content, &source)
	if err == sql.ErrNoRows {
		return nil, errors.NotFound(fmt.Sprintf("document not indexed: %s", path))
	}
	if err != nil {
		return nil, errors.IndexError("lookup failed", err)
	}

	return &SearchResult{
		Title:   title,
		Snippet: Snippet(content, queryStr, s.config.SnippetLength),
		Path:    path,
		Source:  source,
	}, nil
}

// Count reads the document count maintained by Rebuild.
func (s *SQLiteIndex) Count(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrIndexClosed
	}

	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = 'doc_count'`).Scan(&n); err != nil {
		return 0, errors.IndexError("failed to count documents", err)
	}
	return uint64(n), nil
}

// Close closes the database. Safe to call more than once.
func (s *SQLiteIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.path != "" {
		if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Debug("wal_checkpoint_failed", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// DedupeByPath keeps only the last document for each path.
func DedupeByPath(docs []Document) []Document {
	last := make(map[string]int, len(docs))
	for i, d := range docs {
		last[d.Path] = i
	}
	if len(last) == len(docs) {
		return docs
	}
	out := make([]Document, 0, len(last))
	for i, d := range docs {
		if last[d.Path] == i {
			out = append(out, d)
		}
	}
	return out
}
