package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// Backend names a LexicalIndex implementation.
type Backend string

const (
	// BackendBleve stores the index as bleve generations (default).
	BackendBleve Backend = "bleve"

	// BackendSQLite stores the index in a SQLite FTS5 database.
	BackendSQLite Backend = "sqlite"
)

// NewLexicalIndex opens the lexical index for backend under dir.
// An empty dir creates an in-memory index.
//
// backend options:
//   - "bleve" (default): dir/bleve/gen-N directories
//   - "sqlite": dir/lexical.db
func NewLexicalIndex(backend, dir string, cfg LexicalConfig) (LexicalIndex, error) {
	switch Backend(backend) {
	case BackendBleve, "":
		var root string
		if dir != "" {
			root = LexicalPath(dir, string(BackendBleve))
		}
		return NewBleveIndex(root, cfg)

	case BackendSQLite:
		var path string
		if dir != "" {
			path = LexicalPath(dir, string(BackendSQLite))
		}
		return NewSQLiteIndex(path, cfg)

	default:
		return nil, errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("unknown lexical backend: %s (valid options: bleve, sqlite)", backend), nil)
	}
}

// LexicalPath returns where backend keeps its files under dir.
func LexicalPath(dir, backend string) string {
	if Backend(backend) == BackendSQLite {
		return filepath.Join(dir, "lexical.db")
	}
	return filepath.Join(dir, "bleve")
}

// DetectBackend reports which backend has an index under dir, or "" if none.
func DetectBackend(dir string) Backend {
	if fileExists(LexicalPath(dir, string(BackendSQLite))) {
		return BackendSQLite
	}
	if dirExists(LexicalPath(dir, string(BackendBleve))) {
		return BackendBleve
	}
	return ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
