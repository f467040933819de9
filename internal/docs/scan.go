package docs

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// DefaultMaxFileSize is the default maximum markdown file size (2MB).
const DefaultMaxFileSize = 2 * 1024 * 1024

// File is one markdown file discovered under a docs root.
type File struct {
	RelPath string // Slash-separated path relative to the docs root
	AbsPath string // Absolute path
	Size    int64  // File size in bytes
}

// ScanOptions configures Scan.
type ScanOptions struct {
	// MaxFileSize skips larger files (0 = DefaultMaxFileSize).
	MaxFileSize int64

	// ExcludeDirs are directory base names to skip.
	ExcludeDirs []string
}

// Scan returns every *.md file under root, sorted by relative path.
// Hidden directories and symlinks are skipped. A missing root is a
// not-found error.
func Scan(ctx context.Context, root string, opts ScanOptions) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, errors.IOError("failed to resolve docs root", err)
	}

	info, err := os.Stat(absRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound("docs root does not exist: " + absRoot)
		}
		return nil, errors.IOError("failed to stat docs root", err)
	}
	if !info.IsDir() {
		return nil, errors.Newf(errors.ErrCodeInvalidInput, "docs root is not a directory: %s", absRoot)
	}

	maxSize := opts.MaxFileSize
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	excluded := make(map[string]bool, len(opts.ExcludeDirs))
	for _, d := range opts.ExcludeDirs {
		excluded[d] = true
	}

	var files []File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			return nil // Skip entries we can't access
		}

		relPath, err := filepath.Rel(absRoot, path)
		if err != nil || relPath == "." {
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") || excluded[name] {
				return filepath.SkipDir
			}
			return nil
		}

		if d.Type()&fs.ModeSymlink != 0 || !isMarkdown(name) {
			return nil
		}

		fi, err := d.Info()
		if err != nil || fi.Size() > maxSize {
			return nil
		}

		files = append(files, File{
			RelPath: filepath.ToSlash(relPath),
			AbsPath: path,
			Size:    fi.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].RelPath < files[j].RelPath
	})
	return files, nil
}

// ParseFile reads f and parses it as a document of source.
func ParseFile(source string, f File) (store.Document, error) {
	data, err := os.ReadFile(f.AbsPath)
	if err != nil {
		return store.Document{}, errors.IOError("failed to read "+f.RelPath, err)
	}
	return Parse(source, f.RelPath, data), nil
}

func isMarkdown(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".md")
}
