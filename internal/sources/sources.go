// Package sources describes the documentation sets that are indexed and
// fetches their markdown trees from GitHub.
package sources

import (
	"path/filepath"
	"strings"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// Source is one documentation set.
type Source struct {
	// ID is the unique identifier stored with every document (e.g. "rust-book").
	ID string `yaml:"id" json:"id"`

	// Name is the human-readable title.
	Name string `yaml:"name" json:"name"`

	// Repo is the GitHub repository as "org/repo".
	Repo string `yaml:"repo" json:"repo"`

	// SrcPath is the markdown directory inside the repository (default: "src").
	SrcPath string `yaml:"src_path,omitempty" json:"src_path,omitempty"`
}

// DirName is the local checkout directory name: the last segment of Repo.
func (s Source) DirName() string {
	if i := strings.LastIndex(s.Repo, "/"); i >= 0 && i < len(s.Repo)-1 {
		return s.Repo[i+1:]
	}
	if s.Repo != "" {
		return s.Repo
	}
	return s.ID
}

// RepoPath returns the checkout directory under dataDir.
func (s Source) RepoPath(dataDir string) string {
	return filepath.Join(dataDir, s.DirName())
}

// DocsPath returns the markdown root under dataDir.
func (s Source) DocsPath(dataDir string) string {
	src := s.SrcPath
	if src == "" {
		src = "src"
	}
	return filepath.Join(s.RepoPath(dataDir), filepath.FromSlash(src))
}

// CloneURL returns the https clone URL.
func (s Source) CloneURL() string {
	return "https://github.com/" + s.Repo + ".git"
}

// Validate checks that the source can be fetched and indexed.
func (s Source) Validate() error {
	if s.ID == "" {
		return errors.New(errors.ErrCodeInvalidInput, "source id is required", nil)
	}
	parts := strings.Split(s.Repo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return errors.Newf(errors.ErrCodeInvalidInput, "source %s: repo must be org/name, got %q", s.ID, s.Repo)
	}
	return nil
}

// Default is the built-in registry.
var Default = []Source{
	{ID: "rust-book", Name: "The Rust Programming Language", Repo: "rust-lang/book", SrcPath: "src"},
	{ID: "rust-reference", Name: "The Rust Reference", Repo: "rust-lang/reference", SrcPath: "src"},
	{ID: "rust-by-example", Name: "Rust by Example", Repo: "rust-lang/rust-by-example", SrcPath: "src"},
	{ID: "rust-patterns", Name: "Rust Design Patterns", Repo: "rust-unofficial/patterns", SrcPath: "src"},
	{ID: "api-guidelines", Name: "Rust API Guidelines", Repo: "rust-lang/api-guidelines", SrcPath: "src"},
	{ID: "rustonomicon", Name: "The Rustonomicon", Repo: "rust-lang/nomicon", SrcPath: "src"},
}

// Registry is an ordered set of sources keyed by ID.
type Registry struct {
	sources []Source
	byID    map[string]int
}

// NewRegistry validates list and builds a registry. An empty list selects
// Default.
func NewRegistry(list []Source) (*Registry, error) {
	if len(list) == 0 {
		list = Default
	}
	r := &Registry{
		sources: make([]Source, 0, len(list)),
		byID:    make(map[string]int, len(list)),
	}
	for _, s := range list {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.byID[s.ID]; dup {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "duplicate source id %q", s.ID)
		}
		r.byID[s.ID] = len(r.sources)
		r.sources = append(r.sources, s)
	}
	return r, nil
}

// All returns the sources in registry order.
func (r *Registry) All() []Source {
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out
}

// Get returns the source with id.
func (r *Registry) Get(id string) (Source, bool) {
	i, ok := r.byID[id]
	if !ok {
		return Source{}, false
	}
	return r.sources[i], true
}

// IDs returns the source IDs in registry order.
func (r *Registry) IDs() []string {
	ids := make([]string, len(r.sources))
	for i, s := range r.sources {
		ids[i] = s.ID
	}
	return ids
}

// Select resolves ids to sources. Unknown ids are an invalid-input error;
// an empty ids list selects every source.
func (r *Registry) Select(ids []string) ([]Source, error) {
	if len(ids) == 0 {
		return r.All(), nil
	}
	out := make([]Source, 0, len(ids))
	for _, id := range ids {
		s, ok := r.Get(id)
		if !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidInput, "unknown source %q", id).
				WithSuggestion("Known sources: " + strings.Join(r.IDs(), ", "))
		}
		out = append(out, s)
	}
	return out, nil
}
