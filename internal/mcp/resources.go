package mcp

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/tauanbinato/rust-lang-mcp/internal/sources"
)

// MaxResourceSize is the maximum page size served as a resource (1MB).
const MaxResourceSize = 1024 * 1024

// DocURIScheme prefixes documentation page resource URIs.
const DocURIScheme = "rustdoc://"

// DocURI returns the resource URI of an indexed document path
// ("<source>/<relative path>").
func DocURI(docPath string) string {
	return DocURIScheme + docPath
}

// pageReader resolves document paths to markdown files in source checkouts.
type pageReader struct {
	dataDir  string
	registry *sources.Registry
}

// registerResources registers the documentation page template.
func (s *Server) registerResources() {
	if s.pages == nil {
		return
	}
	s.mcp.AddResourceTemplate(
		&mcp.ResourceTemplate{
			Name:        "rust_doc_page",
			URITemplate: DocURIScheme + "{+path}",
			Description: "Raw markdown of a documentation page. Use the path returned by the search tools.",
			MIMEType:    "text/markdown",
		},
		s.handleReadResource,
	)
	s.logger.Debug("Registered resource template", "uri_template", DocURIScheme+"{+path}")
}

func (s *Server) handleReadResource(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	uri := req.Params.URI
	content, err := s.ReadPage(ctx, uri)
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      uri,
				MIMEType: "text/markdown",
				Text:     content,
			},
		},
	}, nil
}

// ReadPage returns the markdown of the page behind a rustdoc:// URI.
func (s *Server) ReadPage(_ context.Context, uri string) (string, error) {
	if s.pages == nil {
		return "", mcp.ResourceNotFoundError(uri)
	}

	docPath, ok := strings.CutPrefix(uri, DocURIScheme)
	if !ok {
		return "", mcp.ResourceNotFoundError(uri)
	}
	sourceID, rel, ok := strings.Cut(docPath, "/")
	if !ok || !isValidPath(rel) || !strings.EqualFold(path.Ext(rel), ".md") {
		return "", NewInvalidParamsError(fmt.Sprintf("invalid document path: %s", docPath))
	}

	src, ok := s.pages.registry.Get(sourceID)
	if !ok {
		return "", mcp.ResourceNotFoundError(uri)
	}

	fullPath := filepath.Join(src.DocsPath(s.pages.dataDir), filepath.FromSlash(rel))
	info, err := os.Stat(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", mcp.ResourceNotFoundError(uri)
		}
		return "", MapError(err)
	}
	if info.Size() > MaxResourceSize {
		return "", NewInvalidParamsError(fmt.Sprintf("page too large: %d bytes (max %d)", info.Size(), MaxResourceSize))
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return "", MapError(err)
	}
	return string(content), nil
}

// isValidPath validates that a slash-separated relative path stays inside
// its source tree.
func isValidPath(p string) bool {
	if p == "" || strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return false
	}
	// Windows drive letters
	if len(p) >= 2 && p[1] == ':' {
		return false
	}
	for _, part := range strings.Split(path.Clean(p), "/") {
		if part == ".." {
			return false
		}
	}
	return true
}
