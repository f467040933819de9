// Package docs turns mdBook markdown sources into plain-text documents for
// indexing.
package docs

import (
	"path"
	"strings"

	"github.com/russross/blackfriday/v2"

	"github.com/tauanbinato/rust-lang-mcp/internal/store"
)

// Parse converts one markdown file into a Document.
//
// The title is the text of the first level-1 heading, or the file name when
// there is none. Content is the document's text with markup removed: every
// heading on its own line, paragraphs and list items separated by newlines,
// line breaks inside a paragraph collapsed to spaces. Code spans and code
// blocks are kept verbatim; raw HTML is dropped.
//
// The document path is source/relPath, with relPath slash-separated.
func Parse(source, relPath string, data []byte) store.Document {
	relPath = strings.TrimPrefix(path.Clean(strings.ReplaceAll(relPath, "\\", "/")), "/")

	md := blackfriday.New(blackfriday.WithExtensions(blackfriday.CommonExtensions))
	root := md.Parse(data)

	var (
		title     string
		haveTitle bool
		content   strings.Builder
		heading   strings.Builder
		inHeading bool
	)

	root.Walk(func(node *blackfriday.Node, entering bool) blackfriday.WalkStatus {
		switch node.Type {
		case blackfriday.Heading:
			if entering {
				inHeading = true
				heading.Reset()
				return blackfriday.GoToNext
			}
			inHeading = false
			text := strings.TrimSpace(heading.String())
			if node.Level == 1 && !haveTitle {
				title = text
				haveTitle = true
			}
			content.WriteString(text)
			content.WriteByte('\n')

		case blackfriday.Text:
			text := collapseBreaks(string(node.Literal))
			if inHeading {
				heading.WriteString(text)
			} else {
				content.WriteString(text)
			}

		case blackfriday.Code:
			if inHeading {
				heading.Write(node.Literal)
			} else {
				content.Write(node.Literal)
			}

		case blackfriday.CodeBlock:
			content.Write(node.Literal)
			content.WriteByte('\n')

		case blackfriday.Softbreak, blackfriday.Hardbreak:
			if inHeading {
				heading.WriteByte(' ')
			} else {
				content.WriteByte(' ')
			}

		case blackfriday.Paragraph, blackfriday.Item, blackfriday.TableRow:
			if !entering {
				content.WriteByte('\n')
			}

		case blackfriday.TableCell:
			if !entering {
				content.WriteByte(' ')
			}
		}
		return blackfriday.GoToNext
	})

	if !haveTitle || title == "" {
		title = path.Base(relPath)
	}

	return store.Document{
		Title:   title,
		Content: strings.TrimSpace(content.String()),
		Path:    DocPath(source, relPath),
		Source:  source,
	}
}

// DocPath returns the document key for a file under a source's docs root.
func DocPath(source, relPath string) string {
	return source + "/" + relPath
}

// collapseBreaks turns the line breaks left inside paragraph text into
// spaces.
func collapseBreaks(s string) string {
	if !strings.ContainsAny(s, "\r\n") {
		return s
	}
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}
