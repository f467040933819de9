package store

import (
	"strings"
	"unicode"
)

// DefaultSnippetLength is the snippet window in characters.
const DefaultSnippetLength = 200

// Ellipsis marks a snippet edge that is not a document edge.
const Ellipsis = "..."

// Snippet extracts a window of about maxLen characters from content.
//
// The window starts maxLen/2 characters before the first occurrence of the
// first query word (in query order) found in content, compared
// case-insensitively. When no query word occurs the window starts at the
// beginning of the document. A window that does not start at the document
// start is advanced past its first whitespace and prefixed with Ellipsis; a
// window that stops before the document end is cut at its last whitespace
// and suffixed with Ellipsis.
func Snippet(content, query string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = DefaultSnippetLength
	}

	runes := []rune(content)
	n := len(runes)
	if n == 0 {
		return ""
	}

	lower := make([]rune, n)
	for i, r := range runes {
		lower[i] = unicode.ToLower(r)
	}

	best := 0
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if pos := indexRunes(lower, []rune(w)); pos >= 0 {
			best = pos
			break
		}
	}

	start := best - maxLen/2
	if start < 0 {
		start = 0
	}
	end := start + maxLen
	if end > n {
		end = n
	}

	window := runes[start:end]
	if start > 0 {
		if i := indexSpace(window); i >= 0 {
			window = window[i+1:]
		}
	}
	if end < n {
		if i := lastIndexSpace(window); i >= 0 {
			window = window[:i]
		}
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(Ellipsis)
	}
	sb.WriteString(string(window))
	if end < n {
		sb.WriteString(Ellipsis)
	}
	return sb.String()
}

func indexRunes(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, r := range needle {
			if haystack[i+j] != r {
				continue outer
			}
		}
		return i
	}
	return -1
}

func indexSpace(rs []rune) int {
	for i, r := range rs {
		if unicode.IsSpace(r) {
			return i
		}
	}
	return -1
}

func lastIndexSpace(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if unicode.IsSpace(rs[i]) {
			return i
		}
	}
	return -1
}
