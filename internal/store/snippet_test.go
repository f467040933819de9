package store

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

// TS01: Whole document fits
func TestSnippet_WholeDocumentHasNoEllipsis(t *testing.T) {
	// Given: content shorter than the window
	content := "Rust uses ownership to manage memory safely."

	// When: extracting a snippet
	got := Snippet(content, "ownership", 200)

	// Then: the content comes back untouched
	assert.Equal(t, content, got)
}

// TS02: Match in the middle
func TestSnippet_MiddleMatchHasBothEllipses(t *testing.T) {
	// Given: a match far from both ends
	content := strings.Repeat("alpha ", 100) + "borrow checker " + strings.Repeat("omega ", 100)

	// When: extracting a snippet
	got := Snippet(content, "borrow", 200)

	// Then: both edges are marked and the match is inside
	assert.True(t, strings.HasPrefix(got, Ellipsis), got)
	assert.True(t, strings.HasSuffix(got, Ellipsis), got)
	assert.Contains(t, got, "borrow checker")

	// And: no partial words at the edges
	inner := strings.TrimSuffix(strings.TrimPrefix(got, Ellipsis), Ellipsis)
	for _, w := range strings.Fields(inner) {
		assert.Contains(t, []string{"alpha", "borrow", "checker", "omega"}, w)
	}
}

// TS03: Match near the start
func TestSnippet_StartMatchHasOnlySuffix(t *testing.T) {
	content := "borrow " + strings.Repeat("words ", 100)

	got := Snippet(content, "borrow", 100)

	assert.False(t, strings.HasPrefix(got, Ellipsis))
	assert.True(t, strings.HasSuffix(got, Ellipsis))
	assert.True(t, strings.HasPrefix(got, "borrow"))
}

// TS04: Match near the end
func TestSnippet_EndMatchHasOnlyPrefix(t *testing.T) {
	content := strings.Repeat("words ", 100) + "lifetime"

	got := Snippet(content, "lifetime", 100)

	assert.True(t, strings.HasPrefix(got, Ellipsis))
	assert.False(t, strings.HasSuffix(got, Ellipsis))
	assert.True(t, strings.HasSuffix(got, "lifetime"))
}

// TS05: No query word present
func TestSnippet_NoMatchFallsBackToStart(t *testing.T) {
	content := "Opening line. " + strings.Repeat("filler ", 100)

	got := Snippet(content, "nonexistent", 100)

	assert.True(t, strings.HasPrefix(got, "Opening line."))
	assert.True(t, strings.HasSuffix(got, Ellipsis))
}

func TestSnippet_CaseInsensitiveAndQueryOrder(t *testing.T) {
	// Given: two query words, the first appearing later in content
	content := strings.Repeat("x ", 150) + "Traits here. " + strings.Repeat("y ", 150) + "Generics there."

	// When: the query lists "generics" first
	got := Snippet(content, "GENERICS traits", 60)

	// Then: the window is centred on the first query word that occurs
	assert.Contains(t, got, "Generics")
	assert.NotContains(t, got, "Traits")
}

func TestSnippet_Bounds(t *testing.T) {
	content := strings.Repeat("ünïcödé ", 200)

	got := Snippet(content, "cöd", 80)

	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, utf8.RuneCountInString(got), 80+2*len(Ellipsis))
	assert.Equal(t, "", Snippet("", "anything", 80))
}
