package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// RRF Score Fusion Tests
// =============================================================================

func fusedPaths(results []FusedResult) []string {
	paths := make([]string, len(results))
	for i, r := range results {
		paths[i] = r.Path
	}
	return paths
}

// --- TS01: Formula ---

func TestRRFFusion_ScoreIsSumOfReciprocalRanks(t *testing.T) {
	// Given: D at rank 2 in the keyword list and rank 0 in the semantic list
	keyword := []string{"A", "B", "D"}
	semantic := []string{"D", "E"}
	fusion := NewRRFFusion()

	// When: fusing
	results := fusion.Fuse(keyword, semantic)

	// Then: D scores 1/(60+2+1) + 1/(60+0+1)
	var d FusedResult
	for _, r := range results {
		if r.Path == "D" {
			d = r
		}
	}
	assert.InDelta(t, 1.0/63+1.0/61, d.Score, 1e-12)
	assert.Equal(t, 2, d.KeywordRank)
	assert.Equal(t, 0, d.SemanticRank)
	assert.True(t, d.InBothLists())
}

func TestRRFFusion_BothListsBeatSingleListAtSameRank(t *testing.T) {
	for r1 := 0; r1 < 5; r1++ {
		for r2 := 0; r2 < 5; r2++ {
			// Given: D at (r1, r2); X only in the keyword list at r1
			keyword := make([]string, 5)
			semantic := make([]string, 5)
			for i := range keyword {
				keyword[i] = "k" + string(rune('a'+i))
				semantic[i] = "s" + string(rune('a'+i))
			}
			keyword[r1] = "D"
			semantic[r2] = "D"
			x := NewRRFFusion().Contribution(r1)

			// When: fusing
			results := NewRRFFusion().Fuse(keyword, semantic)

			// Then: D scores strictly more than a single-list hit at r1
			require.NotEmpty(t, results)
			assert.Equal(t, "D", results[0].Path)
			assert.Greater(t, results[0].Score, x)
		}
	}
}

// --- TS02: Ordering ---

func TestRRFFusion_SortedDescending(t *testing.T) {
	results := NewRRFFusion().Fuse(
		[]string{"A", "B", "C", "D"},
		[]string{"C", "D", "E"},
	)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, []string{"C", "D", "A", "B", "E"}, fusedPaths(results))
}

func TestRRFFusion_StableAmongTies(t *testing.T) {
	// Given: disjoint lists so equal ranks give exact ties
	keyword := []string{"A", "B"}
	semantic := []string{"C", "D"}

	// When: fusing repeatedly
	for i := 0; i < 20; i++ {
		results := NewRRFFusion().Fuse(keyword, semantic)

		// Then: ties keep first appearance, keyword list first
		assert.Equal(t, []string{"A", "C", "B", "D"}, fusedPaths(results))
		assert.Equal(t, results[0].Score, results[1].Score)
	}
}

// --- TS03: Edge cases ---

func TestRRFFusion_Empty(t *testing.T) {
	results := NewRRFFusion().Fuse(nil, nil)
	require.NotNil(t, results)
	assert.Empty(t, results)
}

func TestRRFFusion_SingleList(t *testing.T) {
	results := NewRRFFusion().Fuse(nil, []string{"A", "B"})

	require.Len(t, results, 2)
	assert.Equal(t, -1, results[0].KeywordRank)
	assert.Equal(t, 0, results[0].SemanticRank)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)
	assert.False(t, results[0].InBothLists())
}

func TestRRFFusion_DuplicateWithinListCountsOnce(t *testing.T) {
	results := NewRRFFusion().Fuse([]string{"A", "A", "B"}, nil)

	require.Len(t, results, 2)
	assert.Equal(t, "A", results[0].Path)
	assert.InDelta(t, 1.0/61, results[0].Score, 1e-12)
}

func TestNewRRFFusionWithK(t *testing.T) {
	tests := []struct {
		name string
		k    int
		want int
	}{
		{"custom", 10, 10},
		{"zero defaults", 0, DefaultRRFConstant},
		{"negative defaults", -5, DefaultRRFConstant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewRRFFusionWithK(tt.k)
			assert.Equal(t, tt.want, f.K)
			assert.InDelta(t, 1.0/float64(tt.want+1), f.Contribution(0), 1e-12)
		})
	}
}

// --- TS04: Mode parsing ---

func TestParseMode(t *testing.T) {
	tests := []struct {
		in   string
		want Mode
	}{
		{"hybrid", ModeHybrid},
		{"", ModeHybrid},
		{"unknown", ModeHybrid},
		{"keyword", ModeKeyword},
		{"BM25", ModeKeyword},
		{" Keyword ", ModeKeyword},
		{"semantic", ModeSemantic},
		{"Embedding", ModeSemantic},
		{"VECTOR", ModeSemantic},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseMode(tt.in))
		})
	}
}

func TestMode_StringRoundTrip(t *testing.T) {
	for _, m := range []Mode{ModeHybrid, ModeKeyword, ModeSemantic} {
		assert.Equal(t, m, ParseMode(m.String()))
	}
}
