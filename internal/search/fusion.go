package search

import (
	"sort"
)

// DefaultRRFConstant is the standard RRF smoothing parameter.
const DefaultRRFConstant = 60

// FusedResult is one document after RRF fusion.
type FusedResult struct {
	Path         string  // Document path
	Score        float64 // Summed RRF contribution across lists
	KeywordRank  int     // 0-indexed rank in the keyword list, -1 if absent
	SemanticRank int     // 0-indexed rank in the semantic list, -1 if absent
}

// InBothLists reports whether both backends returned the document.
func (r FusedResult) InBothLists() bool {
	return r.KeywordRank >= 0 && r.SemanticRank >= 0
}

// RRFFusion combines a keyword ranking and a semantic ranking using
// Reciprocal Rank Fusion.
//
// Algorithm: RRF_score(d) = Σ 1 / (k + rank_i + 1)
//
// Where:
//   - k = smoothing constant (default: 60)
//   - rank_i = 0-indexed position of d in ranked list i
//
// A list that does not contain d contributes nothing.
type RRFFusion struct {
	K int // RRF smoothing constant (default: 60)
}

// NewRRFFusion creates a new RRF fusion instance with default k=60.
func NewRRFFusion() *RRFFusion {
	return &RRFFusion{K: DefaultRRFConstant}
}

// NewRRFFusionWithK creates a new RRF fusion with custom k value.
// If k <= 0, defaults to 60.
func NewRRFFusionWithK(k int) *RRFFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &RRFFusion{K: k}
}

// Contribution returns the score a document earns at 0-indexed rank.
func (f *RRFFusion) Contribution(rank int) float64 {
	return 1.0 / float64(f.K+rank+1)
}

// Fuse merges the keyword and semantic path rankings.
//
// Results are sorted by Score descending. Exact ties keep first-appearance
// order: keyword list first, then the semantic list. A path repeated within
// one list counts at its first rank only.
func (f *RRFFusion) Fuse(keyword, semantic []string) []FusedResult {
	if len(keyword) == 0 && len(semantic) == 0 {
		return []FusedResult{}
	}

	results := make([]FusedResult, 0, len(keyword)+len(semantic))
	index := make(map[string]int, len(keyword)+len(semantic))

	getOrCreate := func(path string) *FusedResult {
		if i, ok := index[path]; ok {
			return &results[i]
		}
		index[path] = len(results)
		results = append(results, FusedResult{Path: path, KeywordRank: -1, SemanticRank: -1})
		return &results[len(results)-1]
	}

	for rank, path := range keyword {
		r := getOrCreate(path)
		if r.KeywordRank >= 0 {
			continue
		}
		r.KeywordRank = rank
		r.Score += f.Contribution(rank)
	}

	for rank, path := range semantic {
		r := getOrCreate(path)
		if r.SemanticRank >= 0 {
			continue
		}
		r.SemanticRank = rank
		r.Score += f.Contribution(rank)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	return results
}
