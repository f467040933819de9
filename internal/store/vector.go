package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"github.com/coder/hnsw"
	"golang.org/x/sync/errgroup"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// VectorFileName is the persisted form of a VectorIndex inside its directory.
const VectorFileName = "vector_index.json"

// graphSeed fixes level assignment. Neighbour traversal in coder/hnsw still
// depends on map iteration order, so graph results alone are not
// reproducible; Search re-scores every candidate exactly.
const graphSeed = 0x5eed

// DefaultExactSearchLimit is the largest index searched by a full scan over
// the stored embeddings. The documentation corpus stays well below it,
// which keeps top-k identical across rebuilds and reloads. Larger indexes
// use the graph for candidates.
const DefaultExactSearchLimit = 20000

// graphOverfetch multiplies k when the graph generates candidates.
const graphOverfetch = 4

// VectorConfig configures the HNSW graph.
type VectorConfig struct {
	// M is the maximum number of neighbours per node (default: 16).
	M int

	// EfConstruction is the search width used while inserting (default: 200).
	EfConstruction int

	// EfSearchMin is the lower bound on graph candidates at query time (default: 32).
	EfSearchMin int

	// ExactSearchLimit is the index size up to which Search scans every
	// stored embedding (default: DefaultExactSearchLimit).
	ExactSearchLimit int
}

// DefaultVectorConfig returns the default graph parameters.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{M: 16, EfConstruction: 200, EfSearchMin: 32, ExactSearchLimit: DefaultExactSearchLimit}
}

func (c VectorConfig) withDefaults() VectorConfig {
	d := DefaultVectorConfig()
	if c.M <= 0 {
		c.M = d.M
	}
	if c.EfConstruction <= 0 {
		c.EfConstruction = d.EfConstruction
	}
	if c.EfSearchMin <= 0 {
		c.EfSearchMin = d.EfSearchMin
	}
	if c.ExactSearchLimit <= 0 {
		c.ExactSearchLimit = d.ExactSearchLimit
	}
	return c
}

// VectorIndex is an approximate nearest-neighbour index keyed by document path.
//
// Internal id i is always the i-th inserted pair. Only the ordered
// (path, embedding) list is persisted; the graph is rebuilt on load.
type VectorIndex struct {
	mu         sync.RWMutex
	graph      *hnsw.Graph[uint64]
	config     VectorConfig
	paths      []string
	embeddings [][]float32
	dims       int
}

type vectorEntry struct {
	Path      string    `json:"path"`
	Embedding []float32 `json:"embedding"`
}

// NewVectorIndex returns an empty index.
func NewVectorIndex(cfg VectorConfig) *VectorIndex {
	cfg = cfg.withDefaults()
	return &VectorIndex{
		graph:  newGraph(cfg),
		config: cfg,
	}
}

func newGraph(cfg VectorConfig) *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = cfg.M
	// no explicit layer cap in coder/hnsw; the level count follows from Ml
	g.Ml = 0.25
	// EfSearch is the insertion width; it is never changed after creation
	// so concurrent searches share the graph read-only.
	g.EfSearch = cfg.EfConstruction
	g.Rng = rand.New(rand.NewSource(graphSeed))
	return g
}

// Add inserts one pair under the next sequential id.
func (v *VectorIndex) Add(path string, embedding []float32) error {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.checkDims(len(vec)); err != nil {
		return err
	}
	v.insertLocked(path, vec)
	return nil
}

// AddBatch inserts many pairs. Vectors are validated and copied in
// parallel; graph insertion happens serially in input order.
func (v *VectorIndex) AddBatch(ctx context.Context, paths []string, embeddings [][]float32) error {
	if len(paths) != len(embeddings) {
		return errors.New(errors.ErrCodeInvalidInput,
			fmt.Sprintf("paths and embeddings length mismatch: %d vs %d", len(paths), len(embeddings)), nil)
	}
	if len(paths) == 0 {
		return nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	want := v.dims
	if want == 0 {
		want = len(embeddings[0])
	}

	copies := make([][]float32, len(embeddings))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := range embeddings {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if len(embeddings[i]) != want || want == 0 {
				return dimensionError(want, len(embeddings[i]))
			}
			vec := make([]float32, want)
			copy(vec, embeddings[i])
			copies[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	v.dims = want
	for i, path := range paths {
		v.insertLocked(path, copies[i])
	}
	return nil
}

func (v *VectorIndex) checkDims(n int) error {
	if n == 0 {
		return dimensionError(v.dims, 0)
	}
	if v.dims == 0 {
		v.dims = n
		return nil
	}
	if n != v.dims {
		return dimensionError(v.dims, n)
	}
	return nil
}

// insertLocked records the pair and adds it to the graph. Zero vectors have
// no direction, so they are kept in the tables but never become graph nodes.
func (v *VectorIndex) insertLocked(path string, vec []float32) {
	id := uint64(len(v.paths))
	v.paths = append(v.paths, path)
	v.embeddings = append(v.embeddings, vec)

	if isZero(vec) {
		slog.Debug("vector_zero_embedding_skipped", slog.String("path", path))
		return
	}
	v.graph.Add(hnsw.MakeNode(id, vec))
}

// Search returns up to k paths nearest to query, most similar first. Ties
// on similarity keep insertion order.
//
// Indexes up to ExactSearchLimit pairs are scanned exhaustively. Above it
// the graph proposes graphOverfetch*k candidates which are then re-scored
// against the stored embeddings.
func (v *VectorIndex) Search(query []float32, k int) ([]VectorResult, error) {
	if k <= 0 {
		return []VectorResult{}, nil
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	if v.graph.Len() == 0 {
		return []VectorResult{}, nil
	}
	if len(query) != v.dims {
		return nil, dimensionError(v.dims, len(query))
	}
	if isZero(query) {
		return []VectorResult{}, nil
	}

	var candidates []uint64
	if len(v.paths) > v.config.ExactSearchLimit {
		candidates = v.graphCandidatesLocked(query, k)
	} else {
		candidates = make([]uint64, 0, len(v.paths))
		for id := range v.paths {
			candidates = append(candidates, uint64(id))
		}
	}

	return v.rankLocked(query, candidates, k), nil
}

// graphCandidatesLocked asks the graph for an over-fetched candidate set.
func (v *VectorIndex) graphCandidatesLocked(query []float32, k int) []uint64 {
	n := max(k*graphOverfetch, v.config.EfSearchMin)
	nodes := v.graph.Search(query, n)

	ids := make([]uint64, 0, len(nodes))
	for _, node := range nodes {
		ids = append(ids, node.Key)
	}
	return ids
}

// rankLocked scores ids exactly and returns the top k, ordered by
// similarity then id.
func (v *VectorIndex) rankLocked(query []float32, ids []uint64, k int) []VectorResult {
	type scored struct {
		id  uint64
		sim float32
	}

	hits := make([]scored, 0, len(ids))
	for _, id := range ids {
		if id >= uint64(len(v.paths)) {
			slog.Warn("vector_unknown_id_dropped", slog.Uint64("id", id))
			continue
		}
		vec := v.embeddings[id]
		if isZero(vec) {
			continue
		}
		hits = append(hits, scored{id: id, sim: 1 - hnsw.CosineDistance(query, vec)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].sim != hits[j].sim {
			return hits[i].sim > hits[j].sim
		}
		return hits[i].id < hits[j].id
	})
	if len(hits) > k {
		hits = hits[:k]
	}

	results := make([]VectorResult, len(hits))
	for i, h := range hits {
		results[i] = VectorResult{Path: v.paths[h.id], Similarity: h.sim}
	}
	return results
}

// Clear drops every pair and starts a fresh graph.
func (v *VectorIndex) Clear() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.graph = newGraph(v.config)
	v.paths = nil
	v.embeddings = nil
	v.dims = 0
}

// Len returns the number of stored pairs.
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.paths)
}

// Dimensions returns the embedding length, or 0 for an empty index.
func (v *VectorIndex) Dimensions() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dims
}

// Save writes dir/vector_index.json atomically (temp file + rename).
func (v *VectorIndex) Save(dir string) error {
	v.mu.RLock()
	entries := make([]vectorEntry, len(v.paths))
	for i := range v.paths {
		entries[i] = vectorEntry{Path: v.paths[i], Embedding: v.embeddings[i]}
	}
	v.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.IOError(fmt.Sprintf("failed to create directory %s", dir), err)
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return errors.New(errors.ErrCodeSerialize, "failed to encode vector index", err)
	}

	path := filepath.Join(dir, VectorFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.IOError("failed to write vector index", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.IOError("failed to rename vector index", err)
	}

	slog.Debug("vector_index_saved", slog.String("path", path), slog.Int("vectors", len(entries)))
	return nil
}

// LoadVectorIndex rebuilds an index from dir/vector_index.json by
// re-inserting every pair in stored order. A missing file yields an empty
// index.
func LoadVectorIndex(ctx context.Context, dir string, cfg VectorConfig) (*VectorIndex, error) {
	v := NewVectorIndex(cfg)

	path := filepath.Join(dir, VectorFileName)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return v, nil
	}
	if err != nil {
		return nil, errors.IOError(fmt.Sprintf("failed to read %s", path), err)
	}

	var entries []vectorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, errors.New(errors.ErrCodeIndexCorrupt, fmt.Sprintf("failed to decode %s", path), err).
			WithSuggestion("run 'rust-lang-mcp index' to rebuild")
	}

	paths := make([]string, len(entries))
	embeddings := make([][]float32, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
		embeddings[i] = e.Embedding
	}
	if err := v.AddBatch(ctx, paths, embeddings); err != nil {
		return nil, errors.New(errors.ErrCodeIndexCorrupt, fmt.Sprintf("failed to rebuild graph from %s", path), err)
	}

	slog.Info("vector_index_loaded", slog.String("path", path), slog.Int("vectors", len(entries)))
	return v, nil
}

func dimensionError(expected, got int) error {
	mismatch := ErrDimensionMismatch{Expected: expected, Got: got}
	return errors.New(errors.ErrCodeDimension, mismatch.Error(), mismatch)
}

func isZero(vec []float32) bool {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	return sum == 0 || math.IsNaN(sum)
}
