package embed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// fakeTokenizer maps each whitespace word to an id equal to its length,
// wrapped in [CLS]=1 and [SEP]=2.
type fakeTokenizer struct{}

func (fakeTokenizer) Encode(text string) (Encoding, error) {
	if text == "fail-tokenize" {
		return Encoding{}, fmt.Errorf("bad input")
	}
	ids := []int{1}
	for _, w := range strings.Fields(text) {
		ids = append(ids, len(w)+2)
	}
	ids = append(ids, 2)
	mask := make([]int, len(ids))
	for i := range mask {
		mask[i] = 1
	}
	return Encoding{IDs: ids, TypeIDs: make([]int, len(ids)), AttentionMask: mask}, nil
}

// fakeRunner writes a one-hot hidden state per token, hot at id % hidden.
// It records batch shapes and the peak number of concurrent calls.
type fakeRunner struct {
	hidden    int
	err       error
	delay     time.Duration
	inFlight  atomic.Int32
	maxFlight atomic.Int32

	mu      sync.Mutex
	batches []Batch
	closed  bool
}

func (r *fakeRunner) Run(b Batch) ([]float32, error) {
	n := r.inFlight.Add(1)
	defer r.inFlight.Add(-1)
	for {
		m := r.maxFlight.Load()
		if n <= m || r.maxFlight.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(r.delay)

	r.mu.Lock()
	r.batches = append(r.batches, b)
	r.mu.Unlock()

	if r.err != nil {
		return nil, r.err
	}
	out := make([]float32, b.Size*b.SeqLen*r.hidden)
	for i := 0; i < b.Size*b.SeqLen; i++ {
		id := b.InputIDs[i]
		out[i*r.hidden+int(id)%r.hidden] = 1
	}
	return out, nil
}

func (r *fakeRunner) HiddenSize() int { return r.hidden }

func (r *fakeRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRunner) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	sizes := make([]int, len(r.batches))
	for i, b := range r.batches {
		sizes[i] = b.Size
	}
	return sizes
}

// countingEmbedder returns a vector derived from the text length.
type countingEmbedder struct {
	calls      atomic.Int32
	batchCalls atomic.Int32
}

var _ Embedder = (*countingEmbedder)(nil)

func (e *countingEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	return []float32{float32(len(text)), 1}, nil
}

func (e *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.batchCalls.Add(1)
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

func (e *countingEmbedder) Dimensions() int   { return 2 }
func (e *countingEmbedder) ModelName() string { return "counting" }
func (e *countingEmbedder) Close() error      { return nil }
