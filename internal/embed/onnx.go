//go:build cgo

package embed

import (
	"fmt"
	"log/slog"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

var (
	inputNames  = []string{"input_ids", "attention_mask", "token_type_ids"}
	outputNames = []string{"last_hidden_state"}
)

// ONNXRunner runs a BERT-style encoder with ONNX Runtime.
//
// Sessions have fixed input shapes, so one session is kept per batch
// capacity: 1 for single queries and maxBatch for indexing. Batches smaller
// than the capacity are padded with masked rows. ONNXRunner is not safe for
// concurrent use; Model serializes access.
type ONNXRunner struct {
	modelPath string
	seqLen    int
	hidden    int
	maxBatch  int
	sessions  map[int]*onnxSession
}

type onnxSession struct {
	session  *ort.AdvancedSession
	inputIDs *ort.Tensor[int64]
	mask     *ort.Tensor[int64]
	typeIDs  *ort.Tensor[int64]
	output   *ort.Tensor[float32]
	capacity int
}

var _ Runner = (*ONNXRunner)(nil)

var envMu sync.Mutex

// initEnvironment loads the ONNX Runtime shared library once per process.
func initEnvironment(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return errors.New(errors.ErrCodeModelLoad, "failed to initialize ONNX runtime", err).
			WithSuggestion("set RUST_MCP_ONNX_LIB to the onnxruntime shared library path")
	}
	return nil
}

// NewONNXRunner loads modelPath and prepares a single-row session.
func NewONNXRunner(modelPath, libPath string, seqLen, hidden, maxBatch int) (*ONNXRunner, error) {
	if err := initEnvironment(libPath); err != nil {
		return nil, err
	}
	if maxBatch < 1 {
		maxBatch = DefaultBatchSize
	}

	r := &ONNXRunner{
		modelPath: modelPath,
		seqLen:    seqLen,
		hidden:    hidden,
		maxBatch:  maxBatch,
		sessions:  make(map[int]*onnxSession),
	}
	if _, err := r.sessionFor(1); err != nil {
		return nil, err
	}
	slog.Info("onnx_runner_ready",
		slog.String("model", modelPath),
		slog.Int("seq_len", seqLen),
		slog.Int("hidden", hidden))
	return r, nil
}

func (r *ONNXRunner) sessionFor(capacity int) (*onnxSession, error) {
	if s, ok := r.sessions[capacity]; ok {
		return s, nil
	}

	shape := ort.NewShape(int64(capacity), int64(r.seqLen))
	s := &onnxSession{capacity: capacity}
	var err error
	fail := func(what string, err error) (*onnxSession, error) {
		s.destroy()
		return nil, errors.New(errors.ErrCodeModelLoad, what, err)
	}

	if s.inputIDs, err = ort.NewTensor(shape, make([]int64, capacity*r.seqLen)); err != nil {
		return fail("failed to create input_ids tensor", err)
	}
	if s.mask, err = ort.NewTensor(shape, make([]int64, capacity*r.seqLen)); err != nil {
		return fail("failed to create attention_mask tensor", err)
	}
	if s.typeIDs, err = ort.NewTensor(shape, make([]int64, capacity*r.seqLen)); err != nil {
		return fail("failed to create token_type_ids tensor", err)
	}
	outShape := ort.NewShape(int64(capacity), int64(r.seqLen), int64(r.hidden))
	if s.output, err = ort.NewTensor(outShape, make([]float32, capacity*r.seqLen*r.hidden)); err != nil {
		return fail("failed to create output tensor", err)
	}

	s.session, err = ort.NewAdvancedSession(
		r.modelPath,
		inputNames,
		outputNames,
		[]ort.ArbitraryTensor{s.inputIDs, s.mask, s.typeIDs},
		[]ort.ArbitraryTensor{s.output},
		nil,
	)
	if err != nil {
		return fail(fmt.Sprintf("failed to create ONNX session for %s", r.modelPath), err)
	}

	r.sessions[capacity] = s
	return s, nil
}

// Run executes one batch of at most maxBatch rows.
func (r *ONNXRunner) Run(b Batch) ([]float32, error) {
	if b.Size < 1 || b.Size > r.maxBatch {
		return nil, errors.InferenceError(fmt.Sprintf("batch size %d outside 1..%d", b.Size, r.maxBatch), nil)
	}
	if b.SeqLen != r.seqLen {
		return nil, errors.InferenceError(fmt.Sprintf("sequence length %d, session expects %d", b.SeqLen, r.seqLen), nil)
	}

	capacity := r.maxBatch
	if b.Size == 1 {
		capacity = 1
	}
	s, err := r.sessionFor(capacity)
	if err != nil {
		return nil, err
	}

	n := b.Size * b.SeqLen
	fill := func(dst, src []int64) {
		copy(dst, src[:n])
		clear(dst[n:])
	}
	fill(s.inputIDs.GetData(), b.InputIDs)
	fill(s.mask.GetData(), b.AttentionMask)
	fill(s.typeIDs.GetData(), b.TokenTypeIDs)

	if err := s.session.Run(); err != nil {
		return nil, errors.InferenceError("inference failed", err)
	}

	out := make([]float32, n*r.hidden)
	copy(out, s.output.GetData()[:n*r.hidden])
	return out, nil
}

// HiddenSize returns the model's hidden dimension.
func (r *ONNXRunner) HiddenSize() int {
	return r.hidden
}

// Close destroys every session and tensor.
func (r *ONNXRunner) Close() error {
	var firstErr error
	for k, s := range r.sessions {
		if err := s.destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.sessions, k)
	}
	return firstErr
}

func (s *onnxSession) destroy() error {
	var err error
	if s.session != nil {
		err = s.session.Destroy()
		s.session = nil
	}
	if s.inputIDs != nil {
		_ = s.inputIDs.Destroy()
		s.inputIDs = nil
	}
	if s.mask != nil {
		_ = s.mask.Destroy()
		s.mask = nil
	}
	if s.typeIDs != nil {
		_ = s.typeIDs.Destroy()
		s.typeIDs = nil
	}
	if s.output != nil {
		_ = s.output.Destroy()
		s.output = nil
	}
	return err
}
