package embed

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// ModelConfig describes the model a Model serves.
type ModelConfig struct {
	Name         string
	Dimensions   int
	MaxSeqLength int
	BatchSize    int
}

// DefaultModelConfig returns the all-MiniLM-L6-v2 settings.
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		Name:         DefaultModelName,
		Dimensions:   DefaultDimensions,
		MaxSeqLength: MaxSeqLength,
		BatchSize:    DefaultBatchSize,
	}
}

func (c ModelConfig) withDefaults() ModelConfig {
	d := DefaultModelConfig()
	if c.Name == "" {
		c.Name = d.Name
	}
	if c.Dimensions <= 0 {
		c.Dimensions = d.Dimensions
	}
	if c.MaxSeqLength <= 0 {
		c.MaxSeqLength = d.MaxSeqLength
	}
	if c.BatchSize <= 0 {
		c.BatchSize = d.BatchSize
	}
	return c
}

// Model is the embedding service: a tokenizer and an inference runner used
// under a single mutex, so tokenization through pooling runs for one caller
// at a time. Concurrent callers block.
type Model struct {
	mu        sync.Mutex
	tokenizer Tokenizer
	runner    Runner
	config    ModelConfig
	closed    bool
}

var _ Embedder = (*Model)(nil)

// NewModel builds a Model from a tokenizer and runner. The Model takes
// ownership of runner.
func NewModel(tok Tokenizer, runner Runner, cfg ModelConfig) *Model {
	cfg = cfg.withDefaults()
	if h := runner.HiddenSize(); h > 0 {
		cfg.Dimensions = h
	}
	return &Model{tokenizer: tok, runner: runner, config: cfg}
}

// LoadOptions locates the model files and runtime.
type LoadOptions struct {
	Model       ModelConfig
	Files       ModelFiles
	ONNXLibrary string
}

// LoadModel loads the tokenizer and ONNX model from disk.
// Failures are inference-kind errors; callers run lexical-only.
func LoadModel(opts LoadOptions) (*Model, error) {
	cfg := opts.Model.withDefaults()
	start := time.Now()

	tok, err := NewHFTokenizer(opts.Files.Tokenizer)
	if err != nil {
		return nil, err
	}
	runner, err := NewONNXRunner(opts.Files.Model, opts.ONNXLibrary, cfg.MaxSeqLength, cfg.Dimensions, cfg.BatchSize)
	if err != nil {
		return nil, err
	}

	slog.Info("embedding_model_loaded",
		slog.String("model", cfg.Name),
		slog.Int("dimensions", cfg.Dimensions),
		slog.Duration("duration", time.Since(start)))
	return NewModel(tok, runner, cfg), nil
}

// Embed returns the embedding for one text.
func (m *Model) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds texts in runs of at most BatchSize.
func (m *Model) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.New(errors.ErrCodeModelDisabled, "embedding model is closed", nil)
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += m.config.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+m.config.BatchSize, len(texts))
		vecs, err := m.embedLocked(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (m *Model) embedLocked(texts []string) ([][]float32, error) {
	encodings := make([]Encoding, len(texts))
	for i, text := range texts {
		enc, err := m.tokenizer.Encode(text)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInference, err)
		}
		encodings[i] = enc
	}

	batch := NewBatch(encodings, m.config.MaxSeqLength)
	hidden, err := m.runner.Run(batch)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInference, err)
	}
	want := batch.Size * batch.SeqLen * m.config.Dimensions
	if len(hidden) != want {
		return nil, errors.InferenceError(
			fmt.Sprintf("runner returned %d values, expected %d", len(hidden), want), nil)
	}

	vecs := MeanPool(hidden, batch, m.config.Dimensions)
	for _, v := range vecs {
		Normalize(v)
	}
	return vecs, nil
}

// Dimensions returns the embedding length.
func (m *Model) Dimensions() int {
	return m.config.Dimensions
}

// ModelName returns the model identifier.
func (m *Model) ModelName() string {
	return m.config.Name
}

// Close releases the runner. Safe to call more than once.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return m.runner.Close()
}
