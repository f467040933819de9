// Package embed turns text into unit-length embedding vectors with a local
// sentence-transformer model (all-MiniLM-L6-v2 by default) run through ONNX
// Runtime.
//
// The Model type owns the tokenizer and the inference session and serializes
// every call through its own mutex. Build one at startup and pass it to the
// components that need it.
package embed

import (
	"context"
	"math"
)

const (
	// DefaultModelName identifies the default sentence-transformer.
	DefaultModelName = "all-MiniLM-L6-v2"

	// DefaultDimensions is the hidden size of all-MiniLM-L6-v2.
	DefaultDimensions = 384

	// MaxSeqLength is the fixed token length every input is padded or
	// truncated to.
	MaxSeqLength = 256

	// DefaultBatchSize is the number of texts per inference run.
	DefaultBatchSize = 32

	// DefaultModelURL and DefaultTokenizerURL are the HuggingFace downloads.
	DefaultModelURL     = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/onnx/model.onnx"
	DefaultTokenizerURL = "https://huggingface.co/sentence-transformers/all-MiniLM-L6-v2/resolve/main/tokenizer.json"

	// ModelFileName and TokenizerFileName are the files kept in the model dir.
	ModelFileName     = "model.onnx"
	TokenizerFileName = "tokenizer.json"
)

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed generates the embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for texts, in order.
	// An empty input yields an empty result.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding length.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Close releases resources.
	Close() error
}

// Encoding is one tokenized text.
type Encoding struct {
	IDs           []int
	TypeIDs       []int
	AttentionMask []int
}

// Tokenizer converts text to model input ids.
type Tokenizer interface {
	Encode(text string) (Encoding, error)
}

// Batch is a rectangular [Size, SeqLen] input, flattened row-major.
type Batch struct {
	Size          int
	SeqLen        int
	InputIDs      []int64
	AttentionMask []int64
	TokenTypeIDs  []int64
}

// Runner executes the transformer on a batch and returns last_hidden_state
// flattened as [Size, SeqLen, hidden].
type Runner interface {
	Run(b Batch) ([]float32, error)
	HiddenSize() int
	Close() error
}

// Normalize scales v to unit length in place. A zero vector stays zero.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i, x := range v {
		v[i] = float32(float64(x) * inv)
	}
}
