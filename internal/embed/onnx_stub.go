//go:build !cgo

package embed

import "github.com/tauanbinato/rust-lang-mcp/internal/errors"

// ONNXRunner is unavailable without cgo; see onnx.go.
type ONNXRunner struct{}

var _ Runner = (*ONNXRunner)(nil)

// NewONNXRunner always fails when built without cgo.
func NewONNXRunner(_, _ string, _, _, _ int) (*ONNXRunner, error) {
	return nil, errors.New(errors.ErrCodeModelLoad,
		"ONNX inference requires cgo; build with CGO_ENABLED=1 and onnxruntime installed", nil)
}

func (r *ONNXRunner) Run(Batch) ([]float32, error) {
	return nil, errors.InferenceError("ONNX runtime not available", nil)
}

func (r *ONNXRunner) HiddenSize() int { return 0 }

func (r *ONNXRunner) Close() error { return nil }
