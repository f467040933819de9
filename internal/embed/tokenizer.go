package embed

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"

	"github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// HFTokenizer wraps a HuggingFace tokenizer.json.
type HFTokenizer struct {
	tk *tokenizer.Tokenizer
}

var _ Tokenizer = (*HFTokenizer)(nil)

// NewHFTokenizer loads a tokenizer.json file.
func NewHFTokenizer(path string) (*HFTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, errors.New(errors.ErrCodeModelLoad, fmt.Sprintf("failed to load tokenizer %s", path), err)
	}
	return &HFTokenizer{tk: tk}, nil
}

// Encode tokenizes text with the model's special tokens.
func (h *HFTokenizer) Encode(text string) (Encoding, error) {
	enc, err := h.tk.EncodeSingle(text, true)
	if err != nil {
		return Encoding{}, errors.InferenceError("tokenization failed", err)
	}
	return Encoding{
		IDs:           enc.Ids,
		TypeIDs:       enc.TypeIds,
		AttentionMask: enc.AttentionMask,
	}, nil
}
