package embed

// NewBatch packs encodings into a [len(encodings), seqLen] batch. Longer
// encodings are truncated; shorter ones are zero-padded with mask 0.
func NewBatch(encodings []Encoding, seqLen int) Batch {
	n := len(encodings)
	b := Batch{
		Size:          n,
		SeqLen:        seqLen,
		InputIDs:      make([]int64, n*seqLen),
		AttentionMask: make([]int64, n*seqLen),
		TokenTypeIDs:  make([]int64, n*seqLen),
	}
	for i, enc := range encodings {
		row := i * seqLen
		for t := 0; t < seqLen && t < len(enc.IDs); t++ {
			b.InputIDs[row+t] = int64(enc.IDs[t])
			if t < len(enc.AttentionMask) {
				b.AttentionMask[row+t] = int64(enc.AttentionMask[t])
			}
			if t < len(enc.TypeIDs) {
				b.TokenTypeIDs[row+t] = int64(enc.TypeIDs[t])
			}
		}
	}
	return b
}

// MeanPool averages hidden states over the positions where the attention
// mask is 1, giving one hiddenSize vector per batch row. A row with no
// unmasked positions pools to the zero vector.
func MeanPool(hidden []float32, b Batch, hiddenSize int) [][]float32 {
	out := make([][]float32, b.Size)
	for i := 0; i < b.Size; i++ {
		vec := make([]float32, hiddenSize)
		count := 0
		for t := 0; t < b.SeqLen; t++ {
			if b.AttentionMask[i*b.SeqLen+t] != 1 {
				continue
			}
			count++
			off := (i*b.SeqLen + t) * hiddenSize
			for h := 0; h < hiddenSize; h++ {
				vec[h] += hidden[off+h]
			}
		}
		if count > 0 {
			inv := 1 / float32(count)
			for h := range vec {
				vec[h] *= inv
			}
		}
		out[i] = vec
	}
	return out
}
