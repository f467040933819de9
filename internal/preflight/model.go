package preflight

import (
	"fmt"

	"github.com/dustin/go-humanize"
)

// CheckEmbedderModel checks if the embedding model is downloaded. A missing
// model only disables semantic search.
func (c *Checker) CheckEmbedderModel() CheckResult {
	result := CheckResult{
		Name:     "embedder_model",
		Required: false,
		Details:  fmt.Sprintf("Model directory: %s", c.model.Dir()),
	}

	if !c.semantic {
		result.Status = StatusPass
		result.Message = "disabled (keyword search only)"
		return result
	}

	if !c.model.Exists() {
		result.Status = StatusWarn
		result.Message = "Model not downloaded (run 'rust-lang-mcp model download')"
		return result
	}

	result.Status = StatusPass
	if size := c.model.Size(); size > 0 {
		result.Message = fmt.Sprintf("Model downloaded (%s)", humanize.Bytes(uint64(size)))
	} else {
		result.Message = "Model downloaded and ready"
	}
	return result
}
