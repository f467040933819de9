// Package errors provides structured error handling for rust-lang-mcp.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where the first digit
// selects the Kind:
//   - 1XX: filesystem I/O
//   - 2XX: index backend (lexical or vector)
//   - 3XX: query syntax and caller input
//   - 4XX: inference engine (model, tokenizer, runtime)
//   - 5XX: resource not found
//   - 9XX: other operational failures
package errors

// Kind classifies an error. Each operation fails with exactly one Kind.
type Kind string

const (
	// KindIO indicates a filesystem failure.
	KindIO Kind = "IO"
	// KindIndex indicates a lexical or vector backend failure (corruption, schema mismatch).
	KindIndex Kind = "INDEX"
	// KindQuery indicates a malformed query string or invalid caller input.
	KindQuery Kind = "QUERY"
	// KindInference indicates a model or tokenizer load or run failure.
	KindInference Kind = "INFERENCE"
	// KindNotFound indicates an expected index entry, model or file is missing.
	KindNotFound Kind = "NOT_FOUND"
	// KindOther is the catch-all for lock, serialization and network failures.
	KindOther Kind = "OTHER"
)

const (
	// I/O errors (100-199)
	ErrCodeIO         = "ERR_101_IO"
	ErrCodePermission = "ERR_102_PERMISSION"

	// Index errors (200-299)
	ErrCodeIndex        = "ERR_201_INDEX"
	ErrCodeIndexCorrupt = "ERR_202_INDEX_CORRUPT"
	ErrCodeDimension    = "ERR_203_DIMENSION_MISMATCH"
	ErrCodeIndexClosed  = "ERR_204_INDEX_CLOSED"

	// Query errors (300-399)
	ErrCodeQuerySyntax  = "ERR_301_QUERY_SYNTAX"
	ErrCodeInvalidInput = "ERR_302_INVALID_INPUT"

	// Inference errors (400-499)
	ErrCodeInference     = "ERR_401_INFERENCE"
	ErrCodeModelLoad     = "ERR_402_MODEL_LOAD"
	ErrCodeModelDownload = "ERR_403_MODEL_DOWNLOAD"
	ErrCodeModelDisabled = "ERR_404_MODEL_UNAVAILABLE"

	// Not found errors (500-599)
	ErrCodeNotFound = "ERR_501_NOT_FOUND"

	// Other errors (900-999)
	ErrCodeInternal  = "ERR_901_INTERNAL"
	ErrCodeLock      = "ERR_902_LOCK"
	ErrCodeSerialize = "ERR_903_SERIALIZE"
	ErrCodeNetwork   = "ERR_904_NETWORK"
)

// kindFromCode derives the kind from the error code prefix.
func kindFromCode(code string) Kind {
	if len(code) < 5 {
		return KindOther
	}
	switch code[4] {
	case '1':
		return KindIO
	case '2':
		return KindIndex
	case '3':
		return KindQuery
	case '4':
		return KindInference
	case '5':
		return KindNotFound
	default:
		return KindOther
	}
}

// isRetryableCode reports whether errors with this code are transient.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeNetwork, ErrCodeModelDownload, ErrCodeLock:
		return true
	default:
		return false
	}
}
