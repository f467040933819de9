// Package mcp implements the Model Context Protocol (MCP) server for rust-lang-mcp.
package mcp

import (
	"context"
	"errors"
	"fmt"

	rmerrors "github.com/tauanbinato/rust-lang-mcp/internal/errors"
)

// Custom MCP error codes for rust-lang-mcp.
const (
	// ErrCodeIndexFailed indicates the lexical or vector index could not serve the request.
	ErrCodeIndexFailed = -32001

	// ErrCodeInferenceFailed indicates query embedding failed.
	ErrCodeInferenceFailed = -32002

	// ErrCodeTimeout indicates the request timed out or was canceled.
	ErrCodeTimeout = -32003

	// ErrCodeNotFound indicates a document, model or source is missing.
	ErrCodeNotFound = -32004

	// Standard JSON-RPC error codes.
	ErrCodeInvalidRequest = -32600
	ErrCodeMethodNotFound = -32601
	ErrCodeInvalidParams  = -32602
	ErrCodeInternalError  = -32603
)

// MCPError represents an MCP protocol error with code and message.
type MCPError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// MapError converts internal errors to MCP errors.
// The internal error code is kept in the message so clients can report it.
func MapError(err error) *MCPError {
	if err == nil {
		return nil
	}

	var mcpErr *MCPError
	if errors.As(err, &mcpErr) {
		return mcpErr
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request timed out.",
		}
	case errors.Is(err, context.Canceled):
		return &MCPError{
			Code:    ErrCodeTimeout,
			Message: "Request was canceled.",
		}
	}

	var rmErr *rmerrors.Error
	if errors.As(err, &rmErr) {
		return mapDocsError(rmErr)
	}

	return &MCPError{
		Code:    ErrCodeInternalError,
		Message: "Internal server error.",
	}
}

// NewInvalidParamsError creates an error for invalid parameters with a custom message.
func NewInvalidParamsError(msg string) *MCPError {
	return &MCPError{
		Code:    ErrCodeInvalidParams,
		Message: msg,
	}
}

// NewMethodNotFoundError creates an error for unknown tools.
func NewMethodNotFoundError(name string) *MCPError {
	return &MCPError{
		Code:    ErrCodeMethodNotFound,
		Message: fmt.Sprintf("Tool '%s' not found.", name),
	}
}

// mapDocsError converts a structured error to an MCPError by kind.
func mapDocsError(e *rmerrors.Error) *MCPError {
	message := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if e.Suggestion != "" {
		message = fmt.Sprintf("%s %s", message, e.Suggestion)
	}

	switch e.Kind {
	case rmerrors.KindQuery:
		return &MCPError{Code: ErrCodeInvalidParams, Message: message}
	case rmerrors.KindIndex:
		return &MCPError{Code: ErrCodeIndexFailed, Message: message}
	case rmerrors.KindInference:
		return &MCPError{Code: ErrCodeInferenceFailed, Message: message}
	case rmerrors.KindNotFound:
		return &MCPError{Code: ErrCodeNotFound, Message: message}
	default: // KindIO, KindOther
		return &MCPError{Code: ErrCodeInternalError, Message: message}
	}
}
