package errors

import (
	stderrors "errors"
	"fmt"
)

// Error is the structured error type returned across package boundaries.
type Error struct {
	// Code is the unique error code (e.g., "ERR_301_QUERY_SYNTAX").
	Code string

	// Kind is derived from the code.
	Kind Kind

	// Message is the human-readable error message.
	Message string

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches errors by code so errors.Is works against sentinel values.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *Error) WithDetail(key, value string) *Error {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *Error) WithSuggestion(suggestion string) *Error {
	e.Suggestion = suggestion
	return e
}

// New creates an Error with the given code and message.
// Kind and retryable flag are derived from the code.
func New(code string, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Kind:      kindFromCode(code),
		Message:   message,
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Newf creates an Error with a formatted message and no cause.
func Newf(code string, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// Wrap creates an Error from an existing error.
// If err already is an *Error it is returned unchanged so the original
// classification survives additional layers.
func Wrap(code string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code, err.Error(), err)
}

// Wrapf wraps err with a formatted message prefix.
func Wrapf(code string, err error, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return New(code, fmt.Sprintf(format, args...)+": "+err.Error(), err)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *Error {
	return New(ErrCodeIO, message, cause)
}

// IndexError creates an index backend error.
func IndexError(message string, cause error) *Error {
	return New(ErrCodeIndex, message, cause)
}

// QueryError creates a query syntax error.
func QueryError(message string, cause error) *Error {
	return New(ErrCodeQuerySyntax, message, cause)
}

// InferenceError creates an inference engine error.
func InferenceError(message string, cause error) *Error {
	return New(ErrCodeInference, message, cause)
}

// NotFound creates a resource-not-found error.
func NotFound(message string) *Error {
	return New(ErrCodeNotFound, message, nil)
}

// InternalError creates a catch-all operational error.
func InternalError(message string, cause error) *Error {
	return New(ErrCodeInternal, message, cause)
}

// KindOf returns the kind of the first *Error in err's chain.
// Errors outside the taxonomy report KindOther.
func KindOf(err error) Kind {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindOther
}

// IsKind reports whether err's chain carries an *Error of kind k.
func IsKind(err error, k Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == k
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// GetCode extracts the error code, or "" when err is not an *Error.
func GetCode(err error) string {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}
