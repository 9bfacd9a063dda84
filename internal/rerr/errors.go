package rerr

import "fmt"

// Error is the structured error type used across the indexing and search
// packages. It carries enough context for a caller to decide whether to
// retry, skip, or abort.
type Error struct {
	Code      string
	Message   string
	Category  Category
	Severity  Severity
	Retryable bool
	Path      string // offending file or resource path, if applicable
	Cause     error
}

func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Path, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is enables errors.Is(err, rerr.New(Code, ...)) by comparing codes.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an Error, deriving category/severity/retryable from the code.
func New(code, message string, cause error) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Retryable: retryableFromCode(code),
		Cause:     cause,
	}
}

// WithPath attaches the offending file path and returns the error for chaining.
func (e *Error) WithPath(path string) *Error {
	e.Path = path
	return e
}

func IO(path string, cause error) *Error {
	return New(CodeIO, "read failed", cause).WithPath(path)
}

func Locked(path string) *Error {
	return New(CodeLocked, "writer already held for this index", nil).WithPath(path)
}

func Parse(path string, cause error) *Error {
	return New(CodeParse, "parse failed", cause).WithPath(path)
}

func Embed(cause error) *Error {
	return New(CodeEmbed, "embedding batch failed after retry", cause)
}

func Storage(message string, cause error) *Error {
	return New(CodeStorage, message, cause)
}

func SnapshotVersionMismatch() *Error {
	return New(CodeSnapshotVersionMismatch, "snapshot format version not recognized", nil)
}

func InvalidInput(message string) *Error {
	return New(CodeInvalidInput, message, nil)
}

func Timeout(message string) *Error {
	return New(CodeTimeout, message, nil)
}

// IsRetryable reports whether err (or a wrapped *Error) should be retried
// with backoff by the caller.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// IsFatal reports whether err represents a run-ending failure.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Severity == SeverityFatal
	}
	return false
}

// Code extracts the error code, or "" if err is not an *Error.
func Code(err error) string {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}
