package render

import (
	"errors"
	"fmt"

	"scad-studio/internal/compile"
)

// ErrorKind classifies render failures for callers and HTTP mapping.
type ErrorKind string

const (
	// KindInvalidRequest means the request was rejected before the
	// external process was ever invoked.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindCompilerUnavailable means the compiler executable is missing or
	// cannot be spawned. A deployment issue, not a user-source issue.
	KindCompilerUnavailable ErrorKind = "compiler_unavailable"
	// KindCompilationFailed means the compiler rejected the source or
	// produced no usable output. The expected, common failure path.
	KindCompilationFailed ErrorKind = "compilation_failed"
	// KindCompilationTimedOut means the bounded wait expired and the
	// process was killed. Retryable by the user.
	KindCompilationTimedOut ErrorKind = "compilation_timed_out"
	// KindInternal covers filesystem and registry faults around the
	// invocation itself.
	KindInternal ErrorKind = "internal"
)

// Error is a classified render failure. Stderr carries the compiler's own
// diagnostics verbatim so the editing surface can show them unmodified.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Stderr  string    `json:"stderr,omitempty"`
	Err     error     `json:"-"`
}

// Error formats the failure for logs.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// invalidRequest builds a pre-invocation rejection.
func invalidRequest(message string) *Error {
	return &Error{Kind: KindInvalidRequest, Message: message}
}

// internalError wraps infrastructure faults around an invocation.
func internalError(message string, err error) *Error {
	return &Error{Kind: KindInternal, Message: fmt.Sprintf("%s: %v", message, err), Err: err}
}

// fromCompile maps invoker error kinds 1:1 with no information loss.
func fromCompile(err error) *Error {
	var cErr *compile.Error
	if !errors.As(err, &cErr) {
		return internalError("compiler invocation", err)
	}

	kind := KindInternal
	switch cErr.Kind {
	case compile.ErrorKindUnavailable:
		kind = KindCompilerUnavailable
	case compile.ErrorKindFailed:
		kind = KindCompilationFailed
	case compile.ErrorKindTimedOut:
		kind = KindCompilationTimedOut
	}

	return &Error{
		Kind:    kind,
		Message: cErr.Message,
		Stderr:  cErr.Stderr(),
		Err:     cErr,
	}
}
