package core

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error classification. Codes are part of
// the external contract: every failed task emits exactly one error event
// carrying one of these values.
type Code string

const (
	// CodeEmptyMessage rejects a submission whose input text is empty. No
	// stream is opened for such tasks.
	CodeEmptyMessage Code = "empty_message"
	// CodeContextUnresolvable marks a task id that does not match the
	// conversation id grammar. Recoverable: the caller starts a fresh,
	// unlinked context.
	CodeContextUnresolvable Code = "context_unresolvable"
	// CodeToolUnavailable marks a failed tool health probe or invocation
	// target. Surfaced to the model as a tool error, never a task crash.
	CodeToolUnavailable Code = "tool_unavailable"
	// CodeRoutingDenied marks a transfer/delegate directive whose target is
	// not permitted by the acting agent's configuration.
	CodeRoutingDenied Code = "routing_denied"
	// CodeDelegationDepth marks the runtime delegation-depth backstop.
	CodeDelegationDepth Code = "delegation_depth_exceeded"
	// CodeChildTaskFailed wraps a delegated child's failure as a structured
	// result for the parent. Not automatically fatal to the parent.
	CodeChildTaskFailed Code = "child_task_failed"
	// CodeStreamConflict rejects opening a stream id already live in this
	// process. Fatal only to the new request.
	CodeStreamConflict Code = "stream_conflict"
	// CodeStreamNotFound is the well-defined "not found here" response for a
	// continuation request this process does not own.
	CodeStreamNotFound Code = "stream_not_found_here"
	// CodeInferenceUnavailable marks model inference failure after bounded
	// retries are exhausted.
	CodeInferenceUnavailable Code = "inference_unavailable"
	// CodeNotFound marks an unknown project, agent or task.
	CodeNotFound Code = "not_found"
	// CodeConfigInvalid marks a malformed agent graph (dangling references,
	// missing entry agent, delegation cycles).
	CodeConfigInvalid Code = "config_invalid"
	// CodeCancelled marks a task terminated by an explicit cancellation
	// request or context expiry.
	CodeCancelled Code = "cancelled"
	// CodeInternal is the fallback classification for unexpected failures.
	CodeInternal Code = "internal"
)

// Error is the coded error type used across the engine. It wraps an optional
// cause so call sites can use errors.Is / errors.As while the HTTP and event
// layers read the stable Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As chains.
func (e *Error) Unwrap() error { return e.Err }

// Is reports code equality, letting sentinel-style checks work:
// errors.Is(err, &Error{Code: CodeToolUnavailable}).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Errorf constructs a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches a code and message to an underlying cause.
func WrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the Code from an error chain, falling back to CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsCode reports whether the error chain carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
