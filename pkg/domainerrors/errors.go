// Package domainerrors provides coded domain errors. Services return these so
// callers can branch on the code without string matching, and so transport
// layers (external to this module) can map codes to status codes mechanically.
//
// For infrastructure facts (not found, conflict) stores return pkg/sentinel
// errors instead; services translate at the boundary.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain error.
type Code string

const (
	// CodeValidation marks input rejected before any persistence happened.
	CodeValidation Code = "validation"
	// CodeExemptionBlocked marks an action skipped because of an active legal
	// hold. This is a normal outcome, not a failure.
	CodeExemptionBlocked Code = "exemption_blocked"
	// CodeConflict marks a concurrent-update conflict. Retriable.
	CodeConflict Code = "conflict"
	// CodeDecryption marks ciphertext that failed authentication or a key
	// version mismatch. Fatal for the field, not for the batch.
	CodeDecryption Code = "decryption"
	// CodeExport marks a redaction conflict in strict export mode.
	CodeExport Code = "export"
	// CodeExecution marks a per-entity retention batch failure. Isolated and
	// logged, never silently dropped.
	CodeExecution Code = "execution"
	// CodeTerminalState marks an operation on a request that already reached
	// completed or rejected.
	CodeTerminalState Code = "terminal_state"
	// CodeNotFound marks a missing record surfaced to the caller.
	CodeNotFound Code = "not_found"
	// CodeTimeout marks work abandoned because the caller's deadline passed.
	CodeTimeout Code = "timeout"
	// CodeInternal marks everything else. Details stay server-side.
	CodeInternal Code = "internal"
)

// Error is a coded domain error. Message is safe to surface; wrapped causes
// are not and stay internal.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a domain error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying cause. The cause remains
// reachable via errors.Is / errors.As.
func Wrap(err error, code Code, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// HasCode reports whether err or any error in its chain carries the code.
func HasCode(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost domain error in the chain, or
// CodeInternal when err is not a domain error.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// Retriable reports whether the error class is worth retrying.
func Retriable(err error) bool {
	return HasCode(err, CodeConflict) || HasCode(err, CodeTimeout)
}
