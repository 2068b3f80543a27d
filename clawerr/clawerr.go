// Package clawerr implements the closed error taxonomy used across the
// autopilot core: every error surfaced to a caller carries a Kind, a
// human-readable message, an optional cause, and an optional remediation
// hint for CLI presentation.
package clawerr

import (
	"errors"
	"fmt"
)

// Kind is one of the taxonomy's closed set of error categories.
type Kind string

const (
	// KindConfig covers missing or invalid configuration.
	KindConfig Kind = "config_error"
	// KindAdapterCLI covers a missing platform CLI, a non-zero exit, or
	// malformed CLI output.
	KindAdapterCLI Kind = "adapter_cli_error"
	// KindAdapterProtocol covers a platform response whose JSON shape
	// does not match what the adapter expects.
	KindAdapterProtocol Kind = "adapter_protocol_error"
	// KindLock covers a lock held by another live process.
	KindLock Kind = "lock_error"
	// KindWorkflow covers an illegal operation given current board state
	// (e.g. "next" while something is in progress).
	KindWorkflow Kind = "workflow_violation"
	// KindContract covers a worker response that fails the terminal
	// command grammar or the proof gate.
	KindContract Kind = "contract_violation"
	// KindTransientIO covers a file or network error with no further
	// interpretation.
	KindTransientIO Kind = "transient_io"
)

// Error is the concrete error type for every kind in the taxonomy. It is
// errors.Is/As friendly: Is compares Kind, As unwraps to *Error, and
// Unwrap exposes the cause chain.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	Hint    string // "What next" remediation sentence, shown by the CLI.
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// Is supports errors.Is(err, clawerr.KindOf(...)) style comparisons via a
// sentinel wrapper; see KindOf below for the dedicated kind-sentinel type.
func (e *Error) Is(target error) bool {
	var k kindSentinel
	if errors.As(target, &k) {
		return e.Kind == k.kind
	}
	return false
}

// kindSentinel lets callers write errors.Is(err, clawerr.KindOf(KindLock)).
type kindSentinel struct{ kind Kind }

func (kindSentinel) Error() string { return "clawerr kind sentinel" }

// KindOf returns a sentinel error usable with errors.Is to test an error's
// Kind without type-asserting to *Error first.
func KindOf(k Kind) error { return kindSentinel{kind: k} }

// New constructs an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error that wraps cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WithHint attaches a "what next" remediation sentence and returns the
// receiver, for fluent construction at the call site.
func (e *Error) WithHint(hint string) *Error {
	e.Hint = hint
	return e
}

// KindOfErr extracts the Kind of err if it is (or wraps) a *Error.
func KindOfErr(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
