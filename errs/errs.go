// Package errs defines the core's error taxonomy: a small closed set of
// error kinds (§7) carried on a single wrapping error type so callers can
// branch on Kind while still walking the cause chain with errors.Is/As.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a core error into one of the taxonomy entries from §7.
// Kinds are not Go types; they are a tag carried on Error so a single error
// type suffices across the whole control plane.
type Kind string

const (
	// KindRateLimit marks an LLM rate-limit failure that survived retry.
	KindRateLimit Kind = "rate_limit"
	// KindTransport marks a network/DNS/connection failure that survived retry.
	KindTransport Kind = "transport"
	// KindParse marks a response that could not be parsed after sanitization.
	KindParse Kind = "parse"
	// KindValidation marks a plan that violates the active JSON Schema after
	// self-correction rounds.
	KindValidation Kind = "validation"
	// KindProviderUnavailable marks a required provider that is not ready or a
	// tool that is unknown.
	KindProviderUnavailable Kind = "provider_unavailable"
	// KindToolExecution marks a single tool-call failure; recorded per-call,
	// never fatal to the item on its own.
	KindToolExecution Kind = "tool_execution"
	// KindBudgetExhausted marks attempts, replans, or block-checks exceeding
	// their configured bound; terminal for the item.
	KindBudgetExhausted Kind = "budget_exhausted"
	// KindCancelled marks an externally requested cancellation; terminal for
	// the plan.
	KindCancelled Kind = "cancelled"
)

// Error is the core's structured error value. It always carries a Kind and a
// human-readable Message, and may wrap an underlying Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an Error of the given kind with a message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Errorf constructs an Error of the given kind with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an Error of the given kind that wraps cause. If message is
// empty, cause's message is reused.
func Wrap(kind Kind, message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, enabling errors.Is/As across the chain.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind, supporting
// errors.Is(err, errs.New(KindRateLimit, "")) style kind checks.
func (e *Error) Is(target error) bool {
	var other *Error
	if !errors.As(target, &other) {
		return false
	}
	return e.Kind == other.Kind
}

// KindOf extracts the Kind of the first *Error in err's chain, or "" if
// none is present.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Of constructs a zero-message Error value of the given kind, useful as the
// target argument to errors.Is.
func Of(kind Kind) *Error { return &Error{Kind: kind} }
