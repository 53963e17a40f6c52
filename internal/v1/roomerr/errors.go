// Package roomerr defines the error taxonomy shared by the room store,
// reservation engine, and message handlers. Every rejected request maps to
// exactly one of these kinds so the connection endpoint can translate it
// into a single outbound error frame without inspecting message text.
package roomerr

import (
	"errors"
	"fmt"
)

// Kind identifies which branch of the error taxonomy an error belongs to.
type Kind string

const (
	KindValidation  Kind = "VALIDATION"
	KindNotFound    Kind = "NOT_FOUND"
	KindReservation Kind = "RESERVATION"
	KindPhase       Kind = "PHASE"
	KindRateLimit   Kind = "RATE_LIMIT"
	KindConflict    Kind = "CONFLICT"
	KindInternal    Kind = "INTERNAL"
)

// Error is a taxonomy-tagged error carrying the message to surface to the
// client and, for rate limiting, a retry hint in milliseconds.
type Error struct {
	Kind         Kind
	Message      string
	RetryAfterMs int64
	cause        error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Validation(msg string) *Error  { return newErr(KindValidation, msg) }
func NotFound(msg string) *Error    { return newErr(KindNotFound, msg) }
func Reservation(msg string) *Error { return newErr(KindReservation, msg) }
func Phase(msg string) *Error       { return newErr(KindPhase, msg) }
func Conflict(msg string) *Error    { return newErr(KindConflict, msg) }

func RateLimit(retryAfterMs int64) *Error {
	return &Error{Kind: KindRateLimit, Message: "rate limit exceeded", RetryAfterMs: retryAfterMs}
}

func Internal(msg string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: msg, cause: cause}
}

// KindOf extracts the Kind of err if it is (or wraps) a *Error, defaulting
// to KindInternal for anything else so callers never fail to respond.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
