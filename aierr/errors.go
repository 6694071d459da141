// Package aierr defines the failure taxonomy shared by every layer of the
// AI core. All failure paths surface as exactly one *Error with a Kind
// discriminant; no raw transport or parse error escapes the client boundary
// unclassified.
package aierr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// Kind discriminates the closed set of failure kinds.
type Kind string

const (
	KindNoProvider             Kind = "no_provider_configured"
	KindInvalidAPIKey          Kind = "invalid_api_key"
	KindInvalidEndpoint        Kind = "invalid_endpoint"
	KindInvalidModel           Kind = "invalid_model"
	KindRequestFailed          Kind = "request_failed"
	KindTimeout                Kind = "timeout"
	KindNetworkError           Kind = "network_error"
	KindUnsupportedAPIFormat   Kind = "unsupported_api_format"
	KindInvalidReasoningEffort Kind = "invalid_reasoning_effort"
	KindInvalidResponse        Kind = "invalid_response"
	KindStreamInterrupted      Kind = "stream_interrupted"
)

// retryableByDefault holds the advisory retry default per kind. Kinds not
// listed default to non-retryable. RequestFailed is context-dependent and
// set by the RequestFailed constructor instead.
var retryableByDefault = map[Kind]bool{
	KindTimeout:           true,
	KindNetworkError:      true,
	KindStreamInterrupted: true,
}

// Error is the single error type produced by this module. Kind-specific
// payloads live in optional fields rather than distinct subtypes: Partial
// carries the text accumulated before a stream interruption, Duration the
// deadline of a timed-out call, Status the upstream HTTP status of a failed
// request.
type Error struct {
	Kind      Kind
	Message   string
	Retryable bool
	Cause     error

	Partial  string
	Duration time.Duration
	Status   int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an Error with the kind's default retryable flag.
func New(kind Kind, message string) *Error {
	return &Error{
		Kind:      kind,
		Message:   message,
		Retryable: retryableByDefault[kind],
	}
}

// Wrap is New with an underlying cause attached.
func Wrap(kind Kind, message string, cause error) *Error {
	err := New(kind, message)
	err.Cause = cause
	return err
}

// RequestFailed creates the kind whose retryable flag depends on the
// upstream HTTP status: server errors are retryable, client errors are not.
func RequestFailed(status int, message string) *Error {
	return &Error{
		Kind:      KindRequestFailed,
		Message:   message,
		Retryable: status >= 500,
		Status:    status,
	}
}

// Timeout creates the timeout kind carrying the deadline that fired.
func Timeout(d time.Duration) *Error {
	err := New(KindTimeout, fmt.Sprintf("request timed out after %s", d))
	err.Duration = d
	return err
}

// Interrupted creates the stream-interrupted kind carrying whatever partial
// text had been accumulated before the break, so callers may keep it.
func Interrupted(partial string, cause error) *Error {
	err := Wrap(KindStreamInterrupted, "stream interrupted", cause)
	err.Partial = partial
	return err
}

// KindOf returns the kind of err, or "" when err is not a taxonomy error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is a taxonomy error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports the advisory retry flag of err. Unclassified errors
// are never retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// Classify is the single normalization pass applied at the client boundary.
// Already-classified errors pass through unchanged. Context cancellation
// becomes StreamInterrupted carrying partial, deadline expiry becomes
// Timeout, net-level timeouts become Timeout, and anything else becomes
// NetworkError.
func Classify(err error, partial string) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, "request timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return Interrupted(partial, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindTimeout, "network timeout", err)
	}
	return Wrap(KindNetworkError, "network request failed", err)
}
