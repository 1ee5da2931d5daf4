package acme

import (
	"errors"
	"fmt"
)

// Kind classifies an ACME failure so callers can branch without inspecting
// wire-level errors.
type Kind string

const (
	KindInvalidDomain   Kind = "invalid_domain"
	KindNetworkError    Kind = "network_error"
	KindTimeout         Kind = "timeout"
	KindRateLimit       Kind = "rate_limit"
	KindChallengeFailed Kind = "challenge_failed"
	KindOrderFailed     Kind = "order_failed"
	KindAccountError    Kind = "account_error"
	KindCAUnavailable   Kind = "ca_unavailable"
	KindClientError     Kind = "client_error"
)

// Error is the single error type produced by this package. It carries the
// failure kind plus structured details for logs and user-facing messages.
type Error struct {
	Kind       Kind
	Message    string
	Details    map[string]any
	Suggestion string
	err        error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("acme: %s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("acme: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, err: err, Details: map[string]any{}}
}

func (e *Error) withDetail(key string, value any) *Error {
	e.Details[key] = value
	return e
}

func (e *Error) withSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// KindOf returns the Kind of err, or KindClientError when err is not an
// *Error from this package.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindClientError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a renewal attempt may be retried against a
// fallback CA.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindCAUnavailable:
		return true
	}
	return false
}

// Transient reports whether err is a temporary network failure that may
// succeed on a straight retry against the same CA.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindNetworkError, KindTimeout:
		return true
	}
	return false
}
