// apperr.go -- Error taxonomy shared by the gateway and HTTP layer.
//
// Every rejection carries a machine-stable Reason (clients branch on it) and a
// human-facing Message (clients display it). Kind decides the HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies an Error.
type Kind int

const (
	KindValidation Kind = iota + 1
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindConflict
	KindRateLimited
	KindBlocked
	KindUnavailable
)

// Error is a classified, client-presentable failure.
// Err holds the underlying cause for logging; it is never sent to clients.
type Error struct {
	Kind    Kind
	Reason  string
	Message string

	// Set for KindRateLimited and KindBlocked.
	Limit      int
	RetryAfter time.Duration

	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Status maps Kind to its HTTP status code.
func (e *Error) Status() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited, KindBlocked:
		return http.StatusTooManyRequests
	case KindUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// As extracts an *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Validation returns a 400 error.
func Validation(reason, message string) *Error {
	return &Error{Kind: KindValidation, Reason: reason, Message: message}
}

// Unauthenticated returns a 401 error.
func Unauthenticated(reason, message string) *Error {
	return &Error{Kind: KindAuthentication, Reason: reason, Message: message}
}

// Forbidden returns a 403 error.
func Forbidden(reason, message string) *Error {
	return &Error{Kind: KindAuthorization, Reason: reason, Message: message}
}

// NotFound returns a 404 error.
func NotFound(reason, message string) *Error {
	return &Error{Kind: KindNotFound, Reason: reason, Message: message}
}

// Conflict returns a 409 error.
func Conflict(reason, message string) *Error {
	return &Error{Kind: KindConflict, Reason: reason, Message: message}
}

// RateLimited returns a 429 error for a counter denial.
func RateLimited(limit int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Reason:     "rate_limited",
		Message:    "too many requests",
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// Blocked returns a 429 error for an escalated lockout.
func Blocked(limit int, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindBlocked,
		Reason:     "blocked",
		Message:    fmt.Sprintf("too many attempts, try again in %s", retryAfter.Round(time.Minute)),
		Limit:      limit,
		RetryAfter: retryAfter,
	}
}

// Unavailable wraps a shared-store failure as a 503.
func Unavailable(err error) *Error {
	return &Error{
		Kind:    KindUnavailable,
		Reason:  "store_unavailable",
		Message: "service temporarily unavailable",
		Err:     err,
	}
}
