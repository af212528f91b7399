// Package apperr defines the error kinds surfaced to API clients.
package apperr

import (
	"errors"
	"net/http"
)

// Kind is the stable, client-visible error category
type Kind string

const (
	KindDetectionUnavailable Kind = "detection_unavailable"
	KindInvalidQuery         Kind = "invalid_query"
	KindInvalidImage         Kind = "invalid_image"
	KindEnrichmentTimeout    Kind = "enrichment_timeout"
	KindEnrichmentRejected   Kind = "enrichment_rejected"
	KindCacheUnavailable     Kind = "cache_unavailable"
	KindUnauthorized         Kind = "unauthorized"
	KindNotFound             Kind = "not_found"
	KindRateLimited          Kind = "rate_limited"
	KindInternal             Kind = "internal"
)

// Status maps a kind to its HTTP status code
func (k Kind) Status() int {
	switch k {
	case KindDetectionUnavailable:
		return http.StatusServiceUnavailable
	case KindInvalidQuery, KindInvalidImage:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindEnrichmentTimeout:
		return http.StatusGatewayTimeout
	case KindEnrichmentRejected, KindCacheUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error carries a kind and a message safe to show to clients.
// Err holds the underlying cause and is never rendered.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Err == nil
	}
	return false
}

// New returns an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and client message to an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the kind of err, or KindInternal when it carries none
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// ErrorResponse is the JSON body of every error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Response renders err as a status code and body without leaking internal detail
func Response(err error) (int, ErrorResponse) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind.Status(), ErrorResponse{Error: string(e.Kind), Message: e.Message}
	}
	return http.StatusInternalServerError, ErrorResponse{
		Error:   string(KindInternal),
		Message: "an unexpected error occurred",
	}
}
