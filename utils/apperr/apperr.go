// Package apperr defines the client-facing error taxonomy shared by services and handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for HTTP mapping and retry decisions
type Kind string

const (
	Validation         Kind = "validation"
	NotFound           Kind = "not_found"
	Forbidden          Kind = "forbidden"
	Conflict           Kind = "conflict"
	Signature          Kind = "signature"
	GatewayRejected    Kind = "gateway_rejected"
	GatewayUnavailable Kind = "gateway_unavailable"
	GatewayTimeout     Kind = "gateway_timeout"
	Internal           Kind = "internal"
)

// Error carries a Kind, a message safe to show to the caller, and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an error of the given kind
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and public message to an underlying error
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func NewValidation(message string) *Error { return New(Validation, message) }
func NewNotFound(message string) *Error   { return New(NotFound, message) }
func NewForbidden(message string) *Error  { return New(Forbidden, message) }
func NewConflict(message string) *Error   { return New(Conflict, message) }

// As extracts an *Error from an error chain
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// KindOf returns the error's kind, Internal for anything untyped
func KindOf(err error) Kind {
	if ae, ok := As(err); ok {
		return ae.Kind
	}
	return Internal
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller (or a background sweep) should retry.
// Only gateway and infrastructure failures qualify; validation and conflicts never do.
func Retryable(err error) bool {
	switch KindOf(err) {
	case GatewayUnavailable, GatewayTimeout, Internal:
		return true
	default:
		return false
	}
}

// HTTPStatus maps an error to its response status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Validation, Signature:
		return http.StatusBadRequest
	case NotFound:
		return http.StatusNotFound
	case Forbidden:
		return http.StatusForbidden
	case Conflict:
		return http.StatusConflict
	case GatewayRejected:
		return http.StatusBadGateway
	case GatewayUnavailable:
		return http.StatusServiceUnavailable
	case GatewayTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to expose to clients
func PublicMessage(err error) string {
	if ae, ok := As(err); ok && ae.Message != "" {
		return ae.Message
	}
	return "Internal server error"
}
