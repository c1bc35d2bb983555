package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dreamimg/backend/internal/providers"
)

// Code is the machine-readable error class returned to clients.
type Code string

const (
	CodeValidation          Code = "ValidationError"
	CodeAuth                Code = "AuthError"
	CodeInsufficientCredits Code = "InsufficientCredits"
	CodeTurnstileFailed     Code = "TurnstileFailed"
	CodeContentCensored     Code = "ContentCensored"
	CodeNotFound            Code = "NotFound"
	CodeRateLimited         Code = "RateLimited"
	CodePersistence         Code = "PersistenceError"
	CodeUpstream            Code = "UpstreamError"
	CodeTimeout             Code = "TimeoutError"
)

// HTTPStatus maps the code onto its response status.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAuth:
		return http.StatusUnauthorized
	case CodeInsufficientCredits:
		return http.StatusPaymentRequired
	case CodeTurnstileFailed, CodeContentCensored:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeUpstream:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified failure. Err, when set, is the underlying cause and
// is never shown to clients.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify returns err as an *Error, mapping unclassified failures onto the
// taxonomy. Provider failures become UpstreamError; anything else is a
// PersistenceError.
func Classify(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	var ue *providers.UpstreamError
	if errors.As(err, &ue) {
		return upstream(ue)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Code: CodeTimeout, Message: "generation timed out", Err: err}
	}
	return &Error{Code: CodePersistence, Message: "internal error", Err: err}
}

func upstream(ue *providers.UpstreamError) *Error {
	msg := fmt.Sprintf("%s request failed", ue.Provider)
	if ue.Body != "" {
		msg += ": " + ue.Body
	} else if ue.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", ue.StatusCode)
	}
	return &Error{Code: CodeUpstream, Message: msg, Err: ue}
}
