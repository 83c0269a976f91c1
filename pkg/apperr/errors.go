// Package apperr defines the error taxonomy shared by every service and the
// HTTP layer.
//
// Services mark their failures with one of the sentinel kinds below; the
// HTTP layer maps a kind to a status code and a machine readable code with
// HTTPStatus and Code. Persistence failures that are not marked surface as
// internal errors.
//
//	if t.Status != StatusPending {
//	    return apperr.InvalidTransition("tenant", string(t.Status), "suspend")
//	}
package apperr

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// Sentinel kinds. Match them with errors.Is.
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotPending        = errors.New("not pending")
	ErrMissingReason     = errors.New("missing reason")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrLimitExceeded     = errors.New("limit exceeded")
	ErrConflict          = errors.New("conflict")
)

// Error codes returned in the response envelope.
const (
	CodeValidation        = "VALIDATION_ERROR"
	CodeNotFound          = "NOT_FOUND"
	CodeInvalidTransition = "INVALID_TRANSITION"
	CodeNotPending        = "NOT_PENDING"
	CodeMissingReason     = "MISSING_REASON"
	CodeUnauthorized      = "UNAUTHORIZED"
	CodeForbidden         = "FORBIDDEN"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeConflict          = "CONFLICT"
	CodeInternal          = "INTERNAL_ERROR"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// Validation returns a validation error with a formatted message.
func Validation(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}

// NotFound returns a not-found error for the given resource and identifier.
func NotFound(resource string, id interface{}) error {
	return errors.Mark(errors.Newf("%s %v not found", resource, id), ErrNotFound)
}

// InvalidTransition reports that event is not legal for entity in state from.
func InvalidTransition(entity, from, event string) error {
	return errors.Mark(
		errors.Newf("cannot %s %s in status %s", event, entity, from),
		ErrInvalidTransition,
	)
}

// NotPending reports a verification attempt on a payment that was already
// reviewed. It is also an invalid transition.
func NotPending(format string, args ...interface{}) error {
	err := errors.Mark(errors.Newf(format, args...), ErrNotPending)
	return errors.Mark(err, ErrInvalidTransition)
}

// MissingReason reports that a mandatory reason or note was blank. It is also
// a validation error.
func MissingReason(message string) error {
	err := errors.Mark(errors.New(message), ErrMissingReason)
	return errors.Mark(err, ErrValidation)
}

// Unauthorized returns an authentication failure.
func Unauthorized(message string) error {
	return errors.Mark(errors.New(message), ErrUnauthorized)
}

// Forbidden returns an authorization failure.
func Forbidden(message string) error {
	return errors.Mark(errors.New(message), ErrForbidden)
}

// Conflict returns a uniqueness conflict with a formatted message.
func Conflict(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrConflict)
}

// LimitExceeded marks err (usually a typed limit error) as a limit violation.
func LimitExceeded(err error) error {
	return errors.Mark(err, ErrLimitExceeded)
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsInvalidTransition reports whether err is an invalid state transition.
func IsInvalidTransition(err error) bool { return errors.Is(err, ErrInvalidTransition) }

// IsNotPending reports whether err is a not-pending verification error.
func IsNotPending(err error) bool { return errors.Is(err, ErrNotPending) }

// IsMissingReason reports whether err is a missing-reason error.
func IsMissingReason(err error) bool { return errors.Is(err, ErrMissingReason) }

// IsForbidden reports whether err is an authorization error.
func IsForbidden(err error) bool { return errors.Is(err, ErrForbidden) }

// IsLimitExceeded reports whether err is a usage limit violation.
func IsLimitExceeded(err error) bool { return errors.Is(err, ErrLimitExceeded) }

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsUniqueViolation reports whether err is a PostgreSQL unique_violation.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == pgUniqueViolation
	}
	return false
}

// ConflictOnUnique converts a unique violation into a conflict error and
// wraps anything else as an internal failure of the named operation.
func ConflictOnUnique(err error, op string, conflictMsg string) error {
	if IsUniqueViolation(err) {
		return Conflict("%s", conflictMsg)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

// HTTPStatus maps err to an HTTP status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden), errors.Is(err, ErrLimitExceeded):
		return http.StatusForbidden
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrConflict):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Code maps err to the machine readable code of the response envelope. The
// most specific kind wins.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrNotPending):
		return CodeNotPending
	case errors.Is(err, ErrMissingReason):
		return CodeMissingReason
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrLimitExceeded):
		return CodeLimitExceeded
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrInvalidTransition):
		return CodeInvalidTransition
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrValidation):
		return CodeValidation
	default:
		return CodeInternal
	}
}

// PublicMessage returns the message safe to show a caller. Internal errors
// are not echoed.
func PublicMessage(err error) string {
	if HTTPStatus(err) == http.StatusInternalServerError {
		return "internal server error"
	}
	return err.Error()
}
