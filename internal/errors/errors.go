package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code
type ErrorCode string

const (
	// Authentication errors (401xx)
	ErrInvalidCredentials ErrorCode = "40101"
	ErrTokenExpired       ErrorCode = "40102"

	// Authorization errors (403xx)
	ErrForbidden ErrorCode = "40301"

	// Resource errors (404xx)
	ErrNotFound ErrorCode = "40401"

	// Request errors (400xx)
	ErrInvalidRequest   ErrorCode = "40001"
	ErrValidationFailed ErrorCode = "40002"

	// State errors (409xx)
	ErrInvalidState ErrorCode = "40901"
	ErrConflict     ErrorCode = "40902"

	// Server errors (500xx)
	ErrInternalServer ErrorCode = "50001"
)

// APIError represents a standardized API error
type APIError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Details    any       `json:"details,omitempty"`
	HTTPStatus int       `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// ErrorResponse represents the error response format
type ErrorResponse struct {
	Error     APIError `json:"error"`
	RequestID string   `json:"request_id"`
}

// Common errors
var (
	ErrInvalidCredentialsError = &APIError{
		Code:       ErrInvalidCredentials,
		Message:    "Invalid or missing credentials",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrTokenExpiredError = &APIError{
		Code:       ErrTokenExpired,
		Message:    "Token has expired",
		HTTPStatus: http.StatusUnauthorized,
	}

	ErrForbiddenError = &APIError{
		Code:       ErrForbidden,
		Message:    "Access denied",
		HTTPStatus: http.StatusForbidden,
	}

	ErrInternalServerError = &APIError{
		Code:       ErrInternalServer,
		Message:    "Internal server error",
		HTTPStatus: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error with details
func NewValidationError(details any) *APIError {
	return &APIError{
		Code:       ErrValidationFailed,
		Message:    "Validation failed",
		Details:    details,
		HTTPStatus: http.StatusBadRequest,
	}
}

// NewInvalidRequestError creates an invalid request error
func NewInvalidRequestError(message string) *APIError {
	return &APIError{
		Code:       ErrInvalidRequest,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
	}
}

// Kind classifies a domain error
type Kind string

const (
	KindValidation   Kind = "validation"
	KindInvalidState Kind = "invalid_state"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindNotFound     Kind = "not_found"
)

// DomainError is returned by the core services. CurrentState is set for
// invalid-state errors so callers can refresh their view.
type DomainError struct {
	Kind         Kind
	Message      string
	Entity       string
	EntityID     string
	CurrentState string
	Details      any
}

func (e *DomainError) Error() string {
	if e.CurrentState != "" {
		return fmt.Sprintf("%s (current state: %s)", e.Message, e.CurrentState)
	}
	return e.Message
}

// Validation returns a validation error; details are echoed to the caller verbatim
func Validation(message string, details any) error {
	return &DomainError{Kind: KindValidation, Message: message, Details: details}
}

// InvalidState returns an error describing an illegal operation for the entity's current state
func InvalidState(entity, id, current, message string) error {
	return &DomainError{
		Kind:         KindInvalidState,
		Message:      message,
		Entity:       entity,
		EntityID:     id,
		CurrentState: current,
	}
}

// Forbidden returns an error for an actor without standing on the entity
func Forbidden(message string) error {
	return &DomainError{Kind: KindForbidden, Message: message}
}

// Conflict returns an error for a duplicate creation
func Conflict(entity, id, message string) error {
	return &DomainError{Kind: KindConflict, Message: message, Entity: entity, EntityID: id}
}

// NotFound returns an error for an unknown entity id
func NotFound(entity, id string) error {
	return &DomainError{
		Kind:     KindNotFound,
		Message:  fmt.Sprintf("%s not found", entity),
		Entity:   entity,
		EntityID: id,
	}
}

// As extracts a DomainError from err's chain
func As(err error) (*DomainError, bool) {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// IsKind reports whether err carries a DomainError of the given kind
func IsKind(err error, kind Kind) bool {
	de, ok := As(err)
	return ok && de.Kind == kind
}

// ToAPIError maps any error returned by the core to the HTTP envelope.
// Errors that are not domain errors become a generic internal error.
func ToAPIError(err error) *APIError {
	var apiErr *APIError
	if stderrors.As(err, &apiErr) {
		return apiErr
	}
	de, ok := As(err)
	if !ok {
		return ErrInternalServerError
	}

	switch de.Kind {
	case KindValidation:
		return &APIError{
			Code:       ErrValidationFailed,
			Message:    de.Message,
			Details:    de.Details,
			HTTPStatus: http.StatusBadRequest,
		}
	case KindInvalidState:
		return &APIError{
			Code:    ErrInvalidState,
			Message: de.Message,
			Details: map[string]string{
				"entity":        de.Entity,
				"id":            de.EntityID,
				"current_state": de.CurrentState,
			},
			HTTPStatus: http.StatusConflict,
		}
	case KindForbidden:
		return &APIError{
			Code:       ErrForbidden,
			Message:    de.Message,
			HTTPStatus: http.StatusForbidden,
		}
	case KindConflict:
		return &APIError{
			Code:       ErrConflict,
			Message:    de.Message,
			Details:    de.Details,
			HTTPStatus: http.StatusConflict,
		}
	case KindNotFound:
		return &APIError{
			Code:       ErrNotFound,
			Message:    de.Message,
			HTTPStatus: http.StatusNotFound,
		}
	default:
		return ErrInternalServerError
	}
}

// IsClientError reports whether the error is caused by the caller
func IsClientError(err *APIError) bool {
	return err.HTTPStatus >= 400 && err.HTTPStatus < 500
}

// IsServerError reports whether the error is a server-side failure
func IsServerError(err *APIError) bool {
	return err.HTTPStatus >= 500 && err.HTTPStatus < 600
}
