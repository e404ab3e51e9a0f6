package core

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeForbidden  ErrorType = "forbidden"
	ErrorTypePolicy     ErrorType = "policy"
	ErrorTypeTransport  ErrorType = "transport"
	ErrorTypeInternal   ErrorType = "internal"
)

// ErrNotPersisted marks a change that was applied in memory but could not be
// written durably.
var ErrNotPersisted = errors.New("change not persisted")

// AppError is the error shape every management operation returns.
type AppError struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
	Cause      error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

func NewValidationError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeValidation, Code: code, Message: message, StatusCode: http.StatusBadRequest}
}

func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Type:       ErrorTypeNotFound,
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func NewConflictError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeConflict, Code: code, Message: message, StatusCode: http.StatusConflict}
}

func NewForbiddenError(code, message string) *AppError {
	return &AppError{Type: ErrorTypeForbidden, Code: code, Message: message, StatusCode: http.StatusForbidden}
}

// NewPolicyRejection is returned when the recipient has opted out.
func NewPolicyRejection(number string) *AppError {
	return &AppError{
		Type:       ErrorTypePolicy,
		Code:       "number_opted_out",
		Message:    fmt.Sprintf("%s has opted out", number),
		StatusCode: http.StatusForbidden,
	}
}

// NewTransportError carries the upstream error text and code when there is one.
func NewTransportError(code, message string) *AppError {
	if code == "" {
		code = "transport_error"
	}
	return &AppError{Type: ErrorTypeTransport, Code: code, Message: message, StatusCode: http.StatusInternalServerError}
}

func NewInternalError(message string) *AppError {
	return &AppError{Type: ErrorTypeInternal, Code: "internal_error", Message: message, StatusCode: http.StatusInternalServerError}
}

// StatusCode maps err to an HTTP status, 500 for anything unclassified.
func StatusCode(err error) int {
	var ae *AppError
	if errors.As(err, &ae) && ae.StatusCode != 0 {
		return ae.StatusCode
	}
	return http.StatusInternalServerError
}

func IsType(err error, t ErrorType) bool {
	var ae *AppError
	return errors.As(err, &ae) && ae.Type == t
}
