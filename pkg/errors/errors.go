package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a unique error code
type ErrorCode int

// AppError represents an application error
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Err     error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches any AppError carrying the same code, so callers can write
// errors.Is(err, apperrors.New(apperrors.ErrAlreadyDispensed, "")).
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Kind is the stable, client-facing name of the error code.
func (e *AppError) Kind() string {
	return e.Code.String()
}

// HTTPStatus maps the code to the status returned by the API.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrUnauthorized
	ErrForbidden
	ErrInternal

	// Prescription lifecycle
	ErrValidation
	ErrInvalidState
	ErrAlreadyDispensed
	ErrNotSigned
	ErrSignature
	ErrInvalidSignature
	ErrTokenExpired
	ErrTokenInvalid
	ErrAnchor

	// Transport
	ErrTooManyRequests
	ErrPayloadTooLarge
	ErrTimeout
)

var codeNames = map[ErrorCode]string{
	ErrNotFound:         "NotFound",
	ErrBadRequest:       "BadRequest",
	ErrUnauthorized:     "Unauthorized",
	ErrForbidden:        "Forbidden",
	ErrInternal:         "Internal",
	ErrValidation:       "ValidationError",
	ErrInvalidState:     "InvalidState",
	ErrAlreadyDispensed: "AlreadyDispensed",
	ErrNotSigned:        "NotSignedError",
	ErrSignature:        "SignatureError",
	ErrInvalidSignature: "InvalidSignature",
	ErrTokenExpired:     "TokenExpired",
	ErrTokenInvalid:     "TokenInvalid",
	ErrAnchor:           "AnchorError",
	ErrTooManyRequests:  "TooManyRequests",
	ErrPayloadTooLarge:  "PayloadTooLarge",
	ErrTimeout:          "Timeout",
}

func (c ErrorCode) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", int(c))
}

func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrBadRequest, ErrValidation:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrTokenExpired, ErrTokenInvalid:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrInvalidState, ErrAlreadyDispensed, ErrNotSigned:
		return http.StatusConflict
	case ErrSignature, ErrInvalidSignature:
		return http.StatusUnprocessableEntity
	case ErrAnchor:
		return http.StatusServiceUnavailable
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// Retryable reports whether the caller may retry the same request unchanged.
func (c ErrorCode) Retryable() bool {
	return c == ErrAnchor
}

// New builds an AppError with the given code.
func New(code ErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

// Wrap builds an AppError with the given code around a cause.
func Wrap(code ErrorCode, message string, err error) *AppError {
	return &AppError{Code: code, Message: message, Err: err}
}

// Error constructors
func NewNotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func NewBadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

func NewInternal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal server error",
		Err:     err,
	}
}

func Unauthorized(err error) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "unauthorized",
		Err:     err,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{Code: ErrForbidden, Message: message}
}

func Validation(message string, err error) *AppError {
	return &AppError{Code: ErrValidation, Message: message, Err: err}
}

func InvalidState(message string) *AppError {
	return &AppError{Code: ErrInvalidState, Message: message}
}

func AlreadyDispensed(id string) *AppError {
	return &AppError{Code: ErrAlreadyDispensed, Message: fmt.Sprintf("prescription %s already dispensed", id)}
}

func NotSigned(id string) *AppError {
	return &AppError{Code: ErrNotSigned, Message: fmt.Sprintf("prescription %s is not signed", id)}
}

func Signature(message string, err error) *AppError {
	return &AppError{Code: ErrSignature, Message: message, Err: err}
}

func InvalidSignature(id string) *AppError {
	return &AppError{Code: ErrInvalidSignature, Message: fmt.Sprintf("stored signature for prescription %s failed validation", id)}
}

func TokenExpired() *AppError {
	return &AppError{Code: ErrTokenExpired, Message: "verification token expired"}
}

func TokenInvalid(err error) *AppError {
	return &AppError{Code: ErrTokenInvalid, Message: "verification token invalid", Err: err}
}

func Anchor(err error) *AppError {
	return &AppError{Code: ErrAnchor, Message: "anchoring failed, retry later", Err: err}
}

// CodeOf extracts the code of the first AppError in the chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr) && appErr.Code == code
}
