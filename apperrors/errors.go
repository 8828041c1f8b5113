package apperrors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind classifies an Error. Two errors with the same Kind match under errors.Is.
type Kind string

const (
	KindConfiguration  Kind = "configuration_error"
	KindMalformed      Kind = "malformed_callback"
	KindAuthentication Kind = "authentication_failure"
	KindStaging        Kind = "staging_mismatch"
	KindAmountMismatch Kind = "amount_mismatch"
	KindTransport      Kind = "transport_error"
	KindValidation     Kind = "validation_error"
	KindNotFound       Kind = "not_found"
	KindForbidden      Kind = "forbidden"
	KindConflict       Kind = "conflict"
	KindInternal       Kind = "internal"
)

var kindStatus = map[Kind]int{
	KindConfiguration:  http.StatusInternalServerError,
	KindMalformed:      http.StatusBadRequest,
	KindAuthentication: http.StatusPaymentRequired,
	KindStaging:        http.StatusConflict,
	KindAmountMismatch: http.StatusConflict,
	KindTransport:      http.StatusBadGateway,
	KindValidation:     http.StatusBadRequest,
	KindNotFound:       http.StatusNotFound,
	KindForbidden:      http.StatusForbidden,
	KindConflict:       http.StatusConflict,
	KindInternal:       http.StatusInternalServerError,
}

// Error represents an application error
type Error struct {
	Kind    Kind   `json:"kind"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// New creates a new Error with the status code registered for kind.
func New(kind Kind, message string, err error) *Error {
	code, ok := kindStatus[kind]
	if !ok {
		code = http.StatusInternalServerError
	}
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Newf is New with a formatted message and no wrapped cause.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return New(kind, fmt.Sprintf(format, args...), nil)
}

// KindOf returns the Kind of err, or KindInternal if err carries none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

// Sentinels for errors.Is checks.
var (
	ErrConfiguration  = New(KindConfiguration, "Gateway configuration error", nil)
	ErrMalformed      = New(KindMalformed, "malformed callback", nil)
	ErrAuthentication = New(KindAuthentication, "Payment authentication failed", nil)
	ErrStaging        = New(KindStaging, "local data mismatch or missing", nil)
	ErrAmountMismatch = New(KindAmountMismatch, "amount mismatch", nil)
	ErrTransport      = New(KindTransport, "Gateway unreachable", nil)
	ErrValidation     = New(KindValidation, "Validation error", nil)
	ErrConflict       = New(KindConflict, "Conflict", nil)
	ErrForbidden      = New(KindForbidden, "Forbidden", nil)
)

// Respond writes err as a JSON body using its embedded status code.
func Respond(c *gin.Context, err error) {
	var appErr *Error
	if !errors.As(err, &appErr) {
		appErr = New(KindInternal, "Internal server error", err)
	}
	c.JSON(appErr.Code, gin.H{"error": appErr.Message, "kind": appErr.Kind})
}
