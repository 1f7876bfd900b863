// Package errors holds the error vocabulary shared by the services and its
// mapping onto HTTP statuses and machine-readable codes.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinels that callers match with errors.Is.
var (
	ErrNotFound       = errors.New("resource not found")
	ErrAlreadyExists  = errors.New("resource already exists")
	ErrInvalidInput   = errors.New("invalid input")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrConflict       = errors.New("conflict")
	ErrGone           = errors.New("gone")
	ErrServiceUnavail = errors.New("service unavailable")
	ErrBadGateway     = errors.New("bad gateway")
	ErrPaymentFailed  = errors.New("payment failed")
)

const (
	codeInternal    = "INTERNAL_ERROR"
	internalMessage = "an internal error occurred"
)

// kind ties a sentinel to the status and code it is reported with.
type kind struct {
	sentinel error
	status   int
	code     string
}

// kinds is ordered: the first sentinel matched by errors.Is wins.
var kinds = []kind{
	{ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{ErrAlreadyExists, http.StatusConflict, "ALREADY_EXISTS"},
	{ErrConflict, http.StatusConflict, "CONFLICT"},
	{ErrInvalidInput, http.StatusBadRequest, "INVALID_INPUT"},
	{ErrUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED"},
	{ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{ErrGone, http.StatusGone, "GONE"},
	{ErrPaymentFailed, http.StatusUnprocessableEntity, "PAYMENT_FAILED"},
	{ErrBadGateway, http.StatusBadGateway, "UPSTREAM_ERROR"},
	{ErrServiceUnavail, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
}

func kindOf(err error) (kind, bool) {
	for _, k := range kinds {
		if errors.Is(err, k.sentinel) {
			return k, true
		}
	}
	return kind{}, false
}

// StatusCoder is implemented by domain errors that know which HTTP status and
// machine-readable code they map to. The mapping is only consulted at the
// transport boundary.
type StatusCoder interface {
	error
	HTTPStatus() int
	ErrorCode() string
}

// AppError is an error with a client-facing message. Err is the sentinel (or
// cause) it wraps.
type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Code + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func newAppError(sentinel error, message string) *AppError {
	k, _ := kindOf(sentinel)
	return &AppError{Code: k.code, Message: message, Status: k.status, Err: sentinel}
}

// NotFound reports a missing resource as 404.
func NotFound(resource, id string) *AppError {
	return newAppError(ErrNotFound, fmt.Sprintf("%s with id %s not found", resource, id))
}

// AlreadyExists reports a uniqueness clash as 409.
func AlreadyExists(resource, field, value string) *AppError {
	return newAppError(ErrAlreadyExists, fmt.Sprintf("%s with %s %q already exists", resource, field, value))
}

func InvalidInput(message string) *AppError { return newAppError(ErrInvalidInput, message) }

func Unauthorized(message string) *AppError { return newAppError(ErrUnauthorized, message) }

func Forbidden(message string) *AppError { return newAppError(ErrForbidden, message) }

func Conflict(message string) *AppError { return newAppError(ErrConflict, message) }

func Gone(message string) *AppError { return newAppError(ErrGone, message) }

func ServiceUnavailable(message string) *AppError { return newAppError(ErrServiceUnavail, message) }

// PaymentFailed reports a declined or failed charge as 422.
func PaymentFailed(message string) *AppError { return newAppError(ErrPaymentFailed, message) }

// BadGateway reports an upstream that answered with a server error. The
// upstream error stays reachable through errors.Is and errors.As.
func BadGateway(service string, err error) *AppError {
	e := newAppError(ErrBadGateway, fmt.Sprintf("%s is not responding correctly", service))
	e.Err = errors.Join(ErrBadGateway, err)
	return e
}

// HTTPStatus returns the HTTP status for err, 500 when nothing in its chain
// carries one.
func HTTPStatus(err error) int {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.HTTPStatus()
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Status != 0 {
		return appErr.Status
	}
	if k, ok := kindOf(err); ok {
		return k.status
	}
	return http.StatusInternalServerError
}

// Code returns the machine-readable code for err, INTERNAL_ERROR for errors
// that carry none.
func Code(err error) string {
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.ErrorCode()
	}
	var appErr *AppError
	if errors.As(err, &appErr) && appErr.Code != "" {
		return appErr.Code
	}
	if k, ok := kindOf(err); ok {
		return k.code
	}
	return codeInternal
}

// Message returns a client-safe message for err. Internal errors never leak
// their cause.
func Message(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	var coder StatusCoder
	if errors.As(err, &coder) {
		return coder.Error()
	}
	if HTTPStatus(err) >= http.StatusInternalServerError {
		return internalMessage
	}
	return err.Error()
}
