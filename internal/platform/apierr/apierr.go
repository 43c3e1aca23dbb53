package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	CodeUpstream   = "upstream_error"
	CodeConflict   = "conflict"
	CodeNotFound   = "not_found"
	CodeValidation = "validation_error"
	CodeInternal   = "internal_error"
)

type Error struct {
	Status int
	Code   string
	Err    error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Code != "" {
		return e.Code
	}
	if e.Status != 0 {
		return fmt.Sprintf("api error (%d)", e.Status)
	}
	return "api error"
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code string, err error) *Error {
	return &Error{Status: status, Code: code, Err: err}
}

func Upstream(service string, err error) *Error {
	return New(http.StatusBadGateway, CodeUpstream, fmt.Errorf("%s: %w", service, err))
}

func Conflict(err error) *Error {
	return New(http.StatusConflict, CodeConflict, err)
}

func NotFound(format string, args ...any) *Error {
	return New(http.StatusNotFound, CodeNotFound, fmt.Errorf(format, args...))
}

func Validation(format string, args ...any) *Error {
	return New(http.StatusBadRequest, CodeValidation, fmt.Errorf(format, args...))
}

func Internal(format string, args ...any) *Error {
	return New(http.StatusInternalServerError, CodeInternal, fmt.Errorf(format, args...))
}

// StatusCoder is implemented by upstream HTTP error types.
type StatusCoder interface {
	StatusCode() int
}

// IsConflict reports whether err means the target object already exists.
// Structured signals win; the message check covers upstreams that only
// report the collision in free text.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var ae *Error
	if errors.As(err, &ae) && (ae.Code == CodeConflict || ae.Status == http.StatusConflict) {
		return true
	}
	var sc StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "409") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "already exists")
}

func IsNotFound(err error) bool {
	var ae *Error
	return errors.As(err, &ae) && (ae.Code == CodeNotFound || ae.Status == http.StatusNotFound)
}

// StatusOf returns the HTTP status and code carried by err, defaulting to 500.
func StatusOf(err error) (int, string) {
	var ae *Error
	if errors.As(err, &ae) && ae.Status != 0 {
		code := ae.Code
		if code == "" {
			code = CodeInternal
		}
		return ae.Status, code
	}
	return http.StatusInternalServerError, CodeInternal
}
