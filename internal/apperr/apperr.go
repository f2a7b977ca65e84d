package apperr

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"
	CodeForbidden  Code = "FORBIDDEN"
	CodeInternal   Code = "INTERNAL"
)

// AppError carries a taxonomy code so transports can map it without string matching.
type AppError struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is matches on code so errors.Is(err, apperr.ErrForbidden) works for any forbidden error.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Message == "" && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrValidation = &AppError{Code: CodeValidation}
	ErrNotFound   = &AppError{Code: CodeNotFound}
	ErrForbidden  = &AppError{Code: CodeForbidden}
	ErrInternal   = &AppError{Code: CodeInternal}
)

func New(code Code, message string) error {
	return &AppError{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) error {
	return &AppError{Code: code, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(CodeValidation, msg)
}

func NotFound(msg string) error {
	return New(CodeNotFound, msg)
}

func Forbidden(msg string) error {
	return New(CodeForbidden, msg)
}

// Store wraps a persistence failure. Already-classified errors pass through untouched.
func Store(msg string, cause error) error {
	if cause == nil {
		return nil
	}
	var ae *AppError
	if errors.As(cause, &ae) {
		return cause
	}
	return Wrap(CodeInternal, msg, cause)
}

// CodeOf returns the taxonomy code of err, CodeInternal for unclassified errors.
func CodeOf(err error) Code {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return CodeInternal
}

// MessageOf returns the client-safe message. Internal causes are never exposed.
func MessageOf(err error) string {
	var ae *AppError
	if errors.As(err, &ae) && ae.Code != CodeInternal {
		return ae.Message
	}
	return "Internal server error"
}
