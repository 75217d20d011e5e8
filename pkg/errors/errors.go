package errors

import (
	stderrors "errors"
	"fmt"
)

// Error codes used across the relay. Recoverable codes are logged and
// absorbed; CodeConfig is fatal at startup.
const (
	CodeFrame     = "frame"
	CodeTransport = "transport"
	CodeUpstream  = "upstream"
	CodeNotFound  = "not_found"
	CodeConfig    = "config"
)

// AppError represents an application error
type AppError struct {
	Code    string
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError
func New(code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Newf creates a new AppError with a formatted message
func Newf(code, format string, v ...any) *AppError {
	return &AppError{
		Code:    code,
		Message: fmt.Sprintf(format, v...),
	}
}

// Wrap creates a new AppError wrapping another error
func Wrap(code, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsCode reports whether err is an AppError (possibly wrapped) with the
// given code.
func IsCode(err error, code string) bool {
	var ae *AppError
	if stderrors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}
