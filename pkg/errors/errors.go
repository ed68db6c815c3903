// Package errors provides a two-layer error model: L1 sentinels for
// errors.Is checks and L2 AppError for operation-scoped, human-readable
// context.
package errors

import (
	"errors"
	"fmt"
)

// ========================================
// L1 sentinel errors
// ========================================

var (
	// ErrNotFound signals a resource does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput signals a malformed or out-of-range argument.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized signals a caller lacking the required credential.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal signals an unexpected internal failure.
	ErrInternal = errors.New("internal error")

	// ErrTimeout signals an operation exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrRowMissing signals a database query returned no row where one was
	// expected.
	ErrRowMissing = errors.New("row missing")

	// ErrReadOnly signals a read-only query validation failure.
	ErrReadOnly = errors.New("read-only violation")
)

// ========================================
// L2 AppError
// ========================================

// AppError is an application-level error carrying operation context.
type AppError struct {
	Op      string // operation name, e.g. "Store.CreateInteraction"
	Code    string // error code, e.g. "DB_ERROR", "VALIDATION"
	Message string // human-readable message
	Err     error  // underlying cause, if any
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap supports errors.Is / errors.As chain lookups.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ========================================
// Factory functions
// ========================================

// New builds an application error with no cause chain.
func New(op, message string) error {
	return &AppError{Op: op, Message: message}
}

// Newf builds an application error with a formatted message.
func Newf(op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches operation context to err.
func Wrap(err error, op string, message string) error {
	return &AppError{Op: op, Message: message, Err: err}
}

// Wrapf wraps err with a formatted message.
func Wrapf(err error, op, format string, args ...any) error {
	return &AppError{Op: op, Message: fmt.Sprintf(format, args...), Err: err}
}
