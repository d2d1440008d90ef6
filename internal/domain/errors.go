// Package domain holds the error kinds shared by the appointment and user domains.
package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Callers match them with errors.Is.
var (
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrUnauthenticated   = errors.New("unauthenticated")
)

// Error is a domain failure with a caller-facing message.
type Error struct {
	kind error
	msg  string
}

// Errorf builds an Error of the given kind.
func Errorf(kind error, format string, args ...any) error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

func (e *Error) Error() string { return e.msg }

// Unwrap exposes the kind to errors.Is.
func (e *Error) Unwrap() error { return e.kind }

// Kind returns the error kind of err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrForbidden, ErrNotFound, ErrValidation, ErrConflict, ErrInvalidTransition, ErrUnauthenticated} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
