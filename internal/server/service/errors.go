package service

import (
	"errors"
	"fmt"
)

// Error kinds returned by the service layer. Handlers map these to HTTP statuses.
var (
	ErrValidation      = errors.New("validation failed")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
)

// Error carries a client-facing detail message alongside its kind.
type Error struct {
	Kind   error
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Detail returns the client-facing message of err, or "" if it has none.
func Detail(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Detail
	}
	return ""
}
