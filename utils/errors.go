package utils

import (
	"errors"
	"fmt"
)

// UserError is an error caused by invalid or missing user input such
// as a bad flag or configuration value.  The CLI prints only its
// message, without usage help, and exits 1.
type UserError struct {
	Message string
}

func (e *UserError) Error() string { return e.Message }

func NewUserError(msg string) error { return &UserError{Message: msg} }

func UserErrorf(format string, args ...interface{}) error {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err is or wraps a *UserError.
func IsUserError(err error) bool {
	var u *UserError
	return errors.As(err, &u)
}
