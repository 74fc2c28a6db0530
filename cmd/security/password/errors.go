package password

import "errors"

// Public, stable errors for callers.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrPasswordTooShort = errors.New("password too short")
	ErrPasswordTooLong  = errors.New("password too long")
	ErrWeakPassword     = errors.New("weak password")
	ErrInvalidHash      = errors.New("invalid password hash")
)
