package session

import "errors"

var (
	// ErrInvalidToken is returned when a session token fails verification.
	// It deliberately does not say why.
	ErrInvalidToken = errors.New("invalid token")

	// ErrSessionRevoked is returned when a valid token has been revoked.
	ErrSessionRevoked = errors.New("session revoked")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)
