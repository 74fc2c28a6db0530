package token

import (
	"os"
	"strings"
	"unicode/utf8"
)

const (
	// SecretEnvKey is the env var name for the session signing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	SecretEnvKey = "EDUPLAY_SESSION_SECRET"

	// MinSecretLength is the minimum secret length in characters.
	MinSecretLength = 32
)

// SecretFromEnv returns the trimmed session secret, enforcing a minimum length.
// If the env var is missing/blank -> ErrSecretMissing.
// If too short -> ErrSecretTooShort.
func SecretFromEnv(minLen int) (string, error) {
	return ValidateSecret(os.Getenv(SecretEnvKey), minLen)
}

// ValidateSecret trims raw and checks it against minLen characters.
func ValidateSecret(raw string, minLen int) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", ErrSecretMissing
	}
	if minLen > 0 && utf8.RuneCountInString(s) < minLen {
		return "", ErrSecretTooShort
	}
	return s, nil
}
