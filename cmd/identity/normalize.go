package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MinUsernameLength = 3
	MaxUsernameLength = 50
)

// NormalizeUsername performs case-insensitive canonicalization.
// Note: for now we only trim + lower-case. Confusable folding would need a
// versioned policy since it changes the uniqueness key.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ValidateUsername checks the trimmed display form of a username:
// 3..50 characters, no control characters.
func ValidateUsername(s string) error {
	const op = "identity.ValidateUsername"

	s = strings.TrimSpace(s)
	n := utf8.RuneCountInString(s)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return invalid(op, "username must be 3..50 characters")
	}
	if !utf8.ValidString(s) {
		return invalid(op, "username is not valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return invalid(op, "username contains control characters")
		}
	}
	return nil
}
