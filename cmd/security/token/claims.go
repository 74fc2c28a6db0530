package token

import "time"

// Reserved claim names. Auxiliary claims may not use them.
const (
	ClaimSubject   = "sub"
	ClaimExpiresAt = "exp"
)

// Claims is the decoded content of a verified token.
//
// Extra holds auxiliary claims as decoded from JSON: strings, bools,
// float64 for numbers, []any and map[string]any.
type Claims struct {
	Subject   string
	ExpiresAt int64
	Extra     map[string]any
}

// Expiry returns ExpiresAt as a UTC time.
func (c Claims) Expiry() time.Time {
	return time.Unix(c.ExpiresAt, 0).UTC()
}

// Get returns an auxiliary claim.
func (c Claims) Get(name string) (any, bool) {
	v, ok := c.Extra[name]
	return v, ok
}

// GetString returns an auxiliary claim if it is a string.
func (c Claims) GetString(name string) (string, bool) {
	v, ok := c.Extra[name]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Issued is the result of Issue.
type Issued struct {
	Token     string
	ExpiresAt int64
}

// Expiry returns ExpiresAt as a UTC time.
func (i Issued) Expiry() time.Time {
	return time.Unix(i.ExpiresAt, 0).UTC()
}
