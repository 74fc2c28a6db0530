package token

// Digest returns the lowercase hex HMAC-SHA256 of value under secret, the
// same construction that signs session tokens. Stores keep Digest(token)
// as a lookup key for opaque one-time tokens instead of the plaintext.
func Digest(value, secret string) string {
	return signHex(value, secret)
}
