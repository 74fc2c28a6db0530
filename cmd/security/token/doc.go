// Package token issues and verifies eduplay session tokens.
//
// A token is two ASCII parts joined by a single dot:
//
//	base64url(json claims) "." hex(HMAC-SHA256(secret, base64url(json claims)))
//
// Claims always carry "sub" (the principal) and "exp" (Unix seconds); any
// other fields are auxiliary. Tokens are self-contained and immutable: there is
// no refresh, and a token is valid strictly before its "exp".
//
// Verify treats every failure the same way (bad shape, bad signature, bad
// payload, expired) and reports only false, so callers cannot leak which check
// failed. The package holds no state; the secret and the clock are supplied on
// every call.
//
// Environment:
//   - EDUPLAY_SESSION_SECRET: signing secret, read by SecretFromEnv (>= 32 chars).
package token
