// Package session manages eduplay login sessions on top of security/token.
//
// A session is a signed, self-contained token carried in the "session"
// cookie (or an Authorization: Bearer header). The service owns the signing
// secret and the clock, stamps every token with a unique id (jti), and
// consults a Denylist so logout and password changes end a session before
// its natural expiry.
package session
