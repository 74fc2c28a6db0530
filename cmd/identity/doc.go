// Package identity holds eduplay's user accounts and supervisor links.
//
// Passwords never enter this package in clear text: callers hash with
// security/password and hand the resulting Credential to the store, which
// persists it as four columns (hash, salt, iterations, algorithm).
package identity
