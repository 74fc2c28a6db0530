// Package password provides password hashing and verification for eduplay.
//
// It derives PBKDF2-HMAC-SHA256 keys and stores them as a Credential: the
// algorithm tag, the iteration count, the salt and the derived key. Iterations
// and salt live with each credential so defaults can be raised over time
// without invalidating older hashes.
//
// Security notes:
//   - Verify never returns an error. Unknown algorithms, malformed records and
//     mismatches all report false.
//   - Derived keys are compared in constant time (see cmd/security/consttime).
//   - Encoded credential strings are untrusted input; ParseCredential bounds
//     the iteration count before any derivation happens.
package password
