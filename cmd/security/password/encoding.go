package password

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// MaxIterations bounds the work factor accepted from stored or encoded
// credentials.
const MaxIterations = 10_000_000

// Encode renders the credential in a PHC-like single-field form:
// $pbkdf2-sha256$i=<iterations>$<salt_b64>$<key_b64>
func (c Credential) Encode() string {
	return fmt.Sprintf("$%s$i=%d$%s$%s", c.Algorithm, c.Iterations, c.Salt, c.Key)
}

// String omits the salt and key so a credential can be printed safely.
func (c Credential) String() string {
	return fmt.Sprintf("$%s$i=%d$[redacted]", c.Algorithm, c.Iterations)
}

// LogValue keeps salt and key out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("algorithm", c.Algorithm),
		slog.Int("iterations", c.Iterations),
	)
}

// ParseCredential decodes the form produced by Credential.Encode.
// It returns ErrInvalidHash for anything it does not fully understand.
func ParseCredential(encoded string) (Credential, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 5 || parts[0] != "" || parts[1] != AlgorithmPBKDF2SHA256 {
		return Credential{}, ErrInvalidHash
	}

	if !strings.HasPrefix(parts[2], "i=") {
		return Credential{}, ErrInvalidHash
	}
	it, err := strconv.Atoi(strings.TrimPrefix(parts[2], "i="))
	if err != nil || it <= 0 || it > MaxIterations {
		return Credential{}, ErrInvalidHash
	}

	b64 := base64.StdEncoding
	salt, err := b64.DecodeString(parts[3])
	if err != nil || len(salt) < 8 || len(salt) > 64 {
		return Credential{}, ErrInvalidHash
	}
	key, err := b64.DecodeString(parts[4])
	if err != nil || len(key) != KeyLength {
		return Credential{}, ErrInvalidHash
	}

	return Credential{
		Algorithm:  AlgorithmPBKDF2SHA256,
		Iterations: it,
		Salt:       parts[3],
		Key:        parts[4],
	}, nil
}
