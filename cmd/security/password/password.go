package password

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"eduplay/cmd/security/consttime"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// AlgorithmPBKDF2SHA256 is the only algorithm tag Verify accepts.
	AlgorithmPBKDF2SHA256 = "pbkdf2-sha256"

	// KeyLength is the derived key size in bytes for AlgorithmPBKDF2SHA256.
	KeyLength = 32

	DefaultIterations = 100_000
	DefaultSaltLength = 16
)

// Credential is one verifiable password. Salt and Key are standard base64.
// A Credential is never modified after creation; a password change produces
// a new one.
type Credential struct {
	Algorithm  string
	Iterations int
	Salt       string
	Key        string
}

// Option tunes a single Hash call.
type Option func(*Params)

// WithIterations overrides the PBKDF2 work factor.
func WithIterations(n int) Option {
	return func(p *Params) { p.Iterations = n }
}

// WithSaltLength overrides the salt size in bytes.
func WithSaltLength(n int) Option {
	return func(p *Params) { p.SaltLength = n }
}

// Hash derives a new Credential for password with a fresh random salt.
// Password policy (length, weak patterns) is the caller's job; Hash only
// rejects an empty password.
func Hash(password string, opts ...Option) (Credential, error) {
	p := Params{Iterations: DefaultIterations, SaltLength: DefaultSaltLength}
	for _, opt := range opts {
		if opt != nil {
			opt(&p)
		}
	}
	return hashWithParams(password, p)
}

// Hash derives a Credential using the configured parameters.
func (c Config) Hash(password string) (Credential, error) {
	return hashWithParams(password, c.Params)
}

func hashWithParams(password string, p Params) (Credential, error) {
	if password == "" {
		return Credential{}, fmt.Errorf("%w: empty password", ErrInvalidInput)
	}
	if p.Iterations <= 0 {
		return Credential{}, fmt.Errorf("%w: iterations must be positive", ErrInvalidInput)
	}
	if p.SaltLength <= 0 {
		return Credential{}, fmt.Errorf("%w: salt length must be positive", ErrInvalidInput)
	}

	salt := make([]byte, p.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return Credential{}, fmt.Errorf("salt: %w", err)
	}

	key := derive(password, salt, p.Iterations, KeyLength)

	b64 := base64.StdEncoding
	return Credential{
		Algorithm:  AlgorithmPBKDF2SHA256,
		Iterations: p.Iterations,
		Salt:       b64.EncodeToString(salt),
		Key:        b64.EncodeToString(key),
	}, nil
}

// Verify reports whether password matches stored.
// A nil or malformed credential, one with an unknown algorithm, or one whose
// work factor exceeds MaxIterations is a mismatch.
func Verify(password string, stored *Credential) bool {
	if stored == nil {
		return false
	}
	if strings.TrimSpace(stored.Algorithm) != AlgorithmPBKDF2SHA256 {
		return false
	}
	if stored.Iterations <= 0 || stored.Iterations > MaxIterations {
		return false
	}

	b64 := base64.StdEncoding
	salt, err := b64.DecodeString(stored.Salt)
	if err != nil || len(salt) == 0 {
		return false
	}
	expected, err := b64.DecodeString(stored.Key)
	if err != nil || len(expected) != KeyLength {
		return false
	}

	key := derive(password, salt, stored.Iterations, KeyLength)
	return consttime.Equal(key, expected)
}

func derive(password string, salt []byte, iterations, keyLen int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, keyLen, sha256.New)
}
