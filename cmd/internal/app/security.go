package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	authapi "eduplay/cmd/internal/auth/api"
	"eduplay/cmd/internal/auth/session"
	"eduplay/cmd/security/password"
	"eduplay/cmd/security/token"
)

// SecurityConfig groups the settings that govern credentials and sessions.
type SecurityConfig struct {
	Session   session.Config
	Passwords password.Config
	Auth      authapi.Config

	// BootstrapAdmin, when configured, is created at startup if no account
	// with that username exists. It is the only way to obtain
	// the first admin, who can then issue invites.
	BootstrapAdmin BootstrapAdmin
}

// BootstrapAdmin holds the initial admin credentials. Exactly one of
// Password (plaintext, policy-checked and hashed at startup) or
// PasswordHash (an encoded credential, see password.ParseCredential) is set.
type BootstrapAdmin struct {
	Username     string
	Password     string
	PasswordHash string
}

func (b BootstrapAdmin) enabled() bool {
	return strings.TrimSpace(b.Username) != "" && (b.Password != "" || b.PasswordHash != "")
}

// credential returns the admin's stored credential.
func (b BootstrapAdmin) credential(cfg password.Config) (password.Credential, error) {
	if b.PasswordHash != "" {
		return password.ParseCredential(b.PasswordHash)
	}
	if err := cfg.Validate(b.Password); err != nil {
		return password.Credential{}, err
	}
	return cfg.Hash(b.Password)
}

func (b BootstrapAdmin) validate() error {
	hasUser := strings.TrimSpace(b.Username) != ""
	hasPassword := b.Password != ""
	hasHash := b.PasswordHash != ""

	switch {
	case !hasUser && !hasPassword && !hasHash:
		return nil
	case !hasUser:
		return errors.New("security policy: bootstrap admin credential set without a username")
	case hasPassword && hasHash:
		return errors.New("security policy: set either the bootstrap admin password or its hash, not both")
	case !hasPassword && !hasHash:
		return errors.New("security policy: bootstrap admin needs a password or a password hash")
	}
	if hasHash {
		if _, err := password.ParseCredential(b.PasswordHash); err != nil {
			return fmt.Errorf("security policy: bootstrap admin password hash: %w", err)
		}
	}
	return nil
}

// LoadSecurityConfig reads every security-relevant env var. It fails on
// the first invalid value rather than falling back.
func LoadSecurityConfig() (SecurityConfig, error) {
	sess, err := session.LoadConfigFromEnv()
	if err != nil {
		return SecurityConfig{}, err
	}
	pw, err := password.FromEnv()
	if err != nil {
		return SecurityConfig{}, fmt.Errorf("password config: %w", err)
	}
	return SecurityConfig{
		Session:   sess,
		Passwords: pw,
		Auth:      authapi.LoadConfigFromEnv(),
		BootstrapAdmin: BootstrapAdmin{
			Username:     strings.TrimSpace(os.Getenv("EDUPLAY_BOOTSTRAP_ADMIN_USERNAME")),
			Password:     os.Getenv("EDUPLAY_BOOTSTRAP_ADMIN_PASSWORD"),
			PasswordHash: strings.TrimSpace(os.Getenv("EDUPLAY_BOOTSTRAP_ADMIN_PASSWORD_HASH")),
		},
	}, nil
}

// Floors applied at startup regardless of how the config was built.
const (
	minPBKDF2Iterations = 10_000
	minSaltLength       = 16
)

// ValidateSecurityConfig enforces the startup security policy. The server
// refuses to start rather than run with a weak secret or hash parameters.
func ValidateSecurityConfig(sec SecurityConfig) error {
	if _, err := token.ValidateSecret(sec.Session.Secret, token.MinSecretLength); err != nil {
		switch {
		case errors.Is(err, token.ErrSecretMissing):
			return fmt.Errorf("security policy: %s is missing", token.SecretEnvKey)
		case errors.Is(err, token.ErrSecretTooShort):
			return fmt.Errorf("security policy: %s is too short (min %d characters)", token.SecretEnvKey, token.MinSecretLength)
		default:
			return err
		}
	}
	if err := sec.Session.Validate(); err != nil {
		return err
	}

	p := sec.Passwords.Params
	if p.Iterations < minPBKDF2Iterations || p.Iterations > password.MaxIterations {
		return fmt.Errorf("security policy: pbkdf2 iterations %d out of range [%d..%d]", p.Iterations, minPBKDF2Iterations, password.MaxIterations)
	}
	if p.SaltLength < minSaltLength {
		return fmt.Errorf("security policy: salt length %d below %d bytes", p.SaltLength, minSaltLength)
	}
	if pol := sec.Passwords.Policy; pol.MinLength < 1 || pol.MinLength > pol.MaxLength {
		return fmt.Errorf("security policy: invalid password length bounds [%d..%d]", pol.MinLength, pol.MaxLength)
	}
	return sec.BootstrapAdmin.validate()
}
