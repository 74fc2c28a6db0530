package session

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"eduplay/cmd/security/token"
)

const (
	DefaultTTL        = 24 * time.Hour
	MaxTTL            = 30 * 24 * time.Hour
	DefaultCookieName = "session"
)

// Config defines runtime configuration for the session subsystem.
type Config struct {
	// Secret signs and verifies session tokens. At least
	// token.MinSecretLength characters.
	Secret string

	// TTL is the session lifetime. Sub-second precision is dropped.
	TTL time.Duration

	CookieName     string
	CookiePath     string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// DefaultConfig returns defaults without a secret.
func DefaultConfig() Config {
	return Config{
		TTL:            DefaultTTL,
		CookieName:     DefaultCookieName,
		CookiePath:     "/",
		CookieSecure:   true,
		CookieSameSite: http.SameSiteLaxMode,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - EDUPLAY_SESSION_SECRET (>= 32 characters)
//
// Optional:
//   - EDUPLAY_SESSION_TTL (Go duration, 1s..720h)
//   - EDUPLAY_SESSION_COOKIE_NAME
//   - EDUPLAY_SESSION_COOKIE_SECURE (bool)
//   - EDUPLAY_SESSION_COOKIE_SAMESITE (lax|strict|none)
//
// Errors wrap ErrConfig.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	secret, err := token.SecretFromEnv(token.MinSecretLength)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s: %w", ErrConfig, token.SecretEnvKey, err)
	}
	cfg.Secret = secret

	if v := strings.TrimSpace(os.Getenv("EDUPLAY_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: EDUPLAY_SESSION_TTL: %v", ErrConfig, err)
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("EDUPLAY_SESSION_COOKIE_NAME")); v != "" {
		cfg.CookieName = v
	}

	if v := strings.TrimSpace(os.Getenv("EDUPLAY_SESSION_COOKIE_SECURE")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: EDUPLAY_SESSION_COOKIE_SECURE: %v", ErrConfig, err)
		}
		cfg.CookieSecure = b
	}

	if v := strings.TrimSpace(os.Getenv("EDUPLAY_SESSION_COOKIE_SAMESITE")); v != "" {
		ss, ok := parseSameSite(v)
		if !ok {
			return Config{}, fmt.Errorf("%w: EDUPLAY_SESSION_COOKIE_SAMESITE: %q", ErrConfig, v)
		}
		cfg.CookieSameSite = ss
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that hold regardless of where cfg came from.
func (c Config) Validate() error {
	if _, err := token.ValidateSecret(c.Secret, token.MinSecretLength); err != nil {
		return fmt.Errorf("%w: secret: %w", ErrConfig, err)
	}
	if c.TTL < time.Second || c.TTL > MaxTTL {
		return fmt.Errorf("%w: ttl must be within 1s..%s", ErrConfig, MaxTTL)
	}
	if !validCookieName(c.CookieName) {
		return fmt.Errorf("%w: invalid cookie name %q", ErrConfig, c.CookieName)
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return fmt.Errorf("%w: SameSite=None requires a secure cookie", ErrConfig)
	}
	return nil
}

func (c Config) ttlSeconds() int64 {
	return int64(c.TTL / time.Second)
}

func parseSameSite(s string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	default:
		return 0, false
	}
}

func validCookieName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}
