package password

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Params controls PBKDF2 hashing cost for new credentials.
type Params struct {
	Iterations int
	SaltLength int
}

// Policy controls password validation and anti-DoS boundaries.
type Policy struct {
	MinLength int
	MaxLength int
	// If true, enable an extra, minimal weak-pattern rejection.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Params
	Policy Policy
}

// DefaultConfig returns the baseline used for child and parent accounts.
func DefaultConfig() Config {
	return Config{
		Params: Params{
			Iterations: DefaultIterations,
			SaltLength: DefaultSaltLength,
		},
		Policy: Policy{
			MinLength:      8,
			MaxLength:      256,
			RejectVeryWeak: false,
		},
	}
}

// FromEnv loads config from environment variables.
//
// Env surface:
// - EDUPLAY_PASSWORD_MIN_LEN
// - EDUPLAY_PASSWORD_MAX_LEN
// - EDUPLAY_PASSWORD_REJECT_VERY_WEAK (true/false)
// - EDUPLAY_PBKDF2_ITERATIONS
// - EDUPLAY_PBKDF2_SALT_LEN
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v, ok := os.LookupEnv("EDUPLAY_PASSWORD_MIN_LEN"); ok {
		n, err := atoiInRange(v, 1, 1024)
		if err != nil {
			return Config{}, fmt.Errorf("EDUPLAY_PASSWORD_MIN_LEN: %w", err)
		}
		cfg.Policy.MinLength = n
	}

	if v, ok := os.LookupEnv("EDUPLAY_PASSWORD_MAX_LEN"); ok {
		n, err := atoiInRange(v, 1, 4096)
		if err != nil {
			return Config{}, fmt.Errorf("EDUPLAY_PASSWORD_MAX_LEN: %w", err)
		}
		cfg.Policy.MaxLength = n
	}

	if v, ok := os.LookupEnv("EDUPLAY_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := parseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("EDUPLAY_PASSWORD_REJECT_VERY_WEAK: %w", err)
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if v, ok := os.LookupEnv("EDUPLAY_PBKDF2_ITERATIONS"); ok {
		n, err := atoiInRange(v, 10_000, MaxIterations)
		if err != nil {
			return Config{}, fmt.Errorf("EDUPLAY_PBKDF2_ITERATIONS: %w", err)
		}
		cfg.Params.Iterations = n
	}

	if v, ok := os.LookupEnv("EDUPLAY_PBKDF2_SALT_LEN"); ok {
		n, err := atoiInRange(v, 16, 64)
		if err != nil {
			return Config{}, fmt.Errorf("EDUPLAY_PBKDF2_SALT_LEN: %w", err)
		}
		cfg.Params.SaltLength = n
	}

	// Final sanity.
	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf(
			"password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength,
			cfg.Policy.MaxLength,
		)
	}

	return cfg, nil
}

func atoiInRange(s string, minVal, maxVal int) (int, error) {
	s = strings.TrimSpace(s)
	i64, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}

	i := int(i64)
	if i < minVal || i > maxVal {
		return 0, fmt.Errorf("out of range [%d..%d]", minVal, maxVal)
	}
	return i, nil
}

func parseBool(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "1", "true", "TRUE", "True", "yes", "YES", "Yes", "on", "ON", "On":
		return true, nil
	case "0", "false", "FALSE", "False", "no", "NO", "No", "off", "OFF", "Off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean")
	}
}
