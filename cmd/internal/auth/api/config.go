package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	// AllowParentSignup lets anonymous clients register parent accounts.
	// Child accounts can always be registered.
	AllowParentSignup bool

	LoginIPMax    int
	LoginIPWindow time.Duration

	// LockoutWindow bounds how far back per-username failures are counted.
	LockoutWindow          time.Duration
	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration
}

// DefaultConfig returns the defaults LoadConfigFromEnv starts from.
func DefaultConfig() Config {
	return Config{
		TrustProxy:             false,
		MaxBodyBytes:           64 << 10,
		AllowParentSignup:      true,
		LoginIPMax:             20,
		LoginIPWindow:          5 * time.Minute,
		LockoutWindow:          2 * time.Hour,
		LockoutShortThreshold:  5,
		LockoutShortDuration:   5 * time.Minute,
		LockoutLongThreshold:   10,
		LockoutLongDuration:    30 * time.Minute,
		LockoutSevereThreshold: 20,
		LockoutSevereDuration:  2 * time.Hour,
	}
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
// Unparseable or non-positive values fall back to the default.
func LoadConfigFromEnv() Config {
	def := DefaultConfig()
	cfg := Config{
		TrustProxy:             envBool("EDUPLAY_AUTH_TRUST_PROXY", def.TrustProxy),
		MaxBodyBytes:           envInt64("EDUPLAY_AUTH_MAX_BODY_BYTES", def.MaxBodyBytes),
		AllowParentSignup:      envBool("EDUPLAY_AUTH_ALLOW_PARENT_SIGNUP", def.AllowParentSignup),
		LoginIPMax:             envInt("EDUPLAY_AUTH_LOGIN_IP_MAX", def.LoginIPMax),
		LoginIPWindow:          envDuration("EDUPLAY_AUTH_LOGIN_IP_WINDOW", def.LoginIPWindow),
		LockoutWindow:          envDuration("EDUPLAY_AUTH_LOCKOUT_WINDOW", def.LockoutWindow),
		LockoutShortThreshold:  envInt("EDUPLAY_AUTH_LOCKOUT_SHORT_THRESHOLD", def.LockoutShortThreshold),
		LockoutShortDuration:   envDuration("EDUPLAY_AUTH_LOCKOUT_SHORT_DURATION", def.LockoutShortDuration),
		LockoutLongThreshold:   envInt("EDUPLAY_AUTH_LOCKOUT_LONG_THRESHOLD", def.LockoutLongThreshold),
		LockoutLongDuration:    envDuration("EDUPLAY_AUTH_LOCKOUT_LONG_DURATION", def.LockoutLongDuration),
		LockoutSevereThreshold: envInt("EDUPLAY_AUTH_LOCKOUT_SEVERE_THRESHOLD", def.LockoutSevereThreshold),
		LockoutSevereDuration:  envDuration("EDUPLAY_AUTH_LOCKOUT_SEVERE_DURATION", def.LockoutSevereDuration),
	}

	// A lockout must be able to see at least its own longest duration.
	if cfg.LockoutWindow < cfg.LockoutSevereDuration {
		cfg.LockoutWindow = cfg.LockoutSevereDuration
	}
	return cfg
}

func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
