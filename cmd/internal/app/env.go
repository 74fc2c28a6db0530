package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// envValue returns the trimmed value of key, or "" when unset.
func envValue(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envString(key, def string) string {
	if v := envValue(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) bool {
	b, err := strconv.ParseBool(envValue(key))
	if err != nil {
		return def
	}
	return b
}

// envInt accepts positive values only.
func envInt(key string, def int) int {
	n, err := strconv.Atoi(envValue(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envInt32 accepts zero, used for DB_MIN_CONNS.
func envInt32(key string, def int32) int32 {
	n, err := strconv.ParseInt(envValue(key), 10, 32)
	if err != nil || n < 0 {
		return def
	}
	return int32(n)
}

func envDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(envValue(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}
