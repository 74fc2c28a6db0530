package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBSchema    string
	DBMaxConns  int32
	DBMinConns  int32

	// DBAutoMigrate applies the CREATE TABLE IF NOT EXISTS schema at startup.
	DBAutoMigrate bool

	// If true, /readyz returns 503 unless the DB is configured and reachable.
	ReadinessRequireDB bool

	MetricsEnabled bool

	// RevocationPurgeInterval is how often expired denylist entries are
	// deleted. Zero disables the purge loop.
	RevocationPurgeInterval time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  envString("EDUPLAY_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  envString("EDUPLAY_LOG_LEVEL", "info"),
		LogFormat: envString("EDUPLAY_LOG_FORMAT", "json"),

		ReadHeaderTimeout: envDuration("EDUPLAY_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       envDuration("EDUPLAY_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      envDuration("EDUPLAY_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       envDuration("EDUPLAY_HTTP_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   envDuration("EDUPLAY_HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxHeaderBytes:    envInt("EDUPLAY_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:   envString("EDUPLAY_DATABASE_URL", ""),
		DBSchema:      envString("EDUPLAY_DB_SCHEMA", "eduplay"),
		DBMaxConns:    envInt32("EDUPLAY_DB_MAX_CONNS", 10),
		DBMinConns:    envInt32("EDUPLAY_DB_MIN_CONNS", 0),
		DBAutoMigrate: envBool("EDUPLAY_DB_AUTO_MIGRATE", true),

		ReadinessRequireDB: envBool("EDUPLAY_READINESS_REQUIRE_DB", false),
		MetricsEnabled:     envBool("EDUPLAY_METRICS_ENABLED", true),

		RevocationPurgeInterval: envDuration("EDUPLAY_REVOCATION_PURGE_INTERVAL", 15*time.Minute),
	}
}
