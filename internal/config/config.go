// Package config defines service configuration and how it is loaded.
//
// Conventions:
// - New returns a Config holding every default.
// - Load layers a YAML file and environment variables over the defaults.
// - Keys are flat so each maps 1:1 to a TEMPO_ environment variable.
package config

import (
	"fmt"
	"net"
	"net/url"
	"runtime"
	"strconv"
	"strings"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`
	// AllowedOrigin is the CORS origin; empty disables CORS headers.
	AllowedOrigin string `koanf:"allowed_origin"`

	// Store selects the persistence backend: memory or postgres.
	Store string `koanf:"store"`

	PostgresHost     string `koanf:"postgres_host"`
	PostgresPort     int    `koanf:"postgres_port"`
	PostgresUser     string `koanf:"postgres_user"`
	PostgresPassword string `koanf:"postgres_password"`
	PostgresDB       string `koanf:"postgres_db"`
	PostgresMaxConns int    `koanf:"postgres_max_conns"`
	// PostgresMigrate applies the bundled schema at startup.
	PostgresMigrate bool `koanf:"postgres_migrate"`

	// SeedFile is a YAML file of players and charts loaded into the memory store.
	SeedFile string `koanf:"seed_file"`

	// MaxBatchSize caps the number of plays in one submission.
	MaxBatchSize int `koanf:"max_batch_size"`

	// QueueSize bounds the in-memory progress queue.
	QueueSize int `koanf:"queue_size"`
	// WorkerCount sets the number of progress workers.
	WorkerCount int `koanf:"worker_count"`
	// IdempotencySize bounds the idempotency ledger.
	IdempotencySize int `koanf:"idempotency_size"`

	// RankingLimit is the default size of ranking responses.
	RankingLimit int `koanf:"ranking_limit"`
	// MaxRankingLimit caps ?limit on ranking endpoints.
	MaxRankingLimit int `koanf:"max_ranking_limit"`
	// SnapshotIntervalMS is how often standings snapshots are rebuilt.
	SnapshotIntervalMS int `koanf:"snapshot_interval_ms"`

	// KafkaBrokers is a comma separated broker list; empty disables publishing.
	KafkaBrokers string `koanf:"kafka_brokers"`
	KafkaTopic   string `koanf:"kafka_topic"`

	// MetricsEnabled serves the Prometheus metrics on /metrics.
	MetricsEnabled bool `koanf:"metrics_enabled"`
	// MetricsNamespace prefixes every metric name.
	MetricsNamespace string `koanf:"metrics_namespace"`

	// S3Bucket enables the standings archive when set.
	S3Bucket string `koanf:"s3_bucket"`
	S3Prefix string `koanf:"s3_prefix"`
}

// New returns a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":8080",
		Store:              StoreMemory,
		PostgresHost:       "localhost",
		PostgresPort:       5432,
		PostgresUser:       "postgres",
		PostgresDB:         "tempo",
		PostgresMaxConns:   min(runtime.NumCPU()*4, 64),
		MaxBatchSize:       64,
		QueueSize:          10_000,
		WorkerCount:        runtime.NumCPU(),
		IdempotencySize:    50_000,
		RankingLimit:       20,
		MaxRankingLimit:    100,
		SnapshotIntervalMS: 1_000,
		KafkaTopic:         "tempo.progress",
		MetricsEnabled:     true,
		MetricsNamespace:   "tempo",
		S3Prefix:           "standings",
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.Store != StoreMemory && c.Store != StorePostgres:
		return fmt.Errorf("%w: store must be %q or %q, got %q", ErrInvalidConfig, StoreMemory, StorePostgres, c.Store)
	case c.Store == StorePostgres && (c.PostgresHost == "" || c.PostgresDB == ""):
		return fmt.Errorf("%w: postgres store needs postgres_host and postgres_db", ErrInvalidConfig)
	case c.MaxBatchSize < 1:
		return fmt.Errorf("%w: max_batch_size must be positive", ErrInvalidConfig)
	case c.RankingLimit < 1 || c.MaxRankingLimit < c.RankingLimit:
		return fmt.Errorf("%w: ranking_limit must be in [1, max_ranking_limit]", ErrInvalidConfig)
	case c.KafkaBrokers != "" && strings.TrimSpace(c.KafkaTopic) == "":
		return fmt.Errorf("%w: kafka_topic must be set with kafka_brokers", ErrInvalidConfig)
	}
	return nil
}

// PostgresDSN builds a postgres:// URL from the postgres_* keys.
func (c *Config) PostgresDSN() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(c.PostgresHost, strconv.Itoa(c.PostgresPort)),
		Path:   "/" + c.PostgresDB,
	}
	if c.PostgresPassword != "" {
		u.User = url.UserPassword(c.PostgresUser, c.PostgresPassword)
	} else if c.PostgresUser != "" {
		u.User = url.User(c.PostgresUser)
	}
	if c.PostgresMaxConns > 0 {
		u.RawQuery = url.Values{"pool_max_conns": {strconv.Itoa(c.PostgresMaxConns)}}.Encode()
	}
	return u.String()
}

// Brokers splits KafkaBrokers, dropping blanks.
func (c *Config) Brokers() []string {
	var out []string
	for _, b := range strings.Split(c.KafkaBrokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
