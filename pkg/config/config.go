// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for the
// pipeline engine and every backend it can talk to (PostgreSQL, SQLite,
// Kafka, Redis) plus the query server, logging and metrics.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends.
const (
	BackendNone     = "none"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config is the top-level application configuration.
type Config struct {
	Pipeline PipelineConfig `yaml:"pipeline"`
	Store    StoreConfig    `yaml:"store"`
	Postgres PostgresConfig `yaml:"postgres"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Server   ServerConfig   `yaml:"server"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// PipelineConfig controls the in-process execution engine and where stage
// output directories are written.
type PipelineConfig struct {
	DataDir          string `yaml:"dataDir"`
	MapWorkers       int    `yaml:"mapWorkers"`
	ReduceWorkers    int    `yaml:"reduceWorkers"`
	Partitions       int    `yaml:"partitions"`
	KeepIntermediate bool   `yaml:"keepIntermediate"`
}

// StoreConfig selects where final scores are persisted.
type StoreConfig struct {
	Backend   string `yaml:"backend"`
	BatchSize int    `yaml:"batchSize"`
}

// ServerConfig holds HTTP query server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	DefaultLimit    int           `yaml:"defaultLimit"`
	MaxLimit        int           `yaml:"maxLimit"`
	CORSOrigins     []string      `yaml:"corsOrigins"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// SQLiteConfig holds the embedded database path used in local mode.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Brokers         []string      `yaml:"brokers"`
	Partition       int           `yaml:"partition"`
	ConsumerGroup   string        `yaml:"consumerGroup"`
	SnapshotTimeout time.Duration `yaml:"snapshotTimeout"`
	Topics          KafkaTopics   `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	Corpus      string `yaml:"corpus"`
	Scores      string `yaml:"scores"`
	JobComplete string `yaml:"jobComplete"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for running the pipeline locally with no
// external services.
func Default() *Config {
	return &Config{
		Pipeline: PipelineConfig{
			DataDir:       "data",
			MapWorkers:    4,
			ReduceWorkers: 4,
			Partitions:    4,
		},
		Store: StoreConfig{
			Backend:   BackendSQLite,
			BatchSize: 500,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "tfidf",
			User:            "tfidf",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		SQLite: SQLiteConfig{
			Path: "data/tfidf.db",
		},
		Kafka: KafkaConfig{
			Brokers:         []string{"localhost:9092"},
			ConsumerGroup:   "tfidf-query",
			SnapshotTimeout: 30 * time.Second,
			Topics: KafkaTopics{
				Corpus:      "corpus-documents",
				Scores:      "tfidf-scores",
				JobComplete: "tfidf.complete",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 10 * time.Minute,
		},
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			DefaultLimit:    10,
			MaxLimit:        100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    9090,
		},
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Pipeline.DataDir == "" {
		return fmt.Errorf("pipeline.dataDir must be set")
	}
	if c.Pipeline.MapWorkers <= 0 || c.Pipeline.ReduceWorkers <= 0 {
		return fmt.Errorf("pipeline workers must be positive (map=%d reduce=%d)",
			c.Pipeline.MapWorkers, c.Pipeline.ReduceWorkers)
	}
	if c.Pipeline.Partitions <= 0 {
		return fmt.Errorf("pipeline.partitions must be positive, got %d", c.Pipeline.Partitions)
	}
	switch c.Store.Backend {
	case BackendNone, BackendPostgres:
	case BackendSQLite:
		if c.SQLite.Path == "" {
			return fmt.Errorf("sqlite.path must be set for the sqlite backend")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Store.BatchSize <= 0 {
		return fmt.Errorf("store.batchSize must be positive, got %d", c.Store.BatchSize)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers must be set when kafka is enabled")
	}
	return nil
}

// applyEnvOverrides reads TP_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("TP_DATA_DIR"); v != "" {
		cfg.Pipeline.DataDir = v
	}
	if v := os.Getenv("TP_MAP_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.MapWorkers = n
		}
	}
	if v := os.Getenv("TP_REDUCE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pipeline.ReduceWorkers = n
		}
	}
	if v := os.Getenv("TP_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("TP_SQLITE_PATH"); v != "" {
		cfg.SQLite.Path = v
	}
	if v := os.Getenv("TP_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("TP_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("TP_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("TP_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("TP_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("TP_POSTGRES_SSLMODE"); v != "" {
		cfg.Postgres.SSLMode = v
	}
	if v := os.Getenv("TP_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
		cfg.Kafka.Enabled = true
	}
	if v := os.Getenv("TP_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("TP_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TP_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("TP_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("TP_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("TP_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
