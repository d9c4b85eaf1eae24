// Package config loads the datastream service configuration.
//
// The configuration is organized into sections:
//   - Service: name and environment labels
//   - Log: zap logger settings
//   - Redis: stream registry, stats and inbound queue store
//   - ClickHouse: historical click store used by backfill
//   - Queue: inbound queue backend and pop timeout
//   - Ingest: Kafka click consumer feeding the router
//   - Server: health and metrics listener
//   - Tracing: OpenTelemetry exporter
//   - Defaults: delivery settings applied to new streams
//
// Values come from a YAML file, overridden by DATASTREAM_* environment
// variables where the key path is upper-cased and dots become underscores:
//
//	DATASTREAM_REDIS_ADDR=redis:6379
//	DATASTREAM_QUEUE_BACKEND=memory
//	DATASTREAM_INGEST_BROKERS=kafka-1:9092,kafka-2:9092
//
// Example usage:
//
//	cfg, err := config.Load("datastream.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/datastream/pkg/errors"
	"github.com/ajitpratap0/datastream/pkg/logger"
	"github.com/ajitpratap0/datastream/pkg/models"
	"github.com/ajitpratap0/datastream/pkg/observability"
)

// EnvPrefix is the prefix of environment overrides.
const EnvPrefix = "DATASTREAM"

// Queue backends.
const (
	QueueRedis  = "redis"
	QueueMemory = "memory"
)

// Config is the complete service configuration.
type Config struct {
	Service    ServiceConfig               `mapstructure:"service" yaml:"service"`
	Log        logger.Config               `mapstructure:"log" yaml:"log"`
	Redis      RedisConfig                 `mapstructure:"redis" yaml:"redis"`
	ClickHouse ClickHouseConfig            `mapstructure:"clickhouse" yaml:"clickhouse"`
	Queue      QueueConfig                 `mapstructure:"queue" yaml:"queue"`
	Ingest     IngestConfig                `mapstructure:"ingest" yaml:"ingest"`
	Server     ServerConfig                `mapstructure:"server" yaml:"server"`
	Tracing    observability.TracingConfig `mapstructure:"tracing" yaml:"tracing"`
	Defaults   DefaultsConfig              `mapstructure:"defaults" yaml:"defaults"`
}

// ServiceConfig identifies the running instance.
type ServiceConfig struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Environment string `mapstructure:"environment" yaml:"environment"`
}

// RedisConfig holds the Redis connection settings.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" yaml:"addr"`
	Password     string        `mapstructure:"password" yaml:"password"`
	DB           int           `mapstructure:"db" yaml:"db"`
	PoolSize     int           `mapstructure:"pool_size" yaml:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
}

// ClickHouseConfig holds the historical store connection settings.
type ClickHouseConfig struct {
	Enabled         bool          `mapstructure:"enabled" yaml:"enabled"`
	Host            string        `mapstructure:"host" yaml:"host"`
	Port            int           `mapstructure:"port" yaml:"port"`
	Database        string        `mapstructure:"database" yaml:"database"`
	Username        string        `mapstructure:"username" yaml:"username"`
	Password        string        `mapstructure:"password" yaml:"password"`
	Table           string        `mapstructure:"table" yaml:"table"`
	UseTLS          bool          `mapstructure:"use_tls" yaml:"use_tls"`
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// QueueConfig selects the inbound queue backend.
type QueueConfig struct {
	// Backend is "redis" (durable, shared) or "memory" (single process).
	Backend string `mapstructure:"backend" yaml:"backend"`
	// PopTimeout bounds one blocking pop; the pump re-checks for shutdown
	// between pops.
	PopTimeout time.Duration `mapstructure:"pop_timeout" yaml:"pop_timeout"`
	// MemoryCapacity bounds each in-memory stream queue. Pushes beyond it
	// are dropped.
	MemoryCapacity int `mapstructure:"memory_capacity" yaml:"memory_capacity"`
}

// IngestConfig configures the Kafka click consumer.
type IngestConfig struct {
	Enabled       bool     `mapstructure:"enabled" yaml:"enabled"`
	Brokers       []string `mapstructure:"brokers" yaml:"brokers"`
	Topic         string   `mapstructure:"topic" yaml:"topic"`
	GroupID       string   `mapstructure:"group_id" yaml:"group_id"`
	InitialOffset string   `mapstructure:"initial_offset" yaml:"initial_offset"` // newest or oldest
}

// ServerConfig configures the health and metrics listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// DefaultsConfig holds the delivery settings new streams start with.
type DefaultsConfig struct {
	BatchSize            int `mapstructure:"batch_size" yaml:"batch_size"`
	BatchIntervalSeconds int `mapstructure:"batch_interval_seconds" yaml:"batch_interval_seconds"`
	MaxRetries           int `mapstructure:"max_retries" yaml:"max_retries"`
	RetryBackoffSeconds  int `mapstructure:"retry_backoff_seconds" yaml:"retry_backoff_seconds"`
}

// Delivery returns the defaults as a batch-mode delivery config.
func (d DefaultsConfig) Delivery() models.Delivery {
	return models.Delivery{
		Mode:                 models.DeliveryModeBatch,
		BatchSize:            d.BatchSize,
		BatchIntervalSeconds: d.BatchIntervalSeconds,
		MaxRetries:           d.MaxRetries,
		RetryBackoffSeconds:  d.RetryBackoffSeconds,
	}
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	delivery := models.DefaultDelivery()
	return &Config{
		Service: ServiceConfig{
			Name:        "datastream",
			Environment: "development",
		},
		Log: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		ClickHouse: ClickHouseConfig{
			Host:            "localhost",
			Port:            9000,
			Database:        "default",
			Username:        "default",
			Table:           "clicks",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Queue: QueueConfig{
			Backend:        QueueRedis,
			PopTimeout:     time.Second,
			MemoryCapacity: 10000,
		},
		Ingest: IngestConfig{
			Topic:         "clicks",
			GroupID:       "datastream",
			InitialOffset: "newest",
		},
		Server: ServerConfig{
			Addr:            ":9090",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Tracing: observability.TracingConfig{
			ServiceName:  "datastream",
			Exporter:     "stdout",
			SamplingRate: 1.0,
		},
		Defaults: DefaultsConfig{
			BatchSize:            delivery.BatchSize,
			BatchIntervalSeconds: delivery.BatchIntervalSeconds,
			MaxRetries:           delivery.MaxRetries,
			RetryBackoffSeconds:  delivery.RetryBackoffSeconds,
		},
	}
}

// Load reads path (when non-empty) over the defaults and applies
// DATASTREAM_* environment overrides. The result is validated.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to read config file")
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so environment overrides apply even
// when the file omits the key.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("service.name", d.Service.Name)
	v.SetDefault("service.environment", d.Service.Environment)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.encoding", d.Log.Encoding)
	v.SetDefault("log.development", d.Log.Development)
	v.SetDefault("log.output_paths", d.Log.OutputPaths)

	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.pool_size", d.Redis.PoolSize)
	v.SetDefault("redis.dial_timeout", d.Redis.DialTimeout)
	v.SetDefault("redis.read_timeout", d.Redis.ReadTimeout)
	v.SetDefault("redis.write_timeout", d.Redis.WriteTimeout)

	v.SetDefault("clickhouse.enabled", d.ClickHouse.Enabled)
	v.SetDefault("clickhouse.host", d.ClickHouse.Host)
	v.SetDefault("clickhouse.port", d.ClickHouse.Port)
	v.SetDefault("clickhouse.database", d.ClickHouse.Database)
	v.SetDefault("clickhouse.username", d.ClickHouse.Username)
	v.SetDefault("clickhouse.password", d.ClickHouse.Password)
	v.SetDefault("clickhouse.table", d.ClickHouse.Table)
	v.SetDefault("clickhouse.use_tls", d.ClickHouse.UseTLS)
	v.SetDefault("clickhouse.max_open_conns", d.ClickHouse.MaxOpenConns)
	v.SetDefault("clickhouse.max_idle_conns", d.ClickHouse.MaxIdleConns)
	v.SetDefault("clickhouse.conn_max_lifetime", d.ClickHouse.ConnMaxLifetime)

	v.SetDefault("queue.backend", d.Queue.Backend)
	v.SetDefault("queue.pop_timeout", d.Queue.PopTimeout)
	v.SetDefault("queue.memory_capacity", d.Queue.MemoryCapacity)

	v.SetDefault("ingest.enabled", d.Ingest.Enabled)
	v.SetDefault("ingest.brokers", d.Ingest.Brokers)
	v.SetDefault("ingest.topic", d.Ingest.Topic)
	v.SetDefault("ingest.group_id", d.Ingest.GroupID)
	v.SetDefault("ingest.initial_offset", d.Ingest.InitialOffset)

	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.service_name", d.Tracing.ServiceName)
	v.SetDefault("tracing.service_version", d.Tracing.ServiceVersion)
	v.SetDefault("tracing.environment", d.Tracing.Environment)
	v.SetDefault("tracing.exporter", d.Tracing.Exporter)
	v.SetDefault("tracing.sampling_rate", d.Tracing.SamplingRate)

	v.SetDefault("defaults.batch_size", d.Defaults.BatchSize)
	v.SetDefault("defaults.batch_interval_seconds", d.Defaults.BatchIntervalSeconds)
	v.SetDefault("defaults.max_retries", d.Defaults.MaxRetries)
	v.SetDefault("defaults.retry_backoff_seconds", d.Defaults.RetryBackoffSeconds)
}

// Validate checks the configuration for values the service cannot run
// with.
func (c *Config) Validate() error {
	var problems []string

	switch c.Queue.Backend {
	case QueueRedis, QueueMemory:
	default:
		problems = append(problems, "queue.backend must be redis or memory")
	}
	if c.Queue.PopTimeout <= 0 {
		problems = append(problems, "queue.pop_timeout must be positive")
	}
	if c.Queue.Backend == QueueRedis && c.Redis.Addr == "" {
		problems = append(problems, "redis.addr is required")
	}
	if c.Ingest.Enabled {
		if len(c.Ingest.Brokers) == 0 {
			problems = append(problems, "ingest.brokers is required when ingest is enabled")
		}
		if c.Ingest.Topic == "" {
			problems = append(problems, "ingest.topic is required when ingest is enabled")
		}
		if c.Ingest.InitialOffset != "newest" && c.Ingest.InitialOffset != "oldest" {
			problems = append(problems, "ingest.initial_offset must be newest or oldest")
		}
	}
	if c.ClickHouse.Enabled && c.ClickHouse.Host == "" {
		problems = append(problems, "clickhouse.host is required when clickhouse is enabled")
	}
	if c.Defaults.BatchSize <= 0 {
		problems = append(problems, "defaults.batch_size must be positive")
	}
	if c.Defaults.BatchIntervalSeconds <= 0 {
		problems = append(problems, "defaults.batch_interval_seconds must be positive")
	}
	if c.Defaults.MaxRetries < 0 {
		problems = append(problems, "defaults.max_retries cannot be negative")
	}
	if c.Defaults.RetryBackoffSeconds < 0 {
		problems = append(problems, "defaults.retry_backoff_seconds cannot be negative")
	}

	if len(problems) > 0 {
		return errors.New(errors.ErrorTypeConfig, "invalid configuration: "+strings.Join(problems, "; "))
	}
	return nil
}
