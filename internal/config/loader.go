package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "roundtable.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "ROUNDTABLE_PORT")
	setString(&cfg.Server.CORSOrigin, "ROUNDTABLE_CORS_ORIGIN")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "ROUNDTABLE_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "ROUNDTABLE_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "ROUNDTABLE_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "ROUNDTABLE_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "ROUNDTABLE_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.LiteLLM.URL, "LITELLM_URL")
	setString(&cfg.LiteLLM.MasterKey, "LITELLM_MASTER_KEY")
	setString(&cfg.LiteLLM.Model, "ROUNDTABLE_LLM_MODEL")
	setInt(&cfg.LiteLLM.MaxTokens, "ROUNDTABLE_LLM_MAX_TOKENS")
	setString(&cfg.Logging.Level, "ROUNDTABLE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "ROUNDTABLE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "ROUNDTABLE_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "ROUNDTABLE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "ROUNDTABLE_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "ROUNDTABLE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "ROUNDTABLE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "ROUNDTABLE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "ROUNDTABLE_RATE_MAX_IDLE_TIME")
	setInt(&cfg.Engine.MaxIterations, "ROUNDTABLE_MAX_ITERATIONS")
	setInt(&cfg.Engine.NoopLimit, "ROUNDTABLE_NOOP_LIMIT")
	setDuration(&cfg.Engine.HeartbeatInterval, "ROUNDTABLE_HEARTBEAT_INTERVAL")
	setDuration(&cfg.Engine.StallDeadline, "ROUNDTABLE_STALL_DEADLINE")
	setInt(&cfg.Engine.QueueCapacity, "ROUNDTABLE_QUEUE_CAPACITY")
	setInt64(&cfg.Cache.MaxSizeMB, "ROUNDTABLE_CACHE_SIZE_MB")
	setDuration(&cfg.Cache.TTL, "ROUNDTABLE_CACHE_TTL")
	setString(&cfg.Idempotency.Bucket, "ROUNDTABLE_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "ROUNDTABLE_IDEMPOTENCY_TTL")
	setString(&cfg.MCP.Addr, "ROUNDTABLE_MCP_ADDR")
	setString(&cfg.MCP.APIKey, "ROUNDTABLE_MCP_API_KEY")
	setString(&cfg.Telemetry.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setBool(&cfg.Telemetry.Insecure, "OTEL_EXPORTER_OTLP_INSECURE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.NATS.URL == "" {
		return errors.New("nats.url is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Engine.MaxIterations < 1 {
		return errors.New("engine.max_iterations must be >= 1")
	}
	if cfg.Engine.HeartbeatInterval <= 0 {
		return errors.New("engine.heartbeat_interval must be positive")
	}
	if cfg.Engine.StallDeadline <= cfg.Engine.HeartbeatInterval {
		return errors.New("engine.stall_deadline must exceed engine.heartbeat_interval")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
