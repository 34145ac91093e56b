// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Backend   BackendConfig   `mapstructure:"backend"`
	DB        DBConfig        `mapstructure:"db"`
	Storage   StorageConfig   `mapstructure:"storage"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DispatchConfig governs the dispatch pipeline.
type DispatchConfig struct {
	MaxInFlight    int `mapstructure:"max_in_flight"`
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
	BatchLatencyMs int `mapstructure:"batch_latency_ms"`
}

// BackendConfig selects the calculation backend.
type BackendConfig struct {
	Kind string `mapstructure:"kind"`
}

// DBConfig controls access to the run store database.
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	Table        string `mapstructure:"table"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// StorageConfig selects the snapshot archive backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	Bucket  string `mapstructure:"bucket"`
	BaseDir string `mapstructure:"base_dir"`
	Prefix  string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TelemetryConfig controls the OpenTelemetry bootstrap.
type TelemetryConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	ProjectID string `mapstructure:"project_id"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RISKPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("dispatch.max_in_flight", 8)
	v.SetDefault("dispatch.timeout_seconds", 0)
	v.SetDefault("dispatch.batch_latency_ms", 0)
	v.SetDefault("backend.kind", "local")
	v.SetDefault("db.table", "risk_runs")
	v.SetDefault("db.max_open_conns", 4)
	v.SetDefault("storage.backend", "none")
	v.SetDefault("storage.prefix", "runs")
	v.SetDefault("logging.development", true)
	v.SetDefault("telemetry.enabled", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Dispatch.MaxInFlight <= 0 {
		return fmt.Errorf("dispatch.max_in_flight must be > 0")
	}
	if c.Dispatch.TimeoutSeconds < 0 {
		return fmt.Errorf("dispatch.timeout_seconds must be >= 0")
	}
	switch c.Backend.Kind {
	case "local":
	default:
		return fmt.Errorf("unknown backend kind %q", c.Backend.Kind)
	}
	switch c.Storage.Backend {
	case "none":
	case "local":
		if c.Storage.BaseDir == "" {
			return fmt.Errorf("storage.base_dir must be set for local storage")
		}
	case "gcs":
		if c.Storage.Bucket == "" {
			return fmt.Errorf("storage.bucket must be set for gcs storage")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if (c.PubSub.ProjectID == "") != (c.PubSub.TopicName == "") {
		return fmt.Errorf("pubsub.project_id and pubsub.topic_name must be set together")
	}
	return nil
}

// DispatchTimeout converts the configured timeout into a duration.
func (c Config) DispatchTimeout() time.Duration {
	return time.Duration(c.Dispatch.TimeoutSeconds) * time.Second
}

// BatchLatency converts the synthetic backend latency into a duration.
func (c Config) BatchLatency() time.Duration {
	return time.Duration(c.Dispatch.BatchLatencyMs) * time.Millisecond
}
