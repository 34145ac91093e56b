package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, 8, cfg.Dispatch.MaxInFlight)
	require.Equal(t, "local", cfg.Backend.Kind)
	require.Equal(t, "risk_runs", cfg.DB.Table)
	require.Equal(t, "none", cfg.Storage.Backend)
	require.Equal(t, "runs", cfg.Storage.Prefix)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, time.Duration(0), cfg.DispatchTimeout())
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
server:
  port: 9090
dispatch:
  max_in_flight: 16
  timeout_seconds: 30
  batch_latency_ms: 250
storage:
  backend: local
  base_dir: /tmp/riskpipe
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, 16, cfg.Dispatch.MaxInFlight)
	require.Equal(t, 30*time.Second, cfg.DispatchTimeout())
	require.Equal(t, 250*time.Millisecond, cfg.BatchLatency())
	require.Equal(t, "local", cfg.Storage.Backend)
	require.Equal(t, "/tmp/riskpipe", cfg.Storage.BaseDir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			Server:   ServerConfig{Port: 8080},
			Dispatch: DispatchConfig{MaxInFlight: 8},
			Backend:  BackendConfig{Kind: "local"},
			Storage:  StorageConfig{Backend: "none"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad window",
			mutate:  func(c *Config) { c.Dispatch.MaxInFlight = 0 },
			wantErr: "max_in_flight",
		},
		{
			name:    "negative timeout",
			mutate:  func(c *Config) { c.Dispatch.TimeoutSeconds = -1 },
			wantErr: "timeout_seconds",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend.Kind = "quantum" },
			wantErr: "backend kind",
		},
		{
			name:    "local storage without base dir",
			mutate:  func(c *Config) { c.Storage.Backend = "local" },
			wantErr: "base_dir",
		},
		{
			name:    "gcs storage without bucket",
			mutate:  func(c *Config) { c.Storage.Backend = "gcs" },
			wantErr: "bucket",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "s3" },
			wantErr: "storage backend",
		},
		{
			name:    "pubsub half configured",
			mutate:  func(c *Config) { c.PubSub.ProjectID = "proj" },
			wantErr: "pubsub",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
