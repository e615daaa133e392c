package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg, err := Load("testdata/valid_config.yaml")
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestLoad_ValidFile(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, "calibration_jobs", cfg.Database.Database)
	assert.Equal(t, "calibration.events", cfg.RabbitMQ.Exchange.Name)
	assert.Equal(t, "job.outcome", cfg.RabbitMQ.RoutingKey)
	assert.Equal(t, "stellar-frames", cfg.Storage.Bucket)
	assert.Equal(t, time.Hour, cfg.Storage.URLExpiry)
	assert.Equal(t, "http://localhost:8090", cfg.Worker.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Orchestrator.PollInterval)
	assert.Equal(t, 5, cfg.Orchestrator.MaxPollFailures)
	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.ResultRetryDelay)
	assert.Equal(t, 10, cfg.Orchestrator.ResultMaxAttempts)
	assert.Equal(t, 8, cfg.Orchestrator.ExistenceConcurrency)
	assert.Equal(t, "calibration-orchestrator", cfg.App.Name)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("testdata/does_not_exist.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoad_MalformedFile(t *testing.T) {
	_, err := Load("testdata/malformed.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:    "invalid server port",
			mutate:  func(cfg *Config) { cfg.Server.Port = 0 },
			wantErr: "invalid server port",
		},
		{
			name:    "server port too high",
			mutate:  func(cfg *Config) { cfg.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "missing database host",
			mutate:  func(cfg *Config) { cfg.Database.Host = "" },
			wantErr: "database host is required",
		},
		{
			name:    "invalid database port",
			mutate:  func(cfg *Config) { cfg.Database.Port = -1 },
			wantErr: "invalid database port",
		},
		{
			name:    "missing database name",
			mutate:  func(cfg *Config) { cfg.Database.Database = "" },
			wantErr: "database name is required",
		},
		{
			name:    "missing rabbitmq host",
			mutate:  func(cfg *Config) { cfg.RabbitMQ.Host = "" },
			wantErr: "rabbitmq host is required",
		},
		{
			name:    "missing exchange name",
			mutate:  func(cfg *Config) { cfg.RabbitMQ.Exchange.Name = "" },
			wantErr: "rabbitmq exchange name is required",
		},
		{
			name:    "missing storage endpoint",
			mutate:  func(cfg *Config) { cfg.Storage.Endpoint = "" },
			wantErr: "storage endpoint is required",
		},
		{
			name:    "missing storage bucket",
			mutate:  func(cfg *Config) { cfg.Storage.Bucket = "" },
			wantErr: "storage bucket is required",
		},
		{
			name:    "missing worker base url",
			mutate:  func(cfg *Config) { cfg.Worker.BaseURL = "" },
			wantErr: "worker base_url is required",
		},
		{
			name:    "negative poll interval",
			mutate:  func(cfg *Config) { cfg.Orchestrator.PollInterval = -time.Second },
			wantErr: "poll_interval must not be negative",
		},
		{
			name:    "negative max poll failures",
			mutate:  func(cfg *Config) { cfg.Orchestrator.MaxPollFailures = -1 },
			wantErr: "max_poll_failures must not be negative",
		},
		{
			name:    "negative result retry delay",
			mutate:  func(cfg *Config) { cfg.Orchestrator.ResultRetryDelay = -time.Second },
			wantErr: "result_retry_delay must not be negative",
		},
		{
			name:    "negative existence concurrency",
			mutate:  func(cfg *Config) { cfg.Orchestrator.ExistenceConcurrency = -4 },
			wantErr: "existence_concurrency must not be negative",
		},
		{
			name: "zero orchestrator knobs allowed",
			mutate: func(cfg *Config) {
				cfg.Orchestrator = OrchestratorConfig{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
