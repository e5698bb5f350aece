package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/good-yellow-bee/blazereport/internal/alerting"
	"github.com/good-yellow-bee/blazereport/internal/notifier"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestDefaultConfig(t *testing.T) {
	t.Setenv(envJWTSecret, testSecret)

	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.HTTPAddress)
	assert.Equal(t, "json", cfg.Server.LogFormat)
	assert.Equal(t, "./data/blazereport.db", cfg.Database.Path)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.EqualValues(t, 4, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.SoftTimeout)
	assert.Equal(t, "0 0 * * *", cfg.Scheduler.LogRetentionCron)
	assert.Equal(t, []string{"owner"}, cfg.Executor.Types)
	assert.Equal(t, time.Minute, cfg.Executor.ErrorNotifyTimeout)
	assert.Equal(t, "blazereport", cfg.Renderer.ServiceUser)
	assert.Equal(t, "http://localhost:8088", cfg.Webapp.BaseURL)
	assert.Nil(t, cfg.Notifiers.Email)
	assert.Nil(t, cfg.Notifiers.Slack)
}

func TestDefaultConfig_RequiresSecret(t *testing.T) {
	t.Setenv(envJWTSecret, "")

	err := DefaultConfig().Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("TEST_DSN", "clickhouse://localhost:9000/default")
	t.Setenv(envSMTPPassword, "hunter2")
	t.Setenv(envJWTSecret, "")
	t.Setenv(envSlackToken, "")

	path := filepath.Join(t.TempDir(), "blazereport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_address: ":9090"
  log_format: console
database:
  path: /var/lib/blazereport/reports.db
scheduler:
  max_workers: 8
  soft_timeout: 5m
executor:
  types: ["creator_owner", "fixed:admin"]
auth:
  jwt_secret: `+testSecret+`
alerting:
  datasources:
    warehouse:
      driver: clickhouse
      dsn: ${TEST_DSN}
notifiers:
  email:
    host: smtp.example.com
    port: 587
    from: reports@example.com
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.HTTPAddress)
	assert.Equal(t, "console", cfg.Server.LogFormat)
	assert.Equal(t, "/var/lib/blazereport/reports.db", cfg.Database.Path)
	assert.EqualValues(t, 8, cfg.Scheduler.MaxWorkers)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.SoftTimeout)
	assert.Equal(t, time.Minute, cfg.Scheduler.SyncInterval)
	assert.Equal(t, []string{"creator_owner", "fixed:admin"}, cfg.Executor.Types)
	assert.Equal(t, alerting.DatasourceConfig{Driver: "clickhouse", DSN: "clickhouse://localhost:9000/default"},
		cfg.Alerting.Datasources["warehouse"])
	require.NotNil(t, cfg.Notifiers.Email)
	assert.Equal(t, "hunter2", cfg.Notifiers.Email.Password)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestParseConfig_SlackTokenFromEnv(t *testing.T) {
	t.Setenv(envJWTSecret, testSecret)
	t.Setenv(envSlackToken, "xoxb-test")

	cfg, err := parseConfig([]byte("server:\n  log_level: debug\n"))
	require.NoError(t, err)
	require.NotNil(t, cfg.Notifiers.Slack)
	assert.Equal(t, "xoxb-test", cfg.Notifiers.Slack.Token)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{
			name:   "log format",
			mutate: func(c *Config) { c.Server.LogFormat = "xml" },
			want:   "server.log_format",
		},
		{
			name:   "max workers",
			mutate: func(c *Config) { c.Scheduler.MaxWorkers = -1 },
			want:   "scheduler.max_workers",
		},
		{
			name:   "executor type",
			mutate: func(c *Config) { c.Executor.Types = []string{"nobody"} },
			want:   "executor.types",
		},
		{
			name: "datasource driver",
			mutate: func(c *Config) {
				c.Alerting.Datasources = map[string]alerting.DatasourceConfig{"dw": {Driver: "oracle", DSN: "x"}}
			},
			want: "alerting.datasources.dw",
		},
		{
			name:   "email without host",
			mutate: func(c *Config) { c.Notifiers.Email = &notifier.EmailConfig{Port: 25, From: "a@example.com"} },
			want:   "notifiers.email",
		},
		{
			name:   "slack without token",
			mutate: func(c *Config) { c.Notifiers.Slack = &notifier.SlackConfig{} },
			want:   "notifiers.slack.token",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(envJWTSecret, testSecret)
			t.Setenv(envSlackToken, "")
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
