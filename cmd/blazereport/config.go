package main

import (
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/good-yellow-bee/blazereport/internal/alerting"
	"github.com/good-yellow-bee/blazereport/internal/auth"
	"github.com/good-yellow-bee/blazereport/internal/content"
	"github.com/good-yellow-bee/blazereport/internal/notifier"
	"github.com/good-yellow-bee/blazereport/internal/render"
)

// Environment variables that override secrets from the config file.
const (
	envJWTSecret    = "BLAZEREPORT_JWT_SECRET"
	envSMTPPassword = "BLAZEREPORT_SMTP_PASSWORD"
	envSlackToken   = "BLAZEREPORT_SLACK_TOKEN"
)

// minJWTSecretLen is the shortest accepted HMAC secret.
const minJWTSecretLen = 32

// Config represents the server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Features  FeaturesConfig  `yaml:"features"`
	Renderer  RendererConfig  `yaml:"renderer"`
	Webapp    content.Config  `yaml:"webapp"`
	Auth      AuthConfig      `yaml:"auth"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Notifiers NotifiersConfig `yaml:"notifiers"`
}

// ServerConfig contains listener and logging settings.
type ServerConfig struct {
	HTTPAddress    string        `yaml:"http_address"`
	MetricsAddress string        `yaml:"metrics_address"` // empty disables the metrics server
	LogFormat      string        `yaml:"log_format"`      // json or console
	LogLevel       string        `yaml:"log_level"`
	RunTimeout     time.Duration `yaml:"run_timeout"` // deadline of manual runs
	RateLimit      int           `yaml:"rate_limit"`  // API requests per minute per user
}

// DatabaseConfig contains the schedule database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SchedulerConfig contains cron triggering settings.
type SchedulerConfig struct {
	Enabled           bool          `yaml:"enabled"`
	MaxWorkers        int64         `yaml:"max_workers"`
	SoftTimeout       time.Duration `yaml:"soft_timeout"`
	SyncInterval      time.Duration `yaml:"sync_interval"`
	LogRetentionCron  string        `yaml:"log_retention_cron"`
	ConcurrencyPolicy string        `yaml:"concurrency_policy"`
}

// ExecutorConfig selects who schedules run as.
type ExecutorConfig struct {
	// Types are tried in order: owner, creator, creator_owner, modifier,
	// modifier_owner, fixed:<username>.
	Types              []string      `yaml:"types"`
	ErrorNotifyTimeout time.Duration `yaml:"error_notify_timeout"`
}

// FeaturesConfig holds feature toggles.
type FeaturesConfig struct {
	content.Features `yaml:",inline"`
	// DryRun logs deliveries instead of sending them.
	DryRun bool `yaml:"dry_run"`
}

// RendererConfig configures the rendering, export and permalink clients.
type RendererConfig struct {
	render.Config `yaml:",inline"`
	// ServiceUser is the identity permalink calls are made as.
	ServiceUser string `yaml:"service_user"`
}

// AuthConfig contains token settings.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret"`
	JWTTTL    time.Duration `yaml:"jwt_ttl"`
}

// AlertingConfig contains alert datasources.
type AlertingConfig struct {
	Datasources  map[string]alerting.DatasourceConfig `yaml:"datasources"`
	QueryTimeout time.Duration                        `yaml:"query_timeout"`
}

// NotifiersConfig configures the delivery channels. Email and Slack are
// disabled when their section is absent.
type NotifiersConfig struct {
	Email   *notifier.EmailConfig  `yaml:"email"`
	Slack   *notifier.SlackConfig  `yaml:"slack"`
	Teams   notifier.TeamsConfig   `yaml:"teams"`
	Webhook notifier.WebhookConfig `yaml:"webhook"`
}

// LoadConfig loads configuration from a YAML file. ${VAR} references are
// expanded from the environment before parsing.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read config file")
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	cfg.applyEnv()
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validate config")
	}
	return &cfg, nil
}

// DefaultConfig returns a configuration with default values and secrets
// from the environment.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Scheduler.Enabled = true
	cfg.applyEnv()
	cfg.setDefaults()
	return cfg
}

func (c *Config) applyEnv() {
	if v := os.Getenv(envJWTSecret); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv(envSMTPPassword); v != "" && c.Notifiers.Email != nil {
		c.Notifiers.Email.Password = v
	}
	if v := os.Getenv(envSlackToken); v != "" {
		if c.Notifiers.Slack == nil {
			c.Notifiers.Slack = &notifier.SlackConfig{}
		}
		c.Notifiers.Slack.Token = v
	}
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.LogFormat == "" {
		c.Server.LogFormat = "json"
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = "info"
	}
	if c.Server.RunTimeout == 0 {
		c.Server.RunTimeout = 10 * time.Minute
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/blazereport.db"
	}
	if c.Scheduler.MaxWorkers == 0 {
		c.Scheduler.MaxWorkers = 4
	}
	if c.Scheduler.SoftTimeout == 0 {
		c.Scheduler.SoftTimeout = 10 * time.Minute
	}
	if c.Scheduler.SyncInterval == 0 {
		c.Scheduler.SyncInterval = time.Minute
	}
	if c.Scheduler.LogRetentionCron == "" {
		c.Scheduler.LogRetentionCron = "0 0 * * *"
	}
	if len(c.Executor.Types) == 0 {
		c.Executor.Types = []string{string(auth.ExecutorOwner)}
	}
	if c.Executor.ErrorNotifyTimeout == 0 {
		c.Executor.ErrorNotifyTimeout = time.Minute
	}
	if c.Renderer.ServiceUser == "" {
		c.Renderer.ServiceUser = "blazereport"
	}
	c.Renderer.SetDefaults()
	c.Webapp.SetDefaults()
	if c.Auth.JWTTTL == 0 {
		c.Auth.JWTTTL = 15 * time.Minute
	}
	if c.Notifiers.Email != nil {
		c.Notifiers.Email.SetDefaults()
	}
	if c.Notifiers.Slack != nil {
		c.Notifiers.Slack.SetDefaults()
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Server.LogFormat) {
	case "json", "console":
	default:
		return errors.Newf("server.log_format must be json or console, got %q", c.Server.LogFormat)
	}
	if c.Database.Path == "" {
		return errors.New("database.path is required")
	}
	if len(c.Auth.JWTSecret) < minJWTSecretLen {
		return errors.WithHintf(
			errors.Newf("auth.jwt_secret must be at least %d bytes", minJWTSecretLen),
			"set %s or auth.jwt_secret", envJWTSecret)
	}
	if c.Scheduler.MaxWorkers < 1 {
		return errors.New("scheduler.max_workers must be at least 1")
	}
	if c.Scheduler.SoftTimeout < 0 || c.Scheduler.SyncInterval < 0 {
		return errors.New("scheduler durations must not be negative")
	}
	if _, err := auth.ParseExecutors(c.Executor.Types); err != nil {
		return errors.Wrap(err, "executor.types")
	}
	for name, ds := range c.Alerting.Datasources {
		if err := ds.Validate(); err != nil {
			return errors.Wrapf(err, "alerting.datasources.%s", name)
		}
	}
	if c.Notifiers.Email != nil {
		if err := c.Notifiers.Email.Validate(); err != nil {
			return errors.Wrap(err, "notifiers.email")
		}
	}
	if c.Notifiers.Slack != nil && c.Notifiers.Slack.Token == "" {
		return errors.WithHintf(errors.New("notifiers.slack.token is required"), "set %s", envSlackToken)
	}
	return nil
}
