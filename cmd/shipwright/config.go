package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	// DataDir is the root for everything shipwright writes: the run
	// database, compiled compose files, and backups. Individual paths
	// below override the derived locations.
	DataDir string `mapstructure:"data_dir"`

	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Docker    DockerConfig    `mapstructure:"docker"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Verify    VerifyConfig    `mapstructure:"verify"`
	Notify    NotifyConfig    `mapstructure:"notify"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// DockerConfig holds Docker client configuration.
type DockerConfig struct {
	// Host is the Docker daemon address. Empty means the local daemon;
	// ssh://user@host addresses tunnel the Engine API over SSH.
	Host string `mapstructure:"host"`

	// SSHKeyPath is the private key used for ssh:// hosts.
	SSHKeyPath string `mapstructure:"ssh_key_path"`
}

// WorkspaceConfig holds compose-file workspace configuration.
type WorkspaceConfig struct {
	ComposeDir string `mapstructure:"compose_dir"`
	BackupDir  string `mapstructure:"backup_dir"`
}

// EngineConfig holds pipeline worker configuration.
type EngineConfig struct {
	// RunInterval is the orchestrator polling cadence.
	RunInterval time.Duration `mapstructure:"run_interval"`

	// MonitorInterval is how often the monitor worker polls for due
	// monitors. Each monitor row carries its own check cadence.
	MonitorInterval time.Duration `mapstructure:"monitor_interval"`
}

// VerifyConfig bounds the verification suite's health stabilization poll.
type VerifyConfig struct {
	HealthPollCount    int           `mapstructure:"health_poll_count"`
	HealthPollInterval time.Duration `mapstructure:"health_poll_interval"`
}

// NotifyConfig holds notification delivery configuration.
type NotifyConfig struct {
	// WebhookURL, when set, receives a JSON POST per notification in
	// addition to the always-on log sink.
	WebhookURL string `mapstructure:"webhook_url"`

	// WebhookToken is sent as a bearer token on webhook posts.
	WebhookToken string `mapstructure:"webhook_token"`

	// Interval is the dispatcher polling cadence.
	Interval time.Duration `mapstructure:"interval"`

	// BatchSize caps how many pending notifications one cycle attempts.
	BatchSize int `mapstructure:"batch_size"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("data_dir", "data")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("docker.host", "")
	v.SetDefault("docker.ssh_key_path", "")
	v.SetDefault("engine.run_interval", "5s")
	v.SetDefault("engine.monitor_interval", "10s")
	v.SetDefault("verify.health_poll_count", 12)
	v.SetDefault("verify.health_poll_interval", "5s")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.webhook_token", "")
	v.SetDefault("notify.interval", "5s")
	v.SetDefault("notify.batch_size", 50)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("SHIPWRIGHT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Paths default under data_dir; explicit settings win over the
	// derived defaults.
	dataDir := v.GetString("data_dir")
	v.SetDefault("database.dsn", filepath.Join(dataDir, "shipwright.db"))
	v.SetDefault("workspace.compose_dir", filepath.Join(dataDir, "compose"))
	v.SetDefault("workspace.backup_dir", filepath.Join(dataDir, "backups"))

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
