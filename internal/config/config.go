package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Backend  BackendConfig  `yaml:"backend"`
	Sync     SyncConfig     `yaml:"sync"`
	Auth     AuthConfig     `yaml:"auth"`
	Log      LogConfig      `yaml:"log"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// ServerConfig contains the local control API settings.
type ServerConfig struct {
	Host            string   `yaml:"host"`
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig contains local store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// BackendConfig points at the server queued operations are replayed to.
type BackendConfig struct {
	URL         string   `yaml:"url"`
	APIKey      string   `yaml:"-"` // env-only, never in YAML
	CallTimeout Duration `yaml:"call_timeout"`
}

// SyncConfig controls when the queue is flushed without being asked.
type SyncConfig struct {
	AutoFlush      bool     `yaml:"auto_flush"`
	Interval       Duration `yaml:"interval"`
	HealthInterval Duration `yaml:"health_interval"`
	WatchInterval  Duration `yaml:"watch_interval"`
}

// AuthConfig contains control API authentication settings.
// An empty APIKey disables authentication.
type AuthConfig struct {
	APIKey string `yaml:"-"` // env-only, never in YAML
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArchiveConfig configures S3-compatible storage for cleared operations.
// An empty Bucket disables archiving.
type ArchiveConfig struct {
	Bucket    string `yaml:"bucket"`
	Endpoint  string `yaml:"endpoint"`
	Region    string `yaml:"region"`
	AccessKey string `yaml:"-"` // env-only
	SecretKey string `yaml:"-"` // env-only
	UseSSL    *bool  `yaml:"use_ssl"`
	Prefix    string `yaml:"prefix"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("SHIFTQ_CONFIG_PATH", "config/shiftq.yaml")

	// Missing file is not an error
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a specific path, which must exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Host:            "127.0.0.1",
			Port:            7070,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(60 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/shiftq.db",
		},
		Backend: BackendConfig{
			CallTimeout: Duration(15 * time.Second),
		},
		Sync: SyncConfig{
			AutoFlush:      true,
			Interval:       Duration(5 * time.Minute),
			HealthInterval: Duration(30 * time.Second),
			WatchInterval:  Duration(1 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Archive: ArchiveConfig{
			Region: "us-east-1",
			UseSSL: &useSSL,
			Prefix: "cleared",
		},
	}
}

func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("SHIFTQ_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SHIFTQ_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	envDuration("SHIFTQ_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	envDuration("SHIFTQ_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	envDuration("SHIFTQ_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	if v := os.Getenv("SHIFTQ_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Backend
	if v := os.Getenv("SHIFTQ_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("SHIFTQ_BACKEND_API_KEY"); v != "" {
		cfg.Backend.APIKey = v
	}
	envDuration("SHIFTQ_CALL_TIMEOUT", &cfg.Backend.CallTimeout)

	// Sync
	if v := os.Getenv("SHIFTQ_AUTO_FLUSH"); v != "" {
		cfg.Sync.AutoFlush = v == "true" || v == "1"
	}
	envDuration("SHIFTQ_SYNC_INTERVAL", &cfg.Sync.Interval)
	envDuration("SHIFTQ_HEALTH_INTERVAL", &cfg.Sync.HealthInterval)
	envDuration("SHIFTQ_WATCH_INTERVAL", &cfg.Sync.WatchInterval)

	// Auth
	if v := os.Getenv("SHIFTQ_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
	}

	// Log
	if v := os.Getenv("SHIFTQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SHIFTQ_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}

	// Archive
	if v := os.Getenv("SHIFTQ_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
	if v := os.Getenv("SHIFTQ_S3_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("SHIFTQ_S3_REGION"); v != "" {
		cfg.Archive.Region = v
	}
	if v := os.Getenv("SHIFTQ_S3_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("SHIFTQ_S3_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("SHIFTQ_S3_USE_SSL"); v != "" {
		b := v == "true" || v == "1"
		cfg.Archive.UseSSL = &b
	}
	if v := os.Getenv("SHIFTQ_ARCHIVE_PREFIX"); v != "" {
		cfg.Archive.Prefix = v
	}
}

func envDuration(key string, dst *Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = Duration(d)
		}
	}
}

// validate checks that required configuration values are set.
// In offline mode (SHIFTQ_OFFLINE=true) no backend is required and
// operations only accumulate.
func (c *Config) validate() error {
	if c.Sync.HealthInterval <= 0 || c.Sync.Interval <= 0 || c.Sync.WatchInterval <= 0 {
		return errors.New("sync intervals must be positive")
	}
	if c.Backend.CallTimeout <= 0 {
		return errors.New("backend.call_timeout must be positive")
	}
	if c.Archive.Bucket != "" && c.Archive.Endpoint == "" {
		return errors.New("archive.endpoint is required when archive.bucket is set")
	}

	if Offline() {
		return nil
	}
	if c.Backend.URL == "" {
		return errors.New("SHIFTQ_BACKEND_URL is required (set SHIFTQ_OFFLINE=true to run without a backend)")
	}
	return nil
}

// Offline reports whether SHIFTQ_OFFLINE is set.
func Offline() bool {
	return os.Getenv("SHIFTQ_OFFLINE") == "true"
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
