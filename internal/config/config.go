// Package config loads pcapconsole settings.
//
// Sources, highest precedence first:
//  1. explicit --config path;
//  2. PCAPCONSOLE_CONFIG;
//  3. ./pcapconsole.yaml;
//  4. environment only.
//
// Environment variables always overlay the file, and a .env file in the
// working directory is loaded into the environment first when present.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EnvConfigPath   = "PCAPCONSOLE_CONFIG"
	DefaultFileName = "pcapconsole.yaml"
	dotEnvFile      = ".env"
)

// Store backends.
const (
	BackendBBolt    = "bbolt"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type Config struct {
	Server   string         `yaml:"server" env:"PCAPCONSOLE_SERVER" env-default:"http://127.0.0.1:8080"`
	Store    StoreConfig    `yaml:"store"`
	Log      LogConfig      `yaml:"log"`
	HTTP     HTTPConfig     `yaml:"http"`
	Session  SessionConfig  `yaml:"session"`
	TUI      TUIConfig      `yaml:"tui"`
	DevServe DevServeConfig `yaml:"devserver"`
}

// StoreConfig selects where credentials are kept. Path defaults to
// credentials.db under the user config directory. DSN and Namespace apply
// to the postgres backend; Namespace defaults to the OS login.
type StoreConfig struct {
	Backend   string `yaml:"backend" env:"PCAPCONSOLE_STORE_BACKEND" env-default:"bbolt"`
	Path      string `yaml:"path" env:"PCAPCONSOLE_STORE"`
	DSN       string `yaml:"dsn" env:"PCAPCONSOLE_STORE_DSN"`
	Namespace string `yaml:"namespace" env:"PCAPCONSOLE_STORE_NAMESPACE"`
	// Passphrase seals stored values at rest. Prefer the environment over
	// the file for this one.
	Passphrase string `yaml:"passphrase" env:"PCAPCONSOLE_STORE_PASSPHRASE"`
}

// LogConfig controls the stderr logger. Format is json or text.
type LogConfig struct {
	Level  string `yaml:"level" env:"PCAPCONSOLE_LOG_LEVEL" env-default:"warn"`
	Format string `yaml:"format" env:"PCAPCONSOLE_LOG_FORMAT" env-default:"json"`
}

type HTTPConfig struct {
	Timeout   time.Duration `yaml:"timeout" env:"PCAPCONSOLE_HTTP_TIMEOUT" env-default:"30s"`
	RateLimit float64       `yaml:"rate_limit" env:"PCAPCONSOLE_RATE_LIMIT" env-default:"0"`
	Burst     int           `yaml:"burst" env:"PCAPCONSOLE_RATE_BURST" env-default:"5"`
	UserAgent string        `yaml:"user_agent" env:"PCAPCONSOLE_USER_AGENT"`
}

// SessionConfig tunes refresh and the inactivity warning.
type SessionConfig struct {
	RefreshTimeout time.Duration `yaml:"refresh_timeout" env:"PCAPCONSOLE_REFRESH_TIMEOUT" env-default:"15s"`
	Inactivity     time.Duration `yaml:"inactivity" env:"PCAPCONSOLE_INACTIVITY" env-default:"15m"`
	Countdown      time.Duration `yaml:"countdown" env:"PCAPCONSOLE_COUNTDOWN" env-default:"1m"`
	Tick           time.Duration `yaml:"tick" env:"PCAPCONSOLE_TICK" env-default:"1s"`
}

type TUIConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"PCAPCONSOLE_POLL_INTERVAL" env-default:"5s"`
}

// DevServeConfig configures `pcapconsole devserver`.
type DevServeConfig struct {
	Addr          string        `yaml:"addr" env:"PCAPCONSOLE_DEVSERVER_ADDR" env-default:"127.0.0.1:8080"`
	AccessTTL     time.Duration `yaml:"access_ttl" env:"PCAPCONSOLE_DEVSERVER_ACCESS_TTL" env-default:"5m"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl" env:"PCAPCONSOLE_DEVSERVER_REFRESH_TTL" env-default:"24h"`
	SigningKey    string        `yaml:"signing_key" env:"PCAPCONSOLE_DEVSERVER_SIGNING_KEY"`
	AdminUser     string        `yaml:"admin_user" env:"PCAPCONSOLE_DEVSERVER_ADMIN_USER" env-default:"admin"`
	AdminPassword string        `yaml:"admin_password" env:"PCAPCONSOLE_DEVSERVER_ADMIN_PASSWORD"`
	TLSCert       string        `yaml:"tls_cert" env:"PCAPCONSOLE_DEVSERVER_TLS_CERT"`
	TLSKey        string        `yaml:"tls_key" env:"PCAPCONSOLE_DEVSERVER_TLS_KEY"`
	// AlertWebhook receives security alerts as JSON POSTs. AlertWebhookAuth
	// is an optional "Header: value" sent with each.
	AlertWebhook     string `yaml:"alert_webhook" env:"PCAPCONSOLE_DEVSERVER_ALERT_WEBHOOK"`
	AlertWebhookAuth string `yaml:"alert_webhook_auth" env:"PCAPCONSOLE_DEVSERVER_ALERT_WEBHOOK_AUTH"`
}

// MustLoad panics when Load fails.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from the first source available and validates
// it.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(dotEnvFile); err != nil {
		return nil, err
	}

	var cfg Config
	tryRead := func(p string) (*Config, error) {
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("config file %q stat failed: %w", p, err)
		}
		// ReadConfig also overlays the environment.
		if err := cleanenv.ReadConfig(p, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %q: %w", p, err)
		}
		return &cfg, cfg.Validate()
	}

	if path != "" {
		return tryRead(path)
	}
	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		return tryRead(envPath)
	}
	if _, err := os.Stat(DefaultFileName); err == nil {
		return tryRead(DefaultFileName)
	}

	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	return &cfg, cfg.Validate()
}

// loadDotEnv loads p into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(p string) error {
	if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(p); err != nil {
		return fmt.Errorf("failed to load %s: %w", p, err)
	}
	return nil
}

// Validate checks values that cleanenv cannot.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Server)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("server %q must be an http or https URL", c.Server)
	}
	switch c.Store.Backend {
	case BackendBBolt, BackendMemory:
	case BackendPostgres:
		if c.Store.DSN == "" {
			return errors.New("store dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("store backend %q must be %s, %s or %s", c.Store.Backend, BackendBBolt, BackendMemory, BackendPostgres)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return fmt.Errorf("log format %q must be json or text", c.Log.Format)
	}
	if c.Session.RefreshTimeout <= 0 || c.Session.Inactivity <= 0 || c.Session.Countdown <= 0 || c.Session.Tick <= 0 {
		return fmt.Errorf("session durations must be positive")
	}
	if c.TUI.PollInterval <= 0 {
		return fmt.Errorf("tui poll_interval must be positive")
	}
	if c.HTTP.RateLimit < 0 {
		return fmt.Errorf("http rate_limit must not be negative")
	}
	return nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

// StorePath returns the credential file path, defaulting to
// <user config dir>/pcapconsole/credentials.db.
func (c *Config) StorePath() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating config directory: %w", err)
	}
	return filepath.Join(dir, "pcapconsole", "credentials.db"), nil
}

// StoreNamespace returns the postgres namespace, defaulting to the OS login.
func (c *Config) StoreNamespace() (string, error) {
	if c.Store.Namespace != "" {
		return c.Store.Namespace, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", fmt.Errorf("store namespace not set and OS user unknown: %w", err)
	}
	return u.Username, nil
}
