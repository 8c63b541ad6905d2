// ABOUTME: YAML configuration for issuecal with .env loading and environment overrides
// ABOUTME: Stored at the XDG config path; normalizes defaults and validates backend choices
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/harperreed/issuecal/charm"
	"github.com/harperreed/issuecal/models"
)

const (
	BackendSQLite = "sqlite"
	BackendCharm  = "charm"

	defaultListen      = "127.0.0.1:8080"
	defaultHTTPTimeout = 30 * time.Second
	defaultLogLevel    = "info"
)

// OAuthConfig is the Google OAuth client registration.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url,omitempty"`
	AuthURL      string `yaml:"auth_url,omitempty"`
	TokenURL     string `yaml:"token_url,omitempty"`
}

// StoreConfig selects where credentials and event references live.
type StoreConfig struct {
	// Backend is "sqlite" (default) or "charm".
	Backend string `yaml:"backend"`
	// DBPath is the SQLite database file. Empty means the XDG data path.
	DBPath string `yaml:"db_path,omitempty"`
	// SealingKey encrypts tokens at rest in SQLite: 64 hex chars or a passphrase.
	SealingKey string        `yaml:"sealing_key,omitempty"`
	Charm      *charm.Config `yaml:"charm,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	OAuth            OAuthConfig       `yaml:"oauth"`
	CalendarEndpoint string            `yaml:"calendar_endpoint,omitempty"`
	HTTPTimeout      time.Duration     `yaml:"http_timeout"`
	Store            StoreConfig       `yaml:"store"`
	Listen           string            `yaml:"listen"`
	// APIKey is the shared secret callers of the HTTP surface present.
	APIKey           string            `yaml:"api_key,omitempty"`
	LogLevel         string            `yaml:"log_level"`
	Fields           models.FieldNames `yaml:"fields"`
}

// Dir returns the XDG directory holding config.yaml.
func Dir() string {
	return filepath.Join(xdg.ConfigHome, charm.AppName)
}

// Path returns the default config file location.
func Path() string {
	return filepath.Join(Dir(), "config.yaml")
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTPTimeout: defaultHTTPTimeout,
		Store: StoreConfig{
			Backend: BackendSQLite,
			Charm:   charm.DefaultConfig(),
		},
		Listen:   defaultListen,
		LogLevel: defaultLogLevel,
		Fields:   models.DefaultFieldNames(),
	}
}

// Normalize fills in missing values so partially written files still work.
func (c *Config) Normalize() {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
	c.Store.Backend = strings.ToLower(strings.TrimSpace(c.Store.Backend))
	if c.Store.Backend == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.Charm == nil {
		c.Store.Charm = charm.DefaultConfig()
	}
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	c.Fields = c.Fields.WithDefaults()
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case BackendSQLite, BackendCharm:
	default:
		return fmt.Errorf("unknown store backend %q (want %s or %s)", c.Store.Backend, BackendSQLite, BackendCharm)
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if (c.OAuth.ClientID == "") != (c.OAuth.ClientSecret == "") {
		return errors.New("oauth client_id and client_secret must be set together")
	}
	return nil
}

// Load reads the config at path (Path() when empty), loads a .env file from
// the working directory if present and applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = Path()
	}

	// .env is optional; a missing file is not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as YAML with 0600 permissions.
func Save(path string, cfg *Config) error {
	if path == "" {
		path = Path()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides:
// - GOOGLE_CLIENT_ID, GOOGLE_CLIENT_SECRET
// - ISSUECAL_REDIRECT_URL, ISSUECAL_TOKEN_URL, ISSUECAL_CALENDAR_ENDPOINT
// - ISSUECAL_HTTP_TIMEOUT (Go duration)
// - ISSUECAL_STORE, ISSUECAL_DB_PATH, ISSUECAL_SEALING_KEY
// - ISSUECAL_CHARM_HOST, ISSUECAL_CHARM_AUTO_SYNC
// - ISSUECAL_LISTEN, ISSUECAL_API_KEY, ISSUECAL_LOG_LEVEL.
func applyEnvOverrides(cfg *Config) {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setString(&cfg.OAuth.ClientID, "GOOGLE_CLIENT_ID")
	setString(&cfg.OAuth.ClientSecret, "GOOGLE_CLIENT_SECRET")
	setString(&cfg.OAuth.RedirectURL, "ISSUECAL_REDIRECT_URL")
	setString(&cfg.OAuth.TokenURL, "ISSUECAL_TOKEN_URL")
	setString(&cfg.CalendarEndpoint, "ISSUECAL_CALENDAR_ENDPOINT")
	setString(&cfg.Store.Backend, "ISSUECAL_STORE")
	setString(&cfg.Store.DBPath, "ISSUECAL_DB_PATH")
	setString(&cfg.Store.SealingKey, "ISSUECAL_SEALING_KEY")
	setString(&cfg.Listen, "ISSUECAL_LISTEN")
	setString(&cfg.APIKey, "ISSUECAL_API_KEY")
	setString(&cfg.LogLevel, "ISSUECAL_LOG_LEVEL")

	if v := os.Getenv("ISSUECAL_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HTTPTimeout = d
		}
	}

	if cfg.Store.Charm == nil {
		cfg.Store.Charm = charm.DefaultConfig()
	}
	setString(&cfg.Store.Charm.Host, "ISSUECAL_CHARM_HOST")
	if v := os.Getenv("ISSUECAL_CHARM_AUTO_SYNC"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Store.Charm.AutoSync = b
		}
	}
}
