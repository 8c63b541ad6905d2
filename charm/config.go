// ABOUTME: Configuration for Charm KV backend connection
// ABOUTME: Server host, auto-sync and staleness settings fed from the main config file

package charm

import (
	"time"

	"github.com/charmbracelet/charm/kv"
)

const (
	// DefaultCharmHost is the self-hosted 2389 research server.
	DefaultCharmHost = "charm.2389.dev"

	// AppName names the Charm KV database.
	AppName = "issuecal"
)

// Config holds charm connection settings.
type Config struct {
	Host string `yaml:"host"`

	// AutoSync pushes to the server after every write.
	AutoSync bool `yaml:"auto_sync"`

	// StaleThreshold is how old local data may get before a read triggers a sync.
	StaleThreshold time.Duration `yaml:"stale_threshold"`
}

// DefaultConfig returns a new config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Host:           DefaultCharmHost,
		AutoSync:       true,
		StaleThreshold: kv.DefaultStaleThreshold,
	}
}

// withDefaults fills unset fields.
func (c *Config) withDefaults() *Config {
	if c == nil {
		return DefaultConfig()
	}
	out := *c
	if out.Host == "" {
		out.Host = DefaultCharmHost
	}
	if out.StaleThreshold == 0 {
		out.StaleThreshold = kv.DefaultStaleThreshold
	}
	return &out
}
