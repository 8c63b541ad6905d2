// ABOUTME: Charm KV client shared by the credential and event-reference stores
// ABOUTME: Pushes after writes, pulls when local data is stale, and reports store status

package charm

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/charm/client"
	"github.com/charmbracelet/charm/kv"
)

// kvStore is the subset of charm/kv the client uses.
type kvStore interface {
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	Keys() ([][]byte, error)
	Sync() error
	Reset() error
}

// Client serializes access to one charm KV database.
type Client struct {
	kv     kvStore
	config *Config
	remote bool

	mu       sync.RWMutex
	lastSync time.Time
	now      func() time.Time
}

// Status summarizes the store for the status command.
type Status struct {
	Host      string
	AutoSync  bool
	AccountID string
	Connected bool
	Users     int
	Events    int
	LastSync  time.Time
}

// Open connects to the issuecal database on the configured charm server.
func Open(cfg *Config) (*Client, error) {
	cfg = cfg.withDefaults()

	// charm/kv reads the server from the environment.
	_ = os.Setenv("CHARM_HOST", cfg.Host)

	db, err := kv.OpenWithDefaults(AppName)
	if err != nil {
		return nil, fmt.Errorf("failed to open charm kv: %w", err)
	}

	c := newClient(db, cfg, true)
	if cfg.AutoSync {
		_ = c.Sync()
	}
	return c, nil
}

func newClient(store kvStore, cfg *Config, remote bool) *Client {
	return &Client{kv: store, config: cfg, remote: remote, now: time.Now}
}

// Config returns the client's config.
func (c *Client) Config() *Config {
	return c.config
}

// ID returns the charm account id for this device.
func (c *Client) ID() (string, error) {
	if !c.remote {
		return "", fmt.Errorf("charm account unavailable for local store")
	}
	cc, err := client.NewClientWithDefaults()
	if err != nil {
		return "", fmt.Errorf("failed to create charm client: %w", err)
	}
	return cc.ID()
}

// IsConnected reports whether the charm account can be reached.
func (c *Client) IsConnected() bool {
	_, err := c.ID()
	return err == nil
}

// Sync pulls and pushes changes with the charm server.
func (c *Client) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.syncLocked()
}

func (c *Client) syncLocked() error {
	if err := c.kv.Sync(); err != nil {
		return err
	}
	c.lastSync = c.now()
	return nil
}

// stale reports whether a read should pull first.
func (c *Client) stale() bool {
	if !c.config.AutoSync || c.config.StaleThreshold <= 0 {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now().Sub(c.lastSync) > c.config.StaleThreshold
}

// Get reads a value, pulling first when the local copy is stale. A failed
// pull still serves the local value.
func (c *Client) Get(key []byte) ([]byte, error) {
	if c.stale() {
		_ = c.Sync()
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.kv.Get(key)
}

// Set stores a value and pushes it when auto-sync is on.
func (c *Client) Set(key, value []byte) error {
	return c.write(func() error { return c.kv.Set(key, value) })
}

// Delete removes a key and pushes the removal when auto-sync is on.
func (c *Client) Delete(key []byte) error {
	return c.write(func() error { return c.kv.Delete(key) })
}

func (c *Client) write(op func() error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := op(); err != nil {
		return err
	}
	if c.config.AutoSync {
		_ = c.syncLocked()
	}
	return nil
}

// KeysWithPrefix returns the keys under prefix as strings.
func (c *Client) KeysWithPrefix(prefix string) ([]string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	all, err := c.kv.Keys()
	if err != nil {
		return nil, err
	}

	var matched []string
	for _, k := range all {
		if strings.HasPrefix(string(k), prefix) {
			matched = append(matched, string(k))
		}
	}
	return matched, nil
}

// Status counts stored users and event references and checks the account.
func (c *Client) Status() (Status, error) {
	st := Status{Host: c.config.Host, AutoSync: c.config.AutoSync}

	if id, err := c.ID(); err == nil {
		st.AccountID = id
		st.Connected = true
	}

	users, err := c.KeysWithPrefix(credentialsPrefix)
	if err != nil {
		return st, fmt.Errorf("failed to count users: %w", err)
	}
	events, err := c.KeysWithPrefix(eventsPrefix)
	if err != nil {
		return st, fmt.Errorf("failed to count event references: %w", err)
	}
	st.Users = len(users)
	st.Events = len(events)

	c.mu.RLock()
	st.LastSync = c.lastSync
	c.mu.RUnlock()
	return st, nil
}

// Reset wipes every key from the store.
func (c *Client) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.kv.Reset()
}

// Close releases the local database when the backend supports it.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if closer, ok := c.kv.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
