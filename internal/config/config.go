// Package config handles configuration loading and validation for meshstore.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/meshstore/meshstore/pkg/proto"
)

// Defaults for the protocol timers. These mirror the deployed behavior:
// a membership push every 10s with a 1s deadline, eviction after three
// consecutive misses, and 5s deadlines on everything a node dials.
const (
	DefaultUpdateInterval = 10 * time.Second
	DefaultPushTimeout    = 1 * time.Second
	DefaultDialTimeout    = 5 * time.Second
	DefaultRejoinInterval = 5 * time.Second
	DefaultEvictAfter     = 3
)

// DiscoveryConfig holds configuration for the discovery service.
type DiscoveryConfig struct {
	Listen         string `yaml:"listen"`
	UpdateInterval string `yaml:"update_interval"` // Duration string, e.g. "10s"
	PushTimeout    string `yaml:"push_timeout"`    // Per-node push deadline
	EvictAfter     int    `yaml:"evict_after"`     // Missed pushes before eviction
}

// StorageConfig holds configuration for a node's file store.
type StorageConfig struct {
	Dir      string `yaml:"dir"`
	Compress bool   `yaml:"compress"` // zstd compression at rest
}

// NodeConfig holds configuration for a storage node.
type NodeConfig struct {
	Host           string        `yaml:"host"`      // Advertised host for the peer endpoint
	PeerListen     string        `yaml:"peer_listen"`
	APIListen      string        `yaml:"api_listen"`
	Discovery      string        `yaml:"discovery"` // Discovery service host:port
	DialTimeout    string        `yaml:"dial_timeout"`
	RejoinInterval string        `yaml:"rejoin_interval"`
	Storage        StorageConfig `yaml:"storage"`
}

// LoadDiscoveryConfig loads discovery service configuration from a YAML file.
func LoadDiscoveryConfig(path string) (*DiscoveryConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &DiscoveryConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *DiscoveryConfig) ApplyDefaults() {
	if c.Listen == "" {
		c.Listen = ":6500"
	}
	if c.UpdateInterval == "" {
		c.UpdateInterval = DefaultUpdateInterval.String()
	}
	if c.PushTimeout == "" {
		c.PushTimeout = DefaultPushTimeout.String()
	}
	if c.EvictAfter == 0 {
		c.EvictAfter = DefaultEvictAfter
	}
}

// Validate checks if the discovery configuration is valid.
func (c *DiscoveryConfig) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address is required")
	}
	if _, err := time.ParseDuration(c.UpdateInterval); err != nil {
		return fmt.Errorf("invalid update_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.PushTimeout); err != nil {
		return fmt.Errorf("invalid push_timeout: %w", err)
	}
	if c.EvictAfter < 1 {
		return fmt.Errorf("evict_after must be at least 1")
	}
	return nil
}

// UpdateEvery returns the parsed update interval.
func (c *DiscoveryConfig) UpdateEvery() time.Duration {
	return parseDuration(c.UpdateInterval, DefaultUpdateInterval)
}

// PushDeadline returns the parsed per-node push deadline.
func (c *DiscoveryConfig) PushDeadline() time.Duration {
	return parseDuration(c.PushTimeout, DefaultPushTimeout)
}

// LoadNodeConfig loads node configuration from a YAML file.
func LoadNodeConfig(path string) (*NodeConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &NodeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills unset fields and expands the home directory in the
// storage path.
func (c *NodeConfig) ApplyDefaults() {
	if c.PeerListen == "" {
		c.PeerListen = ":7450"
	}
	if c.APIListen == "" {
		c.APIListen = ":8080"
	}
	if c.DialTimeout == "" {
		c.DialTimeout = DefaultDialTimeout.String()
	}
	if c.RejoinInterval == "" {
		c.RejoinInterval = DefaultRejoinInterval.String()
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = "~/.meshstore/data"
	}
	if strings.HasPrefix(c.Storage.Dir, "~/") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			c.Storage.Dir = filepath.Join(homeDir, c.Storage.Dir[2:])
		}
	}
}

// Validate checks if the node configuration is valid.
func (c *NodeConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Discovery == "" {
		return fmt.Errorf("discovery address is required")
	}
	if _, err := proto.ParseAddr(c.Discovery); err != nil {
		return fmt.Errorf("invalid discovery address: %w", err)
	}
	if _, err := time.ParseDuration(c.DialTimeout); err != nil {
		return fmt.Errorf("invalid dial_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.RejoinInterval); err != nil {
		return fmt.Errorf("invalid rejoin_interval: %w", err)
	}
	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	return nil
}

// DialDeadline returns the parsed outbound call deadline.
func (c *NodeConfig) DialDeadline() time.Duration {
	return parseDuration(c.DialTimeout, DefaultDialTimeout)
}

// RejoinEvery returns the parsed retry interval for join and subscribe.
func (c *NodeConfig) RejoinEvery() time.Duration {
	return parseDuration(c.RejoinInterval, DefaultRejoinInterval)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
