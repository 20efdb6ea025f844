// Package config loads and validates a node's YAML configuration:
// identity, data directories, cluster peer list and Raft timing overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level shape of a node's config file.
type Config struct {
	Node    NodeConfig    `yaml:"node"`
	Raft    RaftConfig    `yaml:"raft"`
	Cluster ClusterConfig `yaml:"cluster"`
}

// NodeConfig identifies this node and where it keeps its durable files.
type NodeConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`

	// StateDir holds server.state; required.
	StateDir string `yaml:"state_dir"`

	// LogDir holds the commands file; required.
	LogDir string `yaml:"log_dir"`
}

// RaftConfig overrides the role engine's timing. Zero values fall back to
// raft.Server's own defaults (5s heartbeat, 2x that for term timeout).
type RaftConfig struct {
	HeartbeatMillis   int64 `yaml:"heartbeat"`
	TermTimeoutMillis int64 `yaml:"termtimeout"`
}

func (r RaftConfig) Heartbeat() time.Duration {
	return time.Duration(r.HeartbeatMillis) * time.Millisecond
}

func (r RaftConfig) TermTimeout() time.Duration {
	return time.Duration(r.TermTimeoutMillis) * time.Millisecond
}

// ClusterConfig is the peer list known at startup.
type ClusterConfig struct {
	Peers []PeerConfig `yaml:"peers"`

	// Static selects raft.StaticMembership, a fixed peer set built once
	// from this list, instead of the log-replicated dynamic membership
	// that accepts Add/Remove commands at runtime. Defaults to false
	// (dynamic), since dynamic membership is the only path that supports
	// cluster reconfiguration after startup.
	Static bool `yaml:"static"`
}

// PeerConfig is one member of the static cluster.
type PeerConfig struct {
	ID      uint64 `yaml:"id"`
	Address string `yaml:"address"`
}

// Load reads and validates the YAML config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required fields, that this node appears in its own peer
// list, that peer IDs are unique, and the heartbeat/term-timeout
// invariant the role engine itself enforces at construction.
func (c *Config) Validate() error {
	if c.Node.ID == 0 {
		return fmt.Errorf("node.id must be greater than 0")
	}
	if c.Node.Address == "" {
		return fmt.Errorf("node.address is required")
	}
	if c.Node.StateDir == "" {
		return fmt.Errorf("node.state_dir is required")
	}
	if c.Node.LogDir == "" {
		return fmt.Errorf("node.log_dir is required")
	}
	if len(c.Cluster.Peers) == 0 {
		return fmt.Errorf("cluster.peers must contain at least one peer")
	}

	found := false
	for _, peer := range c.Cluster.Peers {
		if peer.ID == c.Node.ID {
			found = true
			if peer.Address != c.Node.Address {
				return fmt.Errorf("node address mismatch: node.address=%s but peer address=%s",
					c.Node.Address, peer.Address)
			}
			break
		}
	}
	if !found {
		return fmt.Errorf("node.id=%d not found in cluster.peers", c.Node.ID)
	}

	seen := make(map[uint64]bool)
	for _, peer := range c.Cluster.Peers {
		if seen[peer.ID] {
			return fmt.Errorf("duplicate peer id: %d", peer.ID)
		}
		seen[peer.ID] = true
	}

	if c.Raft.HeartbeatMillis != 0 && c.Raft.TermTimeoutMillis != 0 {
		if c.Raft.TermTimeout() <= c.Raft.Heartbeat() {
			return fmt.Errorf("raft.termtimeout (%s) must exceed raft.heartbeat (%s)",
				c.Raft.TermTimeout(), c.Raft.Heartbeat())
		}
	}

	return nil
}

// PeerAddresses returns every peer's id mapped to its network address,
// including this node's own entry.
func (c *Config) PeerAddresses() map[uint64]string {
	out := make(map[uint64]string, len(c.Cluster.Peers))
	for _, p := range c.Cluster.Peers {
		out[p.ID] = p.Address
	}
	return out
}
