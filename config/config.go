// Package config loads the consensus core's node and quorum configuration
// from TOML. Every field serializes directly (public keys are hex strings),
// so there are no separate TOML-shaped types.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// NodeType mirrors dkg.NodeType without importing it, so config has no
// dependency on the crypto stack.
type NodeType string

const (
	NodeTypeBootstrap NodeType = "Bootstrap"
	NodeTypeMiner      NodeType = "Miner"
	NodeTypeValidator  NodeType = "Validator"
)

// ThresholdConfig bounds the certificate aggregator's rebroadcast and
// combination thresholds (spec §6). Threshold must be <= UpperBound/2.
type ThresholdConfig struct {
	UpperBound uint16 `toml:"upper_bound"`
	Threshold  uint16 `toml:"threshold"`
}

// Validate enforces the spec §6 invariant.
func (t ThresholdConfig) Validate() error {
	if t.Threshold > t.UpperBound/2 {
		return fmt.Errorf("config: threshold %d exceeds upper_bound/2 (%d)", t.Threshold, t.UpperBound/2)
	}
	return nil
}

// QuorumMember is one entry in a bootstrap quorum's membership list.
type QuorumMember struct {
	NodeID    string `toml:"node_id"`
	PublicKey string `toml:"public_key"` // hex-encoded
	Kind      string `toml:"kind"`       // "Farmer" | "Harvester"
}

// MembershipConfig is the ordered set of quorum members a bootstrap node
// is seeded with.
type MembershipConfig struct {
	QuorumMembers []QuorumMember `toml:"quorum_members"`
}

// BootstrapQuorumConfig is only meaningful on a Bootstrap node.
type BootstrapQuorumConfig struct {
	MembershipConfig MembershipConfig `toml:"membership_config"`
}

// NodeConfig is the full configuration recognized by the consensus core
// (spec §6).
type NodeConfig struct {
	NodeID   string   `toml:"node_id"`
	NodeType NodeType `toml:"node_type"`

	ThresholdConfig ThresholdConfig `toml:"threshold_config"`

	QuorumSize               uint16 `toml:"quorum_size"`
	FarmerQuorumThreshold    uint16 `toml:"farmer_quorum_threshold"`
	HarvesterQuorumThreshold uint16 `toml:"harvester_quorum_threshold"`

	BootstrapQuorumConfig *BootstrapQuorumConfig `toml:"bootstrap_quorum_config,omitempty"`
}

const minQuorumSize = 20

// Validate checks the invariants spec §3/§6 place on configuration.
func (c *NodeConfig) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("config: node_id is required")
	}
	if err := c.ThresholdConfig.Validate(); err != nil {
		return err
	}
	if c.QuorumSize < minQuorumSize {
		return fmt.Errorf("config: quorum_size must be >= %d, got %d", minQuorumSize, c.QuorumSize)
	}
	if c.NodeType == NodeTypeBootstrap && c.BootstrapQuorumConfig == nil {
		return fmt.Errorf("config: bootstrap_quorum_config is required for a Bootstrap node")
	}
	return nil
}

// Load reads a NodeConfig from a TOML file at path and validates it.
func Load(path string) (*NodeConfig, error) {
	var cfg NodeConfig
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes cfg to path as TOML, creating or truncating the file.
func Save(path string, cfg *NodeConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: encode %s: %w", path, err)
	}
	return nil
}
