package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the node falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// SeedPeer identifies a remote node to connect to on startup.
type SeedPeer struct {
	ID   string `json:"id"`   // remote node ID
	Addr string `json:"addr"` // host:port
}

// CommitteeMemberConfig describes one validator's identity and stake in the
// genesis (round 1) committee.
type CommitteeMemberConfig struct {
	Address   string `json:"address"`    // ids.Address, derived from PublicKey but recorded explicitly for readability
	PublicKey string `json:"public_key"` // hex ed25519 public key
	Stake     uint64 `json:"stake"`
}

// CommitteeConfig describes the round-1 committee this node bootstraps from.
type CommitteeConfig struct {
	Members []CommitteeMemberConfig `json:"members"`
}

// Config holds all node configuration.
type Config struct {
	NodeID  string `json:"node_id"`
	DataDir string `json:"data_dir"`
	RPCPort int    `json:"rpc_port"`
	P2PPort int    `json:"p2p_port"`

	WorkerCount           uint8  `json:"worker_count"`             // MAX_WORKERS; omitted -> 4, 0 is rejected by Validate
	MaxBatchDelayMillis   int64  `json:"max_batch_delay_millis"`   // omitted -> 5000
	MaxExpirationTimeSecs int64  `json:"max_expiration_time_secs"` // omitted -> 30
	MaxTimestampDeltaSecs int64  `json:"max_timestamp_delta_secs"` // omitted -> 10
	MaxGCRounds           uint64 `json:"max_gc_rounds"`            // omitted -> 50

	Committee    CommitteeConfig `json:"committee"`
	SeedPeers    []SeedPeer      `json:"seed_peers,omitempty"`
	TLS          *TLSConfig      `json:"tls,omitempty"`           // nil -> plain TCP
	RPCAuthToken string          `json:"rpc_auth_token,omitempty"` // empty -> no auth
}

// DefaultConfig returns a single-node development configuration.
func DefaultConfig() *Config {
	return &Config{
		NodeID:                "node0",
		DataDir:               "./data",
		RPCPort:               8545,
		P2PPort:               30303,
		WorkerCount:           4,
		MaxBatchDelayMillis:   5000,
		MaxExpirationTimeSecs: 30,
		MaxTimestampDeltaSecs: 10,
		MaxGCRounds:           50,
	}
}

// Load reads a JSON config file from path and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required fields are present and well-formed.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id must not be empty")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.RPCPort <= 0 || c.RPCPort > 65535 {
		return fmt.Errorf("rpc_port must be 1-65535, got %d", c.RPCPort)
	}
	if c.P2PPort <= 0 || c.P2PPort > 65535 {
		return fmt.Errorf("p2p_port must be 1-65535, got %d", c.P2PPort)
	}
	if c.RPCPort == c.P2PPort {
		return fmt.Errorf("rpc_port and p2p_port must not be the same (%d)", c.RPCPort)
	}
	if c.WorkerCount == 0 {
		return fmt.Errorf("worker_count must be greater than zero")
	}
	if len(c.Committee.Members) == 0 {
		return fmt.Errorf("committee.members must not be empty")
	}
	for i, m := range c.Committee.Members {
		if m.Address == "" {
			return fmt.Errorf("committee.members[%d]: address must not be empty", i)
		}
		b, err := hex.DecodeString(m.PublicKey)
		if err != nil || len(b) != 32 {
			return fmt.Errorf("committee.members[%d]: public_key must be 64-char hex (32-byte ed25519 key), got %q", i, m.PublicKey)
		}
		if m.Stake == 0 {
			return fmt.Errorf("committee.members[%d]: stake must be greater than zero", i)
		}
	}
	if c.TLS != nil {
		t := c.TLS
		allSet := t.CACert != "" && t.NodeCert != "" && t.NodeKey != ""
		allEmpty := t.CACert == "" && t.NodeCert == "" && t.NodeKey == ""
		if !allSet && !allEmpty {
			return fmt.Errorf("tls: all three paths (ca_cert, node_cert, node_key) must be set or all empty")
		}
	}
	return nil
}

// Save writes the config to path as formatted JSON.
func Save(cfg *Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
