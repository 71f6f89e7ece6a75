package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// TLSConfig holds paths to the PEM files needed for mTLS.
// When nil or all paths empty, the replica falls back to plain TCP.
type TLSConfig struct {
	CACert   string `json:"ca_cert"`   // CA certificate PEM path
	NodeCert string `json:"node_cert"` // node certificate PEM path
	NodeKey  string `json:"node_key"`  // node private key PEM path
}

// Peer identifies one replica in the fixed membership set.
type Peer struct {
	ID   int    `json:"id"`   // replica_id, also the leader-schedule index
	Addr string `json:"addr"` // host:port for the consensus P2P channel
}

// Variant selects which quorum rule and authentication scheme the replica runs.
type Variant string

const (
	VariantClassical Variant = "classical" // 3f+1 replicas, signature quorum 2f+1
	VariantUSIG      Variant = "usig"      // 2f+1 replicas, UI quorum f+1
)

// Config holds all replica configuration.
type Config struct {
	ReplicaID int     `json:"replica_id"`
	DataDir   string  `json:"data_dir"`
	RPCPort   int     `json:"rpc_port"`
	P2PPort   int     `json:"p2p_port"`
	Variant   Variant `json:"variant"`

	Peers        []Peer     `json:"peers"`          // full replica set, including self
	FaultNumber  int        `json:"fault_number"`    // f
	TLS          *TLSConfig `json:"tls,omitempty"`   // nil → plain TCP
	RPCAuthToken string     `json:"rpc_auth_token,omitempty"`

	EpochDuration      time.Duration `json:"epoch_duration"`       // Δ_epoch
	TransactionSize    int           `json:"transaction_size"`     // bytes per opaque transaction
	TransactionNumber  int           `json:"transaction_number"`   // transactions offered per epoch
	BenchmarkThreshold int           `json:"benchmark_threshold"`  // finalized-tx count that triggers a benchmark log line
	BenchmarkTotal     int           `json:"benchmark_total"`      // finalized-tx count after which the replica stops logging benchmarks

	RecoveryBase int `json:"recovery_base"` // auxiliary port = RecoveryBase + ReplicaID
}

// N returns the expected replica-set size for the configured variant and f.
func (c *Config) N() int {
	if c.Variant == VariantUSIG {
		return 2*c.FaultNumber + 1
	}
	return 3*c.FaultNumber + 1
}

// Quorum returns the number of endorsements required to notarize a block.
func (c *Config) Quorum() int {
	if c.Variant == VariantUSIG {
		return c.FaultNumber + 1
	}
	return 2*c.FaultNumber + 1
}

// FinalizationWindow returns the number of consecutive-epoch notarized blocks
// required to trigger finalization.
func (c *Config) FinalizationWindow() int {
	if c.Variant == VariantUSIG {
		return 2
	}
	return 3
}

// DefaultConfig returns a single-replica development configuration
// (classical variant, f=1, 4-replica membership assumed by callers that add peers).
func DefaultConfig() *Config {
	return &Config{
		ReplicaID:          0,
		DataDir:            "./data",
		RPCPort:            8645,
		P2PPort:            30403,
		Variant:            VariantClassical,
		FaultNumber:        1,
		EpochDuration:      time.Second,
		TransactionSize:    256,
		TransactionNumber:  100,
		BenchmarkThreshold: 1000,
		BenchmarkTotal:     10000,
		RecoveryBase:       31000,
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
	if c.Variant != VariantClassical && c.Variant != VariantUSIG {
		return fmt.Errorf("variant must be %q or %q, got %q", VariantClassical, VariantUSIG, c.Variant)
	}
	if c.FaultNumber < 0 {
		return fmt.Errorf("fault_number must be >= 0, got %d", c.FaultNumber)
	}
	if len(c.Peers) != 0 && len(c.Peers) != c.N() {
		return fmt.Errorf("peers: need %d replicas for %s variant with f=%d, got %d", c.N(), c.Variant, c.FaultNumber, len(c.Peers))
	}
	found := false
	for _, p := range c.Peers {
		if p.ID == c.ReplicaID {
			found = true
		}
	}
	if len(c.Peers) != 0 && !found {
		return fmt.Errorf("peers: replica_id %d not present in peer set", c.ReplicaID)
	}
	if c.EpochDuration <= 0 {
		return fmt.Errorf("epoch_duration must be positive")
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
