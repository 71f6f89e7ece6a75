package config

import "testing"

func validClassical() *Config {
	cfg := DefaultConfig()
	cfg.FaultNumber = 1
	cfg.Peers = []Peer{
		{ID: 0, Addr: "localhost:30400"},
		{ID: 1, Addr: "localhost:30401"},
		{ID: 2, Addr: "localhost:30402"},
		{ID: 3, Addr: "localhost:30403"},
	}
	return cfg
}

// TestValidateAcceptsWellFormedClassical checks a correctly sized classical
// (3f+1) peer set passes validation.
func TestValidateAcceptsWellFormedClassical(t *testing.T) {
	cfg := validClassical()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got: %v", err)
	}
}

// TestNAndQuorumPerVariant checks the replica-count and quorum formulas for
// both variants.
func TestNAndQuorumPerVariant(t *testing.T) {
	classical := &Config{Variant: VariantClassical, FaultNumber: 2}
	if classical.N() != 7 {
		t.Errorf("classical N: got %d want 7", classical.N())
	}
	if classical.Quorum() != 5 {
		t.Errorf("classical quorum: got %d want 5", classical.Quorum())
	}
	if classical.FinalizationWindow() != 3 {
		t.Errorf("classical window: got %d want 3", classical.FinalizationWindow())
	}

	u := &Config{Variant: VariantUSIG, FaultNumber: 2}
	if u.N() != 5 {
		t.Errorf("usig N: got %d want 5", u.N())
	}
	if u.Quorum() != 3 {
		t.Errorf("usig quorum: got %d want 3", u.Quorum())
	}
	if u.FinalizationWindow() != 2 {
		t.Errorf("usig window: got %d want 2", u.FinalizationWindow())
	}
}

// TestValidateRejectsWrongPeerCount checks a peer set sized for the wrong
// variant/f combination is rejected.
func TestValidateRejectsWrongPeerCount(t *testing.T) {
	cfg := validClassical()
	cfg.Peers = cfg.Peers[:3] // 3f+1 requires 4 for f=1
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for undersized peer set")
	}
}

// TestValidateRejectsMissingSelf checks replica_id must be present among peers.
func TestValidateRejectsMissingSelf(t *testing.T) {
	cfg := validClassical()
	cfg.ReplicaID = 99
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error when replica_id is absent from peers")
	}
}

// TestValidateRejectsPortCollision checks rpc_port and p2p_port must differ.
func TestValidateRejectsPortCollision(t *testing.T) {
	cfg := validClassical()
	cfg.P2PPort = cfg.RPCPort
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for colliding ports")
	}
}

// TestValidateRejectsUnknownVariant checks the variant field is restricted
// to the two known values.
func TestValidateRejectsUnknownVariant(t *testing.T) {
	cfg := validClassical()
	cfg.Variant = "byzantine-paxos"
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for an unknown variant")
	}
}

// TestValidatePartialTLSRejected checks TLS paths must be all-set or all-empty.
func TestValidatePartialTLSRejected(t *testing.T) {
	cfg := validClassical()
	cfg.TLS = &TLSConfig{CACert: "ca.pem"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for partially configured TLS")
	}
}
