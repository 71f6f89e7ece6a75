package consensus

import "github.com/tolelom/streamlet/usig"

// Kind labels a consensus message's payload shape.
type Kind string

const (
	KindPKExchange       Kind = "pk_exchange"
	KindPropose          Kind = "propose"
	KindVote             Kind = "vote"
	KindTimeout          Kind = "timeout"
	KindRecoveryRequest  Kind = "recovery_request"
	KindRecoveryReply    Kind = "recovery_reply"
)

// PKExchange carries a replica's verification key during the startup
// handshake: a signature public key in the classical variant, or the
// USIG's public key in the usig variant.
type PKExchange struct {
	Sender    int    `json:"sender"`
	PublicKey string `json:"public_key"`
}

// Propose carries a leader's new block, plus the certificate proving the
// block it extends was notarized (absent for epoch 1, which extends genesis).
type Propose struct {
	Sender int    `json:"sender"`
	Block  *Block `json:"block"`
	Cert   *Certificate `json:"cert,omitempty"`
	UI     *usig.UI     `json:"ui,omitempty"` // usig variant only
}

// Vote carries a voter's endorsement of the block at Epoch. Endorsement is
// a hex signature in the classical variant, or a JSON-encoded usig.UI in
// the USIG variant — the same string that ends up stored verbatim in a
// Certificate's vote map, so no re-encoding happens between a vote and the
// certificate built from it.
type Vote struct {
	Sender      int    `json:"sender"`
	Epoch       int64  `json:"epoch"`
	BlockHash   string `json:"block_hash"`
	Endorsement string `json:"endorsement"`
}

// Timeout (USIG variant only) announces that Sender gave up waiting for
// NextEpoch's proposal.
type Timeout struct {
	Sender    int      `json:"sender"`
	NextEpoch int64     `json:"next_epoch"`
	UI        *usig.UI  `json:"ui,omitempty"`
}

// RecoveryRequest asks the receiver for the block at Epoch.
type RecoveryRequest struct {
	Sender int   `json:"sender"`
	Epoch  int64 `json:"epoch"`
}

// RecoveryReply carries the requested block, including its full vote set,
// or ok=false if the replier does not have it.
type RecoveryReply struct {
	Sender int    `json:"sender"`
	Epoch  int64  `json:"epoch"`
	OK     bool   `json:"ok"`
	Block  *Block `json:"block,omitempty"`
}
