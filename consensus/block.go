// Package consensus implements the Streamlet epoch-based BFT protocol, in
// both its classical (3f+1, signature quorum) and USIG (2f+1, trusted
// counter quorum) variants.
package consensus

import (
	"bytes"
	"encoding/binary"

	"github.com/tolelom/streamlet/crypto"
)

// Status is a block's position in the notarize/finalize lifecycle. It only
// ever advances: Proposed -> Notarized -> Finalized.
type Status int

const (
	Proposed Status = iota
	Notarized
	Finalized
)

func (s Status) String() string {
	switch s {
	case Proposed:
		return "proposed"
	case Notarized:
		return "notarized"
	case Finalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// GenesisHash is the canonical empty parent hash used by the epoch-0 block.
const GenesisHash = ""

// Block is the consensus unit: an epoch number, a link to its parent, and
// an opaque list of transactions.
type Block struct {
	Epoch        int64    `json:"epoch"`
	ParentHash   string   `json:"parent_hash"`
	ParentEpoch  int64    `json:"parent_epoch"`
	Transactions [][]byte `json:"transactions"`

	Hash      string `json:"hash"`
	Signature string `json:"signature,omitempty"` // classical variant only

	Votes  map[int]string `json:"votes"`  // voter id -> signature (classical) or UI json (usig)
	Status Status         `json:"status"`
}

// NewBlock builds an unhashed proposal extending parent.
func NewBlock(epoch int64, parent *Block, txs [][]byte) *Block {
	b := &Block{
		Epoch:        epoch,
		ParentHash:   parent.Hash,
		ParentEpoch:  parent.Epoch,
		Transactions: txs,
		Votes:        make(map[int]string),
	}
	b.Hash = b.ComputeHash()
	return b
}

// Genesis returns the well-known, pre-notarized epoch-0 block.
func Genesis() *Block {
	b := &Block{
		Epoch:        0,
		ParentHash:   GenesisHash,
		ParentEpoch:  -1,
		Transactions: nil,
		Votes:        make(map[int]string),
		Status:       Notarized,
	}
	b.Hash = b.ComputeHash()
	return b
}

// ComputeHash hashes exactly (parent_hash, epoch, transactions) — never
// signatures, votes, or status, so a block's identity is stable across its
// whole notarize/finalize lifecycle.
func (b *Block) ComputeHash() string {
	var buf bytes.Buffer
	writeLP(&buf, []byte(b.ParentHash))
	var epochBuf [8]byte
	binary.BigEndian.PutUint64(epochBuf[:], uint64(b.Epoch))
	buf.Write(epochBuf[:])
	for _, tx := range b.Transactions {
		writeLP(&buf, tx)
	}
	return crypto.Hash(buf.Bytes())
}

func writeLP(buf *bytes.Buffer, data []byte) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	buf.Write(lenBuf[:])
	buf.Write(data)
}

// IsChildOf reports whether b's parent link points at parent.
func (b *Block) IsChildOf(parent *Block) bool {
	return b.ParentHash == parent.Hash && b.ParentEpoch == parent.Epoch
}

// AddVote records voter's endorsement, idempotently. Returns false if voter
// already had a recorded vote.
func (b *Block) AddVote(voter int, endorsement string) bool {
	if b.Votes == nil {
		b.Votes = make(map[int]string)
	}
	if _, ok := b.Votes[voter]; ok {
		return false
	}
	b.Votes[voter] = endorsement
	return true
}

// VoteCount returns the number of distinct recorded endorsements.
func (b *Block) VoteCount() int {
	return len(b.Votes)
}

// Notarize transitions Proposed -> Notarized. It is a no-op if already
// notarized or finalized.
func (b *Block) Notarize() {
	if b.Status == Proposed {
		b.Status = Notarized
	}
}

// Finalize transitions Notarized -> Finalized. It is a no-op otherwise.
func (b *Block) Finalize() {
	if b.Status == Notarized {
		b.Status = Finalized
	}
}

// Clone returns a deep-enough copy for safe handoff across goroutines
// (recovery replies, RPC snapshots).
func (b *Block) Clone() *Block {
	cp := *b
	cp.Transactions = append([][]byte(nil), b.Transactions...)
	cp.Votes = make(map[int]string, len(b.Votes))
	for k, v := range b.Votes {
		cp.Votes[k] = v
	}
	return &cp
}
