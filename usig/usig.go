// Package usig implements the Unique Sequential Identifier Generator, a
// trusted local component that binds messages to a strictly increasing
// per-replica counter. It is the trust anchor that lets the USIG consensus
// variant run with only 2f+1 replicas instead of the classical 3f+1.
package usig

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tolelom/streamlet/crypto"
)

// UI is a unique identifier: a monotonic counter plus the USIG's signature
// binding (epoch, messageHash, counter) together.
type UI struct {
	Counter   uint64 `json:"counter"`
	Signature string `json:"signature"`
}

// USIG owns a monotonic counter and a signing key. create_ui calls are
// serialized so the counter sequence is never skipped or reused.
type USIG struct {
	mu      sync.Mutex
	counter uint64
	priv    crypto.PrivateKey
	pub     crypto.PublicKey
}

// New creates a USIG instance seeded at counter 0 with a freshly generated
// key pair.
func New() (*USIG, error) {
	priv, pub, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("usig: generate key: %w", err)
	}
	return &USIG{priv: priv, pub: pub}, nil
}

// FromKey creates a USIG instance using an existing key pair, for replicas
// that persist their USIG identity across restarts.
func FromKey(priv crypto.PrivateKey) *USIG {
	return &USIG{priv: priv, pub: priv.Public()}
}

// PublicKey returns the USIG's public key, which peers need to verify UIs
// this instance produces.
func (u *USIG) PublicKey() crypto.PublicKey {
	return u.pub
}

// CreateUI binds epoch and messageHash to the next counter value and
// returns the resulting UI. The counter always increases by exactly one.
func (u *USIG) CreateUI(epoch int64, messageHash string) UI {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.counter++
	c := u.counter
	sig := crypto.Sign(u.priv, signedBytes(epoch, messageHash, c))
	return UI{Counter: c, Signature: sig}
}

// VerifyUI checks that ui is a valid signature by pub over (epoch, messageHash, counter).
// It does not check counter ordering — that is the caller's responsibility,
// since it depends on state the caller tracks per issuer.
func VerifyUI(pub crypto.PublicKey, epoch int64, messageHash string, ui UI) error {
	return crypto.Verify(pub, signedBytes(epoch, messageHash, ui.Counter), ui.Signature)
}

func signedBytes(epoch int64, messageHash string, counter uint64) []byte {
	buf := make([]byte, 8+8+len(messageHash))
	binary.BigEndian.PutUint64(buf[0:8], uint64(epoch))
	binary.BigEndian.PutUint64(buf[8:16], counter)
	copy(buf[16:], messageHash)
	return buf
}

// Tracker tracks, per issuer, the last accepted UI counter so a replica can
// reject replayed or out-of-order UIs.
type Tracker struct {
	mu   sync.Mutex
	last map[int]uint64
}

// NewTracker creates an empty counter tracker.
func NewTracker() *Tracker {
	return &Tracker{last: make(map[int]uint64)}
}

// Accept records counter c for issuer and reports whether it was the
// expected next value (last+1). On success the tracked value advances;
// on failure the tracker is left unchanged so a retried, same duplicate
// does not silently pass later.
func (t *Tracker) Accept(issuer int, c uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if c != t.last[issuer]+1 {
		return false
	}
	t.last[issuer] = c
	return true
}

// Last returns the last accepted counter for issuer (0 if none yet).
func (t *Tracker) Last(issuer int) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last[issuer]
}
