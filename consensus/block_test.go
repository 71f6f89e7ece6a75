package consensus

import "testing"

// TestGenesisIsNotarized checks the genesis block starts pre-notarized so
// a walk from any notarized tip never finds an un-notarized ancestor at
// epoch 0.
func TestGenesisIsNotarized(t *testing.T) {
	g := Genesis()
	if g.Status != Notarized {
		t.Errorf("genesis status: got %s want %s", g.Status, Notarized)
	}
	if g.Epoch != 0 {
		t.Errorf("genesis epoch: got %d want 0", g.Epoch)
	}
}

// TestComputeHashStable checks that hashing the same (parent, epoch, txs)
// twice gives the same hash, and that vote/status/signature mutation never
// changes it.
func TestComputeHashStable(t *testing.T) {
	parent := Genesis()
	txs := [][]byte{[]byte("tx1"), []byte("tx2")}
	b := NewBlock(1, parent, txs)
	h1 := b.ComputeHash()

	b.Signature = "deadbeef"
	b.AddVote(0, "sig0")
	b.Notarize()
	b.Finalize()

	if b.ComputeHash() != h1 {
		t.Error("hash changed after mutating signature/votes/status")
	}
	if b.Hash != h1 {
		t.Error("stored hash does not match recomputed hash")
	}
}

// TestComputeHashDiffersOnTx checks that changing the transaction set
// changes the hash.
func TestComputeHashDiffersOnTx(t *testing.T) {
	parent := Genesis()
	b1 := NewBlock(1, parent, [][]byte{[]byte("a")})
	b2 := NewBlock(1, parent, [][]byte{[]byte("b")})
	if b1.Hash == b2.Hash {
		t.Error("blocks with different transactions should hash differently")
	}
}

// TestIsChildOf checks the parent-link relationship.
func TestIsChildOf(t *testing.T) {
	parent := Genesis()
	child := NewBlock(1, parent, nil)
	if !child.IsChildOf(parent) {
		t.Error("child should report IsChildOf(parent) == true")
	}
	other := NewBlock(1, parent, [][]byte{[]byte("x")})
	if child.IsChildOf(other) {
		t.Error("unrelated block should not be reported as parent")
	}
}

// TestAddVoteIdempotent checks a second vote from the same voter is a no-op.
func TestAddVoteIdempotent(t *testing.T) {
	b := NewBlock(1, Genesis(), nil)
	if !b.AddVote(0, "sig-a") {
		t.Fatal("first vote should be accepted")
	}
	if b.AddVote(0, "sig-b") {
		t.Error("second vote from the same voter should be rejected")
	}
	if b.Votes[0] != "sig-a" {
		t.Error("original vote should not be overwritten")
	}
	if b.VoteCount() != 1 {
		t.Errorf("VoteCount: got %d want 1", b.VoteCount())
	}
}

// TestNotarizeFinalizeOrder checks status only ever advances forward.
func TestNotarizeFinalizeOrder(t *testing.T) {
	b := NewBlock(1, Genesis(), nil)
	b.Finalize() // no-op: not yet notarized
	if b.Status != Proposed {
		t.Errorf("Finalize before Notarize should be a no-op, got %s", b.Status)
	}
	b.Notarize()
	if b.Status != Notarized {
		t.Errorf("status: got %s want %s", b.Status, Notarized)
	}
	b.Finalize()
	if b.Status != Finalized {
		t.Errorf("status: got %s want %s", b.Status, Finalized)
	}
}
