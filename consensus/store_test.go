package consensus

import "testing"

func chainOf3(t *testing.T) (*Store, *Block, *Block, *Block) {
	t.Helper()
	s := NewStore()
	genesis := Genesis()

	b1 := NewBlock(1, genesis, nil)
	if err := s.AddBlock(b1); err != nil {
		t.Fatalf("add b1: %v", err)
	}
	s.MarkNotarized(1)

	b2 := NewBlock(2, b1, nil)
	if err := s.AddBlock(b2); err != nil {
		t.Fatalf("add b2: %v", err)
	}
	s.MarkNotarized(2)

	b3 := NewBlock(3, b2, nil)
	if err := s.AddBlock(b3); err != nil {
		t.Fatalf("add b3: %v", err)
	}
	s.MarkNotarized(3)

	return s, b1, b2, b3
}

// TestFreshestNotarizedChain checks the chain is returned tip-first down to genesis.
func TestFreshestNotarizedChain(t *testing.T) {
	s, b1, b2, b3 := chainOf3(t)
	chain := s.FreshestNotarizedChain()
	if len(chain) != 4 {
		t.Fatalf("chain length: got %d want 4", len(chain))
	}
	if chain[0].Hash != b3.Hash || chain[1].Hash != b2.Hash || chain[2].Hash != b1.Hash {
		t.Error("chain is not tip-first in the expected order")
	}
	if chain[3].Epoch != 0 {
		t.Error("chain should terminate at genesis")
	}
}

// TestFinalizeThreeConsecutive checks the classical 3-consecutive-epoch
// finalization window finalizes everything but the tip, including genesis.
func TestFinalizeThreeConsecutive(t *testing.T) {
	s, b1, b2, b3 := chainOf3(t)
	newly := s.Finalize(3)
	if len(newly) != 3 {
		t.Fatalf("newly finalized count: got %d want 3", len(newly))
	}
	if newly[0].Epoch != 0 || newly[1].Epoch != 1 || newly[2].Epoch != 2 {
		t.Errorf("finalize order: got epochs %d,%d,%d want 0,1,2", newly[0].Epoch, newly[1].Epoch, newly[2].Epoch)
	}
	if b1.Status != Finalized || b2.Status != Finalized {
		t.Error("b1 and b2 should be finalized")
	}
	if b3.Status != Notarized {
		t.Error("tip b3 should remain merely notarized")
	}
}

// TestFinalizeIsIdempotent checks calling Finalize twice does not
// re-report already-finalized blocks.
func TestFinalizeIsIdempotent(t *testing.T) {
	s, _, _, _ := chainOf3(t)
	s.Finalize(3)
	again := s.Finalize(3)
	if len(again) != 0 {
		t.Errorf("second Finalize call should report nothing new, got %d", len(again))
	}
}

// TestFinalizeNeedsConsecutiveEpochs checks a gap in the epoch sequence
// (a skipped epoch due to a timeout) prevents finalization.
func TestFinalizeNeedsConsecutiveEpochs(t *testing.T) {
	s := NewStore()
	genesis := Genesis()
	b1 := NewBlock(1, genesis, nil)
	s.AddBlock(b1)
	s.MarkNotarized(1)

	// Epoch 2 times out; epoch 3 extends b1 directly.
	b3 := NewBlock(3, b1, nil)
	s.AddBlock(b3)
	s.MarkNotarized(3)

	b4 := NewBlock(4, b3, nil)
	s.AddBlock(b4)
	s.MarkNotarized(4)

	newly := s.Finalize(3)
	if len(newly) != 0 {
		t.Errorf("non-consecutive epochs should not finalize, got %d", len(newly))
	}
}

// TestWalkChainStopsAtUnnotarized checks the freshest chain never includes
// a block whose status is still Proposed.
func TestWalkChainStopsAtUnnotarized(t *testing.T) {
	s := NewStore()
	genesis := Genesis()
	b1 := NewBlock(1, genesis, nil)
	s.AddBlock(b1)
	s.MarkNotarized(1)

	b2 := NewBlock(2, b1, nil) // never notarized
	s.AddBlock(b2)

	chain := s.FreshestNotarizedChain()
	if chain[0].Epoch != 1 {
		t.Errorf("freshest tip: got epoch %d want 1 (b2 is unnotarized)", chain[0].Epoch)
	}
}
