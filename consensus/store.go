package consensus

import (
	"fmt"
	"sync"
)

// ErrEpochOccupied is returned by AddBlock when a different block is already
// stored at that epoch — an invariant violation upstream, never silently
// overwritten.
var ErrEpochOccupied = fmt.Errorf("consensus: epoch already occupied by a different block")

// Store is the in-memory, single-writer blockchain. It is owned by the
// consensus engine goroutine; callers outside that goroutine must only read
// from it through an explicit handoff (e.g. the RPC index snapshot).
type Store struct {
	mu sync.RWMutex

	blocks map[int64]*Block

	freshestValid bool
	freshestChain []*Block // tip-first
}

// NewStore creates a store seeded with the genesis block at epoch 0.
func NewStore() *Store {
	s := &Store{blocks: make(map[int64]*Block)}
	s.blocks[0] = Genesis()
	return s
}

// AddBlock inserts b at b.Epoch. It rejects a second, distinct block at an
// already-occupied epoch but tolerates re-insertion of the identical block
// (by hash), which happens naturally when a proposal and a later recovery
// reply describe the same block.
func (s *Store) AddBlock(b *Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.blocks[b.Epoch]; ok {
		if existing.Hash != b.Hash {
			return ErrEpochOccupied
		}
		return nil
	}
	s.blocks[b.Epoch] = b
	s.freshestValid = false
	return nil
}

// GetBlock returns the block stored at epoch, if any.
func (s *Store) GetBlock(epoch int64) (*Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[epoch]
	return b, ok
}

// Has reports whether a block is stored at epoch.
func (s *Store) Has(epoch int64) bool {
	_, ok := s.GetBlock(epoch)
	return ok
}

// MarkNotarized transitions the block at epoch to Notarized, if present, and
// invalidates the freshest-chain cache.
func (s *Store) MarkNotarized(epoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.blocks[epoch]; ok {
		b.Notarize()
		s.freshestValid = false
	}
}

// AddVote records voter's endorsement on the block at epoch. Returns
// (newCount, added, found).
func (s *Store) AddVote(epoch int64, voter int, endorsement string) (count int, added bool, found bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[epoch]
	if !ok {
		return 0, false, false
	}
	added = b.AddVote(voter, endorsement)
	return b.VoteCount(), added, true
}

// FreshestNotarizedBlock returns the tip of the freshest notarized chain.
func (s *Store) FreshestNotarizedBlock() *Block {
	chain := s.FreshestNotarizedChain()
	if len(chain) == 0 {
		return nil
	}
	return chain[0]
}

// FreshestNotarizedChain returns the freshest notarized chain, tip-first,
// ending at genesis. Ties (equal-length chains) are broken by picking the
// chain whose tip has the highest epoch number; the descending epoch scan
// that builds this cache naturally visits higher epochs first, so "first
// encountered" already implements that rule.
func (s *Store) FreshestNotarizedChain() []*Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.freshestValid {
		return s.freshestChain
	}

	maxEpoch := int64(-1)
	for e := range s.blocks {
		if e > maxEpoch {
			maxEpoch = e
		}
	}

	var chain []*Block
	for e := maxEpoch; e >= 0; e-- {
		tip, ok := s.blocks[e]
		if !ok || (tip.Status != Notarized && tip.Status != Finalized) {
			continue
		}
		chain = s.walkChain(tip)
		break
	}
	if chain == nil {
		chain = []*Block{s.blocks[0]}
	}
	s.freshestChain = chain
	s.freshestValid = true
	return chain
}

// walkChain follows parent links back from tip to genesis, requiring each
// hop to be a valid child relationship over a block that is at least
// notarized. A parent recorded as Finalized still satisfies "at least
// notarized" — finalization never un-notarizes an ancestor, so treating
// Finalized as a subset of "notarized enough to extend" avoids truncating
// the walk the moment an ancestor gets finalized mid-scan.
func (s *Store) walkChain(tip *Block) []*Block {
	chain := []*Block{tip}
	cur := tip
	for cur.Epoch > 0 {
		parent, ok := s.blocks[cur.ParentEpoch]
		if !ok {
			break
		}
		if parent.Status != Notarized && parent.Status != Finalized {
			break
		}
		if !cur.IsChildOf(parent) {
			break
		}
		chain = append(chain, parent)
		cur = parent
	}
	return chain
}

// Finalize evaluates the finalization rule against the current freshest
// chain and returns newly finalized blocks in epoch-ascending order.
// window is 3 for the classical variant, 2 for USIG.
func (s *Store) Finalize(window int) []*Block {
	chain := s.FreshestNotarizedChain()
	if len(chain) < window {
		return nil
	}

	consecutive := true
	for i := 0; i < window-1; i++ {
		if chain[i].Epoch != chain[i+1].Epoch+1 {
			consecutive = false
			break
		}
	}
	if !consecutive {
		return nil
	}

	// Everything from chain[window-2] (inclusive) down to genesis becomes
	// finalized; chain is tip-first so that's index window-2 onward. Walk
	// from genesis-ward back up to build the result in epoch-ascending order.
	cutoffIdx := window - 2
	s.mu.Lock()
	var newly []*Block
	for i := len(chain) - 1; i >= cutoffIdx; i-- {
		b := chain[i]
		if b.Status != Finalized {
			b.Finalize()
			newly = append(newly, b)
		}
	}
	s.mu.Unlock()
	return newly
}

// FinalizedBlocks returns all finalized blocks in epoch-ascending order.
func (s *Store) FinalizedBlocks() []*Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Block
	maxEpoch := int64(-1)
	for e, b := range s.blocks {
		if b.Status == Finalized && e > maxEpoch {
			maxEpoch = e
		}
	}
	for e := int64(0); e <= maxEpoch; e++ {
		if b, ok := s.blocks[e]; ok && b.Status == Finalized {
			out = append(out, b)
		}
	}
	return out
}
