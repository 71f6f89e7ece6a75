package consensus

import (
	"fmt"
	"time"
)

// recoveryBudget bounds the total wall-clock time a single recovery chain
// (the initial fetch plus every recursive ancestor fetch it triggers) may
// spend, rather than resetting a fresh per-attempt timeout at every
// recursion depth — a replica that is missing a long run of ancestors gives
// up as a whole instead of retrying each hop indefinitely.
const recoveryBudget = 5 * time.Second

// ensureKnown guarantees the block at epoch is present and at least
// notarized, fetching it (and, transitively, any missing ancestors) from
// peers if necessary.
func (e *Engine) ensureKnown(epoch int64) error {
	if b, ok := e.store.GetBlock(epoch); ok && atLeastNotarized(b) {
		return nil
	}
	deadline := time.Now().Add(recoveryBudget)
	return e.recoverChain(epoch, e.cfg.N(), deadline)
}

// recoverChain fetches the block at epoch and recurses on its parent if that
// too is missing, bounded by hopsLeft (at most N replicas' worth of missing
// ancestors can exist without a liveness problem elsewhere) and by deadline.
func (e *Engine) recoverChain(epoch int64, hopsLeft int, deadline time.Time) error {
	if b, ok := e.store.GetBlock(epoch); ok && atLeastNotarized(b) {
		return nil
	}
	if hopsLeft <= 0 {
		return fmt.Errorf("recovery: hop limit exceeded fetching epoch %d", epoch)
	}
	if time.Now().After(deadline) {
		return fmt.Errorf("recovery: deadline exceeded fetching epoch %d", epoch)
	}

	block, err := e.recoverer.FetchBlock(epoch)
	if err != nil {
		return fmt.Errorf("recovery: fetch epoch %d: %w", epoch, err)
	}
	if block.Hash != block.ComputeHash() {
		return fmt.Errorf("recovery: epoch %d hash mismatch", epoch)
	}
	if err := e.verifyBlockVotes(block); err != nil {
		return fmt.Errorf("recovery: epoch %d: %w", epoch, err)
	}
	block.Notarize()
	if err := e.store.AddBlock(block); err != nil {
		return fmt.Errorf("recovery: epoch %d: %w", epoch, err)
	}

	if block.Epoch == 0 {
		return nil
	}
	return e.recoverChain(block.ParentEpoch, hopsLeft-1, deadline)
}

// verifyBlockVotes checks that block itself carries quorum distinct valid
// endorsements, independent of any certificate — used when a recovered
// block arrives directly rather than referenced by a certificate.
func (e *Engine) verifyBlockVotes(block *Block) error {
	cert := Certificate{Epoch: block.Epoch, BlockHash: block.Hash, Votes: block.Votes}
	return cert.Verify(e.quorum, func(voter int, endorsement string) error {
		_, err := e.checkEndorsementSignature(voter, block.Epoch, block.Hash, endorsement)
		return err
	})
}

func atLeastNotarized(b *Block) bool {
	return b.Status == Notarized || b.Status == Finalized
}
