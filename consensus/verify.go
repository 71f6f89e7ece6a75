package consensus

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/streamlet/crypto"
	"github.com/tolelom/streamlet/usig"
)

// verifyEndorsement checks that endorsement is a valid vote by voter over
// (epoch, blockHash): a signature in the classical variant, a USIG UI in
// the usig variant. In the usig variant it also enforces the strictly-next
// counter rule — an out-of-order or replayed UI is rejected outright rather
// than buffered, since a dropped vote still lets the block reach quorum
// through the other voters or simply waits for the next epoch. Use this
// only for endorsements arriving live (VOTE messages); it advances the
// per-issuer counter tracker, so replaying it over an old certificate's
// votes would reject them as out-of-order.
func (e *Engine) verifyEndorsement(voter int, epoch int64, blockHash, endorsement string) error {
	ui, err := e.checkEndorsementSignature(voter, epoch, blockHash, endorsement)
	if err != nil {
		return err
	}
	if e.usigGen != nil {
		if !e.uiTracker.Accept(voter, ui.Counter) {
			return fmt.Errorf("UI counter %d out of order for voter %d (last %d)", ui.Counter, voter, e.uiTracker.Last(voter))
		}
	}
	return nil
}

// checkEndorsementSignature verifies endorsement's signature over
// (epoch, blockHash) without touching the per-issuer UI counter tracker.
// A certificate carries votes that were already accepted (and consumed)
// against the tracker when they first arrived live; re-verifying a
// certificate must re-check those same signatures without re-running the
// ordering side effect, or every certificate past the first would be
// rejected as replaying already-consumed counters.
func (e *Engine) checkEndorsementSignature(voter int, epoch int64, blockHash, endorsement string) (usig.UI, error) {
	pub, ok := e.peers[voter]
	if !ok {
		return usig.UI{}, fmt.Errorf("unknown voter %d", voter)
	}
	if e.usigGen == nil {
		return usig.UI{}, crypto.Verify(pub, []byte(blockHash), endorsement)
	}
	var ui usig.UI
	if err := json.Unmarshal([]byte(endorsement), &ui); err != nil {
		return usig.UI{}, fmt.Errorf("malformed UI: %w", err)
	}
	if err := usig.VerifyUI(pub, epoch, blockHash, ui); err != nil {
		return usig.UI{}, err
	}
	return ui, nil
}

// verifyProposal checks the leader's own authentication over the proposed
// block: a signature over the hash in the classical variant, or the
// leader's UI binding in the usig variant.
func (e *Engine) verifyProposal(from int, p Propose) error {
	pub, ok := e.peers[from]
	if !ok {
		return fmt.Errorf("unknown sender %d", from)
	}
	if e.usigGen == nil {
		return crypto.Verify(pub, []byte(p.Block.Hash), p.Block.Signature)
	}
	if p.UI == nil {
		return fmt.Errorf("missing UI on proposal")
	}
	if err := usig.VerifyUI(pub, p.Block.Epoch, p.Block.Hash, *p.UI); err != nil {
		return err
	}
	if !e.uiTracker.Accept(from, p.UI.Counter) {
		return fmt.Errorf("UI counter %d out of order for leader %d", p.UI.Counter, from)
	}
	return nil
}

// verifyCertificate checks that a certificate carries quorum distinct valid
// endorsements over its named block. It checks signatures only: a
// certificate's votes were already ordered against the UI counter tracker
// when they first arrived as live VOTEs, so re-running that ordering check
// here would reject every certificate after the first as replaying
// already-consumed counters.
func (e *Engine) verifyCertificate(cert Certificate) error {
	return cert.Verify(e.quorum, func(voter int, endorsement string) error {
		_, err := e.checkEndorsementSignature(voter, cert.Epoch, cert.BlockHash, endorsement)
		return err
	})
}
