package consensus

import "fmt"

// Certificate is a quorum of endorsements over a specific (epoch, blockHash),
// attached to a PROPOSE message to prove the extended block was notarized.
type Certificate struct {
	Epoch     int64          `json:"epoch"`
	BlockHash string         `json:"block_hash"`
	Votes     map[int]string `json:"votes"` // voter id -> signature or UI json
}

// CertificateFrom builds a certificate from a notarized block's own vote set.
func CertificateFrom(b *Block) Certificate {
	votes := make(map[int]string, len(b.Votes))
	for k, v := range b.Votes {
		votes[k] = v
	}
	return Certificate{Epoch: b.Epoch, BlockHash: b.Hash, Votes: votes}
}

// Verify checks that cert carries at least quorum distinct valid
// endorsements over its named block hash, using verify to check each one.
func (c Certificate) Verify(quorum int, verify func(voter int, endorsement string) error) error {
	if len(c.Votes) < quorum {
		return fmt.Errorf("certificate: %d votes, need %d", len(c.Votes), quorum)
	}
	valid := 0
	for voter, endorsement := range c.Votes {
		if err := verify(voter, endorsement); err == nil {
			valid++
		}
	}
	if valid < quorum {
		return fmt.Errorf("certificate: %d valid votes, need %d", valid, quorum)
	}
	return nil
}
