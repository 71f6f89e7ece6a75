package consensus

import (
	"errors"
	"testing"
)

func fakeVerify(valid map[int]bool) func(int, string) error {
	return func(voter int, endorsement string) error {
		if valid[voter] {
			return nil
		}
		return errors.New("invalid endorsement")
	}
}

// TestCertificateFromCopiesVotes checks CertificateFrom snapshots the
// block's vote map rather than aliasing it.
func TestCertificateFromCopiesVotes(t *testing.T) {
	b := NewBlock(1, Genesis(), nil)
	b.AddVote(0, "sig0")
	b.AddVote(1, "sig1")

	cert := CertificateFrom(b)
	b.AddVote(2, "sig2")

	if len(cert.Votes) != 2 {
		t.Errorf("certificate should have snapshotted 2 votes, got %d", len(cert.Votes))
	}
}

// TestCertificateVerifyQuorum checks Verify requires at least quorum votes.
func TestCertificateVerifyQuorum(t *testing.T) {
	cert := Certificate{
		Epoch:     1,
		BlockHash: "h",
		Votes:     map[int]string{0: "a", 1: "b"},
	}
	verify := fakeVerify(map[int]bool{0: true, 1: true})
	if err := cert.Verify(3, verify); err == nil {
		t.Error("certificate with 2 votes should fail a quorum-3 check")
	}
	if err := cert.Verify(2, verify); err != nil {
		t.Errorf("certificate with 2 valid votes should pass a quorum-2 check: %v", err)
	}
}

// TestCertificateVerifyRejectsInvalidVotes checks that votes failing the
// supplied verify function do not count toward quorum.
func TestCertificateVerifyRejectsInvalidVotes(t *testing.T) {
	cert := Certificate{
		Epoch:     1,
		BlockHash: "h",
		Votes:     map[int]string{0: "a", 1: "bad", 2: "c"},
	}
	verify := fakeVerify(map[int]bool{0: true, 2: true})
	if err := cert.Verify(3, verify); err == nil {
		t.Error("only 2 of 3 votes are valid, quorum-3 should fail")
	}
	if err := cert.Verify(2, verify); err != nil {
		t.Errorf("2 valid votes should satisfy quorum-2: %v", err)
	}
}
