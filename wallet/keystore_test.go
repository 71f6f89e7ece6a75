package wallet

import (
	"path/filepath"
	"testing"

	"github.com/tolelom/streamlet/crypto"
)

// TestSaveLoadRoundTrip checks a key survives an encrypted keystore round trip.
func TestSaveLoadRoundTrip(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "replica.key")

	if err := SaveKey(path, "correct horse battery staple", priv); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	loaded, err := LoadKey(path, "correct horse battery staple")
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if loaded.Public().Hex() != priv.Public().Hex() {
		t.Error("loaded key does not match the saved key")
	}
}

// TestLoadWrongPassword checks decryption fails loudly rather than
// returning corrupted key material.
func TestLoadWrongPassword(t *testing.T) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "replica.key")
	if err := SaveKey(path, "correct password", priv); err != nil {
		t.Fatalf("SaveKey: %v", err)
	}
	if _, err := LoadKey(path, "wrong password"); err == nil {
		t.Error("expected an error loading with the wrong password")
	}
}
