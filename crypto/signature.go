package crypto

import (
	stdcrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Sign signs data (RSASSA-PSS over SHA-256) with the private key and
// returns a hex-encoded signature.
func Sign(priv PrivateKey, data []byte) string {
	digest := sha256.Sum256(data)
	sig, err := rsa.SignPSS(rand.Reader, priv.key, stdcrypto.SHA256, digest[:], nil)
	if err != nil {
		// RSA-PSS signing over a fixed-size SHA-256 digest with a valid key
		// only fails on entropy exhaustion; there is no caller-recoverable path.
		panic(fmt.Sprintf("crypto: sign: %v", err))
	}
	return hex.EncodeToString(sig)
}

// Verify checks a hex-encoded signature against data using the public key.
func Verify(pub PublicKey, data []byte, sigHex string) error {
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return fmt.Errorf("invalid signature hex: %w", err)
	}
	digest := sha256.Sum256(data)
	if err := rsa.VerifyPSS(pub.key, stdcrypto.SHA256, digest[:], sig, nil); err != nil {
		return fmt.Errorf("signature verification failed: %w", err)
	}
	return nil
}
