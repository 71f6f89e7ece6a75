package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/hex"
	"fmt"
)

// KeyBits is the RSA modulus size used for all replica and USIG keys.
const KeyBits = 2048

// PrivateKey wraps an RSA private key.
type PrivateKey struct {
	key *rsa.PrivateKey
}

// PublicKey wraps an RSA public key.
type PublicKey struct {
	key *rsa.PublicKey
}

// GenerateKeyPair generates a new RSA-2048 key pair.
func GenerateKeyPair() (PrivateKey, PublicKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, KeyBits)
	if err != nil {
		return PrivateKey{}, PublicKey{}, err
	}
	return PrivateKey{key: key}, PublicKey{key: &key.PublicKey}, nil
}

// Address returns a 40-char hex address derived from the public key.
// It takes the first 20 bytes of SHA-256(DER(pubkey)).
func (pub PublicKey) Address() string {
	der, _ := x509.MarshalPKIXPublicKey(pub.key)
	h := HashBytes(der)
	return hex.EncodeToString(h[:20])
}

// Hex returns the hex-encoded DER (PKIX) public key.
func (pub PublicKey) Hex() string {
	der, _ := x509.MarshalPKIXPublicKey(pub.key)
	return hex.EncodeToString(der)
}

// IsZero reports whether pub holds no key.
func (pub PublicKey) IsZero() bool {
	return pub.key == nil
}

// Hex returns the hex-encoded PKCS#1 private key.
func (priv PrivateKey) Hex() string {
	der := x509.MarshalPKCS1PrivateKey(priv.key)
	return hex.EncodeToString(der)
}

// Public derives the RSA public key from the private key.
func (priv PrivateKey) Public() PublicKey {
	return PublicKey{key: &priv.key.PublicKey}
}

// Raw exposes the underlying *rsa.PrivateKey for packages (wallet, usig)
// that need it for DER (de)serialization.
func (priv PrivateKey) Raw() *rsa.PrivateKey {
	return priv.key
}

// FromRaw wraps an already-parsed *rsa.PrivateKey.
func FromRaw(key *rsa.PrivateKey) PrivateKey {
	return PrivateKey{key: key}
}

// PubKeyFromHex decodes a hex-encoded PKIX public key.
func PubKeyFromHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid pubkey hex: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("invalid pubkey der: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return PublicKey{}, fmt.Errorf("pubkey is not RSA")
	}
	return PublicKey{key: rsaPub}, nil
}

// PrivKeyFromHex decodes a hex-encoded PKCS#1 private key.
func PrivKeyFromHex(s string) (PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("invalid privkey hex: %w", err)
	}
	key, err := x509.ParsePKCS1PrivateKey(b)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("invalid privkey der: %w", err)
	}
	return PrivateKey{key: key}, nil
}
