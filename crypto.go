package snstr

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
)

// KeyPair holds a secp256k1 private key and its x-only (Schnorr) public key.
// Private key material here MUST never be logged or serialized.
type KeyPair struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  string // 32-byte x-only hex
}

// GenerateKeyPair creates a fresh keypair using OS randomness.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errCrypto("failed to generate private key", err)
	}
	return &KeyPair{
		PrivateKey: priv,
		PublicKey:  hex.EncodeToString(schnorrPubKeyBytes(priv)),
	}, nil
}

// ParsePrivateKey decodes a 32-byte hex private key and derives the keypair.
func ParsePrivateKey(hexKey string) (*KeyPair, error) {
	b, err := hex.DecodeString(hexKey)
	if err != nil || len(b) != 32 {
		return nil, errInvalidInput("private key must be 32-byte hex", err)
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return &KeyPair{
		PrivateKey: priv,
		PublicKey:  hex.EncodeToString(schnorrPubKeyBytes(priv)),
	}, nil
}

// PrivateKeyHex returns the 32-byte hex encoding of the private scalar.
func (k *KeyPair) PrivateKeyHex() string {
	return hex.EncodeToString(k.PrivateKey.Serialize())
}

// Zero overwrites the in-memory private scalar, per spec.md §9's
// zeroization design note. Call when the keypair is no longer needed.
func (k *KeyPair) Zero() {
	if k == nil || k.PrivateKey == nil {
		return
	}
	k.PrivateKey.Zero()
}

// sharedSecretX returns the 32-byte x-coordinate of ECDH(priv, pubHex),
// the shared point used by both NIP-04 and NIP-44 key derivation. Grounded
// on the teacher's nip44.go GetConversationKey / GetNip04SharedSecret.
func sharedSecretX(priv *btcec.PrivateKey, pubHex string) ([]byte, error) {
	pubBytes, err := hex.DecodeString(pubHex)
	if err != nil || len(pubBytes) != 32 {
		return nil, errInvalidInput("pubkey must be 32-byte hex", err)
	}
	// x-only pubkey assumed even-y per BIP-340.
	prefixed := append([]byte{0x02}, pubBytes...)
	pubKey, err := btcec.ParsePubKey(prefixed)
	if err != nil {
		return nil, errInvalidInput("malformed pubkey", err)
	}

	// GenerateSharedSecret performs ECDH and returns the serialized
	// x-coordinate of priv*pubKey, matching the teacher's nip44.go ECDH path.
	shared := btcec.GenerateSharedSecret(priv, pubKey)
	out := make([]byte, 32)
	copy(out[32-len(shared):], shared)
	return out, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, errCrypto("failed to read randomness", err)
	}
	return b, nil
}
