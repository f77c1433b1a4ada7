package snstr

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/hkdf"
)

const (
	nip44Version     = 2
	nip44Salt        = "nip44-v2"
	minPlaintextSize = 1
	maxPlaintextSize = 65535
	minPaddedSize    = 32
	nip44MinPayload  = 99
	nip44MaxPayload  = 65603
)

// GetConversationKey derives the NIP-44 v2 conversation key shared between
// priv and pubHex: HKDF-Extract(SHA-256, salt="nip44-v2", ikm=ECDH(priv, pub)).
func GetConversationKey(priv *btcec.PrivateKey, pubHex string) ([]byte, error) {
	shared, err := sharedSecretX(priv, pubHex)
	if err != nil {
		return nil, err
	}
	return hkdf.Extract(sha256.New, shared, []byte(nip44Salt)), nil
}

// messageKeys derives per-message chacha20 key/nonce and HMAC key from the
// conversation key and a random 32-byte nonce via HKDF-Expand(..., 76).
func messageKeys(conversationKey, nonce []byte) (chachaKey, chachaNonce, hmacKey []byte, err error) {
	reader := hkdf.Expand(sha256.New, conversationKey, nonce)
	out := make([]byte, 76)
	if _, err = reader.Read(out); err != nil {
		return nil, nil, nil, errCrypto("hkdf expand failed", err)
	}
	return out[0:32], out[32:44], out[44:76], nil
}

// calcPaddedLen rounds up to the padding schema NIP-44 specifies: a 32-byte
// floor, multiples of 32 while the next power of two is at most 256, and
// above that multiples of one eighth of the next power of two.
func calcPaddedLen(unpaddedLen int) int {
	if unpaddedLen <= 32 {
		return minPaddedSize
	}
	nextPower := 1
	for nextPower < unpaddedLen {
		nextPower <<= 1
	}
	var chunk int
	if nextPower <= 256 {
		chunk = 32
	} else {
		chunk = nextPower / 8
	}
	return chunk * ((unpaddedLen-1)/chunk + 1)
}

// pad encodes a u16 big-endian length prefix, the plaintext, then zero bytes
// up to calcPaddedLen(len(plaintext)).
func pad(plaintext []byte) []byte {
	unpaddedLen := len(plaintext)
	prefix := make([]byte, 2)
	binary.BigEndian.PutUint16(prefix, uint16(unpaddedLen))

	padded := calcPaddedLen(unpaddedLen)
	out := make([]byte, 2+padded)
	copy(out, prefix)
	copy(out[2:], plaintext)
	return out
}

func unpad(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, errCrypto("padded plaintext too short", nil)
	}
	unpaddedLen := int(binary.BigEndian.Uint16(padded[:2]))
	if unpaddedLen < minPlaintextSize || unpaddedLen > maxPlaintextSize {
		return nil, errCrypto("invalid unpadded length", nil)
	}
	rest := padded[2:]
	if unpaddedLen > len(rest) {
		return nil, errCrypto("unpadded length exceeds payload", nil)
	}
	if len(rest) != calcPaddedLen(unpaddedLen) {
		return nil, errCrypto("padding length mismatch", nil)
	}
	return rest[:unpaddedLen], nil
}

func hmacAAD(key, message, aad []byte) ([]byte, error) {
	if len(aad) != 32 {
		return nil, errCrypto("aad must be 32 bytes", nil)
	}
	mac := hmac.New(sha256.New, key)
	mac.Write(aad)
	mac.Write(message)
	return mac.Sum(nil), nil
}

// Nip44Encrypt encrypts plaintext from priv to pubHex, returning the
// base64url-no-padding payload [version|nonce|ciphertext|mac].
func Nip44Encrypt(priv *btcec.PrivateKey, pubHex string, plaintext string) (string, error) {
	nonce, err := randomBytes(32)
	if err != nil {
		return "", err
	}
	return nip44EncryptWithNonce(priv, pubHex, plaintext, nonce)
}

func nip44EncryptWithNonce(priv *btcec.PrivateKey, pubHex string, plaintext string, nonce []byte) (string, error) {
	if len(plaintext) < minPlaintextSize || len(plaintext) > maxPlaintextSize {
		return "", errCrypto("plaintext length out of range", nil)
	}
	convKey, err := GetConversationKey(priv, pubHex)
	if err != nil {
		return "", err
	}
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	padded := pad([]byte(plaintext))

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", errCrypto("failed to init chacha20 cipher", err)
	}
	ciphertext := make([]byte, len(padded))
	cipher.XORKeyStream(ciphertext, padded)

	mac, err := hmacAAD(hmacKey, ciphertext, nonce)
	if err != nil {
		return "", err
	}

	payload := make([]byte, 0, 1+len(nonce)+len(ciphertext)+len(mac))
	payload = append(payload, byte(nip44Version))
	payload = append(payload, nonce...)
	payload = append(payload, ciphertext...)
	payload = append(payload, mac...)

	return base64.RawURLEncoding.EncodeToString(payload), nil
}

// Nip44Decrypt decrypts a payload produced by Nip44Encrypt. The MAC is
// compared in constant time and checked before any further parsing, per
// spec.md §4.3.
func Nip44Decrypt(priv *btcec.PrivateKey, pubHex string, payload string) (string, error) {
	if len(payload) > 0 && payload[0] == '#' {
		return "", errCrypto("unsupported future nip-44 version indicator", nil)
	}
	data, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		// tolerate padded input from non-conforming senders
		data, err = base64.URLEncoding.DecodeString(payload)
		if err != nil {
			return "", errCrypto("invalid base64 payload", err)
		}
	}
	if len(data) < nip44MinPayload || len(data) > nip44MaxPayload {
		return "", errCrypto("payload length out of range", nil)
	}
	if data[0] != nip44Version {
		return "", errCrypto("unknown nip-44 version byte", nil)
	}

	nonce := data[1:33]
	mac := data[len(data)-32:]
	ciphertext := data[33 : len(data)-32]

	convKey, err := GetConversationKey(priv, pubHex)
	if err != nil {
		return "", err
	}
	chachaKey, chachaNonce, hmacKey, err := messageKeys(convKey, nonce)
	if err != nil {
		return "", err
	}

	expectedMAC, err := hmacAAD(hmacKey, ciphertext, nonce)
	if err != nil {
		return "", err
	}
	if !hmac.Equal(mac, expectedMAC) {
		return "", errCrypto("mac mismatch", nil)
	}

	cipher, err := chacha20.NewUnauthenticatedCipher(chachaKey, chachaNonce)
	if err != nil {
		return "", errCrypto("failed to init chacha20 cipher", err)
	}
	padded := make([]byte, len(ciphertext))
	cipher.XORKeyStream(padded, ciphertext)

	plaintext, err := unpad(padded)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
