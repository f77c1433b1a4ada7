package snstr

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Nip04Encrypt implements the legacy NIP-04 envelope: AES-256-CBC with a
// random 16-byte IV, keyed by the x-coordinate of ECDH(priv, pubHex).
// Output is "<base64_ct>?iv=<base64_iv>". Prefer Nip44Encrypt for new code.
func Nip04Encrypt(priv *btcec.PrivateKey, pubHex string, plaintext string) (string, error) {
	key, err := sharedSecretX(priv, pubHex)
	if err != nil {
		return "", err
	}
	iv, err := randomBytes(16)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errCrypto("failed to init aes cipher", err)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cbc := cipher.NewCBCEncrypter(block, iv)
	cbc.CryptBlocks(ciphertext, padded)

	return base64.StdEncoding.EncodeToString(ciphertext) + "?iv=" + base64.StdEncoding.EncodeToString(iv), nil
}

// Nip04Decrypt reverses Nip04Encrypt.
func Nip04Decrypt(priv *btcec.PrivateKey, pubHex string, payload string) (string, error) {
	parts := strings.SplitN(payload, "?iv=", 2)
	if len(parts) != 2 {
		return "", errCrypto("malformed nip-04 payload, missing iv", nil)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", errCrypto("invalid base64 ciphertext", err)
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil || len(iv) != aes.BlockSize {
		return "", errCrypto("invalid iv", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", errCrypto("ciphertext is not a multiple of the block size", nil)
	}

	key, err := sharedSecretX(priv, pubHex)
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", errCrypto("failed to init aes cipher", err)
	}
	plainPadded := make([]byte, len(ciphertext))
	cbc := cipher.NewCBCDecrypter(block, iv)
	cbc.CryptBlocks(plainPadded, ciphertext)

	plaintext, err := pkcs7Unpad(plainPadded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(data, padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, errCrypto("invalid padded length", nil)
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, errCrypto("invalid pkcs7 padding", nil)
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, errCrypto("invalid pkcs7 padding", nil)
		}
	}
	return data[:n-padLen], nil
}
