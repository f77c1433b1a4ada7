// Package bech32 implements the BIP-173-style checksum codec NIP-19 builds
// its npub/nsec/note/nprofile/nevent/naddr identifiers on top of.
package bech32

import (
	"errors"
	"strings"
)

const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// MaxDataChars bounds the portion of a bech32 string after the separator.
// NIP-19 entities carry TLV payloads (relay hints, authors, kinds) that can
// comfortably exceed BIP-173's original 90-character total length, so this
// codec accepts up to 1023 data characters rather than enforcing that cap.
const MaxDataChars = 1023

// Decode splits a bech32 string into its human-readable part and raw
// 5-bit-per-byte data, with the 6-character checksum stripped.
func Decode(bech string) (hrp string, data []byte, err error) {
	if len(bech) < 8 {
		return "", nil, errors.New("bech32: string too short")
	}
	if strings.ToLower(bech) != bech && strings.ToUpper(bech) != bech {
		return "", nil, errors.New("bech32: mixed case is not allowed")
	}
	bech = strings.ToLower(bech)

	pos := strings.LastIndex(bech, "1")
	if pos < 1 || pos+7 > len(bech) {
		return "", nil, errors.New("bech32: invalid separator position")
	}
	if len(bech)-pos-1 > MaxDataChars+6 {
		return "", nil, errors.New("bech32: data portion exceeds maximum length")
	}

	hrp = bech[:pos]
	dataPart := bech[pos+1:]

	values := make([]byte, 0, len(dataPart))
	for _, c := range dataPart {
		idx := strings.IndexRune(charset, c)
		if idx == -1 {
			return "", nil, errors.New("bech32: invalid character in data part")
		}
		values = append(values, byte(idx))
	}
	if len(values) < 6 {
		return "", nil, errors.New("bech32: too short for checksum")
	}
	payload := values[:len(values)-6]
	checksum := values[len(values)-6:]

	if !verifyChecksum(hrp, append(append([]byte{}, payload...), checksum...)) {
		return "", nil, errors.New("bech32: invalid checksum")
	}
	return hrp, payload, nil
}

// ConvertBits re-groups a byte slice from fromBits-wide values to
// toBits-wide values, used to move between 8-bit bytes and bech32's 5-bit
// alphabet in both directions.
func ConvertBits(data []byte, fromBits, toBits int, pad bool) ([]byte, error) {
	acc := 0
	bits := 0
	var ret []byte
	maxv := (1 << toBits) - 1
	maxAcc := (1 << (fromBits + toBits - 1)) - 1

	for _, value := range data {
		if int(value)>>fromBits != 0 {
			return nil, errors.New("bech32: invalid data value")
		}
		acc = ((acc << fromBits) | int(value)) & maxAcc
		bits += fromBits
		for bits >= toBits {
			bits -= toBits
			ret = append(ret, byte((acc>>bits)&maxv))
		}
	}

	if pad {
		if bits > 0 {
			ret = append(ret, byte((acc<<(toBits-bits))&maxv))
		}
	} else if bits >= fromBits || ((acc<<(toBits-bits))&maxv) != 0 {
		return nil, errors.New("bech32: invalid padding")
	}
	return ret, nil
}

// Encode assembles hrp + "1" + data(5-bit) + checksum using the bech32 charset.
func Encode(hrp string, data []byte) (string, error) {
	if len(data) > MaxDataChars {
		return "", errors.New("bech32: data portion exceeds maximum length")
	}
	checksum := createChecksum(hrp, data)
	combined := append(append([]byte{}, data...), checksum...)

	var sb strings.Builder
	sb.WriteString(hrp)
	sb.WriteByte('1')
	for _, v := range combined {
		sb.WriteByte(charset[v])
	}
	return sb.String(), nil
}

func polymod(values []int) int {
	gen := []int{0x3b6a57b2, 0x26508e6d, 0x1ea119fa, 0x3d4233dd, 0x2a1462b3}
	chk := 1
	for _, v := range values {
		top := chk >> 25
		chk = (chk&0x1ffffff)<<5 ^ v
		for i := 0; i < 5; i++ {
			if (top>>i)&1 != 0 {
				chk ^= gen[i]
			}
		}
	}
	return chk
}

func hrpExpand(hrp string) []int {
	ret := make([]int, 0, len(hrp)*2+1)
	for _, c := range hrp {
		ret = append(ret, int(c>>5))
	}
	ret = append(ret, 0)
	for _, c := range hrp {
		ret = append(ret, int(c&31))
	}
	return ret
}

func createChecksum(hrp string, data []byte) []byte {
	values := hrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	for i := 0; i < 6; i++ {
		values = append(values, 0)
	}
	mod := polymod(values) ^ 1
	checksum := make([]byte, 6)
	for i := 0; i < 6; i++ {
		checksum[i] = byte((mod >> (5 * (5 - i))) & 31)
	}
	return checksum
}

func verifyChecksum(hrp string, data []byte) bool {
	values := hrpExpand(hrp)
	for _, d := range data {
		values = append(values, int(d))
	}
	return polymod(values) == 1
}
