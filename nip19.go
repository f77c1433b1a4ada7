package snstr

import (
	"encoding/binary"
	"encoding/hex"
	"strings"

	"snstr/internal/bech32"
)

// NProfile is a decoded nprofile1... identifier: a pubkey plus relay hints.
type NProfile struct {
	Pubkey     string
	RelayHints []string
}

// NEvent is a decoded nevent1... identifier.
type NEvent struct {
	EventID    string
	Author     string
	RelayHints []string
}

// NAddr is a decoded naddr1... identifier for an addressable event.
type NAddr struct {
	Kind       uint32
	Author     string
	DTag       string
	RelayHints []string
}

const (
	tlvTypeSpecial = 0
	tlvTypeRelay   = 1
	tlvTypeAuthor  = 2
	tlvTypeKind    = 3
	tlvTypeDTag    = 4
)

// sanitizeRelayHint keeps only TLV relay URLs matching wss?://host[:port]/...
// with no embedded credentials or control characters, per spec.md §4.2. This
// is metadata-only filtering; the live outbound SSRF guard lives in relay.go.
func sanitizeRelayHint(raw string) (string, bool) {
	for _, r := range raw {
		if r < 0x20 || r == 0x7f {
			return "", false
		}
	}
	lower := strings.ToLower(raw)
	var rest string
	switch {
	case strings.HasPrefix(lower, "wss://"):
		rest = raw[len("wss://"):]
	case strings.HasPrefix(lower, "ws://"):
		rest = raw[len("ws://"):]
	default:
		return "", false
	}
	if strings.Contains(rest, "@") {
		return "", false
	}
	if rest == "" {
		return "", false
	}
	return raw, true
}

// EncodePublicKey encodes a 32-byte hex pubkey as npub1...
func EncodePublicKey(hexPubkey string) (string, error) {
	return encodeSimple("npub", hexPubkey)
}

// EncodePrivateKey encodes a 32-byte hex private key as nsec1...
func EncodePrivateKey(hexPrivkey string) (string, error) {
	return encodeSimple("nsec", hexPrivkey)
}

// EncodeNote encodes a 32-byte hex event id as note1...
func EncodeNote(hexEventID string) (string, error) {
	return encodeSimple("note", hexEventID)
}

func encodeSimple(hrp, hexValue string) (string, error) {
	raw, err := hex.DecodeString(hexValue)
	if err != nil || len(raw) != 32 {
		return "", errInvalidInput(hrp+": value must be 32-byte hex", err)
	}
	data, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", errInvalidInput(hrp+": bit conversion failed", err)
	}
	out, err := bech32.Encode(hrp, data)
	if err != nil {
		return "", errInvalidInput(hrp+": encode failed", err)
	}
	return out, nil
}

func appendTLV(buf []byte, tlvType byte, value []byte) []byte {
	if len(value) > 255 {
		value = value[:255]
	}
	buf = append(buf, tlvType, byte(len(value)))
	buf = append(buf, value...)
	return buf
}

// EncodeProfile encodes an NProfile as nprofile1...
func EncodeProfile(p NProfile) (string, error) {
	pub, err := hex.DecodeString(p.Pubkey)
	if err != nil || len(pub) != 32 {
		return "", errInvalidInput("nprofile: pubkey must be 32-byte hex", err)
	}
	var buf []byte
	buf = appendTLV(buf, tlvTypeSpecial, pub)
	for _, relay := range p.RelayHints {
		if safe, ok := sanitizeRelayHint(relay); ok {
			buf = appendTLV(buf, tlvTypeRelay, []byte(safe))
		}
	}
	return encodeTLV("nprofile", buf)
}

// EncodeEvent encodes an NEvent as nevent1...
func EncodeEvent(e NEvent) (string, error) {
	id, err := hex.DecodeString(e.EventID)
	if err != nil || len(id) != 32 {
		return "", errInvalidInput("nevent: event id must be 32-byte hex", err)
	}
	var buf []byte
	buf = appendTLV(buf, tlvTypeSpecial, id)
	for _, relay := range e.RelayHints {
		if safe, ok := sanitizeRelayHint(relay); ok {
			buf = appendTLV(buf, tlvTypeRelay, []byte(safe))
		}
	}
	if e.Author != "" {
		author, err := hex.DecodeString(e.Author)
		if err == nil && len(author) == 32 {
			buf = appendTLV(buf, tlvTypeAuthor, author)
		}
	}
	return encodeTLV("nevent", buf)
}

// EncodeAddress encodes an NAddr as naddr1...
func EncodeAddress(a NAddr) (string, error) {
	author, err := hex.DecodeString(a.Author)
	if err != nil || len(author) != 32 {
		return "", errInvalidInput("naddr: author must be 32-byte hex", err)
	}
	var buf []byte
	buf = appendTLV(buf, tlvTypeDTag, []byte(a.DTag))
	for _, relay := range a.RelayHints {
		if safe, ok := sanitizeRelayHint(relay); ok {
			buf = appendTLV(buf, tlvTypeRelay, []byte(safe))
		}
	}
	buf = appendTLV(buf, tlvTypeAuthor, author)
	kindBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(kindBytes, a.Kind)
	buf = appendTLV(buf, tlvTypeKind, kindBytes)
	return encodeTLV("naddr", buf)
}

func encodeTLV(hrp string, tlvBytes []byte) (string, error) {
	data, err := bech32.ConvertBits(tlvBytes, 8, 5, true)
	if err != nil {
		return "", errInvalidInput(hrp+": bit conversion failed", err)
	}
	out, err := bech32.Encode(hrp, data)
	if err != nil {
		return "", errInvalidInput(hrp+": encode failed", err)
	}
	return out, nil
}

func decodeSimple(prefix, hrp, s string) (string, error) {
	if !strings.HasPrefix(s, prefix) {
		return "", errInvalidInput("not a "+hrp+" string", nil)
	}
	h, data, err := bech32.Decode(s)
	if err != nil {
		return "", errInvalidInput("malformed bech32", err)
	}
	if h != hrp {
		return "", errInvalidInput("unexpected human-readable prefix", nil)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil || len(raw) != 32 {
		return "", errInvalidInput(hrp+": invalid payload length", err)
	}
	return hex.EncodeToString(raw), nil
}

// DecodePublicKey decodes an npub1... string to a 32-byte hex pubkey.
func DecodePublicKey(npub string) (string, error) { return decodeSimple("npub1", "npub", npub) }

// DecodePrivateKey decodes an nsec1... string to a 32-byte hex private key.
func DecodePrivateKey(nsec string) (string, error) { return decodeSimple("nsec1", "nsec", nsec) }

// DecodeNote decodes a note1... string to a 32-byte hex event id.
func DecodeNote(note string) (string, error) { return decodeSimple("note1", "note", note) }

func decodeTLVBytes(prefix, hrp, s string) ([]byte, error) {
	if !strings.HasPrefix(s, prefix) {
		return nil, errInvalidInput("not a "+hrp+" string", nil)
	}
	h, data, err := bech32.Decode(s)
	if err != nil {
		return nil, errInvalidInput("malformed bech32", err)
	}
	if h != hrp {
		return nil, errInvalidInput("unexpected human-readable prefix", nil)
	}
	return bech32.ConvertBits(data, 5, 8, false)
}

func walkTLV(data []byte, fn func(tlvType byte, value []byte)) {
	for i := 0; i < len(data); {
		if i+2 > len(data) {
			return
		}
		tlvType := data[i]
		tlvLen := int(data[i+1])
		i += 2
		if i+tlvLen > len(data) {
			return
		}
		fn(tlvType, data[i:i+tlvLen])
		i += tlvLen
	}
}

// DecodeNProfile decodes an nprofile1... string.
func DecodeNProfile(s string) (*NProfile, error) {
	data, err := decodeTLVBytes("nprofile1", "nprofile", s)
	if err != nil {
		return nil, err
	}
	n := &NProfile{}
	walkTLV(data, func(t byte, v []byte) {
		switch t {
		case tlvTypeSpecial:
			if len(v) == 32 {
				n.Pubkey = hex.EncodeToString(v)
			}
		case tlvTypeRelay:
			if safe, ok := sanitizeRelayHint(string(v)); ok {
				n.RelayHints = append(n.RelayHints, safe)
			}
		}
	})
	if n.Pubkey == "" {
		return nil, errInvalidInput("nprofile missing pubkey", nil)
	}
	return n, nil
}

// DecodeNEvent decodes an nevent1... string.
func DecodeNEvent(s string) (*NEvent, error) {
	data, err := decodeTLVBytes("nevent1", "nevent", s)
	if err != nil {
		return nil, err
	}
	n := &NEvent{}
	walkTLV(data, func(t byte, v []byte) {
		switch t {
		case tlvTypeSpecial:
			if len(v) == 32 {
				n.EventID = hex.EncodeToString(v)
			}
		case tlvTypeAuthor:
			if len(v) == 32 {
				n.Author = hex.EncodeToString(v)
			}
		case tlvTypeRelay:
			if safe, ok := sanitizeRelayHint(string(v)); ok {
				n.RelayHints = append(n.RelayHints, safe)
			}
		}
	})
	if n.EventID == "" {
		return nil, errInvalidInput("nevent missing event id", nil)
	}
	return n, nil
}

// DecodeNAddr decodes an naddr1... string.
func DecodeNAddr(s string) (*NAddr, error) {
	data, err := decodeTLVBytes("naddr1", "naddr", s)
	if err != nil {
		return nil, err
	}
	n := &NAddr{}
	var hasKind, hasAuthor bool
	walkTLV(data, func(t byte, v []byte) {
		switch t {
		case tlvTypeAuthor:
			if len(v) == 32 {
				n.Author = hex.EncodeToString(v)
				hasAuthor = true
			}
		case tlvTypeKind:
			if len(v) == 4 {
				n.Kind = binary.BigEndian.Uint32(v)
				hasKind = true
			}
		case tlvTypeDTag:
			n.DTag = string(v)
		case tlvTypeRelay:
			if safe, ok := sanitizeRelayHint(string(v)); ok {
				n.RelayHints = append(n.RelayHints, safe)
			}
		}
	})
	if !hasKind || !hasAuthor {
		return nil, errInvalidInput("naddr missing required fields", nil)
	}
	return n, nil
}

// Decoded is the result of the Decode auto-detect façade.
type Decoded struct {
	Type string // "npub", "nsec", "note", "nprofile", "nevent", "naddr"
	// Exactly one of the following is populated, matching Type.
	PubKey   string
	PrivKey  string
	EventID  string
	Profile  *NProfile
	Event    *NEvent
	Address  *NAddr
}

// Decode auto-detects the entity type from its bech32 prefix and decodes it.
func Decode(s string) (*Decoded, error) {
	switch {
	case strings.HasPrefix(s, "npub1"):
		pk, err := DecodePublicKey(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "npub", PubKey: pk}, nil
	case strings.HasPrefix(s, "nsec1"):
		sk, err := DecodePrivateKey(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "nsec", PrivKey: sk}, nil
	case strings.HasPrefix(s, "note1"):
		id, err := DecodeNote(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "note", EventID: id}, nil
	case strings.HasPrefix(s, "nprofile1"):
		p, err := DecodeNProfile(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "nprofile", Profile: p}, nil
	case strings.HasPrefix(s, "nevent1"):
		e, err := DecodeNEvent(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "nevent", Event: e}, nil
	case strings.HasPrefix(s, "naddr1"):
		a, err := DecodeNAddr(s)
		if err != nil {
			return nil, err
		}
		return &Decoded{Type: "naddr", Address: a}, nil
	default:
		return nil, errInvalidInput("unrecognized bech32 prefix", nil)
	}
}
