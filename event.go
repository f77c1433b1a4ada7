package snstr

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// MaxFutureDrift is the default allowance for how far in the future an
// event's created_at may sit relative to wall clock before Validate rejects it.
const MaxFutureDrift = 15 * time.Minute

// Tag is one ordered sequence of strings; Tag[0] is the tag name.
type Tag []string

// Tags is an ordered sequence of Tag.
type Tags []Tag

// First returns the value at index 1 of the first tag named name and whether
// such a tag exists; the value is "" if the tag is absent or has no value.
func (t Tags) First(name string) (string, bool) {
	for _, tag := range t {
		if len(tag) > 0 && tag[0] == name {
			if len(tag) > 1 {
				return tag[1], true
			}
			return "", true
		}
	}
	return "", false
}

// All returns every value at index 1 of tags named name, in order.
func (t Tags) All(name string) []string {
	var out []string
	for _, tag := range t {
		if len(tag) > 1 && tag[0] == name {
			out = append(out, tag[1])
		}
	}
	return out
}

// Event is the root Nostr entity: (id, pubkey, created_at, kind, tags, content, sig).
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

// KindClass classifies an event kind's storage/replacement semantics.
type KindClass int

const (
	KindRegular KindClass = iota
	KindReplaceable
	KindEphemeral
	KindAddressable
)

// ClassifyKind returns the storage semantics for a kind per NIP-01.
func ClassifyKind(kind int) KindClass {
	switch {
	case kind == 0 || kind == 3 || (kind >= 10000 && kind < 20000):
		return KindReplaceable
	case kind >= 20000 && kind < 30000:
		return KindEphemeral
	case kind >= 30000 && kind < 40000:
		return KindAddressable
	default:
		return KindRegular
	}
}

// DTag returns the value of the first "d" tag, used by addressable events.
func (e *Event) DTag() string {
	d, _ := e.Tags.First("d")
	return d
}

// canonicalArray serializes [0, pubkey, created_at, kind, tags, content] with
// a streaming encoder so output is byte-identical regardless of host map
// iteration order, matching NIP-01's canonical form exactly.
func canonicalArray(pubkey string, createdAt int64, kind int, tags Tags, content string) ([]byte, error) {
	if tags == nil {
		tags = Tags{}
	}
	arr := []interface{}{0, pubkey, createdAt, kind, tags, content}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(arr); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if n := len(out); n > 0 && out[n-1] == '\n' {
		out = out[:n-1]
	}
	// encoding/json escapes U+2028 and U+2029 even with SetEscapeHTML(false);
	// write them back as raw UTF-8 like every other non-ASCII character.
	res := make([]byte, 0, len(out))
	for i := 0; i < len(out); i++ {
		switch {
		case out[i] == '\\' && bytes.HasPrefix(out[i+1:], []byte("u202")) && i+5 < len(out) && (out[i+5] == '8' || out[i+5] == '9'):
			res = append(res, string(rune(0x2028+int(out[i+5]-'8')))...)
			i += 5
		case out[i] == '\\' && i+1 < len(out):
			res = append(res, out[i], out[i+1])
			i++
		default:
			res = append(res, out[i])
		}
	}
	return res, nil
}

// Hash computes the canonical id for the given fields. It fails with
// KindInvalidEvent if pubkey is not 64 hex chars, created_at is negative,
// or tags are malformed.
func Hash(pubkey string, createdAt int64, kind int, tags Tags, content string) (string, error) {
	if len(pubkey) != 64 {
		return "", errInvalidEvent("pubkey must be 64 hex characters", nil)
	}
	if _, err := hex.DecodeString(pubkey); err != nil {
		return "", errInvalidEvent("pubkey must be hex", err)
	}
	if createdAt < 0 {
		return "", errInvalidEvent("created_at must be non-negative", nil)
	}
	if kind < 0 || kind >= 65536 {
		return "", errInvalidEvent("kind must fit in an unsigned 16-bit integer", nil)
	}
	for _, tag := range tags {
		if len(tag) == 0 {
			return "", errInvalidEvent("tag entries must be non-empty string sequences", nil)
		}
	}

	data, err := canonicalArray(pubkey, createdAt, kind, tags, content)
	if err != nil {
		return "", errInvalidEvent("failed to serialize canonical event", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Sign produces a BIP-340 Schnorr signature over idHex using privKey, with
// a fresh 32 bytes of OS randomness as the auxiliary input.
func Sign(idHex string, privKey *btcec.PrivateKey) (string, error) {
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 32 {
		return "", errInvalidInput("id must be 32-byte hex", err)
	}
	var aux [32]byte
	if _, err := rand.Read(aux[:]); err != nil {
		return "", errCrypto("failed to read randomness", err)
	}
	sig, err := schnorr.Sign(privKey, idBytes, schnorr.CustomNonce(aux))
	if err != nil {
		return "", errCrypto("schnorr sign failed", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// Verify checks a BIP-340 Schnorr signature over idHex by pubkeyHex.
func Verify(idHex, sigHex, pubkeyHex string) (bool, error) {
	idBytes, err := hex.DecodeString(idHex)
	if err != nil || len(idBytes) != 32 {
		return false, errInvalidInput("id must be 32-byte hex", err)
	}
	sigBytes, err := hex.DecodeString(sigHex)
	if err != nil {
		return false, errInvalidInput("sig must be hex", err)
	}
	pubKeyBytes, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(pubKeyBytes) != 32 {
		return false, errInvalidInput("pubkey must be 32-byte hex", err)
	}

	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false, errInvalidInput("malformed pubkey", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false, errInvalidInput("malformed signature", err)
	}
	return sig.Verify(idBytes, pubKey), nil
}

// ValidateStructure checks field shape without touching cryptography: hex
// lengths, tag shape, kind range. Cheap enough to run before buffering.
func (e *Event) ValidateStructure() error {
	if len(e.ID) != 64 {
		return errInvalidEvent("id must be 64 hex characters", nil)
	}
	if _, err := hex.DecodeString(e.ID); err != nil {
		return errInvalidEvent("id must be hex", err)
	}
	if len(e.PubKey) != 64 {
		return errInvalidEvent("pubkey must be 64 hex characters", nil)
	}
	if _, err := hex.DecodeString(e.PubKey); err != nil {
		return errInvalidEvent("pubkey must be hex", err)
	}
	if len(e.Sig) != 128 {
		return errInvalidEvent("sig must be 128 hex characters", nil)
	}
	if _, err := hex.DecodeString(e.Sig); err != nil {
		return errInvalidEvent("sig must be hex", err)
	}
	if e.CreatedAt < 0 {
		return errInvalidEvent("created_at must be non-negative", nil)
	}
	if e.Kind < 0 || e.Kind >= 65536 {
		return errInvalidEvent("kind out of range", nil)
	}
	for _, tag := range e.Tags {
		if len(tag) == 0 {
			return errInvalidEvent("tag entries must be non-empty", nil)
		}
	}
	return nil
}

// ValidateSignature recomputes the canonical hash and verifies the
// signature. This is the expensive, asynchronous half of validation.
func (e *Event) ValidateSignature() error {
	computed, err := Hash(e.PubKey, e.CreatedAt, e.Kind, e.Tags, e.Content)
	if err != nil {
		return err
	}
	if computed != e.ID {
		return errInvalidEvent(fmt.Sprintf("id mismatch: computed %s, got %s", computed, e.ID), nil)
	}
	ok, err := Verify(e.ID, e.Sig, e.PubKey)
	if err != nil {
		return errInvalidEvent("signature verification error", err)
	}
	if !ok {
		return errInvalidEvent("signature verification failed", nil)
	}
	return nil
}

// Validate runs ValidateStructure, ValidateSignature, and rejects
// created_at more than maxFutureDrift ahead of wall clock (0 uses the
// package default of 15 minutes).
func (e *Event) Validate(maxFutureDrift time.Duration) error {
	if err := e.ValidateStructure(); err != nil {
		return err
	}
	if err := e.ValidateSignature(); err != nil {
		return err
	}
	if maxFutureDrift <= 0 {
		maxFutureDrift = MaxFutureDrift
	}
	if time.Unix(e.CreatedAt, 0).After(time.Now().Add(maxFutureDrift)) {
		return errInvalidEvent("created_at too far in the future", nil)
	}
	return nil
}

// Builder constructs and signs new events, mirroring the teacher's
// createNIP46Event but generalized to arbitrary kinds/content.
type Builder struct {
	Kind      int
	Content   string
	Tags      Tags
	CreatedAt int64 // 0 means time.Now()
}

// NewBuilder starts a Builder for the given kind and content.
func NewBuilder(kind int, content string) *Builder {
	return &Builder{Kind: kind, Content: content}
}

// AddTag appends a tag to the builder and returns it for chaining.
func (b *Builder) AddTag(values ...string) *Builder {
	b.Tags = append(b.Tags, Tag(values))
	return b
}

// At sets an explicit created_at timestamp, used by gift-wrap's randomized drift.
func (b *Builder) At(createdAt int64) *Builder {
	b.CreatedAt = createdAt
	return b
}

// Sign finalizes the event: computes pubkey from priv, hashes, and signs.
func (b *Builder) Sign(priv *btcec.PrivateKey) (*Event, error) {
	createdAt := b.CreatedAt
	if createdAt == 0 {
		createdAt = time.Now().Unix()
	}
	pubHex := hex.EncodeToString(schnorrPubKeyBytes(priv))

	id, err := Hash(pubHex, createdAt, b.Kind, b.Tags, b.Content)
	if err != nil {
		return nil, err
	}
	sig, err := Sign(id, priv)
	if err != nil {
		return nil, err
	}
	return &Event{
		ID:        id,
		PubKey:    pubHex,
		CreatedAt: createdAt,
		Kind:      b.Kind,
		Tags:      b.Tags,
		Content:   b.Content,
		Sig:       sig,
	}, nil
}

func schnorrPubKeyBytes(priv *btcec.PrivateKey) []byte {
	return priv.PubKey().SerializeCompressed()[1:]
}
