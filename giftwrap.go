package snstr

import (
	"encoding/json"
	"math/rand"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
)

const (
	// KindDirectMessageRumor is the unsigned kind-14 DM rumor (NIP-17).
	KindDirectMessageRumor = 14
	// KindSeal is the kind-13 seal wrapping a rumor, NIP-44 encrypted and signed by the sender.
	KindSeal = 13
	// KindGiftWrap is the kind-1059 outer wrap, NIP-44 encrypted with an ephemeral key.
	KindGiftWrap = 1059

	maxTimestampDrift = 2 * 24 * time.Hour
)

// randomizedPast returns a unix timestamp uniformly distributed in
// [now - maxTimestampDrift, now], per spec.md §4.3's gift-wrap layer jitter.
func randomizedPast() int64 {
	now := time.Now()
	driftSeconds := int64(maxTimestampDrift / time.Second)
	offset := rand.Int63n(driftSeconds + 1)
	return now.Unix() - offset
}

// rumor is the unsigned inner event: a plain struct, never serialized with
// an id/sig since it is never published directly.
type rumor struct {
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      int    `json:"kind"`
	Tags      Tags   `json:"tags"`
	Content   string `json:"content"`
}

// WrapDirectMessage composes rumor -> seal -> wrap for a DM from sender to
// receiver, per NIP-17/NIP-59. The returned Event is the outer wrap, signed
// by a freshly generated ephemeral keypair and p-tagged to receiver.
func WrapDirectMessage(sender *KeyPair, receiverPubHex string, content string, extraTags Tags) (*Event, error) {
	rum := rumor{
		PubKey:    sender.PublicKey,
		CreatedAt: randomizedPast(),
		Kind:      KindDirectMessageRumor,
		Tags:      append(Tags{{"p", receiverPubHex}}, extraTags...),
		Content:   content,
	}
	rumJSON, err := json.Marshal(rum)
	if err != nil {
		return nil, errInvalidEvent("failed to serialize rumor", err)
	}

	sealContent, err := Nip44Encrypt(sender.PrivateKey, receiverPubHex, string(rumJSON))
	if err != nil {
		return nil, err
	}
	seal, err := NewBuilder(KindSeal, sealContent).At(randomizedPast()).Sign(sender.PrivateKey)
	if err != nil {
		return nil, err
	}

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	defer ephemeral.Zero()

	sealJSON, err := json.Marshal(seal)
	if err != nil {
		return nil, errInvalidEvent("failed to serialize seal", err)
	}
	wrapContent, err := Nip44Encrypt(ephemeral.PrivateKey, receiverPubHex, string(sealJSON))
	if err != nil {
		return nil, err
	}

	wrap, err := NewBuilder(KindGiftWrap, wrapContent).
		AddTag("p", receiverPubHex).
		At(randomizedPast()).
		Sign(ephemeral.PrivateKey)
	if err != nil {
		return nil, err
	}
	return wrap, nil
}

// UnwrapDirectMessage reverses WrapDirectMessage. It verifies the seal's
// Schnorr signature and that the rumor's pubkey equals the seal's pubkey,
// rejecting sender impersonation per spec.md §4.3.
func UnwrapDirectMessage(receiver *KeyPair, wrap *Event) (content string, senderPubKey string, rum *Event, err error) {
	if wrap.Kind != KindGiftWrap {
		return "", "", nil, errInvalidEvent("not a gift wrap event", nil)
	}
	sealJSON, err := Nip44Decrypt(receiver.PrivateKey, wrap.PubKey, wrap.Content)
	if err != nil {
		return "", "", nil, err
	}

	var seal Event
	if jsonErr := json.Unmarshal([]byte(sealJSON), &seal); jsonErr != nil {
		return "", "", nil, errInvalidEvent("failed to parse seal", jsonErr)
	}
	if seal.Kind != KindSeal {
		return "", "", nil, errInvalidEvent("decrypted payload is not a seal", nil)
	}
	if err := seal.ValidateStructure(); err != nil {
		return "", "", nil, err
	}
	if err := seal.ValidateSignature(); err != nil {
		return "", "", nil, err
	}

	rumJSON, err := Nip44Decrypt(receiver.PrivateKey, seal.PubKey, seal.Content)
	if err != nil {
		return "", "", nil, err
	}
	var rm rumor
	if jsonErr := json.Unmarshal([]byte(rumJSON), &rm); jsonErr != nil {
		return "", "", nil, errInvalidEvent("failed to parse rumor", jsonErr)
	}
	if rm.PubKey != seal.PubKey {
		return "", "", nil, errCrypto("sender mismatch: rumor pubkey does not match seal pubkey", nil)
	}

	return rm.Content, seal.PubKey, &Event{
		PubKey:    rm.PubKey,
		CreatedAt: rm.CreatedAt,
		Kind:      rm.Kind,
		Tags:      rm.Tags,
		Content:   rm.Content,
	}, nil
}
