package snstr

import (
	"encoding/json"
	"testing"
)

func TestWrapUnwrapDirectMessageRoundtrip(t *testing.T) {
	sender, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	receiver, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	wrap, err := WrapDirectMessage(sender, receiver.PublicKey, "hey, got a sec?", nil)
	if err != nil {
		t.Fatalf("WrapDirectMessage: %v", err)
	}
	if wrap.Kind != KindGiftWrap {
		t.Fatalf("wrap kind = %d, want %d", wrap.Kind, KindGiftWrap)
	}
	if err := wrap.ValidateSignature(); err != nil {
		t.Fatalf("wrap signature invalid: %v", err)
	}
	if wrap.PubKey == sender.PublicKey {
		t.Error("wrap should be signed by an ephemeral key, not the sender's")
	}

	content, senderPub, rum, err := UnwrapDirectMessage(receiver, wrap)
	if err != nil {
		t.Fatalf("UnwrapDirectMessage: %v", err)
	}
	if content != "hey, got a sec?" {
		t.Errorf("content = %q, want %q", content, "hey, got a sec?")
	}
	if senderPub != sender.PublicKey {
		t.Errorf("senderPub = %s, want %s", senderPub, sender.PublicKey)
	}
	if rum.Kind != KindDirectMessageRumor {
		t.Errorf("rumor kind = %d, want %d", rum.Kind, KindDirectMessageRumor)
	}
}

func TestUnwrapRejectsWrongKind(t *testing.T) {
	receiver, _ := GenerateKeyPair()
	notAWrap := &Event{Kind: 1}
	if _, _, _, err := UnwrapDirectMessage(receiver, notAWrap); err == nil {
		t.Error("expected error unwrapping a non-gift-wrap event")
	}
}

func TestUnwrapRejectsSenderImpersonation(t *testing.T) {
	sender, _ := GenerateKeyPair()
	impersonator, _ := GenerateKeyPair()
	receiver, _ := GenerateKeyPair()

	// Build a seal that claims to be from sender but forge the rumor's
	// pubkey to belong to impersonator, simulating a relay-side tamper
	// that a naive unwrap (trusting the rumor's own pubkey field) would miss.
	rum := rumor{
		PubKey:    impersonator.PublicKey,
		CreatedAt: randomizedPast(),
		Kind:      KindDirectMessageRumor,
		Tags:      Tags{{"p", receiver.PublicKey}},
		Content:   "pretend this is from sender",
	}
	rumJSON, err := json.Marshal(rum)
	if err != nil {
		t.Fatalf("marshal rumor: %v", err)
	}

	sealContent, err := Nip44Encrypt(sender.PrivateKey, receiver.PublicKey, string(rumJSON))
	if err != nil {
		t.Fatalf("Nip44Encrypt seal: %v", err)
	}
	seal, err := NewBuilder(KindSeal, sealContent).Sign(sender.PrivateKey)
	if err != nil {
		t.Fatalf("Sign seal: %v", err)
	}

	ephemeral, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	sealJSON, err := json.Marshal(seal)
	if err != nil {
		t.Fatalf("marshal seal: %v", err)
	}
	wrapContent, err := Nip44Encrypt(ephemeral.PrivateKey, receiver.PublicKey, string(sealJSON))
	if err != nil {
		t.Fatalf("Nip44Encrypt wrap: %v", err)
	}
	wrap, err := NewBuilder(KindGiftWrap, wrapContent).AddTag("p", receiver.PublicKey).Sign(ephemeral.PrivateKey)
	if err != nil {
		t.Fatalf("Sign wrap: %v", err)
	}

	if _, _, _, err := UnwrapDirectMessage(receiver, wrap); err == nil {
		t.Error("expected sender-impersonation rejection")
	}
}
