package snstr

import "testing"

func TestNpubRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	npub, err := EncodePublicKey(kp.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}
	if npub[:5] != "npub1" {
		t.Errorf("npub = %q, want npub1 prefix", npub)
	}

	decoded, err := DecodePublicKey(npub)
	if err != nil {
		t.Fatalf("DecodePublicKey: %v", err)
	}
	if decoded != kp.PublicKey {
		t.Errorf("decoded = %s, want %s", decoded, kp.PublicKey)
	}
}

func TestNsecRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	nsec, err := EncodePrivateKey(kp.PrivateKeyHex())
	if err != nil {
		t.Fatalf("EncodePrivateKey: %v", err)
	}
	decoded, err := DecodePrivateKey(nsec)
	if err != nil {
		t.Fatalf("DecodePrivateKey: %v", err)
	}
	if decoded != kp.PrivateKeyHex() {
		t.Errorf("decoded = %s, want %s", decoded, kp.PrivateKeyHex())
	}
}

func TestNoteRoundtrip(t *testing.T) {
	eventID := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	note, err := EncodeNote(eventID)
	if err != nil {
		t.Fatalf("EncodeNote: %v", err)
	}
	decoded, err := DecodeNote(note)
	if err != nil {
		t.Fatalf("DecodeNote: %v", err)
	}
	if decoded != eventID {
		t.Errorf("decoded = %s, want %s", decoded, eventID)
	}
}

func TestNprofileRoundtripDropsUnsafeRelayHints(t *testing.T) {
	pubkey := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	encoded, err := EncodeProfile(NProfile{
		Pubkey: pubkey,
		RelayHints: []string{
			"wss://relay.example.com",
			"ws://insecure.example.com",
			"wss://creds@relay.evil.com", // embedded credentials, must be dropped
			"https://not-a-relay.example.com",
		},
	})
	if err != nil {
		t.Fatalf("EncodeProfile: %v", err)
	}

	p, err := DecodeNProfile(encoded)
	if err != nil {
		t.Fatalf("DecodeNProfile: %v", err)
	}
	if p.Pubkey != pubkey {
		t.Errorf("pubkey = %s, want %s", p.Pubkey, pubkey)
	}
	if len(p.RelayHints) != 2 {
		t.Fatalf("relay hints = %v, want exactly the 2 safe ones", p.RelayHints)
	}
	for _, hint := range p.RelayHints {
		if hint == "wss://creds@relay.evil.com" || hint == "https://not-a-relay.example.com" {
			t.Errorf("unsafe relay hint survived encoding: %s", hint)
		}
	}
}

func TestNeventRoundtrip(t *testing.T) {
	eventID := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	author := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	encoded, err := EncodeEvent(NEvent{
		EventID:    eventID,
		Author:     author,
		RelayHints: []string{"wss://relay.example.com"},
	})
	if err != nil {
		t.Fatalf("EncodeEvent: %v", err)
	}

	e, err := DecodeNEvent(encoded)
	if err != nil {
		t.Fatalf("DecodeNEvent: %v", err)
	}
	if e.EventID != eventID {
		t.Errorf("eventID = %s, want %s", e.EventID, eventID)
	}
	if e.Author != author {
		t.Errorf("author = %s, want %s", e.Author, author)
	}
	if len(e.RelayHints) != 1 || e.RelayHints[0] != "wss://relay.example.com" {
		t.Errorf("relay hints = %v", e.RelayHints)
	}
}

func TestNaddrRoundtrip(t *testing.T) {
	author := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	encoded, err := EncodeAddress(NAddr{
		Kind:       30023,
		Author:     author,
		DTag:       "my-article",
		RelayHints: []string{"wss://relay.example.com"},
	})
	if err != nil {
		t.Fatalf("EncodeAddress: %v", err)
	}

	a, err := DecodeNAddr(encoded)
	if err != nil {
		t.Fatalf("DecodeNAddr: %v", err)
	}
	if a.Kind != 30023 {
		t.Errorf("kind = %d, want 30023", a.Kind)
	}
	if a.Author != author {
		t.Errorf("author = %s, want %s", a.Author, author)
	}
	if a.DTag != "my-article" {
		t.Errorf("dTag = %q, want %q", a.DTag, "my-article")
	}
}

func TestDecodeAutoDetectsEntityType(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	npub, err := EncodePublicKey(kp.PublicKey)
	if err != nil {
		t.Fatalf("EncodePublicKey: %v", err)
	}

	d, err := Decode(npub)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Type != "npub" {
		t.Errorf("Type = %q, want %q", d.Type, "npub")
	}
	if d.PubKey != kp.PublicKey {
		t.Errorf("PubKey = %s, want %s", d.PubKey, kp.PublicKey)
	}
}

func TestDecodeRejectsUnrecognizedPrefix(t *testing.T) {
	if _, err := Decode("lnbc1notanostrstring"); err == nil {
		t.Error("expected error decoding an unrecognized bech32 prefix")
	}
}

func TestDecodePublicKeyRejectsWrongPrefix(t *testing.T) {
	eventID := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	note, err := EncodeNote(eventID)
	if err != nil {
		t.Fatalf("EncodeNote: %v", err)
	}
	if _, err := DecodePublicKey(note); err == nil {
		t.Error("expected error decoding a note1 string as npub")
	}
}
