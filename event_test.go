package snstr

import (
	"testing"
	"time"
)

func TestBuilderSignAndVerifyRoundtrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	event, err := NewBuilder(1, "hello world").AddTag("t", "test").Sign(kp.PrivateKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := event.Validate(0); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if event.PubKey != kp.PublicKey {
		t.Errorf("pubkey = %s, want %s", event.PubKey, kp.PublicKey)
	}
}

func TestHashIsDeterministic(t *testing.T) {
	pubkey := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	id1, err := Hash(pubkey, 1700000000, 1, Tags{}, "test")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	id2, err := Hash(pubkey, 1700000000, 1, Tags{}, "test")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if id1 != id2 {
		t.Errorf("Hash is not deterministic: %s != %s", id1, id2)
	}
	t.Logf("id: %s", id1)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	event, err := NewBuilder(1, "hello").Sign(kp.PrivateKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	event.Content = "tampered"
	if err := event.ValidateSignature(); err == nil {
		t.Error("expected signature validation to fail after tampering with content")
	}
}

func TestValidateRejectsFutureDrift(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	farFuture := time.Now().Add(time.Hour).Unix()
	event, err := NewBuilder(1, "hello").At(farFuture).Sign(kp.PrivateKey)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := event.Validate(15 * time.Minute); err == nil {
		t.Error("expected future-drift rejection")
	}
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		kind int
		want KindClass
	}{
		{0, KindReplaceable},
		{1, KindRegular},
		{3, KindReplaceable},
		{10002, KindReplaceable},
		{19999, KindReplaceable},
		{20000, KindEphemeral},
		{29999, KindEphemeral},
		{30023, KindAddressable},
		{39999, KindAddressable},
		{40000, KindRegular},
	}
	for _, tt := range tests {
		if got := ClassifyKind(tt.kind); got != tt.want {
			t.Errorf("ClassifyKind(%d) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestDTag(t *testing.T) {
	e := &Event{Tags: Tags{{"d", "my-article"}, {"t", "nostr"}}}
	if got := e.DTag(); got != "my-article" {
		t.Errorf("DTag() = %q, want %q", got, "my-article")
	}
}

func TestHashRejectsMalformedPubkey(t *testing.T) {
	if _, err := Hash("not-hex", 0, 1, Tags{}, ""); err == nil {
		t.Error("expected error for malformed pubkey")
	}
}
