package snstr

import (
	"context"
	"testing"

	"snstr/internal/cache"
)

func TestToStoredFromStoredRoundtrip(t *testing.T) {
	e := &Event{
		ID:        "abc",
		PubKey:    "def",
		CreatedAt: 1234,
		Kind:      30023,
		Tags:      Tags{{"d", "article-1"}, {"t", "nostr"}},
		Content:   "hello",
		Sig:       "sig",
	}

	stored := toStored(e)
	back := fromStored(stored)

	if back.ID != e.ID || back.PubKey != e.PubKey || back.CreatedAt != e.CreatedAt || back.Kind != e.Kind || back.Content != e.Content || back.Sig != e.Sig {
		t.Fatalf("roundtrip mismatch: got %+v, want %+v", back, e)
	}
	if len(back.Tags) != len(e.Tags) {
		t.Fatalf("tags length = %d, want %d", len(back.Tags), len(e.Tags))
	}
	if back.DTag() != "article-1" {
		t.Errorf("DTag() = %q, want %q", back.DTag(), "article-1")
	}
}

func TestNewClientAppliesDefaults(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	c := NewClient(kp, ClientOptions{}, nil)
	defer c.Close()

	if c.PublicKeyHex() != kp.PublicKey {
		t.Errorf("PublicKeyHex() = %s, want %s", c.PublicKeyHex(), kp.PublicKey)
	}
	if c.opts.RelayOptions == (RelayOptions{}) {
		t.Error("expected NewClient to apply DefaultRelayOptions() when unset")
	}
	if c.opts.MaxFutureDrift <= 0 {
		t.Error("expected NewClient to apply a default MaxFutureDrift when unset")
	}
}

func TestClientSignBuilderProducesValidSignature(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	c := NewClient(kp, ClientOptions{}, nil)
	defer c.Close()

	event, err := c.SignBuilder(NewBuilder(1, "hello"))
	if err != nil {
		t.Fatalf("SignBuilder: %v", err)
	}
	if err := event.ValidateSignature(); err != nil {
		t.Errorf("signature invalid: %v", err)
	}
}

func TestClientWithMemoryCacheStoresLatestReplaceableEvent(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	c := NewClient(kp, ClientOptions{}, cache.NewMemoryBackend())
	defer c.Close()

	event, err := c.SignBuilder(NewBuilder(0, `{"name":"alice"}`))
	if err != nil {
		t.Fatalf("SignBuilder: %v", err)
	}
	ctx := context.Background()
	c.offerToCache(ctx, event)

	got, found, err := c.cache.Get(ctx, cache.Key{PubKey: kp.PublicKey, Kind: 0})
	if err != nil || !found {
		t.Fatalf("cache.Get = %v, %v, %v", got, found, err)
	}
	if got.ID != event.ID {
		t.Errorf("cached id = %s, want %s", got.ID, event.ID)
	}
}
