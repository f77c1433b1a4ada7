package snstr

import "testing"

// fakeSigner is a minimal Signer for exercising Bunker.dispatch without a
// real Client/relay pool.
type fakeSigner struct {
	pubHex string
}

func (f *fakeSigner) PublicKeyHex() string { return f.pubHex }

func (f *fakeSigner) SignBuilder(b *Builder) (*Event, error) {
	return nil, errRejected("signing not implemented by fakeSigner")
}

func (f *fakeSigner) Nip04Encrypt(pubHex, plaintext string) (string, error) {
	return "nip04-enc:" + plaintext, nil
}

func (f *fakeSigner) Nip04Decrypt(pubHex, payload string) (string, error) {
	return "nip04-dec:" + payload, nil
}

func (f *fakeSigner) Nip44Encrypt(pubHex, plaintext string) (string, error) {
	return "nip44-enc:" + plaintext, nil
}

func (f *fakeSigner) Nip44Decrypt(pubHex, payload string) (string, error) {
	return "nip44-dec:" + payload, nil
}

func newTestBunker(t *testing.T) (*Bunker, *KeyPair) {
	t.Helper()
	keys, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	return NewBunker(keys, &fakeSigner{pubHex: keys.PublicKey}, RemoteSignerOptions{}), keys
}

func TestHandleConnectRejectsWrongSignerPubkey(t *testing.T) {
	b, _ := newTestBunker(t)
	other, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	b.sessions.Set("s1", &ConnectSession{Secret: "s1", State: StateUnknown})

	resp := b.handleConnect("client-pub", nip46Request{ID: "1", Params: []string{other.PublicKey, "s1"}})
	if resp.Error == "" {
		t.Fatal("expected an error when params[0] does not match the signer pubkey")
	}

	session, ok := b.sessions.Get("s1")
	if !ok || session.State != StateUnknown {
		t.Error("session must remain StateUnknown after a connect addressed to the wrong pubkey")
	}
}

func TestHandleConnectAcceptsMatchingPubkey(t *testing.T) {
	b, keys := newTestBunker(t)
	b.sessions.Set("s1", &ConnectSession{Secret: "s1", State: StateUnknown})

	resp := b.handleConnect("client-pub", nip46Request{ID: "1", Params: []string{keys.PublicKey, "s1"}})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}

	session, ok := b.sessions.Get("s1")
	if !ok || session.State != StateConnected || session.ClientPubKey != "client-pub" {
		t.Errorf("session = %+v, ok = %v, want Connected/client-pub", session, ok)
	}
}

func TestDispatchPingDoesNotRequireSession(t *testing.T) {
	b, _ := newTestBunker(t)
	resp := b.dispatch("unknown-client", nip46Request{ID: "1", Method: "ping"})
	if resp.Result != "pong" {
		t.Errorf("dispatch(ping) = %+v, want Result pong", resp)
	}
}

func TestDispatchCodecRequiresConnectedSessionAndPermission(t *testing.T) {
	b, keys := newTestBunker(t)

	// No session at all: rejected.
	resp := b.dispatch("client-pub", nip46Request{ID: "1", Method: "nip44_encrypt", Params: []string{keys.PublicKey, "hi"}})
	if resp.Error == "" {
		t.Fatal("expected an error dispatching nip44_encrypt with no session")
	}

	// Connected but missing permission: rejected.
	b.sessions.Set("s1", &ConnectSession{
		Secret:       "s1",
		ClientPubKey: "client-pub",
		State:        StateConnected,
		Permissions:  map[Permission]bool{},
	})
	resp = b.dispatch("client-pub", nip46Request{ID: "2", Method: "nip44_encrypt", Params: []string{keys.PublicKey, "hi"}})
	if resp.Error == "" {
		t.Fatal("expected permission denied for nip44_encrypt without a grant")
	}

	// Connected with permission: delegates to the signer.
	b.sessions.Set("s1", &ConnectSession{
		Secret:       "s1",
		ClientPubKey: "client-pub",
		State:        StateConnected,
		Permissions:  parsePermissions("nip44_encrypt"),
	})
	resp = b.dispatch("client-pub", nip46Request{ID: "3", Method: "nip44_encrypt", Params: []string{keys.PublicKey, "hi"}})
	if resp.Error != "" {
		t.Fatalf("unexpected error: %s", resp.Error)
	}
	if resp.Result != "nip44-enc:hi" {
		t.Errorf("Result = %q, want %q", resp.Result, "nip44-enc:hi")
	}
}

func TestParsePermissionsSplitsCSV(t *testing.T) {
	perms := parsePermissions("get_public_key,sign_event:1,sign_event:30023")
	if len(perms) != 3 {
		t.Fatalf("parsed %d permissions, want 3", len(perms))
	}
	if !perms[methodPermission("get_public_key")] {
		t.Error("expected get_public_key permission")
	}
	if !perms[signEventPermission(1)] {
		t.Error("expected sign_event:1 permission")
	}
	if !perms[signEventPermission(30023)] {
		t.Error("expected sign_event:30023 permission")
	}
}

func TestParsePermissionsEmptyString(t *testing.T) {
	perms := parsePermissions("")
	if len(perms) != 0 {
		t.Errorf("parsed %d permissions from empty string, want 0", len(perms))
	}
}

func TestHasPermissionBareMethod(t *testing.T) {
	s := &ConnectSession{Permissions: parsePermissions("get_public_key")}
	if !s.HasPermission("get_public_key", 0) {
		t.Error("expected get_public_key to be permitted")
	}
	if s.HasPermission("sign_event", 1) {
		t.Error("sign_event should not be permitted without a matching grant")
	}
}

func TestHasPermissionSignEventByKind(t *testing.T) {
	s := &ConnectSession{Permissions: parsePermissions("sign_event:1")}
	if !s.HasPermission("sign_event", 1) {
		t.Error("expected sign_event:1 to permit signing kind 1")
	}
	if s.HasPermission("sign_event", 30023) {
		t.Error("sign_event:1 should not permit signing a different kind")
	}
}

func TestConnectSessionStoreGetSetDelete(t *testing.T) {
	store := NewConnectSessionStore()
	if _, ok := store.Get("missing"); ok {
		t.Error("expected no session for an unset secret")
	}

	session := &ConnectSession{ClientPubKey: "abc", Secret: "s1"}
	store.Set("s1", session)

	got, ok := store.Get("s1")
	if !ok || got.ClientPubKey != "abc" {
		t.Fatalf("Get(s1) = %v, %v", got, ok)
	}

	store.Delete("s1")
	if _, ok := store.Get("s1"); ok {
		t.Error("expected session to be gone after Delete")
	}
}

func TestJoinCommas(t *testing.T) {
	tests := []struct {
		in   []string
		want string
	}{
		{nil, ""},
		{[]string{"a"}, "a"},
		{[]string{"a", "b", "c"}, "a,b,c"},
	}
	for _, tt := range tests {
		if got := joinCommas(tt.in); got != tt.want {
			t.Errorf("joinCommas(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
