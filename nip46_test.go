package snstr

import "testing"

func TestParseBunkerURLRejectsWrongScheme(t *testing.T) {
	if _, err := ParseBunkerURL("nostrconnect://deadbeef", DefaultRemoteSignerOptions()); err == nil {
		t.Error("expected error for non bunker:// scheme")
	}
}

func TestParseBunkerURLRejectsShortPubkey(t *testing.T) {
	_, err := ParseBunkerURL("bunker://abcd?relay=wss://relay.example.com", DefaultRemoteSignerOptions())
	if err == nil {
		t.Error("expected error for a pubkey shorter than 64 hex chars")
	}
}

func TestParseBunkerURLRejectsNonHexPubkey(t *testing.T) {
	notHex := "zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz"
	_, err := ParseBunkerURL("bunker://"+notHex+"?relay=wss://relay.example.com", DefaultRemoteSignerOptions())
	if err == nil {
		t.Error("expected error for a non-hex pubkey")
	}
}

func TestParseBunkerURLRejectsMissingRelay(t *testing.T) {
	remote := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	if _, err := ParseBunkerURL("bunker://"+remote, DefaultRemoteSignerOptions()); err == nil {
		t.Error("expected error for a bunker URL with no relay query param")
	}
}

func TestParseBunkerURLSucceedsWithValidURL(t *testing.T) {
	remote := "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990ee2"
	bc, err := ParseBunkerURL("bunker://"+remote+"?relay=wss://relay.example.com&secret=abc123", DefaultRemoteSignerOptions())
	if err != nil {
		t.Fatalf("ParseBunkerURL: %v", err)
	}
	if bc.RemoteSignerPubKey != remote {
		t.Errorf("RemoteSignerPubKey = %s, want %s", bc.RemoteSignerPubKey, remote)
	}
	if bc.Secret != "abc123" {
		t.Errorf("Secret = %s, want %s", bc.Secret, "abc123")
	}
	if len(bc.Relays) != 1 || bc.Relays[0] != "wss://relay.example.com" {
		t.Errorf("Relays = %v", bc.Relays)
	}
	if bc.ClientKeys == nil {
		t.Error("expected a freshly generated disposable client keypair")
	}
}

func TestIsValidAuthURLRejectsNonHTTPS(t *testing.T) {
	if isValidAuthURL("http://example.com/auth", nil) {
		t.Error("expected http:// scheme to be rejected")
	}
}

func TestIsValidAuthURLRejectsDangerousCharacters(t *testing.T) {
	for _, raw := range []string{
		`https://example.com/"auth`,
		"https://example.com/<auth>",
		"https://example.com/'auth'",
	} {
		if isValidAuthURL(raw, nil) {
			t.Errorf("isValidAuthURL(%q) = true, want false", raw)
		}
	}
}

func TestIsValidAuthURLAllowsHTTPSWithNoWhitelist(t *testing.T) {
	if !isValidAuthURL("https://example.com/auth", nil) {
		t.Error("expected a clean https URL to be valid with no whitelist set")
	}
}

func TestIsValidAuthURLEnforcesWhitelist(t *testing.T) {
	whitelist := []string{"trusted.example.com"}
	if !isValidAuthURL("https://trusted.example.com/auth", whitelist) {
		t.Error("expected a whitelisted host to be valid")
	}
	if isValidAuthURL("https://evil.example.com/auth", whitelist) {
		t.Error("expected a non-whitelisted host to be rejected")
	}
}

func TestEncryptDecryptNip46PayloadPreferenceAndFallback(t *testing.T) {
	alice, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	bob, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	nip04Opts := RemoteSignerOptions{PreferredEncryption: "NIP-04"}
	encrypted, err := encryptNip46Payload(alice.PrivateKey, bob.PublicKey, nip04Opts, "hello bunker")
	if err != nil {
		t.Fatalf("encryptNip46Payload: %v", err)
	}
	plaintext, err := decryptNip46Payload(bob.PrivateKey, alice.PublicKey, encrypted)
	if err != nil {
		t.Fatalf("decryptNip46Payload: %v", err)
	}
	if plaintext != "hello bunker" {
		t.Errorf("plaintext = %q, want %q", plaintext, "hello bunker")
	}

	nip44Opts := RemoteSignerOptions{PreferredEncryption: "NIP-44"}
	encrypted44, err := encryptNip46Payload(alice.PrivateKey, bob.PublicKey, nip44Opts, "hello again")
	if err != nil {
		t.Fatalf("encryptNip46Payload (NIP-44): %v", err)
	}
	plaintext44, err := decryptNip46Payload(bob.PrivateKey, alice.PublicKey, encrypted44)
	if err != nil {
		t.Fatalf("decryptNip46Payload (NIP-44): %v", err)
	}
	if plaintext44 != "hello again" {
		t.Errorf("plaintext = %q, want %q", plaintext44, "hello again")
	}
}
