package snstr

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/skip2/go-qrcode"
)

// Permission is a single capability a ConnectSession grants its client,
// either a bare method name ("get_public_key") or "sign_event:<kind>".
type Permission string

func methodPermission(method string) Permission { return Permission(method) }

func signEventPermission(kind int) Permission {
	return Permission("sign_event:" + itoaPermission(kind))
}

func itoaPermission(n int) string {
	if n == 0 {
		return "0"
	}
	var buf [8]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// ConnectState is a ConnectSession's position in the NIP-46 handshake.
type ConnectState int

const (
	StateUnknown ConnectState = iota
	StateConnected
)

// ConnectSession is the bunker/server side of a NIP-46 pairing: a client
// pubkey granted a permission set, reached over a shared relay set.
// Grounded on nostrconnect.go's PendingConnection, generalized from a
// connect-only struct into a stateful session carrying permissions.
type ConnectSession struct {
	ClientPubKey string
	Secret       string
	Relays       []string
	Permissions  map[Permission]bool
	State        ConnectState
	CreatedAt    time.Time
}

// HasPermission reports whether the session may invoke method, or sign an
// event of the given kind when method is "sign_event".
func (s *ConnectSession) HasPermission(method string, kind int) bool {
	if s.Permissions[methodPermission(method)] {
		return true
	}
	if method == "sign_event" && s.Permissions[signEventPermission(kind)] {
		return true
	}
	return false
}

func parsePermissions(csv string) map[Permission]bool {
	perms := make(map[Permission]bool)
	if csv == "" {
		return perms
	}
	start := 0
	for i := 0; i <= len(csv); i++ {
		if i == len(csv) || csv[i] == ',' {
			if i > start {
				perms[Permission(csv[start:i])] = true
			}
			start = i + 1
		}
	}
	return perms
}

// ConnectSessionStore tracks pending and established sessions keyed by
// the shared secret, mirroring nostrconnect.go's PendingConnectionStore
// (map + mutex) generalized to carry ConnectSession instead of
// PendingConnection.
type ConnectSessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*ConnectSession
}

func NewConnectSessionStore() *ConnectSessionStore {
	return &ConnectSessionStore{sessions: make(map[string]*ConnectSession)}
}

func (s *ConnectSessionStore) Get(secret string) (*ConnectSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[secret]
	return session, ok
}

func (s *ConnectSessionStore) Set(secret string, session *ConnectSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[secret] = session
}

func (s *ConnectSessionStore) Delete(secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, secret)
}

// CleanupExpired removes sessions older than maxAge.
func (s *ConnectSessionStore) CleanupExpired(maxAge time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for secret, session := range s.sessions {
		if now.Sub(session.CreatedAt) > maxAge {
			delete(s.sessions, secret)
		}
	}
}

// Bunker is the remote-signer server: it owns a persistent keypair,
// listens for kind-24133 requests p-tagged to it, and dispatches them to
// a Signer after checking ConnectSession permissions. Grounded on the
// shape of nostrconnect.go's listener but built on relay.go's Pool.Subscribe
// instead of a raw per-relay dial loop.
type Bunker struct {
	Keys     *KeyPair
	sessions *ConnectSessionStore
	pool     *Pool
	signer   Signer
	opts     RemoteSignerOptions
}

// Signer is anything that can produce a Schnorr-signed Event, answer
// get_public_key, and perform the NIP-04/NIP-44 codec methods NIP-46
// proxies to the user's key; the high-level Client implements it.
type Signer interface {
	PublicKeyHex() string
	SignBuilder(b *Builder) (*Event, error)
	Nip04Encrypt(pubHex, plaintext string) (string, error)
	Nip04Decrypt(pubHex, payload string) (string, error)
	Nip44Encrypt(pubHex, plaintext string) (string, error)
	Nip44Decrypt(pubHex, payload string) (string, error)
}

// NewBunker constructs a Bunker for keys, dispatching authorized requests
// to signer. A zero-value opts falls back to DefaultRemoteSignerOptions().
func NewBunker(keys *KeyPair, signer Signer, opts RemoteSignerOptions) *Bunker {
	if opts.TimeoutMs == 0 {
		opts = DefaultRemoteSignerOptions()
	}
	return &Bunker{
		Keys:     keys,
		sessions: NewConnectSessionStore(),
		pool:     NewPool(DefaultRelayOptions()),
		signer:   signer,
		opts:     opts,
	}
}

// NewConnectURL builds a bunker://<bunker-pubkey>?relay=...&secret=...&perms=...
// URL for a client to scan or paste into ParseBunkerURL, registering a
// pending ConnectSession awaiting the client's "connect" request.
func (b *Bunker) NewConnectURL(relays []string, name string, perms []Permission) (string, string, error) {
	secretBytes, err := randomBytes(16)
	if err != nil {
		return "", "", errCrypto("failed to generate connection secret", err)
	}
	secret := hex.EncodeToString(secretBytes)

	permSet := make(map[Permission]bool, len(perms))
	permStrs := make([]string, len(perms))
	for i, p := range perms {
		permSet[p] = true
		permStrs[i] = string(p)
	}

	u := url.URL{Scheme: "bunker", Host: b.Keys.PublicKey}
	q := u.Query()
	for _, relay := range relays {
		q.Add("relay", relay)
	}
	q.Set("secret", secret)
	if name != "" {
		q.Set("name", name)
	}
	if len(permStrs) > 0 {
		q.Set("perms", joinCommas(permStrs))
	}
	u.RawQuery = q.Encode()

	b.sessions.Set(secret, &ConnectSession{
		Secret:      secret,
		Relays:      relays,
		Permissions: permSet,
		State:       StateUnknown,
		CreatedAt:   time.Now(),
	})

	return u.String(), secret, nil
}

// ParseNostrConnectURL handles the reverse pairing direction: a client
// app hands the bunker a nostrconnect://<client-pubkey>?relay=...&secret=...&perms=...
// URL (rather than the bunker minting a bunker:// URL for the client),
// pre-approving it with the permissions it requests.
func (b *Bunker) ParseNostrConnectURL(raw string) (*ConnectSession, error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "nostrconnect" {
		return nil, errInvalidInput("malformed nostrconnect URL", err)
	}
	clientPubHex := u.Host
	if len(clientPubHex) != 64 {
		return nil, errInvalidInput("nostrconnect URL host must be a 64-char hex pubkey", nil)
	}

	secret := u.Query().Get("secret")
	session := &ConnectSession{
		ClientPubKey: clientPubHex,
		Secret:       secret,
		Relays:       u.Query()["relay"],
		Permissions:  parsePermissions(u.Query().Get("perms")),
		State:        StateConnected,
		CreatedAt:    time.Now(),
	}
	b.sessions.Set(secret, session)
	return session, nil
}

func joinCommas(ss []string) string {
	out := ""
	for i, s := range ss {
		if i > 0 {
			out += ","
		}
		out += s
	}
	return out
}

// ConnectionQRCode renders url as a PNG QR code, grounded on html_auth.go's
// generateQRCodeDataURL use of github.com/skip2/go-qrcode, returned as
// raw PNG bytes rather than a data-URL string (display is a caller concern).
func ConnectionQRCode(connectURL string) ([]byte, error) {
	png, err := qrcode.Encode(connectURL, qrcode.Medium, 256)
	if err != nil {
		return nil, errInvalidInput("failed to render QR code", err)
	}
	return png, nil
}

// ConnectionQRCodeDataURL is ConnectionQRCode base64-encoded as a data: URL.
func ConnectionQRCodeDataURL(connectURL string) (string, error) {
	png, err := ConnectionQRCode(connectURL)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}

// Listen subscribes to every relay in urls for kind-24133 requests
// p-tagged to the bunker's pubkey, dispatching each to handleRequest.
func (b *Bunker) Listen(ctx context.Context, urls []string) (*PoolSubscription, error) {
	filter := Filter{
		Kinds: []int{KindNip46Request},
		Tags:  map[string][]string{"p": {b.Keys.PublicKey}},
		Since: time.Now().Unix() - 60,
	}
	return b.pool.Subscribe(ctx, urls, []Filter{filter}, func(e *Event) {
		go b.handleRequest(ctx, e)
	}, nil)
}

func (b *Bunker) handleRequest(ctx context.Context, e *Event) {
	decrypted, err := decryptNip46Payload(b.Keys.PrivateKey, e.PubKey, e.Content)
	if err != nil {
		return
	}
	var req nip46Request
	if err := json.Unmarshal([]byte(decrypted), &req); err != nil {
		return
	}

	resp := b.dispatch(e.PubKey, req)
	respJSON, err := json.Marshal(resp)
	if err != nil {
		return
	}
	encrypted, err := encryptNip46Payload(b.Keys.PrivateKey, e.PubKey, b.opts, string(respJSON))
	if err != nil {
		return
	}
	reply, err := NewBuilder(KindNip46Request, encrypted).
		AddTag("p", e.PubKey).
		Sign(b.Keys.PrivateKey)
	if err != nil {
		return
	}

	var urls []string
	if session, ok := b.findSessionByClient(e.PubKey); ok {
		urls = session.Relays
	}
	if len(urls) == 0 {
		return
	}
	b.pool.Publish(ctx, urls, reply)
}

func (b *Bunker) findSessionByClient(clientPubHex string) (*ConnectSession, bool) {
	b.sessions.mu.RLock()
	defer b.sessions.mu.RUnlock()
	for _, session := range b.sessions.sessions {
		if session.ClientPubKey == clientPubHex {
			return session, true
		}
	}
	return nil, false
}

func (b *Bunker) dispatch(clientPubHex string, req nip46Request) nip46Response {
	switch req.Method {
	case "connect":
		return b.handleConnect(clientPubHex, req)
	case "ping":
		return nip46Response{ID: req.ID, Result: "pong"}
	case "get_public_key":
		session, ok := b.findSessionByClient(clientPubHex)
		if !ok || session.State != StateConnected {
			return nip46Response{ID: req.ID, Error: "not connected"}
		}
		if !session.HasPermission("get_public_key", 0) {
			return nip46Response{ID: req.ID, Error: "permission denied"}
		}
		return nip46Response{ID: req.ID, Result: b.signer.PublicKeyHex()}
	case "sign_event":
		return b.handleSignEvent(clientPubHex, req)
	case "nip04_encrypt":
		return b.handleCodec(clientPubHex, req, "nip04_encrypt", b.signer.Nip04Encrypt)
	case "nip04_decrypt":
		return b.handleCodec(clientPubHex, req, "nip04_decrypt", b.signer.Nip04Decrypt)
	case "nip44_encrypt":
		return b.handleCodec(clientPubHex, req, "nip44_encrypt", b.signer.Nip44Encrypt)
	case "nip44_decrypt":
		return b.handleCodec(clientPubHex, req, "nip44_decrypt", b.signer.Nip44Decrypt)
	default:
		return nip46Response{ID: req.ID, Error: "unsupported method: " + req.Method}
	}
}

// handleConnect transitions a session Unknown -> Connected per spec.md
// §4.7's state machine: params[0] must match this bunker's own signer
// pubkey, and any configured secret must match too.
func (b *Bunker) handleConnect(clientPubHex string, req nip46Request) nip46Response {
	if len(req.Params) == 0 {
		return nip46Response{ID: req.ID, Error: "connect requires a target pubkey parameter"}
	}
	if req.Params[0] != b.Keys.PublicKey {
		return nip46Response{ID: req.ID, Error: "connect target does not match signer pubkey"}
	}
	secret := ""
	if len(req.Params) > 1 {
		secret = req.Params[1]
	}

	session, ok := b.sessions.Get(secret)
	if !ok {
		return nip46Response{ID: req.ID, Error: "unknown connection secret"}
	}
	session.ClientPubKey = clientPubHex
	session.State = StateConnected
	b.sessions.Set(secret, session)

	result := "ack"
	if secret != "" {
		result = secret
	}
	return nip46Response{ID: req.ID, Result: result}
}

// handleCodec dispatches a nip04/nip44 encrypt/decrypt request to fn
// (one of signer's codec methods) after checking the session is
// connected and holds permission for method.
func (b *Bunker) handleCodec(clientPubHex string, req nip46Request, method string, fn func(pubHex, text string) (string, error)) nip46Response {
	session, ok := b.findSessionByClient(clientPubHex)
	if !ok || session.State != StateConnected {
		return nip46Response{ID: req.ID, Error: "not connected"}
	}
	if !session.HasPermission(method, 0) {
		return nip46Response{ID: req.ID, Error: "permission denied"}
	}
	if len(req.Params) < 2 {
		return nip46Response{ID: req.ID, Error: method + " requires a pubkey and text parameter"}
	}
	result, err := fn(req.Params[0], req.Params[1])
	if err != nil {
		return nip46Response{ID: req.ID, Error: err.Error()}
	}
	return nip46Response{ID: req.ID, Result: result}
}

func (b *Bunker) handleSignEvent(clientPubHex string, req nip46Request) nip46Response {
	session, ok := b.findSessionByClient(clientPubHex)
	if !ok || session.State != StateConnected {
		return nip46Response{ID: req.ID, Error: "not connected"}
	}
	if len(req.Params) == 0 {
		return nip46Response{ID: req.ID, Error: "sign_event requires an event parameter"}
	}

	var unsigned UnsignedEvent
	if err := json.Unmarshal([]byte(req.Params[0]), &unsigned); err != nil {
		return nip46Response{ID: req.ID, Error: "malformed event"}
	}
	if !session.HasPermission("sign_event", unsigned.Kind) {
		return nip46Response{ID: req.ID, Error: "permission denied for kind"}
	}

	b2 := NewBuilder(unsigned.Kind, unsigned.Content)
	b2.Tags = unsigned.Tags
	b2.CreatedAt = unsigned.CreatedAt
	signed, err := b.signer.SignBuilder(b2)
	if err != nil {
		return nip46Response{ID: req.ID, Error: err.Error()}
	}
	signedJSON, err := json.Marshal(signed)
	if err != nil {
		return nip46Response{ID: req.ID, Error: "failed to serialize signed event"}
	}
	return nip46Response{ID: req.ID, Result: string(signedJSON)}
}

// Close disconnects every relay connection the bunker opened.
func (b *Bunker) Close() {
	b.pool.Close()
}
