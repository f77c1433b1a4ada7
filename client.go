package snstr

import (
	"context"
	"time"

	"snstr/internal/cache"
)

// Client is the high-level API: one keypair driving a Pool of relay
// connections, with an optional replaceable/addressable event cache and
// per-operation-class rate limiting. Grounded on the teacher's
// package-level fetchEventsFromRelaysCached/fetchProfiles/fetchContactList/
// fetchRelayList functions, generalized from singletons into Client methods.
type Client struct {
	Keys *KeyPair
	Pool *Pool

	opts  ClientOptions
	cache *cache.EventCache

	subLimiter     *limiter
	publishLimiter *limiter
	fetchLimiter   *limiter
}

// NewClient constructs a Client for keys using opts (zero value is valid:
// DefaultClientOptions()'s settings apply where fields are unset).
func NewClient(keys *KeyPair, opts ClientOptions, backend cache.Backend) *Client {
	if opts.RelayOptions == (RelayOptions{}) {
		opts.RelayOptions = DefaultRelayOptions()
	}
	if opts.MaxFutureDrift <= 0 {
		opts.MaxFutureDrift = MaxFutureDrift
	}

	var eventCache *cache.EventCache
	if backend != nil {
		eventCache = cache.NewEventCache(backend)
	}

	return &Client{
		Keys:           keys,
		Pool:           NewPool(opts.RelayOptions),
		opts:           opts,
		cache:          eventCache,
		subLimiter:     newLimiter(opts.RateLimits.Subscribe),
		publishLimiter: newLimiter(opts.RateLimits.Publish),
		fetchLimiter:   newLimiter(opts.RateLimits.Fetch),
	}
}

// Close disconnects every relay the client has opened.
func (c *Client) Close() {
	c.Pool.Close()
}

// PublicKeyHex implements Signer for use as a Bunker's local signer.
func (c *Client) PublicKeyHex() string {
	return c.Keys.PublicKey
}

// SignBuilder implements Signer, finalizing b with the client's key.
func (c *Client) SignBuilder(b *Builder) (*Event, error) {
	return b.Sign(c.Keys.PrivateKey)
}

// Nip04Encrypt implements Signer's nip04_encrypt delegate, used when this
// Client backs a Bunker.
func (c *Client) Nip04Encrypt(pubHex, plaintext string) (string, error) {
	return Nip04Encrypt(c.Keys.PrivateKey, pubHex, plaintext)
}

// Nip04Decrypt implements Signer's nip04_decrypt delegate.
func (c *Client) Nip04Decrypt(pubHex, payload string) (string, error) {
	return Nip04Decrypt(c.Keys.PrivateKey, pubHex, payload)
}

// Nip44Encrypt implements Signer's nip44_encrypt delegate.
func (c *Client) Nip44Encrypt(pubHex, plaintext string) (string, error) {
	return Nip44Encrypt(c.Keys.PrivateKey, pubHex, plaintext)
}

// Nip44Decrypt implements Signer's nip44_decrypt delegate.
func (c *Client) Nip44Decrypt(pubHex, payload string) (string, error) {
	return Nip44Decrypt(c.Keys.PrivateKey, pubHex, payload)
}

// PublishEvent signs b with the client's key, then publishes the resulting
// event to every url, returning the event and each relay's outcome.
func (c *Client) PublishEvent(ctx context.Context, urls []string, b *Builder) (*Event, map[string]OkOutcome, error) {
	if ok, retryAfter := c.publishLimiter.Allow(); !ok {
		return nil, nil, errRateLimited(retryAfter.Milliseconds())
	}
	event, err := b.Sign(c.Keys.PrivateKey)
	if err != nil {
		return nil, nil, err
	}
	results := c.Pool.Publish(ctx, urls, event)
	c.offerToCache(ctx, event)
	return event, results, nil
}

// PublishTextNote is a convenience wrapper for a kind-1 note.
func (c *Client) PublishTextNote(ctx context.Context, urls []string, content string, tags Tags) (*Event, map[string]OkOutcome, error) {
	b := NewBuilder(1, content)
	b.Tags = tags
	return c.PublishEvent(ctx, urls, b)
}

// PublishDirectMessage wraps content as a NIP-17 gift-wrapped DM to
// receiverPubHex and publishes the resulting kind-1059 event.
func (c *Client) PublishDirectMessage(ctx context.Context, urls []string, receiverPubHex, content string, extraTags Tags) (*Event, map[string]OkOutcome, error) {
	if ok, retryAfter := c.publishLimiter.Allow(); !ok {
		return nil, nil, errRateLimited(retryAfter.Milliseconds())
	}
	wrap, err := WrapDirectMessage(c.Keys, receiverPubHex, content, extraTags)
	if err != nil {
		return nil, nil, err
	}
	results := c.Pool.Publish(ctx, urls, wrap)
	return wrap, results, nil
}

// Subscribe opens filters across urls, delivering validated events to
// onEvent and firing onEOSE once every relay has reported end-of-stored-events.
func (c *Client) Subscribe(ctx context.Context, urls []string, filters []Filter, onEvent EventHandler, onEOSE func()) (*PoolSubscription, error) {
	if ok, retryAfter := c.subLimiter.Allow(); !ok {
		return nil, errRateLimited(retryAfter.Milliseconds())
	}
	wrapped := func(e *Event) {
		c.offerToCache(ctx, e)
		if onEvent != nil {
			onEvent(e)
		}
	}
	return c.Pool.Subscribe(ctx, urls, filters, wrapped, onEOSE)
}

// FetchMany blocks until every relay reports EOSE or timeout elapses,
// returning the deduplicated union of matching events.
func (c *Client) FetchMany(ctx context.Context, urls []string, filter Filter, timeout time.Duration) ([]*Event, error) {
	if ok, retryAfter := c.fetchLimiter.Allow(); !ok {
		return nil, errRateLimited(retryAfter.Milliseconds())
	}
	events, err := c.Pool.QuerySync(ctx, urls, filter, timeout)
	if err != nil {
		return nil, err
	}
	for _, e := range events {
		c.offerToCache(ctx, e)
	}
	return events, nil
}

// FetchOne returns the newest event matching filter across urls.
func (c *Client) FetchOne(ctx context.Context, urls []string, filter Filter, timeout time.Duration) (*Event, error) {
	events, err := c.FetchMany(ctx, urls, filter, timeout)
	if err != nil {
		return nil, err
	}
	var newest *Event
	for _, e := range events {
		if newest == nil || e.CreatedAt > newest.CreatedAt ||
			(e.CreatedAt == newest.CreatedAt && e.ID < newest.ID) {
			newest = e
		}
	}
	return newest, nil
}

// GetLatestReplaceableEvent returns the cached or freshly-fetched latest
// event of kind authored by pubkeyHex (kinds 0, 3, 10000-19999).
func (c *Client) GetLatestReplaceableEvent(ctx context.Context, urls []string, pubkeyHex string, kind int, timeout time.Duration) (*Event, error) {
	return c.getLatestIndexed(ctx, urls, cache.Key{PubKey: pubkeyHex, Kind: kind}, Filter{Authors: []string{pubkeyHex}, Kinds: []int{kind}, Limit: 1}, timeout)
}

// GetLatestAddressableEvent returns the cached or freshly-fetched latest
// event of (kind, d) authored by pubkeyHex (kinds 30000-39999).
func (c *Client) GetLatestAddressableEvent(ctx context.Context, urls []string, pubkeyHex string, kind int, dTag string, timeout time.Duration) (*Event, error) {
	filter := Filter{Authors: []string{pubkeyHex}, Kinds: []int{kind}, Limit: 1, Tags: map[string][]string{"d": {dTag}}}
	return c.getLatestIndexed(ctx, urls, cache.Key{PubKey: pubkeyHex, Kind: kind, D: dTag}, filter, timeout)
}

func (c *Client) getLatestIndexed(ctx context.Context, urls []string, key cache.Key, filter Filter, timeout time.Duration) (*Event, error) {
	if c.cache != nil {
		if stored, found, err := c.cache.Get(ctx, key); err == nil && found {
			return fromStored(stored), nil
		}
	}
	event, err := c.FetchOne(ctx, urls, filter, timeout)
	if err != nil || event == nil {
		return event, err
	}
	return event, nil
}

func (c *Client) offerToCache(ctx context.Context, e *Event) {
	if c.cache == nil {
		return
	}
	class := ClassifyKind(e.Kind)
	if class != KindReplaceable && class != KindAddressable {
		return
	}
	key := cache.Key{PubKey: e.PubKey, Kind: e.Kind}
	if class == KindAddressable {
		key.D = e.DTag()
	}
	_, _ = c.cache.Offer(ctx, key, toStored(e))
}

func toStored(e *Event) *cache.StoredEvent {
	tags := make([][]string, len(e.Tags))
	for i, t := range e.Tags {
		tags[i] = []string(t)
	}
	return &cache.StoredEvent{
		ID:        e.ID,
		PubKey:    e.PubKey,
		CreatedAt: e.CreatedAt,
		Kind:      e.Kind,
		Tags:      tags,
		Content:   e.Content,
		Sig:       e.Sig,
	}
}

func fromStored(s *cache.StoredEvent) *Event {
	tags := make(Tags, len(s.Tags))
	for i, t := range s.Tags {
		tags[i] = Tag(t)
	}
	return &Event{
		ID:        s.ID,
		PubKey:    s.PubKey,
		CreatedAt: s.CreatedAt,
		Kind:      s.Kind,
		Tags:      tags,
		Content:   s.Content,
		Sig:       s.Sig,
	}
}
