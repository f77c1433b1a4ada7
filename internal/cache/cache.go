// Package cache provides the pluggable replaceable/addressable event cache
// used by the high-level Client, adapted from cache_interface.go and
// cache_memory.go/cache_redis.go, trimmed to exactly the
// (pubkey, kind[, d]) -> latest event index spec.md §4.6 requires.
package cache

import (
	"context"
	"sync"
)

// StoredEvent is a JSON-serializable snapshot of the fields the cache
// needs to apply the tie-break rule without importing the root package
// (avoiding an import cycle between snstr and internal/cache).
type StoredEvent struct {
	ID        string
	PubKey    string
	CreatedAt int64
	Kind      int
	Tags      [][]string
	Content   string
	Sig       string
}

// Key identifies a replaceable (D=="") or addressable (D!="") event.
type Key struct {
	PubKey string
	Kind   int
	D      string
}

// Backend is the pluggable storage interface, shaped like
// cache_interface.go's CacheBackend: context-aware Get/Set against a
// string key, with an in-memory and an optional Redis implementation.
type Backend interface {
	Get(ctx context.Context, key string) (*StoredEvent, bool, error)
	Set(ctx context.Context, key string, event *StoredEvent) error
	Close() error
}

// EventCache maintains the latest replaceable/addressable event per Key,
// applying spec.md §3's tie-break (larger created_at; if equal,
// lexicographically smaller id wins).
type EventCache struct {
	mu      sync.Mutex
	backend Backend
}

func NewEventCache(backend Backend) *EventCache {
	return &EventCache{backend: backend}
}

func keyString(k Key) string {
	if k.D == "" {
		return k.PubKey + ":" + itoa(k.Kind)
	}
	return k.PubKey + ":" + itoa(k.Kind) + ":" + k.D
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Offer inserts event into the cache for key if it wins the tie-break
// against whatever is currently stored. Returns true if it was stored.
func (c *EventCache) Offer(ctx context.Context, key Key, event *StoredEvent) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ks := keyString(key)
	current, found, err := c.backend.Get(ctx, ks)
	if err != nil {
		return false, err
	}
	if found && !wins(event, current) {
		return false, nil
	}
	if err := c.backend.Set(ctx, ks, event); err != nil {
		return false, err
	}
	return true, nil
}

// Get returns the cached latest event for key, if any.
func (c *EventCache) Get(ctx context.Context, key Key) (*StoredEvent, bool, error) {
	return c.backend.Get(ctx, keyString(key))
}

func wins(candidate, current *StoredEvent) bool {
	if candidate.CreatedAt != current.CreatedAt {
		return candidate.CreatedAt > current.CreatedAt
	}
	return candidate.ID < current.ID
}

func (c *EventCache) Close() error {
	return c.backend.Close()
}
