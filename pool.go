package snstr

import (
	"context"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/samber/lo"
)

// RemoveResult is the outcome of Pool.RemoveRelay.
type RemoveResult int

const (
	RemoveRemoved RemoveResult = iota
	RemoveNotFound
	RemoveInvalidURL
)

// Pool is a multi-relay fan-out/fan-in layer: at most one Relay per
// normalized URL, deduplicating events across relays and aggregating
// publish/query outcomes. Grounded on relay_pool.go's RelayPool connection
// table and relay.go's fetchEventsFromRelaysWithTimeout EOSE aggregation.
type Pool struct {
	opts   RelayOptions
	relays *xsync.MapOf[string, *Relay]
}

// NewPool constructs an empty Pool using opts for every Relay it creates.
func NewPool(opts RelayOptions) *Pool {
	return &Pool{
		opts:   opts,
		relays: xsync.NewMapOf[string, *Relay](),
	}
}

// EnsureRelay returns the Relay for url, connecting a new one if needed.
func (p *Pool) EnsureRelay(ctx context.Context, rawURL string) (*Relay, error) {
	normalized, err := NormalizeRelayURL(rawURL)
	if err != nil {
		return nil, err
	}
	if existing, ok := p.relays.Load(normalized); ok {
		return existing, nil
	}

	relay, err := NewRelay(normalized, p.opts)
	if err != nil {
		return nil, err
	}
	actual, loaded := p.relays.LoadOrStore(normalized, relay)
	if loaded {
		return actual, nil
	}
	if err := actual.Connect(ctx); err != nil {
		p.relays.Delete(normalized)
		return nil, err
	}
	return actual, nil
}

// AddRelay is an alias for EnsureRelay, named to match spec.md §4.5.
func (p *Pool) AddRelay(ctx context.Context, rawURL string) (*Relay, error) {
	return p.EnsureRelay(ctx, rawURL)
}

// RemoveRelay disconnects and forgets the relay at rawURL.
func (p *Pool) RemoveRelay(rawURL string) RemoveResult {
	normalized, err := NormalizeRelayURL(rawURL)
	if err != nil {
		return RemoveInvalidURL
	}
	relay, ok := p.relays.LoadAndDelete(normalized)
	if !ok {
		return RemoveNotFound
	}
	relay.Disconnect()
	return RemoveRemoved
}

// Close disconnects and forgets the given urls, or every relay if urls is empty.
func (p *Pool) Close(urls ...string) {
	if len(urls) == 0 {
		p.relays.Range(func(key string, relay *Relay) bool {
			relay.Disconnect()
			p.relays.Delete(key)
			return true
		})
		return
	}
	for _, u := range urls {
		p.RemoveRelay(u)
	}
}

// Publish sends event to every url, returning each relay's outcome keyed
// by normalized url. A relay that fails to connect contributes a failed
// OkOutcome rather than aborting the whole call.
func (p *Pool) Publish(ctx context.Context, urls []string, event *Event) map[string]OkOutcome {
	results := make(map[string]OkOutcome, len(urls))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, u := range lo.Uniq(urls) {
		u := u
		wg.Add(1)
		go func() {
			defer wg.Done()
			normalized, err := NormalizeRelayURL(u)
			if err != nil {
				mu.Lock()
				results[u] = OkOutcome{EventID: event.ID, Success: false, Reason: err.Error()}
				mu.Unlock()
				return
			}
			relay, err := p.EnsureRelay(ctx, u)
			if err != nil {
				mu.Lock()
				results[normalized] = OkOutcome{EventID: event.ID, Success: false, Reason: err.Error()}
				mu.Unlock()
				return
			}
			outcome, err := relay.Publish(ctx, event, 0)
			if err != nil {
				outcome = OkOutcome{EventID: event.ID, Success: false, Reason: err.Error()}
			}
			mu.Lock()
			results[normalized] = outcome
			mu.Unlock()
		}()
	}
	wg.Wait()
	return results
}

// PoolSubscription is the Handle returned by Pool.Subscribe.
type PoolSubscription struct {
	pool    *Pool
	subURLs map[string]string // normalized url -> per-relay subscription id
}

// Close unsubscribes from every underlying relay subscription.
func (h *PoolSubscription) Close() {
	for u, subID := range h.subURLs {
		if relay, ok := h.pool.relays.Load(u); ok {
			relay.Unsubscribe(subID)
		}
	}
}

// Subscribe opens the same filters on every url. on_event fires at most
// once per event id across all relays for the subscription's lifetime;
// on_eose fires once, after every successfully-connected relay has
// reported EOSE (errored relays count immediately).
func (p *Pool) Subscribe(ctx context.Context, urls []string, filters []Filter, onEvent EventHandler, onEOSE func()) (*PoolSubscription, error) {
	handle := &PoolSubscription{pool: p, subURLs: make(map[string]string)}

	seen := xsync.NewMapOf[string, struct{}]()
	var eoseMu sync.Mutex
	pendingEOSE := 0
	firedEOSE := false

	fireEOSEIfDone := func() {
		eoseMu.Lock()
		defer eoseMu.Unlock()
		pendingEOSE--
		if pendingEOSE <= 0 && !firedEOSE {
			firedEOSE = true
			if onEOSE != nil {
				onEOSE()
			}
		}
	}

	uniqueURLs := lo.Uniq(urls)
	eoseMu.Lock()
	pendingEOSE = len(uniqueURLs)
	eoseMu.Unlock()

	var anyConnected bool
	for _, u := range uniqueURLs {
		relay, err := p.EnsureRelay(ctx, u)
		if err != nil {
			fireEOSEIfDone()
			continue
		}
		anyConnected = true

		wrappedOnEvent := func(e *Event) {
			if _, loaded := seen.LoadOrStore(e.ID, struct{}{}); loaded {
				return
			}
			if onEvent != nil {
				onEvent(e)
			}
		}

		subID, err := relay.Subscribe("", filters, wrappedOnEvent, fireEOSEIfDone, nil)
		if err != nil {
			fireEOSEIfDone()
			continue
		}
		handle.subURLs[relay.URL] = subID
	}

	if !anyConnected {
		return handle, errDisconnected("no relay in the set could be reached", nil)
	}
	return handle, nil
}

// QuerySync queries every url with filter and returns the deduplicated
// union once every relay reports EOSE or timeout elapses.
func (p *Pool) QuerySync(ctx context.Context, urls []string, filter Filter, timeout time.Duration) ([]*Event, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	queryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var mu sync.Mutex
	var events []*Event
	done := make(chan struct{})
	var once sync.Once

	handle, err := p.Subscribe(queryCtx, urls, []Filter{filter}, func(e *Event) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}, func() {
		once.Do(func() { close(done) })
	})
	if err != nil {
		return nil, err
	}
	defer handle.Close()

	select {
	case <-done:
	case <-queryCtx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return events, nil
}

// Get returns the newest event matching filter across urls, or nil if none arrive.
func (p *Pool) Get(ctx context.Context, urls []string, filter Filter, timeout time.Duration) (*Event, error) {
	events, err := p.QuerySync(ctx, urls, filter, timeout)
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
