package snstr

import (
	"context"
	"encoding/json"
	"math/rand"
	"net"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// RelayState is the connection lifecycle state of a Relay.
type RelayState int

const (
	StateDisconnected RelayState = iota
	StateConnecting
	StateRelayConnected
	StateClosing
)

func (s RelayState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateRelayConnected:
		return "connected"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// RelayOptions configures a single Relay connection, matching spec.md §6.
type RelayOptions struct {
	ConnectionTimeout     time.Duration
	BufferFlushDelay      time.Duration
	AutoReconnect         bool
	MaxReconnectAttempts  int
	MaxReconnectDelay     time.Duration
	PublishTimeout        time.Duration
}

// DefaultRelayOptions returns spec.md §6's documented defaults.
func DefaultRelayOptions() RelayOptions {
	return RelayOptions{
		ConnectionTimeout:    10 * time.Second,
		BufferFlushDelay:     50 * time.Millisecond,
		AutoReconnect:        true,
		MaxReconnectAttempts: 10,
		MaxReconnectDelay:    60 * time.Second,
		PublishTimeout:       10 * time.Second,
	}
}

// OkOutcome is a relay's per-event publish acknowledgement.
type OkOutcome struct {
	EventID string
	Success bool
	Reason  string
}

// EventHandler is invoked for each delivered event on a subscription.
type EventHandler func(*Event)

// NormalizeRelayURL applies spec.md §4.4's URL preprocessing: a missing
// scheme defaults to wss://, scheme matching is case-insensitive, and any
// scheme other than ws/wss is rejected.
func NormalizeRelayURL(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errInvalidInput("relay url is empty", nil)
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "wss://" + trimmed
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", errInvalidInput("malformed relay url", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "ws" && scheme != "wss" {
		return "", errInvalidInput("relay url scheme must be ws or wss", nil)
	}
	u.Scheme = scheme
	return u.String(), nil
}

// isRelayURLSafe blocks SSRF-style connections to internal/metadata
// addresses, allowing localhost for development. Grounded on relay_pool.go's
// isRelayURLSafe/isRelayIPSafe.
func isRelayURLSafe(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return false
	}
	host := u.Hostname()
	if host == "" {
		return false
	}
	if host == "localhost" || host == "127.0.0.1" || host == "::1" {
		return true
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		if strings.HasSuffix(host, ".") || strings.Contains(host, ".local") || strings.Contains(host, ".internal") {
			return false
		}
		return true
	}
	for _, ip := range ips {
		if !isRelayIPSafe(ip) {
			return false
		}
	}
	return true
}

func isRelayIPSafe(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() {
		return true
	}
	if ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() {
		return false
	}
	if ip.Equal(net.ParseIP("169.254.169.254")) {
		return false
	}
	return true
}

// bufferedEvent holds one event awaiting async crypto verification before
// it becomes eligible for delivery on the next flush.
type bufferedEvent struct {
	event *Event
	done  chan struct{}
	valid bool
}

// subscription is a Relay-owned live subscription, holding the ordering
// buffer and flush timer described in spec.md §4.4.
type subscription struct {
	id       string
	filters  []Filter
	onEvent  EventHandler
	onEOSE   func()
	onClosed func(reason string)

	mu             sync.Mutex
	buffer         []*bufferedEvent
	timer          *time.Timer
	timerSet       bool
	closed         bool
	removedByRelay bool // CLOSED frame received: do not re-open on reconnect
}

// Relay is a single-connection WebSocket state machine implementing
// spec.md §4.4: connect/disconnect, publish with OK correlation, subscribe
// with an ordering buffer, and reconnect-with-backoff.
type Relay struct {
	URL  string
	opts RelayOptions

	mu         sync.Mutex
	conn       *websocket.Conn
	state      RelayState
	connecting *connectFuture

	subscriptions map[string]*subscription

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan OkOutcome

	reconnectAttempts int
	userClosed        bool

	OnConnect    func()
	OnDisconnect func(err error)
	OnError      func(err error)
	OnNotice     func(msg string)
	OnOk         func(OkOutcome)
	OnClosed     func(subID, reason string)
	OnAuth       func(challenge string)
}

type connectFuture struct {
	done chan struct{}
	err  error
}

// NewRelay constructs a Relay for rawURL, normalizing it first.
func NewRelay(rawURL string, opts RelayOptions) (*Relay, error) {
	normalized, err := NormalizeRelayURL(rawURL)
	if err != nil {
		return nil, err
	}
	return &Relay{
		URL:           normalized,
		opts:          opts,
		state:         StateDisconnected,
		subscriptions: make(map[string]*subscription),
		pending:       make(map[string]chan OkOutcome),
	}, nil
}

// Connect dials the relay. Concurrent Connect calls while a dial is in
// flight observe the same outcome rather than opening a second socket.
func (r *Relay) Connect(ctx context.Context) error {
	r.mu.Lock()
	if r.state == StateRelayConnected {
		r.mu.Unlock()
		return nil
	}
	if r.connecting != nil {
		fut := r.connecting
		r.mu.Unlock()
		select {
		case <-fut.done:
			return fut.err
		case <-ctx.Done():
			return errTimeout("connect canceled")
		}
	}
	fut := &connectFuture{done: make(chan struct{})}
	r.connecting = fut
	r.state = StateConnecting
	r.userClosed = false
	r.mu.Unlock()

	dialCtx := ctx
	var cancel context.CancelFunc
	if r.opts.ConnectionTimeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, r.opts.ConnectionTimeout)
		defer cancel()
	}

	if !isRelayURLSafe(r.URL) {
		err := errInvalidInput("relay url blocked: unsafe destination", nil)
		r.finishConnect(fut, err)
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.URL, nil)
	if err != nil {
		r.finishConnect(fut, errDisconnected("failed to dial relay", err))
		return fut.err
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()

	r.finishConnect(fut, nil)
	go r.readLoop()
	return nil
}

func (r *Relay) finishConnect(fut *connectFuture, err error) {
	r.mu.Lock()
	r.connecting = nil
	if err != nil {
		r.state = StateDisconnected
	} else {
		r.state = StateRelayConnected
		r.reconnectAttempts = 0
	}
	r.mu.Unlock()

	fut.err = err
	close(fut.done)

	if err == nil && r.OnConnect != nil {
		r.OnConnect()
	}
}

// Disconnect is the sole cancellation primitive: it fails pending
// publishes with KindDisconnected, drains ordering buffers without
// invoking callbacks, removes subscriptions, closes the socket, and
// disables reconnect for this instance.
func (r *Relay) Disconnect() {
	r.mu.Lock()
	r.userClosed = true
	conn := r.conn
	r.conn = nil
	r.state = StateDisconnected
	subs := r.subscriptions
	r.subscriptions = make(map[string]*subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		sub.closed = true
		if sub.timer != nil {
			sub.timer.Stop()
		}
		sub.buffer = nil
		sub.mu.Unlock()
	}

	r.pendingMu.Lock()
	for id, ch := range r.pending {
		close(ch)
		delete(r.pending, id)
	}
	r.pendingMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (r *Relay) send(frame interface{}) error {
	r.mu.Lock()
	conn := r.conn
	state := r.state
	r.mu.Unlock()
	if state != StateRelayConnected || conn == nil {
		return errDisconnected("relay is not connected", nil)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	return conn.WriteJSON(frame)
}

// Publish sends ["EVENT", e] and waits for the matching OK frame, or for
// timeout (0 uses opts.PublishTimeout). Concurrent publishes of the same
// event id share one wait rather than sending a duplicate frame.
func (r *Relay) Publish(ctx context.Context, event *Event, timeout time.Duration) (OkOutcome, error) {
	if timeout <= 0 {
		timeout = r.opts.PublishTimeout
	}

	r.pendingMu.Lock()
	ch, exists := r.pending[event.ID]
	if !exists {
		ch = make(chan OkOutcome, 1)
		r.pending[event.ID] = ch
	}
	r.pendingMu.Unlock()

	if !exists {
		if err := r.send([]interface{}{"EVENT", event}); err != nil {
			r.pendingMu.Lock()
			delete(r.pending, event.ID)
			r.pendingMu.Unlock()
			return OkOutcome{}, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case outcome, ok := <-ch:
		if !ok {
			return OkOutcome{EventID: event.ID, Success: false, Reason: "disconnected"}, errDisconnected("relay disconnected before OK", nil)
		}
		// Pass the outcome on to any other caller waiting on the same id.
		select {
		case ch <- outcome:
		default:
		}
		return outcome, nil
	case <-timer.C:
		r.pendingMu.Lock()
		delete(r.pending, event.ID)
		r.pendingMu.Unlock()
		return OkOutcome{}, errTimeout("publish timed out waiting for OK")
	case <-ctx.Done():
		return OkOutcome{}, errTimeout("publish canceled")
	}
}

// Subscribe opens a subscription with a client-chosen id (uuid v4 if id is
// empty). A duplicate id replaces the prior subscription, per spec.md §9's
// open-question recommendation.
func (r *Relay) Subscribe(id string, filters []Filter, onEvent EventHandler, onEOSE func(), onClosed func(string)) (string, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > 64 {
		return "", errInvalidInput("subscription id exceeds 64 characters", nil)
	}

	sub := &subscription{id: id, filters: filters, onEvent: onEvent, onEOSE: onEOSE}
	if onClosed != nil {
		sub.onClosed = func(reason string) { onClosed(reason) }
	}

	r.mu.Lock()
	if prior, ok := r.subscriptions[id]; ok {
		prior.mu.Lock()
		prior.closed = true
		if prior.timer != nil {
			prior.timer.Stop()
		}
		prior.mu.Unlock()
	}
	r.subscriptions[id] = sub
	r.mu.Unlock()

	frame := make([]interface{}, 0, len(filters)+2)
	frame = append(frame, "REQ", id)
	for _, f := range filters {
		frame = append(frame, f)
	}
	if err := r.send(frame); err != nil {
		return "", err
	}
	return id, nil
}

// Unsubscribe sends CLOSE and tears down the local subscription state.
func (r *Relay) Unsubscribe(id string) {
	r.mu.Lock()
	sub, ok := r.subscriptions[id]
	if ok {
		delete(r.subscriptions, id)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	_ = r.send([]interface{}{"CLOSE", id})

	sub.mu.Lock()
	sub.closed = true
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.mu.Unlock()
}

func (r *Relay) readLoop() {
	r.mu.Lock()
	conn := r.conn
	r.mu.Unlock()
	if conn == nil {
		return
	}

	for {
		var msg []json.RawMessage
		if err := conn.ReadJSON(&msg); err != nil {
			r.handleDisconnect(err)
			return
		}
		if len(msg) < 1 {
			continue
		}
		var frameType string
		if err := json.Unmarshal(msg[0], &frameType); err != nil {
			continue
		}

		switch frameType {
		case "EVENT":
			r.handleEventFrame(msg)
		case "EOSE":
			r.handleEOSEFrame(msg)
		case "OK":
			r.handleOkFrame(msg)
		case "NOTICE":
			r.handleNoticeFrame(msg)
		case "CLOSED":
			r.handleClosedFrame(msg)
		case "AUTH":
			r.handleAuthFrame(msg)
		default:
			// COUNT and unrecognized frames are treated as optional, per
			// spec.md §9's open question; ignore rather than error.
		}
	}
}

func (r *Relay) handleEventFrame(msg []json.RawMessage) {
	if len(msg) < 3 {
		return
	}
	var subID string
	if err := json.Unmarshal(msg[1], &subID); err != nil {
		return
	}

	var evt Event
	if err := json.Unmarshal(msg[2], &evt); err != nil {
		return
	}
	if err := evt.ValidateStructure(); err != nil {
		return
	}

	r.mu.Lock()
	sub := r.subscriptions[subID]
	r.mu.Unlock()
	if sub == nil {
		return
	}
	sub.mu.Lock()
	if sub.closed {
		sub.mu.Unlock()
		return
	}
	sub.mu.Unlock()

	be := &bufferedEvent{event: &evt, done: make(chan struct{})}
	go func() {
		be.valid = evt.ValidateSignature() == nil
		close(be.done)
	}()

	sub.mu.Lock()
	sub.buffer = append(sub.buffer, be)
	if !sub.timerSet {
		sub.timerSet = true
		delay := r.opts.BufferFlushDelay
		if delay <= 0 {
			delay = DefaultRelayOptions().BufferFlushDelay
		}
		sub.timer = time.AfterFunc(delay, func() { r.flushSubscription(sub) })
	}
	sub.mu.Unlock()
}

// flushSubscription delivers buffered events sorted by (created_at desc,
// id desc), dropping any whose async signature verification failed.
func (r *Relay) flushSubscription(sub *subscription) {
	sub.mu.Lock()
	pending := sub.buffer
	sub.buffer = nil
	sub.timerSet = false
	closed := sub.closed
	handler := sub.onEvent
	sub.mu.Unlock()

	if closed || len(pending) == 0 {
		return
	}

	for _, be := range pending {
		<-be.done
	}
	sort.SliceStable(pending, func(i, j int) bool {
		a, b := pending[i].event, pending[j].event
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID > b.ID
	})

	for _, be := range pending {
		if !be.valid {
			continue
		}
		if handler != nil {
			handler(be.event)
		}
	}
}

func (r *Relay) handleEOSEFrame(msg []json.RawMessage) {
	if len(msg) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(msg[1], &subID); err != nil {
		return
	}
	r.mu.Lock()
	sub := r.subscriptions[subID]
	r.mu.Unlock()
	if sub == nil {
		return
	}
	r.flushSubscription(sub)
	sub.mu.Lock()
	handler := sub.onEOSE
	sub.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (r *Relay) handleOkFrame(msg []json.RawMessage) {
	if len(msg) < 3 {
		return
	}
	var eventID string
	var success bool
	var reason string
	if err := json.Unmarshal(msg[1], &eventID); err != nil {
		return
	}
	_ = json.Unmarshal(msg[2], &success)
	if len(msg) > 3 {
		_ = json.Unmarshal(msg[3], &reason)
	}

	outcome := OkOutcome{EventID: eventID, Success: success, Reason: reason}

	r.pendingMu.Lock()
	ch, ok := r.pending[eventID]
	if ok {
		delete(r.pending, eventID)
	}
	r.pendingMu.Unlock()
	if ok {
		ch <- outcome
	}
	if r.OnOk != nil {
		r.OnOk(outcome)
	}
}

func (r *Relay) handleNoticeFrame(msg []json.RawMessage) {
	if len(msg) < 2 {
		return
	}
	var text string
	_ = json.Unmarshal(msg[1], &text)
	if r.OnNotice != nil {
		r.OnNotice(text)
	}
}

func (r *Relay) handleClosedFrame(msg []json.RawMessage) {
	if len(msg) < 2 {
		return
	}
	var subID string
	if err := json.Unmarshal(msg[1], &subID); err != nil {
		return
	}
	var reason string
	if len(msg) > 2 {
		_ = json.Unmarshal(msg[2], &reason)
	}

	r.mu.Lock()
	sub, ok := r.subscriptions[subID]
	if ok {
		delete(r.subscriptions, subID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	sub.mu.Lock()
	sub.closed = true
	sub.removedByRelay = true
	if sub.timer != nil {
		sub.timer.Stop()
	}
	sub.mu.Unlock()

	if sub.onClosed != nil {
		sub.onClosed(reason)
	}
	if r.OnClosed != nil {
		r.OnClosed(subID, reason)
	}
}

func (r *Relay) handleAuthFrame(msg []json.RawMessage) {
	if len(msg) < 2 {
		return
	}
	var challenge string
	_ = json.Unmarshal(msg[1], &challenge)
	if r.OnAuth != nil {
		r.OnAuth(challenge)
	}
}

func (r *Relay) handleDisconnect(err error) {
	r.mu.Lock()
	wasUserClosed := r.userClosed
	r.state = StateDisconnected
	r.conn = nil
	r.mu.Unlock()

	if r.OnDisconnect != nil {
		r.OnDisconnect(err)
	}
	if r.OnError != nil && err != nil {
		r.OnError(err)
	}

	if wasUserClosed || !r.opts.AutoReconnect {
		return
	}
	go r.scheduleReconnect()
}

func (r *Relay) scheduleReconnect() {
	r.mu.Lock()
	r.reconnectAttempts++
	attempt := r.reconnectAttempts
	maxAttempts := r.opts.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultRelayOptions().MaxReconnectAttempts
	}
	maxDelay := r.opts.MaxReconnectDelay
	if maxDelay <= 0 {
		maxDelay = DefaultRelayOptions().MaxReconnectDelay
	}
	r.mu.Unlock()

	if attempt > maxAttempts {
		return
	}

	delay := 1 * time.Second
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
			break
		}
	}
	jitter := time.Duration(rand.Int63n(int64(delay)/2 + 1))
	time.Sleep(delay/2 + jitter)

	ctx, cancel := context.WithTimeout(context.Background(), r.opts.ConnectionTimeout)
	defer cancel()
	if err := r.Connect(ctx); err != nil {
		go r.scheduleReconnect()
		return
	}
	r.reopenSubscriptions()
}

// reopenSubscriptions re-sends REQ for every subscription not removed by a
// CLOSED frame, with identical sub_ids, per spec.md §8 property 8.
func (r *Relay) reopenSubscriptions() {
	r.mu.Lock()
	subs := make([]*subscription, 0, len(r.subscriptions))
	for _, sub := range r.subscriptions {
		subs = append(subs, sub)
	}
	r.mu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		removed := sub.removedByRelay
		filters := sub.filters
		id := sub.id
		sub.mu.Unlock()
		if removed {
			continue
		}
		frame := make([]interface{}, 0, len(filters)+2)
		frame = append(frame, "REQ", id)
		for _, f := range filters {
			frame = append(frame, f)
		}
		_ = r.send(frame)
	}
}
