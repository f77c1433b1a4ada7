package snstr

import "time"

// RateLimitOptions bounds a single operation class (subscribe, publish,
// or fetch) to limit calls per window_ms, a sliding window modeled on
// nip46.go's BunkerSession.checkSignRateLimit.
type RateLimitOptions struct {
	Limit    int
	WindowMs int64
}

func (r RateLimitOptions) window() time.Duration {
	return time.Duration(r.WindowMs) * time.Millisecond
}

// RateLimits groups the three operation classes spec.md §6 names.
type RateLimits struct {
	Subscribe RateLimitOptions
	Publish   RateLimitOptions
	Fetch     RateLimitOptions
}

// RemoteSignerOptions configures the NIP-46 bunker client.
type RemoteSignerOptions struct {
	TimeoutMs           int64
	PreferredEncryption string // "NIP-04" or "NIP-44"
	AuthDomainWhitelist []string
}

// DefaultRemoteSignerOptions matches spec.md §6's remote-signer defaults.
func DefaultRemoteSignerOptions() RemoteSignerOptions {
	return RemoteSignerOptions{
		TimeoutMs:           10000,
		PreferredEncryption: "NIP-44",
	}
}

func (r RemoteSignerOptions) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ClientOptions configures a high-level Client.
type ClientOptions struct {
	RelayOptions         RelayOptions
	RateLimits           RateLimits
	RemoteSigner         RemoteSignerOptions
	MaxFutureDrift       time.Duration
}

// DefaultClientOptions returns spec.md §6's defaults: unlimited
// relay-level options, no client-side rate limiting, and the default
// 15-minute future-drift tolerance from event.go.
func DefaultClientOptions() ClientOptions {
	return ClientOptions{
		RelayOptions:   DefaultRelayOptions(),
		RemoteSigner:   DefaultRemoteSignerOptions(),
		MaxFutureDrift: MaxFutureDrift,
	}
}
