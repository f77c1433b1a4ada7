package snstr

import "fmt"

// Kind tags an Error with the taxonomy the client is expected to branch on.
type Kind int

const (
	// KindInvalidInput marks a malformed URL, bech32 string, hex value, or event field.
	KindInvalidInput Kind = iota
	// KindInvalidEvent marks a structural or cryptographic event validation failure.
	KindInvalidEvent
	// KindDisconnected marks a relay that is not open and could not be opened in time.
	KindDisconnected
	// KindTimeout marks an operation that did not complete within its deadline.
	KindTimeout
	// KindRateLimited marks a client-side limiter trip.
	KindRateLimited
	// KindRejected marks a relay OK with success=false, or a bunker error response.
	KindRejected
	// KindAuthRequired marks an AUTH frame or auth_url error the caller must act on.
	KindAuthRequired
	// KindPermission marks a bunker refusing a method or signing kind.
	KindPermission
	// KindCrypto marks a primitive-level failure: MAC mismatch, bad signature.
	KindCrypto
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindInvalidEvent:
		return "invalid_event"
	case KindDisconnected:
		return "disconnected"
	case KindTimeout:
		return "timeout"
	case KindRateLimited:
		return "rate_limited"
	case KindRejected:
		return "rejected"
	case KindAuthRequired:
		return "auth_required"
	case KindPermission:
		return "permission"
	case KindCrypto:
		return "crypto"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by every fallible operation in
// this module. Callers branch on Kind via errors.As, not on message text.
type Error struct {
	Kind    Kind
	Message string
	Err     error

	// RetryAfterMs is set when Kind == KindRateLimited.
	RetryAfterMs int64
	// Challenge/URL are set when Kind == KindAuthRequired.
	Challenge string
	AuthURL   string
	// Reason is set when Kind == KindRejected.
	Reason string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("snstr: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("snstr: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is allows errors.Is(err, &Error{Kind: KindTimeout}) to match by Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newErr(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func errInvalidInput(msg string, err error) *Error  { return newErr(KindInvalidInput, msg, err) }
func errInvalidEvent(msg string, err error) *Error  { return newErr(KindInvalidEvent, msg, err) }
func errDisconnected(msg string, err error) *Error  { return newErr(KindDisconnected, msg, err) }
func errTimeout(msg string) *Error                  { return newErr(KindTimeout, msg, nil) }
func errCrypto(msg string, err error) *Error        { return newErr(KindCrypto, msg, err) }
func errPermission(msg string) *Error               { return newErr(KindPermission, msg, nil) }

func errRateLimited(retryAfterMs int64) *Error {
	return &Error{Kind: KindRateLimited, Message: "rate limit exceeded", RetryAfterMs: retryAfterMs}
}

func errRejected(reason string) *Error {
	return &Error{Kind: KindRejected, Message: "relay or bunker rejected the request", Reason: reason}
}

func errAuthRequired(challenge, url string) *Error {
	return &Error{Kind: KindAuthRequired, Message: "authentication required", Challenge: challenge, AuthURL: url}
}
