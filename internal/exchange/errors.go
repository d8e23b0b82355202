package exchange

import "errors"

// Sentinel errors classify a Gateway failure into the taxonomy the
// Executor uses to decide retry-vs-surface behavior.
var (
	// ErrNetworkTimeout covers timeouts, DNS failures, and 5xx responses.
	// The caller may retry up to 3 times with jittered backoff.
	ErrNetworkTimeout = errors.New("exchange: network error")

	// ErrExchangeRejected covers semantic rejections (insufficient margin,
	// min-notional, price out of band). Never retried; surfaced as a Skip.
	ErrExchangeRejected = errors.New("exchange: rejected")

	// ErrInvariant covers a caller-side bug: a size that doesn't round to
	// the asset's decimals, a zero price, and similar. Refused before
	// submission.
	ErrInvariant = errors.New("exchange: invariant violated")

	// ErrAuth covers a bad signature or an address mismatch. Fatal; the
	// process should stop rather than retry.
	ErrAuth = errors.New("exchange: auth error")
)

// ExchangeRejection wraps the per-order error string the exchange returned
// so callers can log and notify with the original message.
type ExchangeRejection struct {
	Msg string
}

func (e *ExchangeRejection) Error() string { return "exchange rejected: " + e.Msg }
func (e *ExchangeRejection) Unwrap() error { return ErrExchangeRejected }
