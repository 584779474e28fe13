package gateway

import "fmt"

// Kind classifies gateway failures so callers can tell configuration faults
// from transient network faults.
type Kind string

const (
	KindConfig        Kind = "config"
	KindSubscription  Kind = "subscription"
	KindNormalization Kind = "normalization"
	KindRateLimit     Kind = "rate_limit"
	KindConnectivity  Kind = "connectivity"
)

// Error is a classified gateway error. Use errors.As to recover the kind.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches errors of the same kind, so sentinel comparison works with
// errors.Is(err, &Error{Kind: KindConfig}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// ConfigError reports missing or invalid credentials/settings; fatal to Connect.
func ConfigError(format string, args ...any) error {
	return &Error{Kind: KindConfig, Msg: fmt.Sprintf(format, args...)}
}

// SubscriptionError reports a subscription for an unknown symbol.
func SubscriptionError(symbol string) error {
	return &Error{Kind: KindSubscription, Msg: fmt.Sprintf("unknown symbol %q", symbol)}
}

// NormalizationError reports an unmapped exchange-native enum value.
func NormalizationError(what, value string) error {
	return &Error{Kind: KindNormalization, Msg: fmt.Sprintf("unmapped %s value %q", what, value)}
}

// RateLimitError reports a REST call that exhausted its retry budget.
func RateLimitError(endpoint string, err error) error {
	return &Error{Kind: KindRateLimit, Msg: "rate limited on " + endpoint, Err: err}
}

// ConnectivityError reports a streaming channel that exhausted reconnects.
func ConnectivityError(channel string, err error) error {
	return &Error{Kind: KindConnectivity, Msg: channel + " channel down", Err: err}
}
