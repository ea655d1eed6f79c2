package monitor

import "strings"

// SubscribeErrorKind classifies a transport subscribe failure from the
// provider's colon-delimited status string. Classification is kept apart
// from notification logic so it can be tested on its own.
type SubscribeErrorKind int

const (
	// SubscribeErrorUnknown covers any reason not matched below; always
	// surfaced with the raw message.
	SubscribeErrorUnknown SubscribeErrorKind = iota
	// SubscribeErrorInvalidChannel means the channel does not exist or is
	// not active. Expected (and suppressed) during bulk subscribes.
	SubscribeErrorInvalidChannel
	// SubscribeErrorSecurityPolicy means a security policy rejected the
	// subscribe.
	SubscribeErrorSecurityPolicy
)

// String returns the string representation of the kind.
func (k SubscribeErrorKind) String() string {
	switch k {
	case SubscribeErrorInvalidChannel:
		return "invalid_channel"
	case SubscribeErrorSecurityPolicy:
		return "security_policy"
	default:
		return "unknown"
	}
}

// Status string prefixes reported by the provider.
const (
	prefixInvalidChannel = "400::The channel specified is not valid"
	prefixPolicyDenied   = "403:denied_by_security_policy"
)

// ClassifySubscribeError maps a provider status string to a kind.
func ClassifySubscribeError(reason string) SubscribeErrorKind {
	switch {
	case strings.HasPrefix(reason, prefixInvalidChannel):
		return SubscribeErrorInvalidChannel
	case strings.HasPrefix(reason, prefixPolicyDenied):
		return SubscribeErrorSecurityPolicy
	default:
		return SubscribeErrorUnknown
	}
}
