// Package transport defines the boundary to the external streaming
// provider. Implementations deliver raw envelopes to subscription
// callbacks; they never interpret payloads.
package transport

import (
	"context"

	"streamwatch/internal/streaming"
)

// Replay id sentinels, following the provider's semantics.
const (
	// ReplayAll requests every event retained by the provider.
	ReplayAll int64 = -2
	// ReplayNew requests only events published after the subscribe.
	ReplayNew int64 = -1
)

// MetaSubscribe is the meta channel subscribe errors are reported on.
const MetaSubscribe = "/meta/subscribe"

// EventHandler receives raw envelopes for a subscribed channel. Handlers
// are invoked from transport-owned goroutines.
type EventHandler func(env streaming.Envelope)

// Subscription is the acknowledgment returned by a successful subscribe.
type Subscription struct {
	Channel  string `json:"channel"`
	ReplayID int64  `json:"replayId"`
}

// SubscribeError is the provider's error object for a failed subscribe.
// Reason is a colon-delimited status string such as
// "400::The channel specified is not valid" or
// "403:denied_by_security_policy:...".
type SubscribeError struct {
	Channel      string `json:"channel"`      // always MetaSubscribe
	Subscription string `json:"subscription"` // the channel that failed
	Reason       string `json:"error"`
}

func (e *SubscribeError) Error() string {
	return e.Subscription + " - " + e.Reason
}

// NewSubscribeError builds a SubscribeError for the given channel.
func NewSubscribeError(channel, reason string) *SubscribeError {
	return &SubscribeError{
		Channel:      MetaSubscribe,
		Subscription: channel,
		Reason:       reason,
	}
}

// Transport connects the monitor to a streaming provider.
type Transport interface {
	// Subscribe registers a handler for a channel, resuming after replayID.
	// A failed subscribe returns a *SubscribeError.
	Subscribe(ctx context.Context, channel string, replayID int64, handler EventHandler) (Subscription, error)

	// Unsubscribe tears down the subscription for the given channel.
	Unsubscribe(ctx context.Context, sub Subscription) error

	// Publish hands an envelope to the provider. The provider assigns the
	// replay id on delivery; any replay id set on env is ignored.
	Publish(ctx context.Context, env streaming.Envelope) error

	// Close releases all provider resources.
	Close() error
}
