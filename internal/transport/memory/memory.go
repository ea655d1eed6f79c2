// Package memory provides an in-process Transport used by tests and by
// standalone demo deployments. Channels must be provisioned before they
// can be subscribed to, mirroring the provider's behavior for inactive
// channels.
package memory

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

// Reasons reported for rejected subscribes, matching the provider's
// status-string format.
const (
	ReasonInvalidChannel = "400::The channel specified is not valid"
	ReasonPolicyDenied   = "403:denied_by_security_policy:subscribe_denied"
)

// ErrEngineClosed is returned for any operation after Close.
var ErrEngineClosed = errors.New("memory transport closed")

// ErrNotSubscribed is returned when unsubscribing a channel that has no
// active subscription.
var ErrNotSubscribed = errors.New("not subscribed")

type channelState struct {
	nextReplay int64
	buffer     []streaming.Envelope // retained for replay, oldest first
	handler    transport.EventHandler
}

// Engine is an in-memory streaming provider.
type Engine struct {
	mu       sync.Mutex
	channels map[string]*channelState
	denied   map[string]string // channel -> rejection reason
	retain   int
	closed   atomic.Bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithChannels provisions channels at construction time.
func WithChannels(channels ...string) Option {
	return func(e *Engine) {
		for _, ch := range channels {
			e.channels[ch] = &channelState{}
		}
	}
}

// WithDenial makes subscribes to a channel fail with the given reason.
func WithDenial(channel, reason string) Option {
	return func(e *Engine) {
		e.denied[channel] = reason
	}
}

// WithRetention caps the number of envelopes retained per channel.
func WithRetention(n int) Option {
	return func(e *Engine) {
		e.retain = n
	}
}

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		channels: make(map[string]*channelState),
		denied:   make(map[string]string),
		retain:   1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Provision makes channels available for subscription and publication.
func (e *Engine) Provision(channels ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, ch := range channels {
		if _, ok := e.channels[ch]; !ok {
			e.channels[ch] = &channelState{}
		}
	}
}

// Subscribe implements transport.Transport.
func (e *Engine) Subscribe(ctx context.Context, channel string, replayID int64, handler transport.EventHandler) (transport.Subscription, error) {
	if e.closed.Load() {
		return transport.Subscription{}, ErrEngineClosed
	}

	e.mu.Lock()
	if reason, ok := e.denied[channel]; ok {
		e.mu.Unlock()
		return transport.Subscription{}, transport.NewSubscribeError(channel, reason)
	}
	state, ok := e.channels[channel]
	if !ok {
		e.mu.Unlock()
		return transport.Subscription{}, transport.NewSubscribeError(channel, ReasonInvalidChannel)
	}

	state.handler = handler
	var replay []streaming.Envelope
	if replayID != transport.ReplayNew {
		for _, env := range state.buffer {
			if replayID == transport.ReplayAll || env.Data.Event.ReplayID > replayID {
				replay = append(replay, env)
			}
		}
	}
	e.mu.Unlock()

	// Replayed events are delivered asynchronously, like live ones.
	if len(replay) > 0 {
		go func() {
			for _, env := range replay {
				handler(env)
			}
		}()
	}

	return transport.Subscription{Channel: channel, ReplayID: replayID}, nil
}

// Unsubscribe implements transport.Transport.
func (e *Engine) Unsubscribe(ctx context.Context, sub transport.Subscription) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	state, ok := e.channels[sub.Channel]
	if !ok || state.handler == nil {
		return ErrNotSubscribed
	}
	state.handler = nil
	return nil
}

// delivery is one stamped envelope paired with the handler (if any) of the
// channel it is bound for.
type delivery struct {
	env     streaming.Envelope
	handler transport.EventHandler
}

// stamp assigns the channel's next replay id and a created date to a copy
// of the envelope, buffers it for replay, and pairs it with the channel's
// handler. The caller's envelope (and its meta block) is never mutated.
func (e *Engine) stamp(state *channelState, env streaming.Envelope) delivery {
	state.nextReplay++
	meta := streaming.EnvelopeMeta{}
	if env.Data.Event != nil {
		meta = *env.Data.Event
	}
	meta.ReplayID = state.nextReplay
	if meta.CreatedDate == "" {
		meta.CreatedDate = time.Now().UTC().Format(time.RFC3339Nano)
	}
	env.Data.Event = &meta

	state.buffer = append(state.buffer, env)
	if len(state.buffer) > e.retain {
		state.buffer = state.buffer[len(state.buffer)-e.retain:]
	}
	return delivery{env: env, handler: state.handler}
}

// Publish implements transport.Transport. The engine assigns the replay id
// and a created date when the envelope carries none. Change events also
// fan into the all-changes channel when it is provisioned, each delivery
// stamped with that channel's own replay sequence.
func (e *Engine) Publish(ctx context.Context, env streaming.Envelope) error {
	if e.closed.Load() {
		return ErrEngineClosed
	}

	e.mu.Lock()
	state, ok := e.channels[env.Channel]
	if !ok {
		e.mu.Unlock()
		return transport.NewSubscribeError(env.Channel, ReasonInvalidChannel)
	}

	deliveries := []delivery{e.stamp(state, env)}
	if env.Channel != streaming.ChannelAllCDC && streaming.IsCDCChannel(env.Channel) {
		if all, ok := e.channels[streaming.ChannelAllCDC]; ok {
			fan := env
			fan.Channel = streaming.ChannelAllCDC
			deliveries = append(deliveries, e.stamp(all, fan))
		}
	}
	e.mu.Unlock()

	for _, d := range deliveries {
		if d.handler != nil {
			d.handler(d.env)
		}
	}
	return nil
}

// Close implements transport.Transport.
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.channels = nil
	return nil
}

var _ transport.Transport = (*Engine)(nil)
