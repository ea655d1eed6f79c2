// Package nats implements the streaming Transport over NATS JetStream.
// Streaming channels map to subjects under a configurable prefix and
// replay ids map to stream sequence numbers, so subscribing with a replay
// id resumes from that point in the stream's history.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

// ReasonInvalidChannel mirrors the provider's status string for channels
// that cannot be subscribed to.
const ReasonInvalidChannel = "400::The channel specified is not valid"

// Config configures the NATS transport.
type Config struct {
	URL           string `yaml:"url"`
	Stream        string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// DefaultConfig returns the default NATS transport configuration.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Stream:        "STREAMWATCH",
		SubjectPrefix: "streamwatch",
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.URL == "" {
		c.URL = defaults.URL
	}
	if c.Stream == "" {
		c.Stream = defaults.Stream
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = defaults.SubjectPrefix
	}
}

// Transport is a transport.Transport backed by NATS JetStream.
type Transport struct {
	cfg    Config
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger

	mu        sync.Mutex
	consumers map[string]jetstream.ConsumeContext
}

// New connects to NATS and ensures the backing stream exists.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Transport, error) {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.SubjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &Transport{
		cfg:       cfg,
		nc:        nc,
		js:        js,
		logger:    logger.With("component", "nats-transport"),
		consumers: make(map[string]jetstream.ConsumeContext),
	}, nil
}

// Subject maps a streaming channel to a JetStream subject.
// "/event/Foo__e" becomes "<prefix>.event.Foo__e".
func (t *Transport) Subject(channel string) string {
	return t.cfg.SubjectPrefix + "." + strings.ReplaceAll(strings.Trim(channel, "/"), "/", ".")
}

// filterSubject maps a channel to the subject filter its consumer watches.
// The all-changes channel watches every data subject, so a subscriber on
// it sees change events published on any concrete change channel.
func (t *Transport) filterSubject(channel string) string {
	if channel == streaming.ChannelAllCDC {
		return t.cfg.SubjectPrefix + ".data.>"
	}
	return t.Subject(channel)
}

// Subscribe implements transport.Transport.
func (t *Transport) Subscribe(ctx context.Context, channel string, replayID int64, handler transport.EventHandler) (transport.Subscription, error) {
	if !streaming.HasKnownPrefix(channel) {
		return transport.Subscription{}, transport.NewSubscribeError(channel, ReasonInvalidChannel)
	}

	consumerCfg := jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{t.filterSubject(channel)},
	}
	consumerCfg.DeliverPolicy, consumerCfg.OptStartSeq = deliverPolicy(replayID)

	cons, err := t.js.OrderedConsumer(ctx, t.cfg.Stream, consumerCfg)
	if err != nil {
		return transport.Subscription{}, transport.NewSubscribeError(channel, ReasonInvalidChannel+": "+err.Error())
	}

	cc, err := cons.Consume(func(msg jetstream.Msg) {
		defer func() { _ = msg.Ack() }()
		env, err := t.decode(channel, msg)
		if err != nil {
			t.logger.Warn("Dropping undecodable message", "channel", channel, "error", err)
			return
		}
		handler(env)
	})
	if err != nil {
		return transport.Subscription{}, transport.NewSubscribeError(channel, ReasonInvalidChannel+": "+err.Error())
	}

	t.mu.Lock()
	if old, ok := t.consumers[channel]; ok {
		old.Stop()
	}
	t.consumers[channel] = cc
	t.mu.Unlock()

	t.logger.Info("Subscribed", "channel", channel, "replayId", replayID)
	return transport.Subscription{Channel: channel, ReplayID: replayID}, nil
}

// deliverPolicy maps a replay id to JetStream delivery semantics.
func deliverPolicy(replayID int64) (jetstream.DeliverPolicy, uint64) {
	switch {
	case replayID == transport.ReplayAll:
		return jetstream.DeliverAllPolicy, 0
	case replayID > 0:
		return jetstream.DeliverByStartSequencePolicy, uint64(replayID) + 1
	default:
		return jetstream.DeliverNewPolicy, 0
	}
}

// decode turns a JetStream message back into an envelope.
func (t *Transport) decode(channel string, msg jetstream.Msg) (streaming.Envelope, error) {
	meta, err := msg.Metadata()
	if err != nil {
		meta = nil
	}
	return decodeEnvelope(channel, msg.Data(), meta)
}

// decodeEnvelope rebuilds an envelope from a stored message, filling in the
// replay id from the stream sequence and defaulting missing metadata.
// Deliveries to the all-changes channel are rewritten to carry it as their
// channel, the way the provider reports them to that subscriber.
func decodeEnvelope(channel string, data []byte, meta *jetstream.MsgMetadata) (streaming.Envelope, error) {
	var env streaming.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return streaming.Envelope{}, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Channel == "" || channel == streaming.ChannelAllCDC {
		env.Channel = channel
	}
	if env.Data.Event == nil {
		env.Data.Event = &streaming.EnvelopeMeta{}
	}

	if meta != nil {
		env.Data.Event.ReplayID = int64(meta.Sequence.Stream)
		if env.Data.Event.CreatedDate == "" {
			env.Data.Event.CreatedDate = meta.Timestamp.UTC().Format(time.RFC3339Nano)
		}
	}
	return env, nil
}

// Unsubscribe implements transport.Transport.
func (t *Transport) Unsubscribe(ctx context.Context, sub transport.Subscription) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	cc, ok := t.consumers[sub.Channel]
	if !ok {
		return fmt.Errorf("no active subscription for channel %s", sub.Channel)
	}
	cc.Stop()
	delete(t.consumers, sub.Channel)
	t.logger.Info("Unsubscribed", "channel", sub.Channel)
	return nil
}

// Publish implements transport.Transport. The replay id is assigned by the
// stream on delivery, so any id on the envelope is cleared first. The meta
// block is cloned so the caller's envelope is never written through.
func (t *Transport) Publish(ctx context.Context, env streaming.Envelope) error {
	if env.Data.Event != nil {
		meta := *env.Data.Event
		meta.ReplayID = 0
		env.Data.Event = &meta
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if _, err := t.js.Publish(ctx, t.Subject(env.Channel), data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", env.Channel, err)
	}
	return nil
}

// Close implements transport.Transport.
func (t *Transport) Close() error {
	t.mu.Lock()
	for ch, cc := range t.consumers {
		cc.Stop()
		delete(t.consumers, ch)
	}
	t.mu.Unlock()

	return t.nc.Drain()
}

var _ transport.Transport = (*Transport)(nil)
