package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"streamwatch/internal/directory"
	"streamwatch/internal/filterexpr"
	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

// Config configures the monitor service.
type Config struct {
	// SuppressionWindow is how long subscribe errors stay muted after a
	// bulk subscribe. Bulk subscription deliberately attempts channels
	// that may not be provisioned.
	SuppressionWindow time.Duration `yaml:"suppression_window"`
}

// DefaultConfig returns the default monitor configuration.
func DefaultConfig() Config {
	return Config{SuppressionWindow: 4 * time.Second}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.SuppressionWindow == 0 {
		c.SuppressionWindow = DefaultConfig().SuppressionWindow
	}
}

// Service ties the aggregator to the streaming transport and the channel
// directory. All mutation is funneled through here.
type Service struct {
	cfg        Config
	transport  transport.Transport
	directory  *directory.Directory
	agg        *Aggregator
	normalizer *streaming.Normalizer
	notifier   Notifier
	logger     *slog.Logger

	suppressMu    sync.Mutex
	suppressed    bool
	suppressTimer *time.Timer

	observerMu sync.RWMutex
	observers  []func(streaming.Event)
}

// Option configures the Service.
type Option func(*Service)

// WithLocation sets the location used for event time labels.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		s.normalizer = streaming.NewNormalizer(loc)
	}
}

// NewService creates a monitor Service.
func NewService(cfg Config, tr transport.Transport, dir *directory.Directory, notifier Notifier, logger *slog.Logger, opts ...Option) *Service {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = LogNotifier{Logger: logger}
	}

	s := &Service{
		cfg:        cfg,
		transport:  tr,
		directory:  dir,
		agg:        NewAggregator(),
		normalizer: streaming.NewNormalizer(nil),
		notifier:   notifier,
		logger:     logger.With("component", "monitor"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Directory exposes the channel directory for read-only listing.
func (s *Service) Directory() *directory.Directory {
	return s.directory
}

// AddObserver registers a callback invoked for every normalized event.
// Observers run on the transport's delivery goroutine and must not block.
func (s *Service) AddObserver(fn func(streaming.Event)) {
	s.observerMu.Lock()
	defer s.observerMu.Unlock()
	s.observers = append(s.observers, fn)
}

// Subscribe subscribes to a single channel. Duplicate channels are
// rejected before the transport is involved.
func (s *Service) Subscribe(ctx context.Context, channel string, replayID int64) (transport.Subscription, error) {
	if s.agg.HasSubscription(channel) {
		return transport.Subscription{}, fmt.Errorf("%w: %s", ErrDuplicateSubscription, channel)
	}

	sub, err := s.transport.Subscribe(ctx, channel, replayID, s.handleEnvelope)
	if err != nil {
		s.handleSubscribeError(err)
		return transport.Subscription{}, err
	}

	if err := s.agg.AddSubscription(sub); err != nil {
		return transport.Subscription{}, err
	}
	s.notifier.Notify(Notification{Variant: VariantSuccess, Title: "Successfully subscribed", Message: sub.Channel})
	return sub, nil
}

// SubscribeAll subscribes to every channel in scope concurrently, waiting
// for every acknowledgment. Failures for individual channels do not abort
// the rest; they are classified and usually muted by the suppression
// window opened for the operation.
func (s *Service) SubscribeAll(ctx context.Context, scope string, replayID int64) error {
	channels, err := s.directory.ChannelsForScope(scope)
	if err != nil {
		return err
	}

	remaining := channels[:0]
	for _, ch := range channels {
		if !s.agg.HasSubscription(ch) {
			remaining = append(remaining, ch)
		}
	}
	if len(remaining) == 0 {
		s.notifier.Notify(Notification{
			Variant: VariantWarning,
			Title:   "There are no channels to subscribe to with the specified scope and current subscriptions",
		})
		return nil
	}

	s.openSuppressionWindow()
	s.logger.Info("Bulk subscribe", "scope", scope, "channels", len(remaining), "replayId", replayID)

	var wg sync.WaitGroup
	acks := make(chan transport.Subscription, len(remaining))
	for _, channel := range remaining {
		wg.Add(1)
		go func(channel string) {
			defer wg.Done()
			sub, err := s.transport.Subscribe(ctx, channel, replayID, s.handleEnvelope)
			if err != nil {
				s.handleSubscribeError(err)
				return
			}
			acks <- sub
		}(channel)
	}
	wg.Wait()
	close(acks)

	subscribed := 0
	for sub := range acks {
		if err := s.agg.AddSubscription(sub); err != nil {
			s.logger.Warn("Dropping duplicate bulk subscription", "channel", sub.Channel)
			continue
		}
		subscribed++
	}

	s.notifier.Notify(Notification{
		Variant: VariantSuccess,
		Title:   "Successfully subscribed to the specified channels",
		Message: fmt.Sprintf("%d of %d channels active", subscribed, len(remaining)),
	})
	return nil
}

// Unsubscribe tears down the subscription for one channel. Local state is
// cleared even when the transport call fails.
func (s *Service) Unsubscribe(ctx context.Context, channel string) error {
	sub, err := s.agg.RemoveSubscription(channel)
	if err != nil {
		return err
	}

	if err := s.transport.Unsubscribe(ctx, sub); err != nil {
		s.logger.Error("Transport unsubscribe failed", "channel", channel, "error", err)
		s.notifier.Notify(Notification{Variant: VariantError, Title: "Failed to unsubscribe", Message: channel})
		return nil
	}
	s.notifier.Notify(Notification{Variant: VariantSuccess, Title: "Successfully unsubscribed", Message: channel})
	return nil
}

// UnsubscribeAll attempts a transport unsubscribe for every active entry,
// never failing fast; local state is cleared regardless of individual
// outcomes.
func (s *Service) UnsubscribeAll(ctx context.Context) {
	subs := s.agg.TakeAllSubscriptions()
	for _, sub := range subs {
		if err := s.transport.Unsubscribe(ctx, sub); err != nil {
			s.logger.Error("Transport unsubscribe failed", "channel", sub.Channel, "error", err)
		}
	}
	if len(subs) > 0 {
		s.notifier.Notify(Notification{Variant: VariantSuccess, Title: "Successfully unsubscribed from all channels"})
	}
}

// Publish sends an event of the given type. The channel is the type's
// prefix plus the event name; payload must be JSON text.
func (s *Service) Publish(ctx context.Context, eventType, eventName string, payload json.RawMessage) error {
	prefix, err := streaming.ChannelPrefix(eventType)
	if err != nil {
		return err
	}

	env := streaming.Envelope{
		Channel: prefix + eventName,
		Data: streaming.EnvelopeData{
			Event:   &streaming.EnvelopeMeta{CreatedDate: time.Now().UTC().Format(time.RFC3339Nano)},
			Payload: payload,
		},
	}
	if err := s.transport.Publish(ctx, env); err != nil {
		s.notifier.Notify(Notification{Variant: VariantError, Title: "Failed to publish " + eventName})
		return err
	}
	s.notifier.Notify(Notification{Variant: VariantSuccess, Title: "Successfully published event " + eventName})
	return nil
}

// Subscriptions returns the sorted active subscriptions.
func (s *Service) Subscriptions() []transport.Subscription {
	return s.agg.Subscriptions()
}

// Events returns the filtered events plus the total count. A non-empty
// expression is compiled as an advanced payload filter and composed with
// the structured one.
func (s *Service) Events(f streaming.Filter, expression string) (filtered []streaming.Event, total int, err error) {
	filtered, total = s.agg.Events(f)
	if expression != "" {
		prg, err := filterexpr.Compile(expression)
		if err != nil {
			return nil, 0, err
		}
		filtered = prg.Apply(filtered)
	}
	return filtered, total, nil
}

// Channels returns the distinct channels events were received on.
func (s *Service) Channels() []string {
	return s.agg.Channels()
}

// ClearEvents empties the received-event collection.
func (s *Service) ClearEvents() {
	s.agg.ClearEvents()
}

// Close stops the suppression timer and unsubscribes everything.
func (s *Service) Close(ctx context.Context) {
	s.UnsubscribeAll(ctx)

	s.suppressMu.Lock()
	if s.suppressTimer != nil {
		s.suppressTimer.Stop()
		s.suppressTimer = nil
	}
	s.suppressed = false
	s.suppressMu.Unlock()
}

// handleEnvelope is the transport callback: normalize, aggregate, fan out.
func (s *Service) handleEnvelope(env streaming.Envelope) {
	evt, err := s.normalizer.Normalize(env)
	if err != nil {
		s.logger.Warn("Dropping malformed envelope", "channel", env.Channel, "error", err)
		return
	}

	s.agg.AddEvent(evt)
	s.notifier.Notify(Notification{Variant: VariantInfo, Title: "Received event on channel", Message: evt.Channel})

	s.observerMu.RLock()
	observers := s.observers
	s.observerMu.RUnlock()
	for _, fn := range observers {
		fn(evt)
	}
}

// handleSubscribeError classifies a transport subscribe failure and
// decides whether it surfaces as a notification. Classification errors on
// the catalog never pass through here; they propagate to callers.
func (s *Service) handleSubscribeError(err error) {
	var subErr *transport.SubscribeError
	if !errors.As(err, &subErr) {
		s.notifier.Notify(Notification{Variant: VariantError, Title: "Streaming transport error", Message: err.Error()})
		return
	}

	// A faulty entry may have been recorded before the error arrived.
	if _, rmErr := s.agg.RemoveSubscription(subErr.Subscription); rmErr == nil {
		s.logger.Warn("Removed faulty subscription", "channel", subErr.Subscription)
	}

	kind := ClassifySubscribeError(subErr.Reason)
	s.logger.Error("Subscribe failed", "channel", subErr.Subscription, "kind", kind.String(), "reason", subErr.Reason)

	var show bool
	var message string
	switch kind {
	case SubscribeErrorInvalidChannel:
		// Inactive CDC channels are the common case; other invalid
		// channels stay in the log.
		show = !s.isSuppressed() && streaming.IsCDCChannel(subErr.Subscription)
		message = fmt.Sprintf("Failed to subscribe to %s. Is the Change Data Capture event active?", subErr.Subscription)
	case SubscribeErrorSecurityPolicy:
		show = !s.isSuppressed()
		message = fmt.Sprintf("Failed to subscribe to %s: %s", subErr.Subscription, subErr.Reason)
	default:
		show = true
		message = subErr.Error()
	}

	if show {
		s.notifier.Notify(Notification{Variant: VariantError, Title: "Streaming transport error", Message: message})
	}
}

// openSuppressionWindow mutes expected subscribe errors for the configured
// duration. Re-opening resets the timer; ordinary surfacing resumes the
// moment it fires.
func (s *Service) openSuppressionWindow() {
	s.suppressMu.Lock()
	defer s.suppressMu.Unlock()

	s.suppressed = true
	if s.suppressTimer != nil {
		s.suppressTimer.Stop()
	}
	s.suppressTimer = time.AfterFunc(s.cfg.SuppressionWindow, func() {
		s.suppressMu.Lock()
		s.suppressed = false
		s.suppressMu.Unlock()
	})
}

func (s *Service) isSuppressed() bool {
	s.suppressMu.Lock()
	defer s.suppressMu.Unlock()
	return s.suppressed
}
