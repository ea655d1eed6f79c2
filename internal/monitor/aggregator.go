// Package monitor holds the stateful side of streamwatch: the
// subscription/event aggregator and the service that drives the streaming
// transport.
package monitor

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"streamwatch/internal/streaming"
	"streamwatch/internal/transport"
)

var (
	// ErrDuplicateSubscription is returned when a channel already has an
	// active subscription.
	ErrDuplicateSubscription = errors.New("already subscribed to channel")

	// ErrSubscriptionNotFound is returned when removing a channel that has
	// no active subscription.
	ErrSubscriptionNotFound = errors.New("subscription not found")
)

// Aggregator is the in-memory collection of active subscriptions and
// received events. Subscriptions are unique by channel and kept sorted;
// events are kept in timestamp order and never deduplicated, matching the
// at-least-once delivery of the upstream transport. All reads return
// copies so callers never alias internal state.
type Aggregator struct {
	mu            sync.RWMutex
	subscriptions []transport.Subscription
	events        []streaming.Event
	channels      []string // distinct event channels, sorted
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// AddSubscription records an acknowledged subscription. The list is fully
// re-sorted on insert; at monitor scale that beats maintaining an
// insertion index.
func (a *Aggregator) AddSubscription(sub transport.Subscription) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, s := range a.subscriptions {
		if s.Channel == sub.Channel {
			return fmt.Errorf("%w: %s", ErrDuplicateSubscription, sub.Channel)
		}
	}
	a.subscriptions = append(a.subscriptions, sub)
	slices.SortStableFunc(a.subscriptions, func(x, y transport.Subscription) int {
		return streaming.CompareChannels(x.Channel, y.Channel)
	})
	return nil
}

// RemoveSubscription removes the entry for a channel and returns it.
func (a *Aggregator) RemoveSubscription(channel string) (transport.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, s := range a.subscriptions {
		if s.Channel == channel {
			a.subscriptions = append(a.subscriptions[:i], a.subscriptions[i+1:]...)
			return s, nil
		}
	}
	return transport.Subscription{}, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, channel)
}

// TakeAllSubscriptions clears the subscription list unconditionally and
// returns the removed entries so the caller can attempt a transport
// unsubscribe for every one of them.
func (a *Aggregator) TakeAllSubscriptions() []transport.Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()

	subs := a.subscriptions
	a.subscriptions = nil
	return subs
}

// HasSubscription reports whether a channel is subscribed.
func (a *Aggregator) HasSubscription(channel string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	for _, s := range a.subscriptions {
		if s.Channel == channel {
			return true
		}
	}
	return false
}

// Subscriptions returns the sorted subscription list.
func (a *Aggregator) Subscriptions() []transport.Subscription {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]transport.Subscription(nil), a.subscriptions...)
}

// AddEvent inserts a normalized event, keeping the collection in timestamp
// order, and re-derives the distinct channel list. Repeated replay of the
// same event is accepted as a new row.
func (a *Aggregator) AddEvent(evt streaming.Event) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.events = append(a.events, evt)
	slices.SortStableFunc(a.events, streaming.CompareTimestamps)

	if !slices.Contains(a.channels, evt.Channel) {
		a.channels = append(a.channels, evt.Channel)
		slices.Sort(a.channels)
	}
}

// Events returns the events satisfying the filter plus the total count.
func (a *Aggregator) Events(f streaming.Filter) (filtered []streaming.Event, total int) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return streaming.ApplyFilter(a.events, f), len(a.events)
}

// Channels returns the sorted distinct channels events were received on.
func (a *Aggregator) Channels() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.channels...)
}

// ClearEvents empties the event collection. Subscriptions are untouched;
// the derived channel list is reset together with the events it came from.
func (a *Aggregator) ClearEvents() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.events = nil
	a.channels = nil
}
