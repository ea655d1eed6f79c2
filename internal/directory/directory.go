// Package directory supplies the channels available for subscription,
// grouped by event type. It models the external channel lookup the monitor
// consumes; the synthetic all-changes entry for CDC is added here, at the
// boundary, never inside the core.
package directory

import (
	"fmt"

	"streamwatch/internal/streaming"
)

// Bulk-subscribe scopes beyond a single event-type id.
const (
	ScopeAll    = "all"
	ScopeCustom = "custom"
)

// ChannelDescriptor is one selectable channel. Value is the bare channel
// name; the full channel path is the event type's prefix plus Value.
type ChannelDescriptor struct {
	Label string `json:"label" yaml:"label"`
	Value string `json:"value" yaml:"value"`
}

// allCDC is the synthetic descriptor covering every change event.
var allCDC = ChannelDescriptor{Label: "All Change Data Capture events", Value: "ChangeEvents"}

// Directory is a read-only channel listing keyed by event-type id.
type Directory struct {
	channels map[string][]ChannelDescriptor
}

// New builds a Directory. Keys must be known event-type ids.
func New(channels map[string][]ChannelDescriptor) (*Directory, error) {
	copied := make(map[string][]ChannelDescriptor, len(channels))
	for eventType, descs := range channels {
		if _, ok := streaming.LookupEventType(eventType); !ok {
			return nil, fmt.Errorf("%w: %s", streaming.ErrUnsupportedEventType, eventType)
		}
		copied[eventType] = append([]ChannelDescriptor(nil), descs...)
	}
	return &Directory{channels: copied}, nil
}

// Channels lists the descriptors for one event type, in directory order.
// The CDC listing gets the synthetic all-changes entry prepended.
func (d *Directory) Channels(eventType string) ([]ChannelDescriptor, error) {
	if _, ok := streaming.LookupEventType(eventType); !ok {
		return nil, fmt.Errorf("%w: %s", streaming.ErrUnsupportedEventType, eventType)
	}
	descs := append([]ChannelDescriptor(nil), d.channels[eventType]...)
	if eventType == streaming.TypeCDC {
		descs = append([]ChannelDescriptor{allCDC}, descs...)
	}
	return descs, nil
}

// All lists every event type's descriptors, including augmentation.
func (d *Directory) All() map[string][]ChannelDescriptor {
	out := make(map[string][]ChannelDescriptor, len(streaming.EventTypes))
	for _, et := range streaming.EventTypes {
		descs, _ := d.Channels(et.ID)
		out[et.ID] = descs
	}
	return out
}

// ChannelsForScope resolves a bulk-subscribe scope to fully-prefixed
// channel paths. The CDC type collapses to the synthetic all-changes
// channel; the custom scope keeps only user-defined channels.
func (d *Directory) ChannelsForScope(scope string) ([]string, error) {
	switch scope {
	case ScopeAll:
		var channels []string
		for _, et := range streaming.EventTypes {
			if et.ID == streaming.TypeCDC {
				channels = append(channels, streaming.ChannelAllCDC)
				continue
			}
			for _, desc := range d.channels[et.ID] {
				channels = append(channels, et.ChannelPrefix+desc.Value)
			}
		}
		return dedup(channels), nil

	case ScopeCustom:
		var channels []string
		for _, et := range streaming.EventTypes {
			for _, desc := range d.channels[et.ID] {
				custom, err := streaming.IsCustomChannel(et.ID, desc.Value)
				if err != nil {
					return nil, err
				}
				if custom {
					channels = append(channels, et.ChannelPrefix+desc.Value)
				}
			}
		}
		return dedup(channels), nil

	case streaming.TypeCDC:
		return []string{streaming.ChannelAllCDC}, nil

	default:
		et, ok := streaming.LookupEventType(scope)
		if !ok {
			return nil, fmt.Errorf("%w: %s", streaming.ErrUnsupportedEventType, scope)
		}
		var channels []string
		for _, desc := range d.channels[et.ID] {
			channels = append(channels, et.ChannelPrefix+desc.Value)
		}
		return dedup(channels), nil
	}
}

// dedup removes duplicates while preserving first-seen order. Distinct
// event types can map to the same channel path.
func dedup(channels []string) []string {
	seen := make(map[string]bool, len(channels))
	out := channels[:0]
	for _, ch := range channels {
		if !seen[ch] {
			seen[ch] = true
			out = append(out, ch)
		}
	}
	return out
}
