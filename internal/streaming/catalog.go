// Package streaming holds the pure core of the monitor: the event-type
// catalog, the envelope normalizer, and ordering/filtering primitives.
// Nothing in this package performs I/O.
package streaming

import (
	"errors"
	"fmt"
	"strings"
)

// Channel prefixes used by the streaming provider.
const (
	PrefixPushTopic     = "/topic/"
	PrefixGeneric       = "/u/"
	PrefixPlatformEvent = "/event/"
	PrefixCDC           = "/data/"
)

// Event type identifiers. The set is fixed at process start.
const (
	TypePushTopic            = "PushTopicEvent"
	TypeGeneric              = "GenericEvent"
	TypeStdPlatformEvent     = "StandardPlatformEvent"
	TypePlatformEvent        = "PlatformEvent"
	TypeCDC                  = "ChangeDataCaptureEvent"
	TypeCDCChannel           = "ChangeDataCaptureChannel"
	TypePlatformEventChannel = "PlatformEventChannel"
	TypeMonitoring           = "MonitoringEvent"
)

// ChannelAllCDC is the synthetic channel covering every change event.
const ChannelAllCDC = "/data/ChangeEvents"

// Channel name suffixes identifying user-defined objects.
const (
	suffixCustomPlatformEvent = "__e"
	suffixCustomChangeEvent   = "__ChangeEvent"
)

// ErrUnsupportedEventType is returned when an event-type id is not part of
// the catalog. It indicates a programming error in the caller and is never
// swallowed.
var ErrUnsupportedEventType = errors.New("unsupported event type")

// EventType describes one entry of the static catalog.
type EventType struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	ChannelPrefix string `json:"channelPrefix"`
}

// EventTypes is the full catalog, in display order.
var EventTypes = []EventType{
	{ID: TypePushTopic, Label: "PushTopic event", ChannelPrefix: PrefixPushTopic},
	{ID: TypeGeneric, Label: "Generic event", ChannelPrefix: PrefixGeneric},
	{ID: TypeStdPlatformEvent, Label: "Standard platform event", ChannelPrefix: PrefixPlatformEvent},
	{ID: TypePlatformEvent, Label: "Custom platform event", ChannelPrefix: PrefixPlatformEvent},
	{ID: TypeCDC, Label: "Change Data Capture event", ChannelPrefix: PrefixCDC},
	{ID: TypeCDCChannel, Label: "Custom Change Data Capture channel", ChannelPrefix: PrefixCDC},
	{ID: TypePlatformEventChannel, Label: "Custom platform event channel", ChannelPrefix: PrefixPlatformEvent},
	{ID: TypeMonitoring, Label: "Monitoring event", ChannelPrefix: PrefixPlatformEvent},
}

// LookupEventType returns the catalog entry for the given id.
func LookupEventType(eventType string) (EventType, bool) {
	for _, et := range EventTypes {
		if et.ID == eventType {
			return et, true
		}
	}
	return EventType{}, false
}

// ChannelPrefix returns the channel prefix for a known event-type id.
func ChannelPrefix(eventType string) (string, error) {
	et, ok := LookupEventType(eventType)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}
	return et.ChannelPrefix, nil
}

// IsCDCChannel reports whether a channel carries change events. A prefix
// test is used rather than a strict name match so that the synthetic
// all-changes channel also qualifies.
func IsCDCChannel(channel string) bool {
	return strings.HasPrefix(channel, PrefixCDC)
}

// HasKnownPrefix reports whether a channel starts with one of the catalog
// prefixes.
func HasKnownPrefix(channel string) bool {
	for _, p := range []string{PrefixPushTopic, PrefixGeneric, PrefixPlatformEvent, PrefixCDC} {
		if strings.HasPrefix(channel, p) {
			return true
		}
	}
	return false
}

// IsCustomChannel reports whether a channel of the given event type is
// user-defined rather than provided by the platform.
func IsCustomChannel(eventType, channel string) (bool, error) {
	switch eventType {
	case TypePushTopic, TypeGeneric:
		// Only user-defined channels exist for these types.
		return true, nil
	case TypeStdPlatformEvent, TypeMonitoring:
		return false, nil
	case TypePlatformEvent:
		return strings.HasSuffix(channel, suffixCustomPlatformEvent), nil
	case TypeCDC:
		return strings.HasSuffix(channel, suffixCustomChangeEvent), nil
	case TypeCDCChannel, TypePlatformEventChannel:
		return true, nil
	default:
		return false, fmt.Errorf("%w: %s", ErrUnsupportedEventType, eventType)
	}
}
