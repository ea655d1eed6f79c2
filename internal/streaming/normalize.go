package streaming

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedEnvelope is returned when an envelope is missing the event
// block or its replay id.
var ErrMalformedEnvelope = errors.New("malformed streaming envelope")

// Kind is the event family, resolved once at ingestion and carried on the
// normalized record so consumers never re-probe optional fields.
type Kind int

const (
	// KindUnknown is the default for envelopes that match no known family.
	KindUnknown Kind = iota
	// KindPushTopic is a legacy query-based streaming event.
	KindPushTopic
	// KindGeneric is a generic streaming event.
	KindGeneric
	// KindPlatformEvent is a standard or custom platform event.
	KindPlatformEvent
	// KindChangeDataCapture is a record change event.
	KindChangeDataCapture
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindPushTopic:
		return "pushtopic"
	case KindGeneric:
		return "generic"
	case KindPlatformEvent:
		return "platform"
	case KindChangeDataCapture:
		return "cdc"
	default:
		return "unknown"
	}
}

// Envelope is the raw streaming envelope as delivered by the transport.
// Exactly one of Data.Payload and Data.SObject is expected to be present.
type Envelope struct {
	Channel string       `json:"channel"`
	Data    EnvelopeData `json:"data"`
}

// EnvelopeData carries the nested event metadata and payload.
type EnvelopeData struct {
	Schema  string          `json:"schema,omitempty"`
	Event   *EnvelopeMeta   `json:"event,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	SObject json.RawMessage `json:"sobject,omitempty"`
}

// EnvelopeMeta is the per-delivery metadata block.
type EnvelopeMeta struct {
	ReplayID    int64  `json:"replayId"`
	CreatedDate string `json:"createdDate,omitempty"`
	Type        string `json:"type,omitempty"`
}

// Event is the normalized record produced from an Envelope.
// Timestamp is epoch milliseconds UTC, 0 when the envelope carried no
// usable time source. Payload is always valid JSON text or "null".
type Event struct {
	ID        string `json:"id"`
	Kind      Kind   `json:"kind"`
	Timestamp int64  `json:"timestamp,omitempty"`
	TimeLabel string `json:"timeLabel,omitempty"`
	Channel   string `json:"channel"`
	ReplayID  int64  `json:"replayId"`
	Type      string `json:"type,omitempty"`
	Payload   string `json:"payload"`
}

// payloadProbe extracts the fields the normalizer needs from the otherwise
// opaque payload. The time source is a discriminated union by presence:
// event.createdDate, then ChangeEventHeader.commitTimestamp, then
// payload.CreatedDate.
type payloadProbe struct {
	ChangeEventHeader *changeEventHeader `json:"ChangeEventHeader"`
	CreatedDate       string             `json:"CreatedDate"`
}

type changeEventHeader struct {
	CommitTimestamp int64  `json:"commitTimestamp"`
	EntityName      string `json:"entityName"`
	ChangeType      string `json:"changeType"`
}

// Normalizer converts raw envelopes into normalized events. Time labels
// are rendered as wall-clock time in the configured location.
type Normalizer struct {
	loc *time.Location
}

// NewNormalizer creates a Normalizer. A nil location defaults to time.Local.
func NewNormalizer(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Normalize converts an envelope into a normalized event.
func (n *Normalizer) Normalize(env Envelope) (Event, error) {
	meta := env.Data.Event
	if meta == nil || meta.ReplayID == 0 {
		return Event{}, fmt.Errorf("%w: missing event metadata on channel %q", ErrMalformedEnvelope, env.Channel)
	}

	// The schema id discriminates events sharing a replay id. Generic
	// events carry no schema, so the channel stands in for it.
	id := env.Data.Schema
	if id == "" {
		id = env.Channel
	}
	id += strconv.FormatInt(meta.ReplayID, 10)

	var probe payloadProbe
	if len(env.Data.Payload) > 0 {
		// Probe failures are not fatal: the payload stays opaque and the
		// event simply has no timestamp.
		_ = json.Unmarshal(env.Data.Payload, &probe)
	}

	evt := Event{
		ID:       id,
		Kind:     classifyKind(env, probe),
		Channel:  env.Channel,
		ReplayID: meta.ReplayID,
		Payload:  selectPayload(env.Data),
	}
	evt.Type = typeLabel(evt.Kind, env.Channel, probe)

	if ts, ok := n.resolveTimestamp(meta, probe); ok {
		evt.Timestamp = ts
		evt.TimeLabel = time.UnixMilli(ts).In(n.loc).Format("2006-01-02 15:04:05")
	}

	return evt, nil
}

// resolveTimestamp probes the time sources in fixed priority order.
func (n *Normalizer) resolveTimestamp(meta *EnvelopeMeta, probe payloadProbe) (int64, bool) {
	if meta.CreatedDate != "" {
		if t, err := time.Parse(time.RFC3339, meta.CreatedDate); err == nil {
			return t.UnixMilli(), true
		}
		return 0, false
	}
	if probe.ChangeEventHeader != nil {
		return probe.ChangeEventHeader.CommitTimestamp, true
	}
	if probe.CreatedDate != "" {
		if t, err := time.Parse(time.RFC3339, probe.CreatedDate); err == nil {
			return t.UnixMilli(), true
		}
	}
	return 0, false
}

func classifyKind(env Envelope, probe payloadProbe) Kind {
	switch {
	case probe.ChangeEventHeader != nil || IsCDCChannel(env.Channel):
		return KindChangeDataCapture
	case strings.HasPrefix(env.Channel, PrefixPushTopic):
		return KindPushTopic
	case strings.HasPrefix(env.Channel, PrefixGeneric):
		return KindGeneric
	case strings.HasPrefix(env.Channel, PrefixPlatformEvent):
		return KindPlatformEvent
	default:
		return KindUnknown
	}
}

// typeLabel derives a human-readable type description. Best effort only.
func typeLabel(kind Kind, channel string, probe payloadProbe) string {
	switch kind {
	case KindPushTopic:
		return "PushTopic: " + strings.TrimPrefix(channel, PrefixPushTopic)
	case KindGeneric:
		return "Generic"
	case KindChangeDataCapture:
		if h := probe.ChangeEventHeader; h != nil && h.EntityName != "" {
			return strings.TrimSpace("Change Event: " + h.EntityName + " " + h.ChangeType)
		}
		return "Change Event"
	case KindPlatformEvent:
		return "Platform Event"
	default:
		return ""
	}
}

// selectPayload picks the payload (or the sobject for PushTopic deliveries)
// and re-serializes it to compact JSON text.
func selectPayload(data EnvelopeData) string {
	raw := data.Payload
	if len(raw) == 0 {
		raw = data.SObject
	}
	if len(raw) == 0 {
		return "null"
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return "null"
	}
	return buf.String()
}
