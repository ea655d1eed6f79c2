package streaming

import "strings"

// Filter selects events from a collection. Zero-valued fields are inactive;
// active predicates compose conjunctively. Time bounds are inclusive epoch
// milliseconds; events without a timestamp never satisfy a time bound.
type Filter struct {
	Channel       string `json:"channel,omitempty" schema:"channel"`
	Payload       string `json:"payload,omitempty" schema:"payload"`
	CaseSensitive bool   `json:"caseSensitive,omitempty" schema:"caseSensitive"`
	AfterTime     int64  `json:"afterTime,omitempty" schema:"afterTime"`
	BeforeTime    int64  `json:"beforeTime,omitempty" schema:"beforeTime"`
}

// IsZero reports whether no predicate is active.
func (f Filter) IsZero() bool {
	return f.Channel == "" && f.Payload == "" && f.AfterTime == 0 && f.BeforeTime == 0
}

// Matches reports whether a single event satisfies the filter. The payload
// predicate is a substring match against the serialized JSON text, not the
// parsed object.
func (f Filter) Matches(e Event) bool {
	if f.Channel != "" && e.Channel != f.Channel {
		return false
	}
	if f.AfterTime != 0 && (e.Timestamp == 0 || e.Timestamp < f.AfterTime) {
		return false
	}
	if f.BeforeTime != 0 && (e.Timestamp == 0 || e.Timestamp > f.BeforeTime) {
		return false
	}
	if f.Payload != "" {
		if f.CaseSensitive {
			if !strings.Contains(e.Payload, f.Payload) {
				return false
			}
		} else if !strings.Contains(strings.ToLower(e.Payload), strings.ToLower(f.Payload)) {
			return false
		}
	}
	return true
}

// ApplyFilter returns the events satisfying the filter, preserving input
// order. A fresh slice is always returned so callers never alias the
// source collection.
func ApplyFilter(events []Event, f Filter) []Event {
	out := make([]Event, 0, len(events))
	for _, e := range events {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
