package streaming

import "strings"

// CompareChannels orders channel names case-insensitively. Distinct channel
// strings yield a total order; stability is up to the sort used.
func CompareChannels(a, b string) int {
	return strings.Compare(strings.ToLower(a), strings.ToLower(b))
}

// CompareTimestamps orders events by ascending timestamp. Events without a
// timestamp carry the zero value and therefore sort first; callers needing
// strict handling must pre-filter.
func CompareTimestamps(a, b Event) int {
	switch {
	case a.Timestamp < b.Timestamp:
		return -1
	case a.Timestamp > b.Timestamp:
		return 1
	default:
		return 0
	}
}

// ByChannel adapts CompareChannels to events.
func ByChannel(a, b Event) int {
	return CompareChannels(a.Channel, b.Channel)
}
