package api

import (
	"streamwatch/internal/monitor"
	"streamwatch/internal/streaming"
)

// Message types pushed to live-feed clients.
const (
	TypeEvent  = "event"
	TypeNotice = "notice"
)

// Message is the envelope for everything the hub pushes over a socket.
// Exactly one of Event or Notice is set, matching Type.
type Message struct {
	Type   string                `json:"type"`
	Event  *streaming.Event      `json:"event,omitempty"`
	Notice *monitor.Notification `json:"notice,omitempty"`
}
