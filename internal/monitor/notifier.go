package monitor

import "log/slog"

// Variant is the severity of a user-facing notification.
type Variant string

const (
	VariantInfo    Variant = "info"
	VariantSuccess Variant = "success"
	VariantWarning Variant = "warning"
	VariantError   Variant = "error"
)

// Notification is a user-facing notice, the equivalent of a UI toast.
type Notification struct {
	Variant Variant `json:"variant"`
	Title   string  `json:"title"`
	Message string  `json:"message,omitempty"`
}

// Notifier delivers notifications to whatever surfaces them.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(n Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// LogNotifier writes notifications to the log. Used when no UI is
// connected.
type LogNotifier struct {
	Logger *slog.Logger
}

func (l LogNotifier) Notify(n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	switch n.Variant {
	case VariantError:
		logger.Error(n.Title, "message", n.Message)
	case VariantWarning:
		logger.Warn(n.Title, "message", n.Message)
	default:
		logger.Info(n.Title, "message", n.Message, "variant", string(n.Variant))
	}
}
