package apisec

import (
	"context"
	"log/slog"
)

// AlertNotifier delivers critical notifications (HIGH/CRITICAL audit
// entries, ALERT_ADMIN response actions). Delivery runs on the async
// dispatcher; a returned error is counted and logged, never propagated to
// the operation that raised the alert.
type AlertNotifier interface {
	Notify(ctx context.Context, alert Alert) error
}

// NoOpNotifier discards all alerts.
type NoOpNotifier struct{}

// Notify implements [AlertNotifier].
func (NoOpNotifier) Notify(context.Context, Alert) error { return nil }

// ChannelNotifier buffers alerts on a channel for consumption elsewhere.
// When the buffer is full the alert is dropped; alerting never blocks.
type ChannelNotifier struct {
	alerts chan Alert
}

// NewChannelNotifier creates a [ChannelNotifier] with the given capacity.
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelNotifier{alerts: make(chan Alert, buffer)}
}

// Notify implements [AlertNotifier].
func (n *ChannelNotifier) Notify(_ context.Context, alert Alert) error {
	select {
	case n.alerts <- alert:
	default:
	}
	return nil
}

// Alerts exposes the receive side of the notifier.
func (n *ChannelNotifier) Alerts() <-chan Alert {
	return n.alerts
}

// LogNotifier writes alerts to a structured logger. Useful as a default
// when no delivery channel (email, chat) is wired up by the caller.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a [LogNotifier]. A nil logger uses slog.Default.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements [AlertNotifier].
func (n *LogNotifier) Notify(_ context.Context, alert Alert) error {
	n.logger.Warn("security alert",
		"alert_id", alert.ID,
		"severity", string(alert.Severity),
		"summary", alert.Summary,
	)
	return nil
}
