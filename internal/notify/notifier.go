package notify

import "custos/internal/logger"

// Notifier delivers operator-facing alerts. Delivery is fire-and-forget:
// callers never wait on it for correctness and failures are swallowed by
// the implementation.
type Notifier interface {
	Notify(kind string, payload any)
}

// LogNotifier writes notifications to the process log. It is the default
// sink when no chat/email transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(kind string, payload any) {
	logger.Warnf("notify[%s]: %+v", kind, payload)
}

// Noop discards all notifications.
type Noop struct{}

func (Noop) Notify(string, any) {}
