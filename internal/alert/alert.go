// Package alert is the single outbound channel for operator-facing notices.
// Delivery is fire-and-forget: a failing or slow sink never blocks the risk
// paths that raised the alert.
package alert

import (
	"log"
	"time"

	"risk-core/internal/events"
)

// Level grades alert severity.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarning  Level = "WARNING"
	LevelCritical Level = "CRITICAL"
)

// Alert is a structured operator notice.
type Alert struct {
	Level     Level              `json:"level"`
	AccountID string             `json:"account_id"`
	Message   string             `json:"message"`
	Metrics   map[string]float64 `json:"metrics,omitempty"`
	At        time.Time          `json:"at"`
}

// Notifier delivers alerts. Implementations must be best-effort and
// non-blocking; errors are logged by the dispatcher, never returned upstream.
type Notifier interface {
	Notify(a Alert) error
}

// LogNotifier writes alerts to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(a Alert) error {
	log.Printf("[ALERT:%s] account=%s %s metrics=%v", a.Level, a.AccountID, a.Message, a.Metrics)
	return nil
}

// BusNotifier publishes alerts onto the event bus for API/websocket consumers.
type BusNotifier struct {
	Bus *events.Bus
}

func (n BusNotifier) Notify(a Alert) error {
	if n.Bus != nil {
		n.Bus.Publish(events.EventRiskAlert, a)
	}
	return nil
}
