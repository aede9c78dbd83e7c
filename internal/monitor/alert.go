package monitor

import (
	"context"
	"log/slog"
	"time"
)

// AlertType identifies the rule that fired.
type AlertType string

const (
	AlertCostThreshold AlertType = "COST_THRESHOLD"
	AlertErrorRate     AlertType = "ERROR_RATE"
	AlertLatency       AlertType = "LATENCY"
	AlertQuota         AlertType = "QUOTA"
)

// Severity orders alerts by operational urgency.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Alert is a point-in-time fact emitted by the monitor. Alerts are not stored
// as mutable state; persistence and paging are sink concerns.
type Alert struct {
	Type      AlertType `json:"type"`
	Severity  Severity  `json:"severity"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Threshold float64   `json:"threshold"`
	Value     float64   `json:"value"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// AlertSink receives emitted alerts. Implementations must never block the
// caller for long and must never propagate failure into the request path.
type AlertSink interface {
	Emit(ctx context.Context, alert Alert)
}

// LogSink writes every alert to the structured log.
type LogSink struct{}

func (LogSink) Emit(_ context.Context, a Alert) {
	attrs := []any{
		"type", string(a.Type),
		"severity", string(a.Severity),
		"provider", a.Provider,
		"model", a.Model,
		"threshold", a.Threshold,
		"value", a.Value,
	}
	switch a.Severity {
	case SeverityCritical, SeverityHigh:
		slog.Error("usage alert: "+a.Message, attrs...)
	default:
		slog.Warn("usage alert: "+a.Message, attrs...)
	}
}
