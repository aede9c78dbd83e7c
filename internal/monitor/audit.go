package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditSink persists alerts and periodic usage snapshots to Postgres. Writes
// go through a buffered channel drained by one worker goroutine; when the
// buffer is full the record is dropped with a log line. Telemetry loss never
// blocks or fails the request path.
type AuditSink struct {
	db           *pgxpool.Pool
	writeTimeout time.Duration

	alerts chan Alert
	snaps  chan []Snapshot
	done   chan struct{}
}

func NewAuditSink(db *pgxpool.Pool, buffer int, writeTimeout time.Duration) *AuditSink {
	if buffer <= 0 {
		buffer = 256
	}
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	s := &AuditSink{
		db:           db,
		writeTimeout: writeTimeout,
		alerts:       make(chan Alert, buffer),
		snaps:        make(chan []Snapshot, 4),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *AuditSink) Emit(_ context.Context, a Alert) {
	select {
	case s.alerts <- a:
	default:
		slog.Warn("audit buffer full, dropping alert", "type", string(a.Type), "severity", string(a.Severity))
	}
}

// RecordSnapshot queues a periodic metrics snapshot for persistence.
func (s *AuditSink) RecordSnapshot(snaps []Snapshot) {
	select {
	case s.snaps <- snaps:
	default:
		slog.Warn("audit buffer full, dropping usage snapshot", "entries", len(snaps))
	}
}

// Close stops the worker after draining queued records.
func (s *AuditSink) Close() {
	close(s.alerts)
	<-s.done
}

func (s *AuditSink) run() {
	defer close(s.done)
	for {
		select {
		case a, ok := <-s.alerts:
			if !ok {
				return
			}
			s.writeAlert(a)
		case snaps := <-s.snaps:
			s.writeSnapshots(snaps)
		}
	}
}

func (s *AuditSink) writeAlert(a Alert) {
	if s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	_, err := s.db.Exec(ctx, `
		INSERT INTO usage_alerts (alert_type, severity, provider, model, threshold, value, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, string(a.Type), string(a.Severity), a.Provider, a.Model, a.Threshold, a.Value, a.Message, a.At)
	if err != nil {
		// No retry: the next alert will tell the same story.
		slog.Warn("audit alert write failed", "error", err)
	}
}

func (s *AuditSink) writeSnapshots(snaps []Snapshot) {
	if s.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
	defer cancel()

	now := time.Now()
	for _, snap := range snaps {
		_, err := s.db.Exec(ctx, `
			INSERT INTO usage_snapshots (provider, model, request_count, success_count, error_count,
			                             total_tokens, total_cost_usd, daily_cost_usd, avg_latency_ms, captured_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, snap.Provider, snap.Model, snap.RequestCount, snap.SuccessCount, snap.ErrorCount,
			snap.TotalTokens, snap.TotalCostUSD, snap.DailyCostUSD, snap.AvgLatencyMs, now)
		if err != nil {
			slog.Warn("audit snapshot write failed", "error", err)
			return
		}
	}
}
