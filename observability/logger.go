package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/partyhost/idgen"
)

// Event types written by the host.
const (
	EventCommand  = "command"
	EventRecovery = "recovery"
	EventBackend  = "backend"
	EventAdmin    = "admin"
)

// Event is one business event: a dispatched command, a recovery action,
// a backend recycle or an operator request.
type Event struct {
	Type      string
	Component string
	Subject   string // command name, anomaly key, ...
	Actor     string // originator or "operator"
	Action    string
	Details   map[string]any
	Success   bool
}

// EventLogger writes events to business_event_logs.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator replaces the evt_ UUIDv7 generator.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventSlog sets the logger used to report write failures.
func WithEventSlog(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates an EventLogger on an observability database.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Prefixed("evt_", idgen.Default),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Log records ev. Write failures are logged and swallowed: a broken
// observability store must never stall the host loop. A nil logger is a
// no-op.
func (l *EventLogger) Log(ctx context.Context, ev Event) {
	if l == nil {
		return
	}
	var details sql.NullString
	if len(ev.Details) > 0 {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, component, subject, actor, action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), ev.Type, ev.Component, ev.Subject, ev.Actor, ev.Action, details, ev.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", ev.Type)
	}
}

// RecentEvents returns the latest events of one type, newest first. An
// empty eventType returns all types.
func (l *EventLogger) RecentEvents(ctx context.Context, eventType string, limit int) ([]Event, error) {
	q := `SELECT event_type, component, COALESCE(subject,''), COALESCE(actor,''), action,
	             COALESCE(details,''), success
	      FROM business_event_logs`
	var args []any
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, rowid DESC LIMIT ?"
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("observability: query events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var details string
		if err := rows.Scan(&ev.Type, &ev.Component, &ev.Subject, &ev.Actor, &ev.Action, &details, &ev.Success); err != nil {
			return nil, fmt.Errorf("observability: scan event: %w", err)
		}
		if details != "" {
			_ = json.Unmarshal([]byte(details), &ev.Details)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// RetentionConfig gives per-table retention in days. Zero keeps rows forever.
type RetentionConfig struct {
	EventDays     int
	HeartbeatDays int
	MetricDays    int
}

// Cleanup deletes rows older than the configured retention.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventDays},
		{"DELETE FROM worker_heartbeats WHERE timestamp < ?", cfg.HeartbeatDays},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, t.query, now-int64(t.days*86400)); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}
	return nil
}
