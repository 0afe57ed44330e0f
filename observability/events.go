package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/docforge/idgen"
)

// Event types written by the pipeline.
const (
	EventDocumentIngested = "document_ingested"
	EventDraftCompleted   = "draft_completed"
	EventDraftFailed      = "draft_failed"
	EventRenderFallback   = "render_fallback"
)

// PipelineEvent is one domain-level record: an ingested document, a finished
// or failed draft, a serializer fallback.
type PipelineEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	DraftID   string         `json:"draft_id,omitempty"`
	SourceDoc string         `json:"source_doc,omitempty"`
	Degraded  bool           `json:"degraded"`
	Reason    string         `json:"reason,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Success   bool           `json:"success"`
	CreatedAt time.Time      `json:"created_at"`
}

// EventLogger writes pipeline events. Write failures are logged and
// swallowed: a broken observability store never fails a draft.
type EventLogger struct {
	db     *sql.DB
	newID  idgen.Generator
	logger *slog.Logger
}

// EventLoggerOption configures an EventLogger.
type EventLoggerOption func(*EventLogger)

// WithEventIDGenerator sets the generator used for event ids.
func WithEventIDGenerator(gen idgen.Generator) EventLoggerOption {
	return func(l *EventLogger) { l.newID = gen }
}

// WithEventLogger sets the slog logger used to report write failures.
func WithEventLogger(logger *slog.Logger) EventLoggerOption {
	return func(l *EventLogger) { l.logger = logger }
}

// NewEventLogger creates an event logger on a database initialised with Init.
func NewEventLogger(db *sql.DB, opts ...EventLoggerOption) *EventLogger {
	l := &EventLogger{
		db:     db,
		newID:  idgen.Event,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogEvent records e and returns its id, or "" when the write failed.
func (l *EventLogger) LogEvent(ctx context.Context, e PipelineEvent) string {
	id := l.newID()
	var details sql.NullString
	if len(e.Details) > 0 {
		if b, err := json.Marshal(e.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO pipeline_events (
			event_id, event_type, draft_id, source_doc, degraded, reason, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		id, e.Type, e.DraftID, e.SourceDoc, e.Degraded, e.Reason, details, e.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability: event log failed", "error", err, "event_type", e.Type)
		return ""
	}
	return id
}

// Events returns the most recent events of the given type, newest first.
// An empty eventType matches every type.
func (l *EventLogger) Events(ctx context.Context, eventType string, limit int) ([]PipelineEvent, error) {
	q := `SELECT event_id, event_type, COALESCE(draft_id, ''), COALESCE(source_doc, ''),
		degraded, COALESCE(reason, ''), details, success, created_at
		FROM pipeline_events`
	var args []any
	if eventType != "" {
		q += " WHERE event_type = ?"
		args = append(args, eventType)
	}
	q += " ORDER BY created_at DESC, event_id DESC"
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []PipelineEvent
	for rows.Next() {
		var e PipelineEvent
		var details sql.NullString
		var ts int64
		if err := rows.Scan(&e.ID, &e.Type, &e.DraftID, &e.SourceDoc, &e.Degraded, &e.Reason, &details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if details.Valid {
			json.Unmarshal([]byte(details.String), &e.Details)
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig sets per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	EventDays  int `json:"event_days" yaml:"event_days"`
	MetricDays int `json:"metric_days" yaml:"metric_days"`
}

// Cleanup deletes rows older than the retention thresholds.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM pipeline_events WHERE created_at < ?", cfg.EventDays},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		if _, err := db.ExecContext(ctx, t.query, now-int64(t.days*86400)); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	return nil
}
