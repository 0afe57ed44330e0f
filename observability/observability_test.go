package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/hazyhaar/docforge/dbopen"
	_ "modernc.org/sqlite"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	return db
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"pipeline_events", "metrics_timeseries"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	// Idempotent.
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
}

func TestEventLogger_LogAndList(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	ctx := context.Background()

	id := el.LogEvent(ctx, PipelineEvent{
		Type:      EventDraftCompleted,
		DraftID:   "drf_1",
		SourceDoc: "abc",
		Degraded:  true,
		Reason:    "invalid body xml",
		Details:   map[string]any{"chunks": 3},
		Success:   true,
	})
	if id == "" {
		t.Fatal("LogEvent returned no id")
	}
	el.LogEvent(ctx, PipelineEvent{Type: EventDocumentIngested, SourceDoc: "abc", Success: true})

	events, err := el.Events(ctx, EventDraftCompleted, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	e := events[0]
	if e.ID != id || !e.Degraded || e.Reason != "invalid body xml" || e.DraftID != "drf_1" || !e.Success {
		t.Errorf("event = %+v", e)
	}
	if e.Details["chunks"] != float64(3) {
		t.Errorf("details = %v", e.Details)
	}

	all, _ := el.Events(ctx, "", 0)
	if len(all) != 2 {
		t.Errorf("all events = %d", len(all))
	}
}

func TestEventLogger_WithIDGenerator(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db, WithEventIDGenerator(func() string { return "evt_custom" }))
	if id := el.LogEvent(context.Background(), PipelineEvent{Type: EventRenderFallback}); id != "evt_custom" {
		t.Fatalf("id = %q", id)
	}
}

func TestEventLogger_WriteFailureIsSwallowed(t *testing.T) {
	db := setupObsDB(t)
	el := NewEventLogger(db)
	db.Close()
	if id := el.LogEvent(context.Background(), PipelineEvent{Type: EventDraftFailed}); id != "" {
		t.Fatalf("expected empty id on failed write, got %q", id)
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{FlushInterval: time.Hour})

	mm.Duration("serialize", 1500*time.Microsecond)
	mm.Record(&Metric{Name: MetricPackageBytes, Value: 4096, Unit: "bytes"})
	mm.Close()
	mm.Close()

	ms, err := mm.Query(context.Background(), MetricStageDurationMs, time.Time{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].Value != 1.5 || ms[0].Labels["stage"] != "serialize" || ms[0].Unit != "ms" {
		t.Fatalf("metrics = %+v", ms)
	}
	all, _ := mm.Query(context.Background(), "", time.Now().Add(-time.Minute), 10)
	if len(all) != 2 {
		t.Fatalf("all = %d", len(all))
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, MetricsConfig{BufferSize: 2, FlushInterval: time.Hour})
	defer mm.Close()

	mm.Record(&Metric{Name: MetricChunksIndexed, Value: 1})
	mm.Record(&Metric{Name: MetricChunksIndexed, Value: 2})

	var n int
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&n)
	if n != 2 {
		t.Fatalf("rows = %d, want 2 after buffer filled", n)
	}
}

func TestCleanup_Retention(t *testing.T) {
	db := setupObsDB(t)
	old := time.Now().Add(-40 * 24 * time.Hour).Unix()
	db.Exec("INSERT INTO pipeline_events (event_id, event_type, created_at) VALUES ('e1', 't', ?)", old)
	db.Exec("INSERT INTO pipeline_events (event_id, event_type) VALUES ('e2', 't')")
	db.Exec("INSERT INTO metrics_timeseries (metric_name, timestamp, value) VALUES ('m', ?, 1)", old)

	if err := Cleanup(context.Background(), db, RetentionConfig{EventDays: 30}); err != nil {
		t.Fatal(err)
	}

	var events, metrics int
	db.QueryRow("SELECT COUNT(*) FROM pipeline_events").Scan(&events)
	db.QueryRow("SELECT COUNT(*) FROM metrics_timeseries").Scan(&metrics)
	if events != 1 {
		t.Errorf("events = %d, want 1", events)
	}
	if metrics != 1 {
		t.Errorf("metrics with zero retention should stay, got %d", metrics)
	}
}
