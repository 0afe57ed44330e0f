package observability

import "database/sql"

// Schema holds the DDL for pipeline events and stage metrics. It is kept in
// its own database, or at least its own tables, so observability writes never
// contend with retrieval writes.
const Schema = `
CREATE TABLE IF NOT EXISTS pipeline_events (
    event_id    TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    draft_id    TEXT,
    source_doc  TEXT,
    degraded    INTEGER NOT NULL DEFAULT 0,
    reason      TEXT,
    details     TEXT,
    success     INTEGER NOT NULL DEFAULT 1,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_type ON pipeline_events(event_type, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_pipeline_events_draft ON pipeline_events(draft_id);

CREATE TABLE IF NOT EXISTS metrics_timeseries (
    metric_id   TEXT PRIMARY KEY DEFAULT ('met_' || hex(randomblob(16))),
    metric_name TEXT NOT NULL,
    timestamp   INTEGER NOT NULL,
    value       REAL NOT NULL,
    labels      TEXT,
    unit        TEXT,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_metrics_name_time
    ON metrics_timeseries(metric_name, timestamp DESC);
`

// Init applies the observability schema to the given database.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
