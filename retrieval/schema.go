package retrieval

// Schema is the DDL for the retrieval store.
const Schema = `
CREATE TABLE IF NOT EXISTS documents (
    fingerprint  TEXT PRIMARY KEY,
    path         TEXT NOT NULL DEFAULT '',
    title        TEXT NOT NULL DEFAULT '',
    block_count  INTEGER NOT NULL,
    chunk_count  INTEGER NOT NULL,
    indexed_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
    id            TEXT PRIMARY KEY,
    doc_fp        TEXT NOT NULL,
    chunk_index   INTEGER NOT NULL,
    source_page   INTEGER NOT NULL,
    html          TEXT NOT NULL,
    raw_text      TEXT NOT NULL,
    word_count    INTEGER NOT NULL,
    overlap_prev  INTEGER NOT NULL DEFAULT 0,
    merged_style  TEXT NOT NULL DEFAULT '{}',
    vector        BLOB,
    norm          REAL NOT NULL DEFAULT 0,
    FOREIGN KEY (doc_fp) REFERENCES documents(fingerprint) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_chunks_doc ON chunks(doc_fp, chunk_index);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
    raw_text,
    content='chunks',
    content_rowid='rowid',
    tokenize='unicode61 remove_diacritics 2'
);
CREATE TRIGGER IF NOT EXISTS chunks_ai AFTER INSERT ON chunks BEGIN
    INSERT INTO chunks_fts(rowid, raw_text) VALUES (new.rowid, new.raw_text);
END;
CREATE TRIGGER IF NOT EXISTS chunks_ad AFTER DELETE ON chunks BEGIN
    INSERT INTO chunks_fts(chunks_fts, rowid, raw_text) VALUES ('delete', old.rowid, old.raw_text);
END;

CREATE TABLE IF NOT EXISTS templates (
    fingerprint  TEXT PRIMARY KEY,
    template     TEXT NOT NULL,
    updated_at   INTEGER NOT NULL
);
`
