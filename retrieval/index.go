package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/docforge/chunk"
	"github.com/hazyhaar/docforge/dbopen"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/horosembed"
	"github.com/hazyhaar/docforge/idgen"
)

// Record is a stored chunk.
type Record struct {
	ID        string      `json:"id"`
	SourceDoc string      `json:"source_doc"`
	Chunk     chunk.Chunk `json:"chunk"`
}

// DocumentInfo summarises an indexed document.
type DocumentInfo struct {
	Fingerprint string    `json:"fingerprint"`
	Path        string    `json:"path,omitempty"`
	Title       string    `json:"title"`
	BlockCount  int       `json:"block_count"`
	ChunkCount  int       `json:"chunk_count"`
	IndexedAt   time.Time `json:"indexed_at"`
}

// IndexDocument stores a document's chunks with their vectors and its
// template, replacing anything previously indexed under the same
// fingerprint. vecs may be nil (keyword search only) or must match chunks
// one to one. It returns the new chunk ids in chunk order.
func (s *Store) IndexDocument(ctx context.Context, doc *docpipe.Document, chunks []chunk.Chunk, vecs [][]float32) ([]string, error) {
	if doc == nil || doc.Fingerprint == "" {
		return nil, fmt.Errorf("retrieval: document fingerprint is required")
	}
	if vecs != nil && len(vecs) != len(chunks) {
		return nil, fmt.Errorf("retrieval: %d vectors for %d chunks", len(vecs), len(chunks))
	}

	ids := make([]string, len(chunks))
	for i := range ids {
		ids[i] = idgen.Chunk()
	}

	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_fp = ?`, doc.Fingerprint); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO documents (fingerprint, path, title, block_count, chunk_count, indexed_at)
			VALUES (?,?,?,?,?,?)
			ON CONFLICT(fingerprint) DO UPDATE SET
				path = excluded.path, title = excluded.title, block_count = excluded.block_count,
				chunk_count = excluded.chunk_count, indexed_at = excluded.indexed_at`,
			doc.Fingerprint, doc.Path, doc.Title, len(doc.Blocks), len(chunks), time.Now().UnixMilli()); err != nil {
			return err
		}

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO chunks (id, doc_fp, chunk_index, source_page, html, raw_text, word_count,
			                    overlap_prev, merged_style, vector, norm)
			VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i, c := range chunks {
			style, err := json.Marshal(c.MergedStyle)
			if err != nil {
				return err
			}
			var blob []byte
			var norm float64
			if vecs != nil {
				blob = horosembed.SerializeVector(vecs[i])
				norm = horosembed.Norm(vecs[i])
			}
			if _, err := stmt.ExecContext(ctx, ids[i], doc.Fingerprint, c.Index, c.SourcePage, c.HTML,
				c.RawText, c.WordCount, c.OverlapPrev, string(style), blob, norm); err != nil {
				return err
			}
		}

		tpl, err := json.Marshal(doc.Template)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO templates (fingerprint, template, updated_at) VALUES (?,?,?)
			ON CONFLICT(fingerprint) DO UPDATE SET template = excluded.template, updated_at = excluded.updated_at`,
			doc.Fingerprint, string(tpl), time.Now().UnixMilli())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("retrieval: index %s: %w", doc.Fingerprint, err)
	}
	s.templates.Remove(doc.Fingerprint)

	if s.ann != nil && vecs != nil {
		if err := s.ann.Add(ctx, ids, vecs); err != nil {
			// Rows are committed; exact search still sees them.
			s.logger.Warn("retrieval: ann add failed", "doc", doc.Fingerprint, "error", err)
		}
	}
	s.logger.Debug("retrieval: indexed document", "doc", doc.Fingerprint, "chunks", len(chunks))
	return ids, nil
}

const recordColumns = `id, doc_fp, chunk_index, source_page, html, raw_text, word_count, overlap_prev, merged_style`

// joinedColumns is recordColumns qualified for queries joining chunks as c.
const joinedColumns = `c.id, c.doc_fp, c.chunk_index, c.source_page, c.html, c.raw_text, c.word_count, c.overlap_prev, c.merged_style`

func scanRecord(sc interface{ Scan(...any) error }, extra ...any) (Record, error) {
	var r Record
	var style string
	dest := append([]any{&r.ID, &r.SourceDoc, &r.Chunk.Index, &r.Chunk.SourcePage, &r.Chunk.HTML,
		&r.Chunk.RawText, &r.Chunk.WordCount, &r.Chunk.OverlapPrev, &style}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return r, err
	}
	if err := json.Unmarshal([]byte(style), &r.Chunk.MergedStyle); err != nil {
		return r, fmt.Errorf("decode style of %s: %w", r.ID, err)
	}
	return r, nil
}

// Chunk returns one stored chunk.
func (s *Store) Chunk(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM chunks WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return r, fmt.Errorf("chunk %s: %w", id, ErrNotFound)
	}
	return r, err
}

// Chunks returns a document's chunks in order.
func (s *Store) Chunks(ctx context.Context, fingerprint string) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM chunks WHERE doc_fp = ? ORDER BY chunk_index`, fingerprint)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Document returns the summary of an indexed document.
func (s *Store) Document(ctx context.Context, fingerprint string) (DocumentInfo, error) {
	var d DocumentInfo
	var ts int64
	err := s.db.QueryRowContext(ctx, `
		SELECT fingerprint, path, title, block_count, chunk_count, indexed_at
		FROM documents WHERE fingerprint = ?`, fingerprint).
		Scan(&d.Fingerprint, &d.Path, &d.Title, &d.BlockCount, &d.ChunkCount, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return d, fmt.Errorf("document %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return d, err
	}
	d.IndexedAt = time.UnixMilli(ts)
	return d, nil
}

// DeleteDocument removes a document, its chunks and its template.
func (s *Store) DeleteDocument(ctx context.Context, fingerprint string) error {
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE doc_fp = ?`, fingerprint); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM templates WHERE fingerprint = ?`, fingerprint); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE fingerprint = ?`, fingerprint)
		return err
	})
	s.templates.Remove(fingerprint)
	return err
}

// Vectors lists every stored (chunk id, vector) pair. It satisfies
// vecbridge.Source for index rebuilds.
func (s *Store) Vectors(ctx context.Context) ([]string, [][]float32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, vector FROM chunks WHERE vector IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var ids []string
	var vecs [][]float32
	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, nil, err
		}
		ids = append(ids, id)
		vecs = append(vecs, horosembed.DeserializeVector(blob))
	}
	return ids, vecs, rows.Err()
}
