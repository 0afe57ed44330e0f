package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/hazyhaar/docforge/horosembed"
)

// Query selects chunks. Vector takes precedence over Text.
type Query struct {
	Vector    []float32 `json:"vector,omitempty"`
	Text      string    `json:"text,omitempty"`
	K         int       `json:"k,omitempty"`
	SourceDoc string    `json:"source_doc,omitempty"` // restrict to one document
}

// Hit is a ranked chunk. Score is cosine similarity for vector queries and
// the negated BM25 rank for keyword queries; higher is better in both.
type Hit struct {
	Record
	Score float64 `json:"score"`
}

// Search returns up to K hits, best first. Ties keep document order.
func (s *Store) Search(ctx context.Context, q Query) ([]Hit, error) {
	if q.K <= 0 {
		q.K = s.cfg.DefaultK
	}
	var (
		hits []Hit
		err  error
	)
	switch {
	case len(q.Vector) > 0:
		hits, err = s.searchVector(ctx, q)
	case strings.TrimSpace(q.Text) != "":
		hits, err = s.searchText(ctx, q)
	default:
		return nil, fmt.Errorf("retrieval: query needs a vector or text")
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: search: %w", err)
	}
	return hits, nil
}

func (s *Store) searchVector(ctx context.Context, q Query) ([]Hit, error) {
	if s.ann != nil && q.SourceDoc == "" {
		hits, err := s.searchANN(ctx, q)
		if err != nil {
			return nil, err
		}
		if len(hits) > 0 {
			return hits, nil
		}
	}

	query := `SELECT ` + recordColumns + `, vector, norm FROM chunks WHERE vector IS NOT NULL`
	var args []any
	if q.SourceDoc != "" {
		query += ` AND doc_fp = ?`
		args = append(args, q.SourceDoc)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	qNorm := horosembed.Norm(q.Vector)
	var hits []Hit
	for rows.Next() {
		var blob []byte
		var norm float64
		r, err := scanRecord(rows, &blob, &norm)
		if err != nil {
			return nil, err
		}
		score := horosembed.CosineWithNorms(q.Vector, horosembed.DeserializeVector(blob), qNorm, norm)
		hits = append(hits, Hit{Record: r, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return topK(hits, q.K), nil
}

// searchANN asks the index for candidates and re-scores them exactly.
// Candidates whose rows were replaced since they were indexed are skipped.
func (s *Store) searchANN(ctx context.Context, q Query) ([]Hit, error) {
	cands, err := s.ann.Search(q.Vector, q.K*s.cfg.ANNCandidates)
	if err != nil {
		return nil, err
	}
	qNorm := horosembed.Norm(q.Vector)
	hits := make([]Hit, 0, len(cands))
	for _, c := range cands {
		row := s.db.QueryRowContext(ctx,
			`SELECT `+recordColumns+`, vector, norm FROM chunks WHERE id = ? AND vector IS NOT NULL`, c.ChunkID)
		var blob []byte
		var norm float64
		r, err := scanRecord(row, &blob, &norm)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				continue
			}
			return nil, err
		}
		score := horosembed.CosineWithNorms(q.Vector, horosembed.DeserializeVector(blob), qNorm, norm)
		hits = append(hits, Hit{Record: r, Score: score})
	}
	return topK(hits, q.K), nil
}

func (s *Store) searchText(ctx context.Context, q Query) ([]Hit, error) {
	match := ftsQuery(q.Text)
	if match == "" {
		return nil, nil
	}
	query := `SELECT ` + joinedColumns + `, bm25(chunks_fts)
		FROM chunks_fts
		JOIN chunks c ON c.rowid = chunks_fts.rowid
		WHERE chunks_fts MATCH ?`
	args := []any{match}
	if q.SourceDoc != "" {
		query += ` AND c.doc_fp = ?`
		args = append(args, q.SourceDoc)
	}
	query += ` ORDER BY bm25(chunks_fts), c.doc_fp, c.chunk_index LIMIT ?`
	args = append(args, q.K)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var rank float64
		r, err := scanRecord(rows, &rank)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Record: r, Score: -rank})
	}
	return hits, rows.Err()
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms, so user
// input never reaches the FTS5 query grammar.
func ftsQuery(text string) string {
	terms := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(terms))
	var quoted []string
	for _, t := range terms {
		t = strings.ToLower(t)
		if seen[t] {
			continue
		}
		seen[t] = true
		quoted = append(quoted, `"`+t+`"`)
	}
	return strings.Join(quoted, " OR ")
}

func topK(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].SourceDoc != hits[j].SourceDoc {
			return hits[i].SourceDoc < hits[j].SourceDoc
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}
