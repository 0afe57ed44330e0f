// Package vecbridge puts a horosvec (Vamana + RaBitQ) approximate
// nearest-neighbour index in front of the retrieval store's chunk vectors.
//
// The index shares the retrieval database. It is keyed by chunk id and only
// proposes candidates: callers re-score candidates exactly against the stored
// vectors, so the index's own score scale never leaks out.
//
// Usage:
//
//	idx, err := vecbridge.New(db, vecbridge.Config{})
//	err = idx.Add(ctx, ids, vecs)
//	hits, err := idx.Search(query, 50)
package vecbridge

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/horosvec"
)

// Config configures the index.
type Config struct {
	// Horosvec is the engine configuration. Zero value uses horosvec.DefaultConfig().
	Horosvec *horosvec.Config `json:"horosvec,omitempty" yaml:"horosvec,omitempty"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.Horosvec == nil {
		d := horosvec.DefaultConfig()
		c.Horosvec = &d
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Hit is one ANN candidate.
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Source lists every (chunk id, vector) pair for a full rebuild.
type Source interface {
	Vectors(ctx context.Context) (ids []string, vecs [][]float32, err error)
}

// Index is safe for concurrent use. Writes are serialized; searches share a
// read lock.
type Index struct {
	idx    *horosvec.Index
	logger *slog.Logger
	mu     sync.RWMutex
}

// New creates or loads an index stored in db.
func New(db *sql.DB, cfg Config) (*Index, error) {
	cfg.defaults()
	idx, err := horosvec.New(db, *cfg.Horosvec)
	if err != nil {
		return nil, fmt.Errorf("vecbridge: open index: %w", err)
	}
	return &Index{idx: idx, logger: cfg.Logger}, nil
}

// Add indexes vectors under their chunk ids. The first call on an empty
// index builds the graph from the given batch; later calls insert.
func (x *Index) Add(ctx context.Context, ids []string, vecs [][]float32) error {
	if len(ids) != len(vecs) {
		return fmt.Errorf("vecbridge: %d ids for %d vectors", len(ids), len(vecs))
	}
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()

	if x.idx.Count() == 0 {
		if err := x.idx.Build(ctx, newSliceIter(ids, vecs)); err != nil {
			return fmt.Errorf("vecbridge: build: %w", err)
		}
		return nil
	}
	raw := make([][]byte, len(ids))
	for i, id := range ids {
		raw[i] = []byte(id)
	}
	if err := x.idx.Insert(vecs, raw); err != nil {
		return fmt.Errorf("vecbridge: insert: %w", err)
	}
	if x.idx.NeedsRebuild() {
		x.logger.Info("vecbridge: index degraded by inserts, rebuild recommended", "count", x.idx.Count())
	}
	return nil
}

// Rebuild reconstructs the graph from src.
func (x *Index) Rebuild(ctx context.Context, src Source) error {
	ids, vecs, err := src.Vectors(ctx)
	if err != nil {
		return fmt.Errorf("vecbridge: load vectors: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.idx.Build(ctx, newSliceIter(ids, vecs)); err != nil {
		return fmt.Errorf("vecbridge: rebuild: %w", err)
	}
	x.logger.Info("vecbridge: index rebuilt", "count", len(ids))
	return nil
}

// Search returns up to k candidates. An empty index returns no hits.
func (x *Index) Search(vec []float32, k int) ([]Hit, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.idx.Count() == 0 || k <= 0 {
		return nil, nil
	}
	results, err := x.idx.Search(vec, k)
	if err != nil {
		return nil, fmt.Errorf("vecbridge: search: %w", err)
	}
	hits := make([]Hit, len(results))
	for i, r := range results {
		hits[i] = Hit{ChunkID: string(r.ID), Score: float64(r.Score)}
	}
	return hits, nil
}

// Stats reports the index size and whether inserts have degraded it.
type Stats struct {
	Count        int  `json:"count"`
	NeedsRebuild bool `json:"needs_rebuild"`
}

func (x *Index) Stats() Stats {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return Stats{Count: x.idx.Count(), NeedsRebuild: x.idx.NeedsRebuild()}
}

// Close releases the index. The database stays open.
func (x *Index) Close() error {
	return x.idx.Close()
}

// sliceIter implements horosvec.VectorIterator over parallel slices.
type sliceIter struct {
	ids  []string
	vecs [][]float32
	pos  int
}

func newSliceIter(ids []string, vecs [][]float32) *sliceIter {
	return &sliceIter{ids: ids, vecs: vecs}
}

func (s *sliceIter) Next() ([]byte, []float32, bool) {
	if s.pos >= len(s.vecs) {
		return nil, nil, false
	}
	id, vec := s.ids[s.pos], s.vecs[s.pos]
	s.pos++
	return []byte(id), vec, true
}

func (s *sliceIter) Reset() error {
	s.pos = 0
	return nil
}
