// Package retrieval is the SQLite-backed reference store behind drafting:
// chunks with their vectors, per-document templates, and the searches that
// ground a draft on its sources.
//
// Search ranks by cosine similarity. It is exact (brute force over stored
// vectors) unless an ANN index is enabled, in which case the index proposes
// candidates and they are re-scored exactly. Queries without a vector fall
// back to FTS5 keyword search.
//
// Usage:
//
//	st, err := retrieval.Open(retrieval.Config{DBPath: "docforge.db"})
//	ids, err := st.IndexDocument(ctx, doc, chunks, vecs)
//	hits, err := st.Search(ctx, retrieval.Query{Vector: q, K: 5})
package retrieval

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/hazyhaar/docforge/dbopen"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/vecbridge"
)

// ErrNotFound is returned when a chunk, document or template does not exist.
var ErrNotFound = errors.New("retrieval: not found")

// Config configures the store.
type Config struct {
	// DBPath is the SQLite file. Ignored by OpenDB.
	DBPath string `json:"db_path" yaml:"db_path"`

	// ANN enables the horosvec candidate index.
	ANN bool `json:"ann" yaml:"ann"`

	// ANNCandidates is how many candidates per requested hit the index
	// proposes before exact re-scoring (default 8).
	ANNCandidates int `json:"ann_candidates" yaml:"ann_candidates"`

	// TemplateCacheSize bounds the in-memory template cache (default 128).
	TemplateCacheSize int `json:"template_cache_size" yaml:"template_cache_size"`

	// DefaultK is the number of hits when a query sets none (default 5).
	DefaultK int `json:"default_k" yaml:"default_k"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.ANNCandidates <= 0 {
		c.ANNCandidates = 8
	}
	if c.TemplateCacheSize <= 0 {
		c.TemplateCacheSize = 128
	}
	if c.DefaultK <= 0 {
		c.DefaultK = 5
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Store is safe for concurrent use.
type Store struct {
	db        *sql.DB
	ownsDB    bool
	cfg       Config
	logger    *slog.Logger
	ann       *vecbridge.Index
	templates *lru.Cache[string, *docpipe.DocumentTemplate]
}

// Open opens (or creates) the store database at cfg.DBPath.
func Open(cfg Config) (*Store, error) {
	db, err := dbopen.Open(cfg.DBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(Schema))
	if err != nil {
		return nil, fmt.Errorf("retrieval: open: %w", err)
	}
	s, err := newStore(db, cfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.ownsDB = true
	return s, nil
}

// OpenDB creates a store on an already open database, applying the schema.
// Close leaves db open.
func OpenDB(db *sql.DB, cfg Config) (*Store, error) {
	if _, err := db.Exec(Schema); err != nil {
		return nil, fmt.Errorf("retrieval: schema: %w", err)
	}
	return newStore(db, cfg)
}

func newStore(db *sql.DB, cfg Config) (*Store, error) {
	cfg.defaults()
	cache, err := lru.New[string, *docpipe.DocumentTemplate](cfg.TemplateCacheSize)
	if err != nil {
		return nil, fmt.Errorf("retrieval: template cache: %w", err)
	}
	s := &Store{db: db, cfg: cfg, logger: cfg.Logger, templates: cache}
	if cfg.ANN {
		s.ann, err = vecbridge.New(db, vecbridge.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// DB exposes the underlying handle, e.g. to share it with observability.
func (s *Store) DB() *sql.DB { return s.db }

// ANN returns the candidate index, or nil when disabled.
func (s *Store) ANN() *vecbridge.Index { return s.ann }

// Close releases the index and, for stores created by Open, the database.
func (s *Store) Close() error {
	var errs []error
	if s.ann != nil {
		errs = append(errs, s.ann.Close())
	}
	if s.ownsDB {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}
