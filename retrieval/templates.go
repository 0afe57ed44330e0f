package retrieval

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/docforge/docpipe"
)

// PutTemplate stores a template under a document fingerprint.
func (s *Store) PutTemplate(ctx context.Context, fingerprint string, tpl *docpipe.DocumentTemplate) error {
	if tpl == nil {
		return fmt.Errorf("retrieval: nil template")
	}
	b, err := json.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("retrieval: encode template: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO templates (fingerprint, template, updated_at) VALUES (?,?,?)
		ON CONFLICT(fingerprint) DO UPDATE SET template = excluded.template, updated_at = excluded.updated_at`,
		fingerprint, string(b), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("retrieval: put template: %w", err)
	}
	s.templates.Remove(fingerprint)
	return nil
}

// Template returns the template stored for a fingerprint. Results are cached;
// callers must not modify the returned value.
func (s *Store) Template(ctx context.Context, fingerprint string) (*docpipe.DocumentTemplate, error) {
	if tpl, ok := s.templates.Get(fingerprint); ok {
		return tpl, nil
	}
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT template FROM templates WHERE fingerprint = ?`, fingerprint).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("template %s: %w", fingerprint, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval: get template: %w", err)
	}
	var tpl docpipe.DocumentTemplate
	if err := json.Unmarshal([]byte(raw), &tpl); err != nil {
		return nil, fmt.Errorf("retrieval: decode template: %w", err)
	}
	s.templates.Add(fingerprint, &tpl)
	return &tpl, nil
}
