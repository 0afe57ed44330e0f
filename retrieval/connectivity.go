package retrieval

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/docforge/connectivity"
	"github.com/hazyhaar/docforge/horosembed"
)

// RegisterConnectivity registers retrieval handlers on a connectivity Router.
// emb embeds text queries; it may be nil for keyword-only search.
//
// Registered services:
//
//	retrieval_search   — ranked chunks for a vector or text query
//	retrieval_document — summary of an indexed document
func (s *Store) RegisterConnectivity(router *connectivity.Router, emb horosembed.Embedder) {
	router.RegisterLocal("retrieval_search", func(ctx context.Context, payload []byte) ([]byte, error) {
		var q Query
		if err := json.Unmarshal(payload, &q); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		if len(q.Vector) == 0 && emb != nil && q.Text != "" {
			vec, err := emb.Embed(ctx, q.Text)
			if err != nil {
				return nil, fmt.Errorf("embed query: %w", err)
			}
			if horosembed.Norm(vec) > 0 {
				q.Vector = vec
			}
		}
		hits, err := s.Search(ctx, q)
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]any{"hits": hits, "count": len(hits)})
	})

	router.RegisterLocal("retrieval_document", func(ctx context.Context, payload []byte) ([]byte, error) {
		var req struct {
			Fingerprint string `json:"fingerprint"`
		}
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		info, err := s.Document(ctx, req.Fingerprint)
		if err != nil {
			return nil, err
		}
		return json.Marshal(info)
	})
}
