package retrieval

import (
	"context"
	"fmt"

	"github.com/hazyhaar/docforge/chunk"
	"github.com/hazyhaar/docforge/horosembed"
)

// Retriever answers drafting queries: it embeds the prompt and returns the
// best chunks. Without an embedder it falls back to keyword search.
type Retriever struct {
	store *Store
	emb   horosembed.Embedder
}

// NewRetriever pairs a store with the embedder used at ingest. emb may be nil.
func NewRetriever(store *Store, emb horosembed.Embedder) *Retriever {
	return &Retriever{store: store, emb: emb}
}

// Retrieve returns up to k chunks relevant to prompt, optionally limited to
// one source document.
func (r *Retriever) Retrieve(ctx context.Context, prompt, sourceDoc string, k int) ([]chunk.Chunk, error) {
	q := Query{Text: prompt, K: k, SourceDoc: sourceDoc}
	if r.emb != nil {
		vec, err := r.emb.Embed(ctx, prompt)
		if err != nil {
			return nil, fmt.Errorf("retrieval: embed prompt: %w", err)
		}
		if horosembed.Norm(vec) > 0 {
			q.Vector = vec
		}
	}
	hits, err := r.store.Search(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Chunk, len(hits))
	for i, h := range hits {
		out[i] = h.Chunk
	}
	return out, nil
}
