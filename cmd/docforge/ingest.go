package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/hazyhaar/docforge/chunk"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/horosembed"
	"github.com/hazyhaar/docforge/kit"
	"github.com/hazyhaar/docforge/observability"
)

// ingestResult summarises one ingested source document.
type ingestResult struct {
	Fingerprint string   `json:"fingerprint"`
	Title       string   `json:"title"`
	Blocks      int      `json:"blocks"`
	Chunks      int      `json:"chunks"`
	ChunkIDs    []string `json:"chunk_ids"`
	BlobKey     string   `json:"blob_key"`
}

// ingestFile reads a .docx from disk and ingests it.
func (a *app) ingestFile(ctx context.Context, path string) (*ingestResult, error) {
	if _, err := a.pipe.Detect(path); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return a.ingestBytes(ctx, data)
}

// ingestKey ingests a package already in the blob store.
func (a *app) ingestKey(ctx context.Context, key string) (*ingestResult, error) {
	data, err := a.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	doc, err := a.extract(ctx, data)
	if err != nil {
		return nil, err
	}
	return a.index(ctx, doc, key)
}

// ingestBytes extracts the package, stores it under
// sources/<fingerprint>.docx, then chunks, embeds and indexes it.
func (a *app) ingestBytes(ctx context.Context, data []byte) (*ingestResult, error) {
	doc, err := a.extract(ctx, data)
	if err != nil {
		return nil, err
	}
	key, err := a.blobs.Put(ctx, data, "sources/"+doc.Fingerprint+".docx")
	if err != nil {
		return nil, fmt.Errorf("store source: %w", err)
	}
	return a.index(ctx, doc, key)
}

func (a *app) extract(ctx context.Context, data []byte) (*docpipe.Document, error) {
	start := time.Now()
	defer func() { a.metrics.Duration("extracting", time.Since(start)) }()
	return a.pipe.ExtractBytes(ctx, data)
}

func (a *app) index(ctx context.Context, doc *docpipe.Document, key string) (*ingestResult, error) {
	ctx = kit.WithSourceDoc(ctx, doc.Fingerprint)

	start := time.Now()
	chunks := chunk.Split(doc.Template, doc.Blocks, a.cfg.Chunk)
	a.metrics.Duration("chunking", time.Since(start))

	start = time.Now()
	vecs, err := horosembed.EmbedChunks(ctx, a.emb, chunks)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	a.metrics.Duration("embedding", time.Since(start))

	ids, err := a.store.IndexDocument(ctx, doc, chunks, vecs)
	if err != nil {
		return nil, err
	}

	a.metrics.Record(&observability.Metric{
		Name:   observability.MetricChunksIndexed,
		Value:  float64(len(ids)),
		Unit:   "count",
		Labels: map[string]string{"source_doc": doc.Fingerprint},
	})
	a.events.LogEvent(ctx, observability.PipelineEvent{
		Type:      observability.EventDocumentIngested,
		SourceDoc: doc.Fingerprint,
		Success:   true,
		Details: map[string]any{
			"title":    doc.Title,
			"blocks":   len(doc.Blocks),
			"chunks":   len(ids),
			"blob_key": key,
		},
	})
	a.logger.Info("docforge: ingested", "source_doc", doc.Fingerprint, "title", doc.Title,
		"blocks", len(doc.Blocks), "chunks", len(ids))

	return &ingestResult{
		Fingerprint: doc.Fingerprint,
		Title:       doc.Title,
		Blocks:      len(doc.Blocks),
		Chunks:      len(ids),
		ChunkIDs:    ids,
		BlobKey:     key,
	}, nil
}

// handleIngest is the docforge_ingest connectivity service. It takes either
// inline package bytes or a blob key.
func (a *app) handleIngest(ctx context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Data []byte `json:"data,omitempty"`
		Key  string `json:"key,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var (
		res *ingestResult
		err error
	)
	switch {
	case len(req.Data) > 0:
		res, err = a.ingestBytes(ctx, req.Data)
	case req.Key != "":
		res, err = a.ingestKey(ctx, req.Key)
	default:
		return nil, fmt.Errorf("data or key is required")
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}
