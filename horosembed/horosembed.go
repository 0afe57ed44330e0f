// Package horosembed turns chunk text into vectors for retrieval.
//
// Two embedders are provided: a client for any OpenAI-compatible
// /v1/embeddings server (vLLM, Ollama, OpenAI) and a local feature-hashing
// embedder used when no endpoint is configured. The local one needs no
// network and is deterministic, so ingest and retrieval work offline and in
// tests; its vectors only capture shared vocabulary.
//
// Usage:
//
//	emb := horosembed.New(horosembed.Config{Endpoint: "http://localhost:8003", Model: "multilingual-e5-large"})
//	vecs, err := horosembed.EmbedChunks(ctx, emb, chunks)
package horosembed

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hazyhaar/docforge/chunk"
)

// Embedder converts text to vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per text, in input order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector dimension, or 0 before the first call
	// when it is auto-detected.
	Dimension() int

	// Model returns the model name.
	Model() string
}

// Config configures the embedder.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty selects the
	// local hashing embedder.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"-" yaml:"api_key"`

	// Model is the model name sent in the request.
	Model string `json:"model" yaml:"model"`

	// Dimension is the expected vector dimension. 0 means auto-detect for the
	// remote client and 256 for the local embedder.
	Dimension int `json:"dimension" yaml:"dimension"`

	// BatchSize is the maximum number of texts per HTTP request. Default: 32.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

const defaultLocalDimension = 256

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New creates an Embedder from config.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		dim := cfg.Dimension
		if dim <= 0 {
			dim = defaultLocalDimension
		}
		model := cfg.Model
		if model == "" {
			model = "local-hash"
		}
		return &hashEmbedder{dim: dim, model: model}
	}
	return newOpenAIClient(cfg)
}

// EmbedChunks embeds the raw text of each chunk in one batch call.
func EmbedChunks(ctx context.Context, emb Embedder, chunks []chunk.Chunk) ([][]float32, error) {
	if len(chunks) == 0 {
		return nil, nil
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.RawText
	}
	vecs, err := emb.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, fmt.Errorf("embed chunks: got %d vectors for %d chunks", len(vecs), len(chunks))
	}
	return vecs, nil
}

// hashEmbedder maps lowercased word tokens into dim buckets with a signed
// FNV hash and L2-normalises the counts.
type hashEmbedder struct {
	dim   int
	model string
}

func (h *hashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float32, h.dim)
	for _, tok := range tokens(text) {
		f := fnv.New64a()
		f.Write([]byte(tok))
		sum := f.Sum64()
		idx := int(sum % uint64(h.dim))
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	return Normalize(vec), nil
}

func (h *hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := h.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (h *hashEmbedder) Dimension() int { return h.dim }
func (h *hashEmbedder) Model() string  { return h.model }

func tokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
