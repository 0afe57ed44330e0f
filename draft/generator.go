package draft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/docforge/horosafe"
)

// ErrExternalService wraps failures of the generative model or the retrieval
// store. It is the only error a drafting call surfaces once the prompt has
// been accepted; sanitizer and serializer problems are absorbed.
var ErrExternalService = errors.New("draft: external service failure")

// Request is what the generative model receives.
type Request struct {
	SystemInstructions string `json:"system_instructions"`
	UserPrompt         string `json:"user_prompt"`
}

// Response is the model's answer. Markup may be anything, well-formed or not.
type Response struct {
	Markup string `json:"markup"`
}

// Generator is a generative model. Implementations do not retry.
type Generator interface {
	Generate(ctx context.Context, req Request) (Response, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (Response, error)

// Generate implements Generator.
func (f GeneratorFunc) Generate(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// HTTPConfig configures an HTTPGenerator.
type HTTPConfig struct {
	// Endpoint receives a JSON Request and answers a JSON Response.
	Endpoint string `json:"endpoint" yaml:"endpoint"`

	// APIKey is sent as a bearer token when set.
	APIKey string `json:"-" yaml:"api_key"`

	// Timeout per call (default: 120s).
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *HTTPConfig) defaults() {
	if c.Timeout <= 0 {
		c.Timeout = 120 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// HTTPGenerator posts requests to a remote generation service.
type HTTPGenerator struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPGenerator validates the endpoint and returns a generator for it.
func NewHTTPGenerator(cfg HTTPConfig) (*HTTPGenerator, error) {
	cfg.defaults()
	if err := horosafe.ValidateURLSyntax(cfg.Endpoint); err != nil {
		return nil, fmt.Errorf("draft: generator endpoint: %w", err)
	}
	return &HTTPGenerator{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Generate implements Generator.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("generate: %w", err)
	}
	defer resp.Body.Close()

	data, err := horosafe.LimitedReadAll(resp.Body, 8<<20)
	if err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("generate: HTTP %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	var out Response
	if err := json.Unmarshal(data, &out); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	g.cfg.Logger.Debug("draft: generated", "endpoint", g.cfg.Endpoint, "bytes", len(out.Markup), "ms", time.Since(start).Milliseconds())
	return out, nil
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
