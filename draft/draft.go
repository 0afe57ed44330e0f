// Package draft produces new .docx documents from a prompt.
//
// A drafting request retrieves reference chunks, builds a prompt with the
// chunks as Markdown context, calls a generative model once, and hands the
// answer to the Orchestrator:
//
//	Generating → Sanitizing → Serializing → Validating → Done
//	                                           ↓
//	                 Degrading → Serializing → Validating → Done
//
// Once the model has answered, a package is always produced. Generator and
// retrieval failures are returned wrapped in ErrExternalService; the model is
// never re-invoked.
//
// Usage:
//
//	gen, _ := draft.NewGeminiGenerator(ctx, draft.GeminiConfig{})
//	svc := draft.New(gen, draft.Config{}, draft.WithRetriever(retrieval.NewRetriever(store, emb)))
//	d, err := svc.Draft(ctx, draft.DraftRequest{Prompt: "Write the summary section", SourceDoc: fp})
package draft

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/docforge/blobstore"
	"github.com/hazyhaar/docforge/chunk"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/idgen"
	"github.com/hazyhaar/docforge/kit"
	"github.com/hazyhaar/docforge/observability"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/sanitize"
)

// ErrEmptyPrompt is returned for a request without a prompt.
var ErrEmptyPrompt = errors.New("draft: empty prompt")

// Config configures a drafting Service.
type Config struct {
	// K is the number of chunks retrieved when a request does not say (default: 5).
	K int `json:"k" yaml:"k"`

	// SystemInstructions sent with every request (default: DefaultSystemInstructions).
	SystemInstructions string `json:"system_instructions" yaml:"system_instructions"`

	// MaxContextChars caps the reference excerpts in the prompt (default: 24000).
	MaxContextChars int `json:"max_context_chars" yaml:"max_context_chars"`

	// MinPackageSize is the Validating threshold (default: render.DefaultMinPackageSize).
	MinPackageSize int `json:"min_package_size" yaml:"min_package_size"`

	// BlobPrefix is the key prefix for persisted packages (default: "drafts/").
	BlobPrefix string `json:"blob_prefix" yaml:"blob_prefix"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.K <= 0 {
		c.K = 5
	}
	if c.SystemInstructions == "" {
		c.SystemInstructions = DefaultSystemInstructions
	}
	if c.MaxContextChars <= 0 {
		c.MaxContextChars = 24000
	}
	if c.MinPackageSize <= 0 {
		c.MinPackageSize = render.DefaultMinPackageSize
	}
	if c.BlobPrefix == "" {
		c.BlobPrefix = "drafts/"
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Retriever returns reference chunks for a prompt. *retrieval.Retriever
// implements it.
type Retriever interface {
	Retrieve(ctx context.Context, prompt, sourceDoc string, k int) ([]chunk.Chunk, error)
}

// TemplateSource returns the formatting template of a source document.
// *retrieval.Store implements it.
type TemplateSource interface {
	Template(ctx context.Context, fingerprint string) (*docpipe.DocumentTemplate, error)
}

// EventSink records pipeline events. *observability.EventLogger implements it.
type EventSink interface {
	LogEvent(ctx context.Context, e observability.PipelineEvent) string
}

// Metrics records timeseries. *observability.MetricsManager implements it.
type Metrics interface {
	StageTimer
	Record(m *observability.Metric)
}

// DraftRequest is one drafting request.
type DraftRequest struct {
	Prompt    string `json:"prompt"`
	SourceDoc string `json:"source_doc,omitempty"` // fingerprint of the document to imitate
	K         int    `json:"k,omitempty"`
}

// GeneratedDraft is the immutable result of a drafting request.
type GeneratedDraft struct {
	ID           string                   `json:"id"`
	Prompt       string                   `json:"prompt"`
	SourceDoc    string                   `json:"source_doc,omitempty"`
	OutputMarkup sanitize.SanitizedMarkup `json:"output_markup"`
	PackageBytes []byte                   `json:"package_bytes"`
	Sources      []chunk.Chunk            `json:"sources"`
	Degraded     bool                     `json:"degraded"`
	Reason       string                   `json:"reason,omitempty"`
	BlobKey      string                   `json:"blob_key,omitempty"`
	CreatedAt    time.Time                `json:"created_at"`
}

// Service runs drafting requests. It is safe for concurrent use.
type Service struct {
	cfg       Config
	logger    *slog.Logger
	orch      *Orchestrator
	prompts   *promptBuilder
	retriever Retriever
	templates TemplateSource
	blobs     blobstore.Store
	events    EventSink
	metrics   Metrics
	ser       Serializer
	newID     idgen.Generator
}

// Option configures a Service.
type Option func(*Service)

// WithRetriever sets the chunk source. Without one, prompts carry no context.
func WithRetriever(r Retriever) Option { return func(s *Service) { s.retriever = r } }

// WithTemplates sets where source-document templates are looked up.
func WithTemplates(t TemplateSource) Option { return func(s *Service) { s.templates = t } }

// WithBlobStore persists every package under Config.BlobPrefix.
func WithBlobStore(b blobstore.Store) Option { return func(s *Service) { s.blobs = b } }

// WithEvents records one event per draft.
func WithEvents(e EventSink) Option { return func(s *Service) { s.events = e } }

// WithMetrics records stage durations and package sizes.
func WithMetrics(m Metrics) Option { return func(s *Service) { s.metrics = m } }

// WithDraftSerializer replaces the renderer used by the orchestrator.
func WithDraftSerializer(ser Serializer) Option { return func(s *Service) { s.ser = ser } }

// WithIDGenerator sets the generator for draft ids (default: idgen.Draft).
func WithIDGenerator(gen idgen.Generator) Option { return func(s *Service) { s.newID = gen } }

// New creates a Service around a generator.
func New(gen Generator, cfg Config, opts ...Option) *Service {
	cfg.defaults()
	s := &Service{
		cfg:     cfg,
		logger:  cfg.Logger,
		prompts: newPromptBuilder(cfg.MaxContextChars),
		newID:   idgen.Draft,
	}
	for _, o := range opts {
		o(s)
	}

	orchOpts := []OrchestratorOption{WithMinPackageSize(cfg.MinPackageSize), WithLogger(cfg.Logger)}
	if s.ser != nil {
		orchOpts = append(orchOpts, WithSerializer(s.ser))
	}
	if s.metrics != nil {
		orchOpts = append(orchOpts, WithStageTimer(s.metrics))
	}
	s.orch = NewOrchestrator(gen, orchOpts...)
	return s
}

// Orchestrator exposes the state machine for callers that already hold markup.
func (s *Service) Orchestrator() *Orchestrator { return s.orch }

// BlobKey is the key a draft's package is stored under.
func (s *Service) BlobKey(id string) string { return s.cfg.BlobPrefix + id + ".docx" }

// Draft runs one request end to end.
func (s *Service) Draft(ctx context.Context, req DraftRequest) (*GeneratedDraft, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}
	k := req.K
	if k <= 0 {
		k = s.cfg.K
	}
	id := s.newID()
	ctx = kit.WithRequestID(ctx, id)
	if req.SourceDoc != "" {
		ctx = kit.WithSourceDoc(ctx, req.SourceDoc)
	}
	log := s.logger.With("draft_id", id, "source_doc", req.SourceDoc)

	var sources []chunk.Chunk
	if s.retriever != nil {
		start := time.Now()
		got, err := s.retriever.Retrieve(ctx, req.Prompt, req.SourceDoc, k)
		s.stage("retrieving", start)
		if err != nil {
			return nil, s.fail(ctx, id, req, fmt.Errorf("%w: retrieve: %w", ErrExternalService, err))
		}
		sources = got
	}

	tpl := s.template(ctx, log, req.SourceDoc)

	out, err := s.orch.Run(ctx, Request{
		SystemInstructions: s.cfg.SystemInstructions,
		UserPrompt:         s.prompts.build(req.Prompt, sources),
	}, tpl)
	if err != nil {
		return nil, s.fail(ctx, id, req, err)
	}

	d := &GeneratedDraft{
		ID:           id,
		Prompt:       req.Prompt,
		SourceDoc:    req.SourceDoc,
		OutputMarkup: out.Markup,
		PackageBytes: out.Package,
		Sources:      sources,
		Degraded:     out.Degraded,
		Reason:       out.Reason,
		CreatedAt:    time.Now().UTC(),
	}

	if s.blobs != nil {
		key, err := s.blobs.Put(ctx, d.PackageBytes, s.BlobKey(id))
		if err != nil {
			return nil, s.fail(ctx, id, req, fmt.Errorf("%w: store package: %w", ErrExternalService, err))
		}
		d.BlobKey = key
	}

	if d.Degraded {
		log.Warn("draft: degraded", "reason", d.Reason)
	}
	log.Info("draft: completed", "sources", len(sources), "bytes", len(d.PackageBytes), "degraded", d.Degraded)
	s.record(ctx, d)
	return d, nil
}

// template looks up the source document's template. A missing or unreadable
// template means default formatting, not a failed draft.
func (s *Service) template(ctx context.Context, log *slog.Logger, fp string) *docpipe.DocumentTemplate {
	if s.templates == nil || fp == "" {
		return nil
	}
	tpl, err := s.templates.Template(ctx, fp)
	if err != nil {
		log.Debug("draft: no template, using defaults", "error", err)
		return nil
	}
	return tpl
}

func (s *Service) fail(ctx context.Context, id string, req DraftRequest, err error) error {
	s.logger.Error("draft: failed", "draft_id", id, "error", err)
	if s.events != nil {
		s.events.LogEvent(ctx, observability.PipelineEvent{
			Type:      observability.EventDraftFailed,
			DraftID:   id,
			SourceDoc: req.SourceDoc,
			Reason:    err.Error(),
		})
	}
	return err
}

func (s *Service) record(ctx context.Context, d *GeneratedDraft) {
	if s.events != nil {
		s.events.LogEvent(ctx, observability.PipelineEvent{
			Type:      observability.EventDraftCompleted,
			DraftID:   d.ID,
			SourceDoc: d.SourceDoc,
			Degraded:  d.Degraded,
			Reason:    d.Reason,
			Success:   true,
			Details: map[string]any{
				"sources":  len(d.Sources),
				"bytes":    len(d.PackageBytes),
				"blob_key": d.BlobKey,
			},
		})
	}
	if s.metrics != nil {
		s.metrics.Record(&observability.Metric{
			Name:  observability.MetricPackageBytes,
			Value: float64(len(d.PackageBytes)),
			Unit:  "bytes",
		})
		if d.Degraded {
			s.metrics.Record(&observability.Metric{
				Name:  observability.MetricDraftDegraded,
				Value: 1,
				Unit:  "count",
			})
		}
	}
}

func (s *Service) stage(name string, start time.Time) {
	if s.metrics != nil {
		s.metrics.Duration(name, time.Since(start))
	}
}
