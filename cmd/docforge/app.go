package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docforge/blobstore"
	"github.com/hazyhaar/docforge/connectivity"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/draft"
	"github.com/hazyhaar/docforge/horosembed"
	"github.com/hazyhaar/docforge/observability"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/retrieval"
)

const version = "0.1.0"

// app wires every component around one SQLite database and one blob
// directory.
type app struct {
	cfg      *Config
	logger   *slog.Logger
	pipe     *docpipe.Pipeline
	emb      horosembed.Embedder
	store    *retrieval.Store
	blobs    *blobstore.FS
	renderer *render.Renderer
	drafts   *draft.Service
	events   *observability.EventLogger
	metrics  *observability.MetricsManager
	router   *connectivity.Router
	closers  []func() error
}

// newApp opens the database and builds the services. gen overrides the
// configured generator when non-nil.
func newApp(ctx context.Context, cfg *Config, logger *slog.Logger, gen draft.Generator) (*app, error) {
	cfg.defaults()
	a := &app{cfg: cfg, logger: logger}

	cfg.Retrieval.Logger = logger
	store, err := retrieval.Open(cfg.Retrieval)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, store.Close)

	db := store.DB()
	if err := observability.Init(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("observability schema: %w", err)
	}
	if err := connectivity.Init(db); err != nil {
		a.Close()
		return nil, fmt.Errorf("routes schema: %w", err)
	}
	a.events = observability.NewEventLogger(db, observability.WithEventLogger(logger))
	cfg.Metrics.Logger = logger
	a.metrics = observability.NewMetricsManager(db, cfg.Metrics)
	a.closers = append([]func() error{a.metrics.Close}, a.closers...)

	if a.blobs, err = blobstore.NewFS(cfg.BlobDir, ".docx"); err != nil {
		a.Close()
		return nil, err
	}

	cfg.Extract.Logger = logger
	a.pipe = docpipe.New(cfg.Extract)
	cfg.Embed.Logger = logger
	a.emb = horosembed.New(cfg.Embed)
	cfg.Render.Logger = logger
	a.renderer = render.New(cfg.Render)

	if gen == nil {
		if gen, err = buildGenerator(ctx, cfg.Generator, logger); err != nil {
			a.Close()
			return nil, err
		}
	}
	if c, ok := gen.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}

	cfg.Draft.Logger = logger
	if cfg.Draft.MinPackageSize <= 0 {
		cfg.Draft.MinPackageSize = a.renderer.MinPackageSize()
	}
	a.drafts = draft.New(gen, cfg.Draft,
		draft.WithRetriever(retrieval.NewRetriever(store, a.emb)),
		draft.WithTemplates(store),
		draft.WithBlobStore(a.blobs),
		draft.WithEvents(a.events),
		draft.WithMetrics(a.metrics),
		draft.WithDraftSerializer(a.renderer),
	)

	a.router = connectivity.New(
		connectivity.WithLogger(logger),
		connectivity.WithMiddleware(connectivity.Recovery(logger), connectivity.Logging(logger)),
	)
	a.router.RegisterTransport("http", connectivity.HTTPFactory())
	a.router.RegisterLocal("docforge_ingest", a.handleIngest)
	a.pipe.RegisterConnectivity(a.router)
	a.renderer.RegisterConnectivity(a.router)
	a.drafts.RegisterConnectivity(a.router)
	store.RegisterConnectivity(a.router, a.emb)
	horosembed.RegisterConnectivity(a.router, a.emb)
	if ann := store.ANN(); ann != nil {
		ann.RegisterConnectivity(a.router)
	}
	a.closers = append(a.closers, a.router.Close)

	return a, nil
}

// buildGenerator returns nil when no generator is configured; drafting then
// fails with draft.ErrExternalService while every other mode still works.
func buildGenerator(ctx context.Context, cfg GeneratorConfig, logger *slog.Logger) (draft.Generator, error) {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		switch {
		case cfg.Gemini.APIKey != "" || os.Getenv("GEMINI_API_KEY") != "":
			kind = "gemini"
		case cfg.HTTP.Endpoint != "":
			kind = "http"
		default:
			logger.Warn("docforge: no generator configured, drafting disabled")
			return nil, nil
		}
	}
	switch kind {
	case "gemini":
		return draft.NewGeminiGenerator(ctx, cfg.Gemini)
	case "http":
		cfg.HTTP.Logger = logger
		return draft.NewHTTPGenerator(cfg.HTTP)
	default:
		return nil, fmt.Errorf("unknown generator kind %q", cfg.Kind)
	}
}

// mcpServer exposes every tool over MCP.
func (a *app) mcpServer() *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "docforge", Version: version}, nil)
	a.pipe.RegisterMCP(srv)
	a.drafts.RegisterMCP(srv)
	horosembed.RegisterMCP(srv, a.emb)
	return srv
}

// Close releases everything in reverse dependency order.
func (a *app) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
