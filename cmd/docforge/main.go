// Command docforge ingests .docx documents and drafts new ones in their style.
//
// Usage:
//
//	docforge -config docforge.yaml -serve :8420          # HTTP API + MCP
//	docforge -db docforge.db -ingest report.docx         # ingest and exit
//	docforge -render answer.html -out answer.docx        # sanitize + serialize markup
//	docforge -db docforge.db -draft "Write the summary" -source <fingerprint> -out summary.docx
//
// GEMINI_API_KEY and GEMINI_MODEL are read from the environment or a .env file.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/docforge/draft"
	"github.com/hazyhaar/docforge/observability"
)

type options struct {
	configPath string
	dbPath     string
	ingest     string
	render     string
	draft      string
	source     string
	k          int
	out        string
	serve      string
}

func main() {
	_ = godotenv.Load()

	var o options
	flag.StringVar(&o.configPath, "config", "", "path to docforge.yaml config file")
	flag.StringVar(&o.dbPath, "db", "", "path to SQLite database")
	flag.StringVar(&o.ingest, "ingest", "", "ingest a .docx file and exit")
	flag.StringVar(&o.render, "render", "", "render a markup file to -out and exit")
	flag.StringVar(&o.draft, "draft", "", "draft a document from this prompt and exit")
	flag.StringVar(&o.source, "source", "", "fingerprint of the source document for -draft")
	flag.IntVar(&o.k, "k", 0, "number of excerpts retrieved for -draft")
	flag.StringVar(&o.out, "out", "", "output .docx path for -render and -draft")
	flag.StringVar(&o.serve, "serve", "", "serve the HTTP API on this address (overrides listen)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		logger.Error("docforge: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := resolveConfig(o.configPath, o.dbPath)
	if err != nil {
		return err
	}

	// Rendering needs no database.
	if o.render != "" {
		return renderFile(o.render, o.out)
	}

	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer a.Close()

	switch {
	case o.ingest != "":
		res, err := a.ingestFile(ctx, o.ingest)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return printJSON(res)

	case o.draft != "":
		if o.out == "" {
			return fmt.Errorf("-draft requires -out")
		}
		d, err := a.drafts.Draft(ctx, draft.DraftRequest{Prompt: o.draft, SourceDoc: o.source, K: o.k})
		if err != nil {
			return fmt.Errorf("draft: %w", err)
		}
		if err := os.WriteFile(o.out, d.PackageBytes, 0o644); err != nil {
			return err
		}
		return printJSON(map[string]any{
			"id": d.ID, "out": o.out, "degraded": d.Degraded, "reason": d.Reason,
			"sources": len(d.Sources), "blob_key": d.BlobKey,
		})
	}

	addr := cfg.Listen
	if o.serve != "" {
		addr = o.serve
	}
	return a.serve(ctx, addr)
}

// serve runs the HTTP API until ctx is cancelled.
func (a *app) serve(ctx context.Context, addr string) error {
	go a.router.Watch(ctx, a.store.DB(), a.cfg.RoutesInterval)
	go a.retention(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           a.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		a.logger.Info("docforge: listening", "addr", addr, "db", a.cfg.DBPath)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	a.logger.Info("docforge: shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// retention prunes old events and metrics once a day.
func (a *app) retention(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if err := observability.Cleanup(ctx, a.store.DB(), a.cfg.Retention); err != nil {
			a.logger.Warn("docforge: retention cleanup failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func resolveConfig(configPath, dbPath string) (*Config, error) {
	cfg := &Config{}
	if configPath != "" {
		var err error
		if cfg, err = LoadConfigFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
