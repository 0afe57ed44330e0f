// Package shield provides the HTTP middleware in front of the docforge API:
// security headers, request body limits, request ids and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.DefaultStack(shield.Config{}) {
//	    r.Use(mw)
//	}
package shield

import (
	"context"
	"log/slog"
	"net/http"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// Config configures DefaultStack.
type Config struct {
	// MaxBody caps request bodies in bytes (default: 32 MiB, enough for a
	// .docx upload).
	MaxBody int64 `json:"max_body" yaml:"max_body"`

	// Headers applied to every response (default: DefaultHeaders()).
	Headers *HeaderConfig `json:"-" yaml:"-"`

	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxBody <= 0 {
		c.MaxBody = 32 << 20
	}
	if c.Headers == nil {
		h := DefaultHeaders()
		c.Headers = &h
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// DefaultStack returns the middleware for the docforge HTTP server, in order:
// HeadToGet, SecurityHeaders, MaxBody, RequestID.
func DefaultStack(cfg Config) []func(http.Handler) http.Handler {
	cfg.defaults()
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(*cfg.Headers),
		MaxBody(cfg.MaxBody),
		RequestID(cfg.Logger),
	}
}

// HeadToGet lets handlers registered with r.Get answer HEAD requests.
// net/http drops the body.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// GetLogger returns the per-request logger, or slog.Default().
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
