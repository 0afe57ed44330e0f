// Package connectivity routes named service calls either to an in-process
// handler or to a remote endpoint, based on a SQLite routes table that can be
// reloaded at runtime.
//
// docforge uses it to decide where generation and retrieval run: the same
// binary can call a local Gemini client or POST to a remote generation worker
// by changing one row.
//
//	router := connectivity.New()
//	router.RegisterTransport("http", connectivity.HTTPFactory())
//	router.RegisterLocal("draft_generate", gen.Handle)
//	go router.Watch(ctx, db, time.Second)
//
//	resp, err := router.Call(ctx, "draft_generate", payload)
package connectivity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/hazyhaar/docforge/idgen"
	"github.com/hazyhaar/docforge/kit"
)

// defaultRemoteTimeout bounds a remote call whose route sets no timeout_ms.
const defaultRemoteTimeout = 30 * time.Second

// Handler is a transport-agnostic service function: bytes in, bytes out.
type Handler func(ctx context.Context, payload []byte) ([]byte, error)

// TransportFactory creates a Handler for a remote endpoint. The returned close
// function (may be nil) runs when the route is removed or replaced.
type TransportFactory func(endpoint string, config json.RawMessage) (handler Handler, close func(), err error)

type route struct {
	ServiceName string
	Strategy    string
	Endpoint    string
	Config      json.RawMessage
}

// fingerprint changes when the route config changes.
func (rt route) fingerprint() string {
	return rt.Strategy + "|" + rt.Endpoint + "|" + string(rt.Config)
}

type remoteEntry struct {
	handler Handler
	close   func()
}

// Router dispatches service calls. Safe for concurrent use.
type Router struct {
	mu            sync.RWMutex
	localHandlers map[string]Handler
	remoteEntries map[string]remoteEntry
	routeSnap     map[string]route
	factories     map[string]TransportFactory
	middleware    []HandlerMiddleware
	logger        *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a custom logger for the router.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMiddleware wraps every dispatched call, local or remote. The first
// middleware is the outermost.
func WithMiddleware(mws ...HandlerMiddleware) Option {
	return func(r *Router) { r.middleware = append(r.middleware, mws...) }
}

// New creates a Router with no routes.
func New(opts ...Option) *Router {
	r := &Router{
		localHandlers: make(map[string]Handler),
		remoteEntries: make(map[string]remoteEntry),
		routeSnap:     make(map[string]route),
		factories:     make(map[string]TransportFactory),
		logger:        slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RegisterLocal registers an in-process handler for a service.
func (r *Router) RegisterLocal(service string, h Handler) {
	r.mu.Lock()
	r.localHandlers[service] = h
	r.mu.Unlock()
}

// RegisterTransport registers a factory for a strategy name ("http", ...).
func (r *Router) RegisterTransport(protocol string, f TransportFactory) {
	r.mu.Lock()
	r.factories[protocol] = f
	r.mu.Unlock()
}

// Has reports whether the service is routable (local handler or remote route).
func (r *Router) Has(service string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, remote := r.remoteEntries[service]
	_, local := r.localHandlers[service]
	return remote || local
}

// Call dispatches a service call. Resolution order: noop route, remote route,
// local handler, ErrServiceNotFound.
func (r *Router) Call(ctx context.Context, service string, payload []byte) ([]byte, error) {
	r.mu.RLock()
	entry, hasRemote := r.remoteEntries[service]
	localH := r.localHandlers[service]
	snap, hasRoute := r.routeSnap[service]
	r.mu.RUnlock()

	ctx = withService(ctx, service)
	if hasRoute && snap.Strategy == "noop" {
		r.logger.DebugContext(ctx, "routing noop", "service", service)
		return nil, nil
	}

	if hasRemote {
		r.logger.DebugContext(ctx, "routing remote",
			"service", service, "strategy", snap.Strategy, "endpoint", snap.Endpoint)
		h := Timeout(callTimeout(snap.Config, defaultRemoteTimeout))(entry.handler)
		if localH != nil {
			h = r.fallback(localH)(h)
		}
		return r.wrap(h)(ctx, payload)
	}

	if localH != nil {
		r.logger.DebugContext(ctx, "routing local", "service", service)
		return r.wrap(localH)(ctx, payload)
	}

	return nil, &ErrServiceNotFound{Service: service}
}

// Reload reads the routes table and rebuilds remote handlers whose
// (strategy, endpoint, config) changed. Unchanged routes keep their handler.
func (r *Router) Reload(ctx context.Context, db *sql.DB) error {
	_, err := r.reload(ctx, db)
	return err
}

// routeDiff names the services a reload touched.
type routeDiff struct {
	Added, Changed, Removed []string
}

func (d routeDiff) empty() bool {
	return len(d.Added)+len(d.Changed)+len(d.Removed) == 0
}

func (r *Router) reload(ctx context.Context, db *sql.DB) (routeDiff, error) {
	var diff routeDiff
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes`)
	if err != nil {
		return diff, fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	newRoutes := make(map[string]route)
	for rows.Next() {
		var rt route
		var cfgStr string
		if err := rows.Scan(&rt.ServiceName, &rt.Strategy, &rt.Endpoint, &cfgStr); err != nil {
			return diff, fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfgStr)
		newRoutes[rt.ServiceName] = rt
	}
	if err := rows.Err(); err != nil {
		return diff, fmt.Errorf("connectivity: rows: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for name, rt := range newRoutes {
		old, ok := r.routeSnap[name]
		switch {
		case !ok:
			diff.Added = append(diff.Added, name)
		case old.fingerprint() != rt.fingerprint():
			diff.Changed = append(diff.Changed, name)
		}
	}
	for name := range r.routeSnap {
		if _, ok := newRoutes[name]; !ok {
			diff.Removed = append(diff.Removed, name)
		}
	}
	slices.Sort(diff.Added)
	slices.Sort(diff.Changed)
	slices.Sort(diff.Removed)

	newEntries := make(map[string]remoteEntry, len(newRoutes))
	for name, rt := range newRoutes {
		if rt.Strategy == "local" || rt.Strategy == "noop" {
			continue
		}
		if old, ok := r.routeSnap[name]; ok && old.fingerprint() == rt.fingerprint() {
			if existing, exists := r.remoteEntries[name]; exists {
				newEntries[name] = existing
				continue
			}
		}

		factory, ok := r.factories[rt.Strategy]
		if !ok {
			r.logger.WarnContext(ctx, "no transport factory for strategy",
				"service", name, "error", &ErrNoFactory{Service: name, Strategy: rt.Strategy})
			continue
		}
		h, closeFn, err := factory(rt.Endpoint, rt.Config)
		if err != nil {
			r.logger.ErrorContext(ctx, "factory failed", "service", name, "error",
				&ErrFactoryFailed{Service: name, Strategy: rt.Strategy, Endpoint: rt.Endpoint, Cause: err})
			continue
		}
		newEntries[name] = remoteEntry{handler: h, close: closeFn}
		r.logger.InfoContext(ctx, "route built", "request_id", kit.GetRequestID(ctx), "service", name, "strategy", rt.Strategy, "endpoint", rt.Endpoint)
	}

	for name, old := range r.remoteEntries {
		if old.close == nil {
			continue
		}
		if _, still := newEntries[name]; !still {
			old.close()
			continue
		}
		if r.routeSnap[name].fingerprint() != newRoutes[name].fingerprint() {
			old.close()
		}
	}

	r.remoteEntries = newEntries
	r.routeSnap = newRoutes

	r.logger.InfoContext(ctx, "routes reloaded", "request_id", kit.GetRequestID(ctx),
		"total", len(newRoutes), "remote", len(newEntries),
		"added", diff.Added, "changed", diff.Changed, "removed", diff.Removed)
	return diff, nil
}

// Watch reloads the routes whenever another connection writes to db, as seen
// through PRAGMA data_version. Each reload runs under its own request id so
// its log lines group together. It blocks until ctx is cancelled.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	reqID := idgen.Prefixed("routes_", idgen.NanoID(8))
	ctx = kit.WithTransport(ctx, "routes")

	version := func() (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, "PRAGMA data_version").Scan(&v)
		return v, err
	}
	reload := func() {
		rctx := kit.WithRequestID(ctx, reqID())
		diff, err := r.reload(rctx, db)
		if err != nil {
			r.logger.ErrorContext(rctx, "routes reload failed", "request_id", kit.GetRequestID(rctx), "error", err)
			return
		}
		if diff.empty() {
			r.logger.DebugContext(rctx, "routes unchanged", "request_id", kit.GetRequestID(rctx))
		}
	}

	reload()
	last, err := version()
	if err != nil {
		r.logger.WarnContext(ctx, "routes data_version unreadable", "error", err)
	}
	r.logger.InfoContext(ctx, "routes watcher started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("routes watcher stopped")
			return
		case <-ticker.C:
			v, err := version()
			if err != nil {
				if ctx.Err() == nil {
					r.logger.WarnContext(ctx, "routes data_version poll failed", "error", err)
				}
				continue
			}
			if v != last {
				last = v
				reload()
			}
		}
	}
}

// Close shuts down all remote handlers.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range r.remoteEntries {
		if entry.close != nil {
			entry.close()
		}
	}
	r.remoteEntries = make(map[string]remoteEntry)
	r.routeSnap = make(map[string]route)
	return nil
}

func (r *Router) wrap(h Handler) Handler {
	if len(r.middleware) == 0 {
		return h
	}
	return Chain(r.middleware...)(h)
}

// callTimeout extracts timeout_ms from route config, with a default.
func callTimeout(cfg json.RawMessage, defaultTimeout time.Duration) time.Duration {
	var parsed struct {
		TimeoutMs int64 `json:"timeout_ms"`
	}
	if json.Unmarshal(cfg, &parsed) == nil && parsed.TimeoutMs > 0 {
		return time.Duration(parsed.TimeoutMs) * time.Millisecond
	}
	return defaultTimeout
}
