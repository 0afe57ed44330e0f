package connectivity

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/hazyhaar/docforge/kit"
)

// HandlerMiddleware wraps a Handler without changing its signature.
type HandlerMiddleware func(next Handler) Handler

// Chain composes middlewares; the first one is the outermost wrapper.
func Chain(mws ...HandlerMiddleware) HandlerMiddleware {
	return func(next Handler) Handler {
		for i := len(mws) - 1; i >= 0; i-- {
			next = mws[i](next)
		}
		return next
	}
}

type serviceKey struct{}

func withService(ctx context.Context, service string) context.Context {
	return context.WithValue(ctx, serviceKey{}, service)
}

// Service returns the name of the service being dispatched by Router.Call.
func Service(ctx context.Context) string {
	s, _ := ctx.Value(serviceKey{}).(string)
	return s
}

// callAttrs collects the request attributes a call log line carries.
func callAttrs(ctx context.Context) []any {
	attrs := []any{"service", Service(ctx)}
	if id := kit.GetRequestID(ctx); id != "" {
		attrs = append(attrs, "request_id", id)
	}
	if fp := kit.GetSourceDoc(ctx); fp != "" {
		attrs = append(attrs, "source_doc", fp)
	}
	if t := kit.GetTransport(ctx); t != "" {
		attrs = append(attrs, "transport", t)
	}
	return attrs
}

// Logging logs every call with its service, request attributes and duration.
// Failures log at Warn, successes at Debug.
func Logging(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			start := time.Now()
			resp, err := next(ctx, payload)
			attrs := append(callAttrs(ctx),
				"duration_ms", time.Since(start).Milliseconds(),
				"payload_bytes", len(payload))
			if err != nil {
				logger.WarnContext(ctx, "call failed", append(attrs, "error", err)...)
				return resp, err
			}
			logger.DebugContext(ctx, "call ok", append(attrs, "response_bytes", len(resp))...)
			return resp, nil
		}
	}
}

// Timeout returns a middleware that bounds the call with a context deadline.
// Handlers that honour ctx return context.DeadlineExceeded when it fires.
func Timeout(d time.Duration) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, payload)
		}
	}
}

// Recovery turns a handler panic into an *ErrPanic naming the service.
func Recovery(logger *slog.Logger) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "handler panic recovered",
						append(callAttrs(ctx), "panic", r, "stack", string(debug.Stack()))...)
					err = &ErrPanic{Service: Service(ctx), Value: r}
				}
			}()
			return next(ctx, payload)
		}
	}
}
