package kit

import "context"

type contextKey string

const (
	RequestIDKey contextKey = "kit_request_id"
	SourceDocKey contextKey = "kit_source_doc"
	TransportKey contextKey = "kit_transport" // "http", "mcp", "cli"
)

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithSourceDoc(ctx context.Context, fp string) context.Context {
	return context.WithValue(ctx, SourceDocKey, fp)
}
func GetSourceDoc(ctx context.Context) string {
	v, _ := ctx.Value(SourceDocKey).(string)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}
