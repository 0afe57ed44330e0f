package connectivity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hazyhaar/docforge/horosafe"
	"github.com/hazyhaar/docforge/kit"
)

// maxRemoteBody caps a remote response. Generated drafts and retrieval
// results stay well under it.
const maxRemoteBody int64 = 10 << 20

// Headers carried by a remote call so the worker's logs line up with ours.
// A docforge worker keeps X-Request-ID (see shield.RequestID).
const (
	headerRequestID = "X-Request-ID"
	headerService   = "X-Docforge-Service"
	headerSourceDoc = "X-Docforge-Source-Doc"
)

// httpRoute is the config column of an "http" route. The deadline comes from
// timeout_ms and is applied by Router.Call, not here.
type httpRoute struct {
	Headers map[string]string `json:"headers"`
}

// HTTPFactory builds handlers that POST the JSON payload of a docforge
// service to a remote worker. Endpoints resolving to private or loopback
// addresses are rejected.
func HTTPFactory() TransportFactory {
	return func(endpoint string, config json.RawMessage) (Handler, func(), error) {
		if err := horosafe.ValidateURL(endpoint); err != nil {
			return nil, nil, fmt.Errorf("connectivity/http: %w", err)
		}
		var cfg httpRoute
		if len(config) > 0 {
			if err := json.Unmarshal(config, &cfg); err != nil {
				return nil, nil, fmt.Errorf("connectivity/http: config: %w", err)
			}
		}
		client := &http.Client{}
		return remoteHandler(client, endpoint, cfg), client.CloseIdleConnections, nil
	}
}

func remoteHandler(client *http.Client, endpoint string, cfg httpRoute) Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		if len(payload) == 0 {
			payload = []byte("{}")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: %w", err)
		}
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		if s := Service(ctx); s != "" {
			req.Header.Set(headerService, s)
		}
		if id := kit.GetRequestID(ctx); id != "" {
			req.Header.Set(headerRequestID, id)
		}
		if fp := kit.GetSourceDoc(ctx); fp != "" {
			req.Header.Set(headerSourceDoc, fp)
		}

		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: %w", err)
		}
		defer resp.Body.Close()

		body, err := horosafe.LimitedReadAll(resp.Body, maxRemoteBody)
		if err != nil {
			return nil, fmt.Errorf("connectivity/http: read response: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, remoteError(Service(ctx), resp.StatusCode, body)
		}
		if !json.Valid(body) {
			return nil, &ErrRemote{Service: Service(ctx), Status: resp.StatusCode, Message: "response is not JSON"}
		}
		return body, nil
	}
}

// remoteError reads the {"error": "..."} body docforge workers answer with,
// falling back to the start of the raw body.
func remoteError(service string, status int, body []byte) *ErrRemote {
	var e struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(string(body))
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		msg = e.Error
	} else if len(msg) > 200 {
		msg = msg[:200]
	}
	return &ErrRemote{Service: service, Status: status, Message: msg}
}

// fallback hands a failed remote call to the local handler. A cancelled
// context is not handed over: the caller gave up, the remote did not fail.
func (r *Router) fallback(local Handler) HandlerMiddleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			resp, err := next(ctx, payload)
			if err == nil || ctx.Err() != nil {
				return resp, err
			}
			r.logger.WarnContext(ctx, "remote failed, running locally",
				append(callAttrs(ctx), "remote_error", err)...)
			return local(ctx, payload)
		}
	}
}
