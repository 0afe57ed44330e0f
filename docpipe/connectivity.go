package docpipe

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/docforge/connectivity"
)

// RegisterConnectivity registers docpipe service handlers on a connectivity Router.
//
// Registered services:
//
//	docpipe_extract — extract blocks and template from a package (path or inline bytes)
//	docpipe_detect  — detect document format
func (p *Pipeline) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("docpipe_extract", p.handleExtract)
	router.RegisterLocal("docpipe_detect", p.handleDetect)
}

// extractReq carries either a file path or the package bytes (base64 in JSON).
type extractReq struct {
	Path string `json:"path,omitempty"`
	Data []byte `json:"data,omitempty"`
}

func (p *Pipeline) extract(ctx context.Context, req extractReq) (*Document, error) {
	if len(req.Data) > 0 {
		return p.ExtractBytes(ctx, req.Data)
	}
	if req.Path == "" {
		return nil, fmt.Errorf("path or data is required")
	}
	return p.Extract(ctx, req.Path)
}

func (p *Pipeline) handleExtract(ctx context.Context, payload []byte) ([]byte, error) {
	var req extractReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	doc, err := p.extract(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}

func (p *Pipeline) handleDetect(_ context.Context, payload []byte) ([]byte, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	format, err := p.Detect(req.Path)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"format": format})
}
