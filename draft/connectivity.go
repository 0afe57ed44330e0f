package draft

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/docforge/connectivity"
	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/sanitize"
)

// RegisterConnectivity registers drafting handlers on a connectivity Router.
//
// Registered services:
//
//	draft_create   — retrieve, generate and render a new document
//	draft_render   — run raw markup through sanitize/serialize/validate
//	draft_sanitize — sanitize markup and report what was repaired
func (s *Service) RegisterConnectivity(router *connectivity.Router) {
	router.RegisterLocal("draft_create", s.handleCreate)
	router.RegisterLocal("draft_render", s.handleRender)
	router.RegisterLocal("draft_sanitize", handleSanitize)
}

type renderReq struct {
	Markup   string                    `json:"markup"`
	Template *docpipe.DocumentTemplate `json:"template,omitempty"`
}

type sanitizeReq struct {
	Markup string `json:"markup"`
}

type sanitizeResp struct {
	Markup sanitize.SanitizedMarkup `json:"markup"`
	Report sanitize.Report          `json:"report"`
}

func doSanitize(req sanitizeReq) sanitizeResp {
	m, rep := sanitize.SanitizeWithReport(req.Markup)
	return sanitizeResp{Markup: m, Report: rep}
}

func (s *Service) handleCreate(ctx context.Context, payload []byte) ([]byte, error) {
	var req DraftRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	d, err := s.Draft(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

func (s *Service) handleRender(_ context.Context, payload []byte) ([]byte, error) {
	var req renderReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return json.Marshal(s.orch.Render(req.Markup, req.Template))
}

func handleSanitize(_ context.Context, payload []byte) ([]byte, error) {
	var req sanitizeReq
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	return json.Marshal(doSanitize(req))
}
