package draft

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docforge/kit"
)

// RegisterMCP registers drafting tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerCreateTool(srv)
	s.registerRenderTool(srv)
	registerSanitizeTool(srv)
}

func (s *Service) registerCreateTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draft_create",
		Description: "Draft a new .docx document from a prompt, using retrieved excerpts and the formatting of a source document.",
		InputSchema: kit.InputSchema(map[string]any{
			"prompt":     map[string]any{"type": "string", "description": "What to write"},
			"source_doc": map[string]any{"type": "string", "description": "Fingerprint of the document whose content and formatting to follow"},
			"k":          map[string]any{"type": "integer", "description": "Number of excerpts to retrieve (default: 5)"},
		}, []string{"prompt"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return s.Draft(ctx, *req.(*DraftRequest))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r DraftRequest
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{
			Request: &r,
			EnrichCtx: func(ctx context.Context) context.Context {
				return kit.WithSourceDoc(ctx, r.SourceDoc)
			},
		}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func (s *Service) registerRenderTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draft_render",
		Description: "Sanitize markup and serialize it into a .docx package, degrading to plain paragraphs if needed.",
		InputSchema: kit.InputSchema(map[string]any{
			"markup": map[string]any{"type": "string", "description": "HTML markup, possibly malformed"},
		}, []string{"markup"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		r := req.(*renderReq)
		return s.orch.Render(r.Markup, r.Template), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r renderReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}

func registerSanitizeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "draft_sanitize",
		Description: "Reduce markup to the allow-listed, balanced subset and report the repairs.",
		InputSchema: kit.InputSchema(map[string]any{
			"markup": map[string]any{"type": "string"},
		}, []string{"markup"}),
	}

	endpoint := func(_ context.Context, req any) (any, error) {
		return doSanitize(*req.(*sanitizeReq)), nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r sanitizeReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
