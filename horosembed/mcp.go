package horosembed

import (
	"context"
	"encoding/json"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/docforge/kit"
)

// RegisterMCP registers the horosembed_embed tool on an MCP server.
func RegisterMCP(srv *mcp.Server, emb Embedder) {
	tool := &mcp.Tool{
		Name:        "horosembed_embed",
		Description: "Embed one text, or several texts in one call, with the configured embedding model.",
		InputSchema: kit.InputSchema(map[string]any{
			"text": map[string]any{"type": "string", "description": "Text to embed"},
			"texts": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"description": "Texts to embed (alternative to text)",
			},
		}, nil),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return embed(ctx, emb, *req.(*embedReq))
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var r embedReq
		if err := json.Unmarshal(req.Params.Arguments, &r); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &r}, nil
	}

	kit.RegisterMCPTool(srv, tool, endpoint, decode)
}
