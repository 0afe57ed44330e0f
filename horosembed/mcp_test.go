package horosembed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "horosembed-test", Version: "0.1.0"}

func TestMCP_Embed(t *testing.T) {
	srv := mcp.NewServer(testMCPImpl, nil)
	RegisterMCP(srv, New(Config{Dimension: 32}))

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	session, err := mcp.NewClient(testMCPImpl, nil).Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "horosembed_embed",
		Arguments: map[string]any{"texts": []string{"one", "two", "three"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("tool error: %+v", result.Content)
	}
	var resp embedResp
	if err := json.Unmarshal([]byte(result.Content[0].(*mcp.TextContent).Text), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Vectors) != 3 || resp.Dimension != 32 {
		t.Errorf("resp = %+v", resp)
	}

	result, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "horosembed_embed", Arguments: map[string]any{}})
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("empty request should be a tool error")
	}
}
