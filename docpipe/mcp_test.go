package docpipe

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var testMCPImpl = &mcp.Implementation{Name: "docpipe-test", Version: "0.1.0"}

func mcpSession(t *testing.T) *mcp.ClientSession {
	t.Helper()
	pipe := New(Config{})
	srv := mcp.NewServer(testMCPImpl, nil)
	pipe.RegisterMCP(srv)

	serverT, clientT := mcp.NewInMemoryTransports()
	ctx := context.Background()
	go func() { _ = srv.Run(ctx, serverT) }()

	client := mcp.NewClient(testMCPImpl, nil)
	session, err := client.Connect(ctx, clientT, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { session.Close() })
	return session
}

func mcpCallTool(t *testing.T, session *mcp.ClientSession, name string, args any) (string, bool) {
	t.Helper()
	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		t.Fatalf("CallTool(%s): %v", name, err)
	}
	tc, ok := result.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("CallTool(%s): expected TextContent", name)
	}
	return tc.Text, result.IsError
}

func TestMCP_Formats(t *testing.T) {
	session := mcpSession(t)

	text, isErr := mcpCallTool(t, session, "docpipe_formats", map[string]any{})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var resp struct {
		Formats []string `json:"formats"`
	}
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Formats) != 1 || resp.Formats[0] != "docx" {
		t.Errorf("formats = %v", resp.Formats)
	}
}

func TestMCP_Extract(t *testing.T) {
	session := mcpSession(t)

	path := filepath.Join(t.TempDir(), "mcp.docx")
	os.WriteFile(path, buildDocx(t, map[string]string{"word/document.xml": bodyXML(para("Heading1", "Title") + para("", "Body text"))}), 0644)

	text, isErr := mcpCallTool(t, session, "docpipe_extract", map[string]any{"path": path})
	if isErr {
		t.Fatalf("tool error: %s", text)
	}
	var doc Document
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Title != "Title" || len(doc.Blocks) != 2 {
		t.Errorf("doc = %+v", doc)
	}
}

func TestMCP_ExtractMalformed(t *testing.T) {
	session := mcpSession(t)

	path := filepath.Join(t.TempDir(), "bad.docx")
	os.WriteFile(path, []byte("not a zip"), 0644)

	_, isErr := mcpCallTool(t, session, "docpipe_extract", map[string]any{"path": path})
	if !isErr {
		t.Fatal("expected tool error for malformed package")
	}
}
