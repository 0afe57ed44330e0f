package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/draft"
	"github.com/hazyhaar/docforge/observability"
	"github.com/hazyhaar/docforge/render"
	"github.com/hazyhaar/docforge/sanitize"
)

func testApp(t *testing.T, gen draft.Generator) *app {
	t.Helper()
	dir := t.TempDir()
	cfg := &Config{DBPath: filepath.Join(dir, "docforge.db")}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := newApp(context.Background(), cfg, logger, gen)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func sourcePackage() []byte {
	return render.Serialize(sanitize.Sanitize(
		"<h1>Quarterly report</h1><p>Revenue grew in every region.</p>"+
			"<table><tr><td>Region</td><td>Growth</td></tr><tr><td>North</td><td>4%</td></tr></table>"),
		&docpipe.DocumentTemplate{SectionMargins: docpipe.Margins{Top: 1000, Right: 1000, Bottom: 1000, Left: 1000}})
}

func TestApp_IngestAndDraftOverHTTP(t *testing.T) {
	var prompts []string
	gen := draft.GeneratorFunc(func(_ context.Context, req draft.Request) (draft.Response, error) {
		prompts = append(prompts, req.UserPrompt)
		return draft.Response{Markup: "<h1>Outlook</h1><p>Growth continues.</p>"}, nil
	})
	a := testApp(t, gen)
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/v1/ingest", docxContentType, bytes.NewReader(sourcePackage()))
	if err != nil {
		t.Fatal(err)
	}
	var ing ingestResult
	json.NewDecoder(resp.Body).Decode(&ing)
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated || ing.Title != "Quarterly report" || ing.Blocks != 3 || ing.Chunks != 1 {
		t.Fatalf("ingest: status %d, %+v", resp.StatusCode, ing)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("request id header missing")
	}

	resp, err = http.Get(srv.URL + "/v1/documents/" + ing.Fingerprint)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("document status = %d", resp.StatusCode)
	}

	body, _ := json.Marshal(draft.DraftRequest{Prompt: "Write the outlook for revenue", SourceDoc: ing.Fingerprint})
	resp, err = http.Post(srv.URL+"/v1/drafts", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	pkg, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || resp.Header.Get("X-Draft-Degraded") != "false" {
		t.Fatalf("draft: status %d, degraded %q: %s", resp.StatusCode, resp.Header.Get("X-Draft-Degraded"), pkg)
	}
	if len(prompts) != 1 || !strings.Contains(prompts[0], "Revenue grew in every region.") {
		t.Errorf("prompts = %q", prompts)
	}

	doc, err := a.pipe.ExtractBytes(context.Background(), pkg)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Title != "Outlook" || doc.Template.SectionMargins.Top != 1000 {
		t.Errorf("drafted doc: title %q, margins %+v", doc.Title, doc.Template.SectionMargins)
	}

	resp, err = http.Get(srv.URL + "/v1/drafts/" + resp.Header.Get("X-Draft-ID"))
	if err != nil {
		t.Fatal(err)
	}
	stored, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !bytes.Equal(stored, pkg) {
		t.Errorf("download: status %d, %d bytes", resp.StatusCode, len(stored))
	}

	events, err := a.events.Events(context.Background(), "", 10)
	if err != nil {
		t.Fatal(err)
	}
	types := map[string]int{}
	for _, e := range events {
		types[e.Type]++
	}
	if types[observability.EventDocumentIngested] != 1 || types[observability.EventDraftCompleted] != 1 {
		t.Errorf("events = %v", types)
	}
}

func TestApp_HTTPErrors(t *testing.T) {
	a := testApp(t, nil)
	srv := httptest.NewServer(a.handler())
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"health", http.MethodGet, "/health", "", http.StatusOK},
		{"malformed package", http.MethodPost, "/v1/ingest", "not a zip", http.StatusBadRequest},
		{"unknown blob key", http.MethodPost, "/v1/ingest?key=sources/missing.docx", "", http.StatusNotFound},
		{"bad blob key", http.MethodPost, "/v1/ingest?key=a//b", "", http.StatusBadRequest},
		{"unknown document", http.MethodGet, "/v1/documents/nope", "", http.StatusNotFound},
		{"unknown draft", http.MethodGet, "/v1/drafts/drf_nope", "", http.StatusNotFound},
		{"empty prompt", http.MethodPost, "/v1/drafts", `{"prompt":""}`, http.StatusBadRequest},
		{"no generator", http.MethodPost, "/v1/drafts", `{"prompt":"p"}`, http.StatusBadGateway},
		{"unknown service", http.MethodPost, "/v1/call/nope", `{}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		req, _ := http.NewRequest(tt.method, srv.URL+tt.path, strings.NewReader(tt.body))
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, resp.StatusCode, tt.want)
		}
	}
}

func TestApp_IngestFromBlobKeyAndRouter(t *testing.T) {
	a := testApp(t, nil)
	ctx := context.Background()

	key, err := a.blobs.Put(ctx, sourcePackage(), "inbox/report.docx")
	if err != nil {
		t.Fatal(err)
	}
	payload, _ := json.Marshal(map[string]string{"key": key})
	resp, err := a.router.Call(ctx, "docforge_ingest", payload)
	if err != nil {
		t.Fatal(err)
	}
	var res ingestResult
	json.Unmarshal(resp, &res)
	if res.BlobKey != key || res.Chunks != 1 {
		t.Fatalf("result = %+v", res)
	}

	for _, svc := range []string{"retrieval_search", "draft_sanitize", "render_serialize", "docpipe_extract", "horosembed_embed"} {
		if !a.router.Has(svc) {
			t.Errorf("service %s not registered", svc)
		}
	}
}

func TestRenderFile(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "answer.html")
	out := filepath.Join(dir, "answer.docx")
	os.WriteFile(in, []byte("```html\n<h2>Answer</h2><p>Forty-two</p>\n```"), 0o644)

	if err := renderFile(in, out); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	doc, err := docpipe.New(docpipe.Config{}).ExtractBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Blocks) != 2 || doc.Blocks[0].Kind != docpipe.KindHeading {
		t.Errorf("blocks = %+v", doc.Blocks)
	}
	if err := renderFile(in, ""); err == nil {
		t.Error("expected error without -out")
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "docforge.yaml")
	os.WriteFile(path, []byte(`
db_path: /var/lib/docforge/docforge.db
listen: ":9000"
chunk:
  word_limit: 120
  overlap: 20
retrieval:
  ann: true
generator:
  kind: http
  http:
    endpoint: https://llm.internal/generate
    timeout: 45s
routes_interval: 10s
`), 0o644)

	cfg, err := LoadConfigFile(path)
	if err != nil {
		t.Fatal(err)
	}
	cfg.defaults()
	if cfg.Listen != ":9000" || cfg.Chunk.WordLimit != 120 || !cfg.Retrieval.ANN {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.Generator.HTTP.Timeout.Seconds() != 45 || cfg.RoutesInterval.Seconds() != 10 {
		t.Errorf("durations = %v, %v", cfg.Generator.HTTP.Timeout, cfg.RoutesInterval)
	}
	if cfg.BlobDir != "/var/lib/docforge/blobs" || cfg.Retrieval.DBPath != cfg.DBPath {
		t.Errorf("derived paths: blob %q, retrieval %q", cfg.BlobDir, cfg.Retrieval.DBPath)
	}

	if _, err := LoadConfigFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for a missing file")
	}
}
