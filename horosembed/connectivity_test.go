package horosembed

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/hazyhaar/docforge/connectivity"
)

func callEmbed(t *testing.T, router *connectivity.Router, req any) (embedResp, error) {
	t.Helper()
	payload, _ := json.Marshal(req)
	raw, err := router.Call(context.Background(), "horosembed_embed", payload)
	var resp embedResp
	if err == nil {
		if err := json.Unmarshal(raw, &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
	}
	return resp, err
}

func TestConn_Embed(t *testing.T) {
	router := connectivity.New()
	RegisterConnectivity(router, New(Config{Dimension: 64, Model: "test-local"}))

	resp, err := callEmbed(t, router, map[string]any{"text": "Hello world"})
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.Vectors) != 1 || len(resp.Vectors[0]) != 64 || resp.Dimension != 64 || resp.Model != "test-local" {
		t.Errorf("resp = %+v", resp)
	}

	resp, err = callEmbed(t, router, map[string]any{"texts": []string{"a", "b"}})
	if err != nil || len(resp.Vectors) != 2 {
		t.Fatalf("batch: %+v %v", resp, err)
	}
}

func TestConn_Embed_BadInput(t *testing.T) {
	router := connectivity.New()
	RegisterConnectivity(router, New(Config{Dimension: 8}))

	if _, err := router.Call(context.Background(), "horosembed_embed", []byte(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
	if _, err := callEmbed(t, router, map[string]any{}); err == nil {
		t.Error("expected error for empty request")
	}
}
