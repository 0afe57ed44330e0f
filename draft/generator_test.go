package draft

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHTTPGenerator(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Authorization") != "Bearer secret" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(Response{Markup: "<p>generated</p>"})
	}))
	defer srv.Close()

	gen, err := NewHTTPGenerator(HTTPConfig{Endpoint: srv.URL, APIKey: "secret"})
	if err != nil {
		t.Fatal(err)
	}
	resp, err := gen.Generate(context.Background(), Request{SystemInstructions: "sys", UserPrompt: "user"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Markup != "<p>generated</p>" {
		t.Errorf("markup = %q", resp.Markup)
	}
	if got.SystemInstructions != "sys" || got.UserPrompt != "user" {
		t.Errorf("server saw %+v", got)
	}
}

func TestHTTPGenerator_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fail":
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		case "/garbage":
			w.Write([]byte("not json"))
		}
	}))
	defer srv.Close()

	tests := []struct {
		path string
		want string
	}{
		{"/fail", "HTTP 503"},
		{"/garbage", "decode response"},
	}
	for _, tt := range tests {
		gen, err := NewHTTPGenerator(HTTPConfig{Endpoint: srv.URL + tt.path})
		if err != nil {
			t.Fatal(err)
		}
		_, err = gen.Generate(context.Background(), Request{})
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Errorf("%s: err = %v, want %q", tt.path, err, tt.want)
		}
	}
}

func TestNewHTTPGenerator_RejectsBadEndpoints(t *testing.T) {
	for _, endpoint := range []string{"", "ftp://example.com/gen", "not a url", "http://"} {
		if _, err := NewHTTPGenerator(HTTPConfig{Endpoint: endpoint}); err == nil {
			t.Errorf("%q: expected error", endpoint)
		}
	}
}

func TestNewGeminiGenerator_RequiresKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := NewGeminiGenerator(context.Background(), GeminiConfig{}); err == nil {
		t.Fatal("expected error without an API key")
	}
}

func TestGeminiConfig_Defaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "k")
	t.Setenv("GEMINI_MODEL", "")
	cfg := GeminiConfig{}
	cfg.defaults()
	if cfg.APIKey != "k" || cfg.Model != DefaultGeminiModel || cfg.Temperature != 0.2 {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestTruncate_KeepsRunesWhole(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"abcdef", 3, "abc..."},
		{"a€b", 2, "a..."}, // € is 3 bytes
		{"€€", 4, "€..."},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
