package horosafe

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func TestSafePath(t *testing.T) {
	tests := []struct {
		base, input string
		want        string
		wantErr     bool
	}{
		{"/data/blobs", "drafts/abc.docx", "/data/blobs/drafts/abc.docx", false},
		{"/data/blobs", "/abs/key", "/data/blobs/abs/key", false},
		{"/data/blobs", "../etc/passwd", "", true},
		{"/data/blobs", "abc/../def", "", true},
		{"/data/blobs/", "x", "/data/blobs/x", false},
	}
	for _, tt := range tests {
		got, err := SafePath(tt.base, tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("SafePath(%q, %q) error=%v, wantErr=%v", tt.base, tt.input, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("SafePath(%q, %q) = %q, want %q", tt.base, tt.input, got, tt.want)
		}
	}
}

func TestValidateKey(t *testing.T) {
	valid := []string{"abc", "drafts/drf_1.docx", "a-b_c.d"}
	invalid := []string{"", "a//b", "../x", "a/./b", "has space", "/lead", "trail/", strings.Repeat("a", MaxKeyLen+1)}
	for _, k := range valid {
		if err := ValidateKey(k); err != nil {
			t.Errorf("ValidateKey(%q): %v", k, err)
		}
	}
	for _, k := range invalid {
		if err := ValidateKey(k); !errors.Is(err, ErrInvalidKey) {
			t.Errorf("ValidateKey(%q): err = %v, want ErrInvalidKey", k, err)
		}
	}
}

func TestValidateURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://example.com/generate", false},
		{"ftp://example.com/data", true},
		{"javascript:alert(1)", true},
		{"http:///nohost", true},
		{"http://127.0.0.1/admin", true},
		{"http://10.0.0.1/internal", true},
		{"http://[::1]/api", true},
		{"http://0.0.0.0:8080/", true},
	}
	for _, tt := range tests {
		err := ValidateURL(tt.url)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateURL(%q) error=%v, wantErr=%v", tt.url, err, tt.wantErr)
		}
	}
}

func TestValidateURLSyntax_AllowsLoopback(t *testing.T) {
	if err := ValidateURLSyntax("http://127.0.0.1:9000/v1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := ValidateURLSyntax("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("err = %v, want ErrUnsafeScheme", err)
	}
}

func TestLimitedReadAll(t *testing.T) {
	data := strings.Repeat("x", 100)
	got, err := LimitedReadAll(strings.NewReader(data), 100)
	if err != nil || len(got) != 100 {
		t.Fatalf("got %d bytes, err %v", len(got), err)
	}
	if _, err := LimitedReadAll(strings.NewReader(data), 50); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip      string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.0.1", true},
		{"100.64.0.1", true},
		{"8.8.8.8", false},
		{"::1", true},
		{"2606:4700::1111", false},
	}
	for _, tt := range tests {
		if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.private {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.private)
		}
	}
}
