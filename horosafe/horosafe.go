// Package horosafe holds the input guards docforge applies at its edges:
// storage keys and paths, outbound URLs, and bounded reads of remote bodies.
package horosafe

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"path/filepath"
	"strings"
)

// MaxResponseBody is the default cap for HTTP response body reads (1 MiB).
const MaxResponseBody int64 = 1 << 20

// MaxKeyLen bounds storage keys and document fingerprints.
const MaxKeyLen = 256

var (
	ErrPathTraversal = errors.New("horosafe: path traversal detected")
	ErrSSRF          = errors.New("horosafe: URL targets a private or loopback address")
	ErrUnsafeScheme  = errors.New("horosafe: only http and https schemes are allowed")
	ErrTooLarge      = errors.New("horosafe: body exceeds limit")
	ErrInvalidKey    = errors.New("horosafe: invalid key")
)

// SafePath joins base and key, rejecting any key that would escape base.
func SafePath(base, key string) (string, error) {
	if strings.Contains(key, "..") {
		return "", ErrPathTraversal
	}
	cleanBase := filepath.Clean(base)
	joined := filepath.Join(cleanBase, filepath.Clean("/"+key))
	if joined != cleanBase && !strings.HasPrefix(joined, cleanBase+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return joined, nil
}

// ValidateKey accepts keys made of ASCII letters, digits, '_', '-', '.' and
// '/' separators between non-empty segments.
func ValidateKey(s string) error {
	if s == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}
	if len(s) > MaxKeyLen {
		return fmt.Errorf("%w: longer than %d", ErrInvalidKey, MaxKeyLen)
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: segment %q", ErrInvalidKey, seg)
		}
		for _, r := range seg {
			if !isKeyChar(r) {
				return fmt.Errorf("%w: character %q", ErrInvalidKey, r)
			}
		}
	}
	return nil
}

// ValidateURL checks that rawURL is http(s), has a host, and does not point
// at a private or loopback address. Hostnames are resolved so internal names
// are caught too; a failed lookup is let through and will fail on connect.
func ValidateURL(rawURL string) error {
	host, err := urlHost(rawURL)
	if err != nil {
		return err
	}
	if ip := net.ParseIP(host); ip != nil {
		if isPrivateIP(ip) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil && isPrivateIP(ip) {
			return ErrSSRF
		}
	}
	return nil
}

// ValidateURLSyntax is ValidateURL without the address checks, for operators
// that deliberately point collaborators at local services.
func ValidateURLSyntax(rawURL string) error {
	_, err := urlHost(rawURL)
	return err
}

func urlHost(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", ErrUnsafeScheme
	}
	host := u.Hostname()
	if host == "" {
		return "", fmt.Errorf("horosafe: URL has no host")
	}
	return host, nil
}

// LimitedReadAll reads at most maxBytes from r and fails with ErrTooLarge
// beyond that.
func LimitedReadAll(r io.Reader, maxBytes int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, maxBytes)
	}
	return data, nil
}

func isKeyChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}

var privateNets = func() []*net.IPNet {
	var out []*net.IPNet
	for _, cidr := range []string{
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"fc00::/7",
		"::1/128",
	} {
		_, n, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(err)
		}
		out = append(out, n)
	}
	return out
}()

func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
		return true
	}
	for _, n := range privateNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
