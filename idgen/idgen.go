// Package idgen generates identifiers for chunks, drafts and pipeline events.
//
// Every id is a UUID v7 (time-sortable) behind a short type prefix, so a
// value found in a log line or a database row names its own kind.
package idgen

import (
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// Prefixes used across docforge.
const (
	PrefixChunk = "chk_"
	PrefixDraft = "drf_"
	PrefixEvent = "evt_"
	PrefixBlob  = "blb_"
)

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// NanoID returns a Generator of base-36 ids of the given length.
func NanoID(length int) Generator {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// Prefixed wraps a Generator and prepends prefix to every id.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is the generator behind New and the typed helpers.
var Default Generator = UUIDv7()

// New produces an unprefixed id.
func New() string {
	return Default()
}

func Chunk() string { return PrefixChunk + Default() }
func Draft() string { return PrefixDraft + Default() }
func Event() string { return PrefixEvent + Default() }
func Blob() string  { return PrefixBlob + Default() }

// Parse checks that s is a UUID, optionally behind one of the known
// prefixes, and returns it unchanged.
func Parse(s string) (string, error) {
	raw := s
	for _, p := range []string{PrefixChunk, PrefixDraft, PrefixEvent, PrefixBlob} {
		if strings.HasPrefix(s, p) {
			raw = s[len(p):]
			break
		}
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
