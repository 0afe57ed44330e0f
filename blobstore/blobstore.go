// Package blobstore keeps rendered packages and uploaded sources under
// caller-chosen or generated keys.
//
// Store is the narrow contract the drafting service needs; FS is the
// filesystem implementation. Keys are validated and resolved under the root
// directory, and writes are atomic (temp file then rename), so readers never
// see a partial package.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hazyhaar/docforge/horosafe"
	"github.com/hazyhaar/docforge/idgen"
)

// ErrNotFound is returned by Get for unknown keys.
var ErrNotFound = errors.New("blobstore: not found")

// Store is an object store.
type Store interface {
	// Get returns the bytes stored under key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores data under key and returns the key. An empty key is
	// replaced by a generated one.
	Put(ctx context.Context, data []byte, key string) (string, error)
}

// FS stores blobs as files under a root directory.
type FS struct {
	root string
	ext  string
}

// NewFS creates a filesystem store rooted at dir. Generated keys end with
// ext (for example ".docx"). The directory is created if needed.
func NewFS(dir, ext string) (*FS, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: mkdir %s: %w", dir, err)
	}
	return &FS{root: dir, ext: ext}, nil
}

func (s *FS) path(key string) (string, error) {
	if err := horosafe.ValidateKey(key); err != nil {
		return "", fmt.Errorf("blobstore: %w", err)
	}
	p, err := horosafe.SafePath(s.root, key)
	if err != nil {
		return "", fmt.Errorf("blobstore: %w", err)
	}
	return p, nil
}

// Get implements Store.
func (s *FS) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return data, nil
}

// Put implements Store.
func (s *FS) Put(ctx context.Context, data []byte, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if key == "" {
		key = idgen.Blob() + s.ext
	}
	p, err := s.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", fmt.Errorf("blobstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p), ".put-*")
	if err != nil {
		return "", fmt.Errorf("blobstore: temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blobstore: write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blobstore: close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("blobstore: rename %s: %w", key, err)
	}
	return key, nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *FS) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}
