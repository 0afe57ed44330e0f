package docpipe

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

// Container is a named-part package. Extraction reads parts from it and the
// renderer writes parts into it; neither depends on the archive format.
type Container interface {
	Get(name string) ([]byte, bool)
	Put(name string, data []byte)
	Names() []string
	Finalize() ([]byte, error)
}

// zipContainer keeps parts in memory in insertion order and writes them as a
// ZIP archive on Finalize.
type zipContainer struct {
	order []string
	parts map[string][]byte
}

// NewContainer returns an empty container.
func NewContainer() Container {
	return &zipContainer{parts: make(map[string][]byte)}
}

// OpenContainer reads every part of a ZIP package into memory. A part whose
// decompressed size exceeds maxPart is rejected (zip bomb guard); maxPart <= 0
// disables the check.
func OpenContainer(data []byte, maxPart int64) (Container, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	c := &zipContainer{parts: make(map[string][]byte, len(zr.File))}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if maxPart > 0 && f.UncompressedSize64 > uint64(maxPart) {
			return nil, fmt.Errorf("part %s: %d bytes exceeds limit %d", f.Name, f.UncompressedSize64, maxPart)
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("open part %s: %w", f.Name, err)
		}
		var r io.Reader = rc
		if maxPart > 0 {
			r = io.LimitReader(rc, maxPart+1)
		}
		b, err := io.ReadAll(r)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("read part %s: %w", f.Name, err)
		}
		if maxPart > 0 && int64(len(b)) > maxPart {
			return nil, fmt.Errorf("part %s exceeds limit %d", f.Name, maxPart)
		}
		c.Put(f.Name, b)
	}
	return c, nil
}

func (c *zipContainer) Get(name string) ([]byte, bool) {
	b, ok := c.parts[name]
	return b, ok
}

func (c *zipContainer) Put(name string, data []byte) {
	if _, exists := c.parts[name]; !exists {
		c.order = append(c.order, name)
	}
	c.parts[name] = data
}

func (c *zipContainer) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

func (c *zipContainer) Finalize() ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range c.order {
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
		if _, err := w.Write(c.parts[name]); err != nil {
			return nil, fmt.Errorf("write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close zip: %w", err)
	}
	return buf.Bytes(), nil
}
