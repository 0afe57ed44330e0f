// Package docpipe extracts ordered, styled blocks from word-processing
// packages (.docx) and captures their formatting template for reuse.
//
// The package is opened as a named-part container; word/document.xml is
// walked once, left to right, so block order always matches source order.
// Paragraph properties (style id, spacing, indentation, numbering) travel with
// each block, inline bold/italic/underline runs become HTML, headings and list
// items are tagged, and tables are reduced to row-major cell text.
//
// Usage:
//
//	pipe := docpipe.New(docpipe.Config{})
//	doc, err := pipe.Extract(ctx, "/path/to/file.docx")
//	fmt.Println(doc.Title, len(doc.Blocks), "blocks")
package docpipe

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/blake2b"
)

// FormatDocx is the only package format handled.
const FormatDocx = "docx"

// Pipeline is the document extraction engine.
type Pipeline struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Pipeline with the given configuration.
func New(cfg Config) *Pipeline {
	cfg.defaults()
	return &Pipeline{
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Detect returns the document format based on file extension.
func (p *Pipeline) Detect(path string) (string, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".docx" {
		return "", fmt.Errorf("unsupported format: %q", ext)
	}
	return FormatDocx, nil
}

// Extract reads a .docx file from disk and extracts it.
func (p *Pipeline) Extract(ctx context.Context, path string) (*Document, error) {
	if _, err := p.Detect(path); err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), p.cfg.MaxFileSize)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := p.ExtractBytes(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}
	doc.Path = path
	return doc, nil
}

// ExtractBytes extracts an in-memory package.
func (p *Pipeline) ExtractBytes(ctx context.Context, data []byte) (*Document, error) {
	if int64(len(data)) > p.cfg.MaxFileSize {
		return nil, fmt.Errorf("package too large: %d bytes (max %d)", len(data), p.cfg.MaxFileSize)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := OpenContainer(data, p.cfg.MaxPartSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPackage, err)
	}
	tpl, blocks, err := ExtractPackage(c, p.cfg.MaxDepth)
	if err != nil {
		return nil, err
	}

	p.logger.DebugContext(ctx, "package extracted",
		"blocks", len(blocks), "parts", len(c.Names()), "margins_found", tpl.HasMargins)

	return &Document{
		Fingerprint: Fingerprint(data),
		Title:       documentTitle(blocks),
		Template:    tpl,
		Blocks:      blocks,
		RawText:     rawText(blocks),
	}, nil
}

// Fingerprint identifies a source package by content. Templates are persisted
// under this key so repeated drafts against the same source reuse them.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

func documentTitle(blocks []BlockNode) string {
	for _, b := range blocks {
		if b.Kind == KindHeading {
			return b.Text
		}
	}
	for _, b := range blocks {
		if !b.IsTable() {
			return firstLine(b.Text)
		}
	}
	return ""
}

func rawText(blocks []BlockNode) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(b.PlainText())
	}
	return sb.String()
}

// maxTitleBytes bounds a derived title; cuts fall on a rune boundary.
const maxTitleBytes = 200

func firstLine(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	if len(text) > maxTitleBytes {
		n := maxTitleBytes
		for n > 0 && !utf8.RuneStart(text[n]) {
			n--
		}
		text = text[:n]
	}
	return text
}

// SupportedFormats returns all supported format extensions.
func SupportedFormats() []string {
	return []string{FormatDocx}
}
