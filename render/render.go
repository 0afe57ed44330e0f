// Package render serializes sanitized markup into a .docx package.
//
// Markup is reduced to headings (levels 1-3), paragraphs, bulleted and
// numbered list items and plain-text tables, then written as a minimal
// package: content types, relationships, body, styles and numbering. The body
// is parsed back before packaging. If that check fails, or the package comes
// out implausibly small, a plain-paragraph package is built instead through a
// separate code path, so Serialize always returns a usable package.
//
// Usage:
//
//	r := render.New(render.Config{})
//	data := r.Serialize(sanitize.Sanitize(markup), &doc.Template)
package render

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/sanitize"
)

// DefaultMinPackageSize is the smallest package accepted as plausible.
const DefaultMinPackageSize = 1024

// Config configures the renderer.
type Config struct {
	// MinPackageSize is the smallest acceptable package in bytes (default: 1024).
	MinPackageSize int `json:"min_package_size" yaml:"min_package_size"`

	// Logger for fallback warnings.
	Logger *slog.Logger `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MinPackageSize <= 0 {
		c.MinPackageSize = DefaultMinPackageSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Result describes one serialization.
type Result struct {
	Package  []byte `json:"package"`
	Fallback bool   `json:"fallback"`
	Reason   string `json:"reason,omitempty"`
	Blocks   int    `json:"blocks"`
}

// Renderer turns sanitized markup into packages. It holds no per-call state
// and is safe for concurrent use.
type Renderer struct {
	cfg    Config
	logger *slog.Logger

	// mutateBody, when set, rewrites the body XML before validation.
	mutateBody func(string) string
}

// New creates a Renderer.
func New(cfg Config) *Renderer {
	cfg.defaults()
	return &Renderer{cfg: cfg, logger: cfg.Logger}
}

// MinPackageSize returns the configured plausibility threshold.
func (r *Renderer) MinPackageSize() int { return r.cfg.MinPackageSize }

var defaultRenderer = New(Config{})

// Serialize renders markup with the default renderer.
func Serialize(markup sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) []byte {
	return defaultRenderer.Serialize(markup, tpl)
}

// Serialize renders markup into package bytes. tpl may be nil.
func (r *Renderer) Serialize(markup sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) []byte {
	return r.Render(markup, tpl).Package
}

// Render is Serialize with the outcome details.
func (r *Renderer) Render(markup sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate) Result {
	margins := docpipe.DefaultMargins
	if tpl != nil && tpl.SectionMargins != (docpipe.Margins{}) {
		margins = tpl.SectionMargins
	}

	data, n, err := r.build(markup, tpl, margins)
	if err == nil && len(data) < r.cfg.MinPackageSize {
		err = fmt.Errorf("package too small: %d bytes (min %d)", len(data), r.cfg.MinPackageSize)
	}
	if err == nil {
		return Result{Package: data, Blocks: n}
	}

	r.logger.Warn("render: falling back to plain paragraphs", "reason", err.Error())
	return Result{
		Package:  FallbackMarkup(markup, margins),
		Fallback: true,
		Reason:   err.Error(),
	}
}

// build is the main path. Any error sends the caller to Fallback.
func (r *Renderer) build(markup sanitize.SanitizedMarkup, tpl *docpipe.DocumentTemplate, margins docpipe.Margins) (data []byte, n int, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("render panic: %v", p)
		}
	}()

	blocks, err := parseBlocks(string(markup))
	if err != nil {
		return nil, 0, fmt.Errorf("parse markup: %w", err)
	}

	attached, attachedData := templateParts(tpl)
	body := writeBody(blocks, margins, attached)
	if r.mutateBody != nil {
		body = r.mutateBody(body)
	}
	if err := validateBody(body); err != nil {
		return nil, 0, err
	}

	styles := []byte(stylesXML)
	if tpl != nil && wellFormed(tpl.Styles) {
		styles = tpl.Styles
	}

	c := docpipe.NewContainer()
	c.Put("[Content_Types].xml", []byte(contentTypes(attached)))
	c.Put("_rels/.rels", []byte(rootRels))
	c.Put("word/_rels/document.xml.rels", []byte(documentRels(attached)))
	c.Put("word/document.xml", []byte(body))
	c.Put("word/styles.xml", styles)
	c.Put("word/numbering.xml", []byte(numberingXML))
	for _, p := range attached {
		c.Put(p.name, attachedData[p.name])
	}

	data, err = c.Finalize()
	if err != nil {
		return nil, 0, fmt.Errorf("finalize: %w", err)
	}
	return data, len(blocks), nil
}

var errNoRoot = errors.New("body has no w:document root")

// validateBody parses the body back with a generic XML decoder.
func validateBody(body string) error {
	dec := xml.NewDecoder(bytes.NewReader([]byte(body)))
	first := true
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			if first {
				return errNoRoot
			}
			return nil
		}
		if err != nil {
			return fmt.Errorf("invalid body xml: %w", err)
		}
		if se, ok := tok.(xml.StartElement); ok && first {
			if se.Name.Local != "document" || se.Name.Space != nsW {
				return errNoRoot
			}
			first = false
		}
	}
}
