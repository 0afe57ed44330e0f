// Package chunk groups extracted blocks into overlapping windows suitable for
// retrieval and as generation context.
//
// Splitting strategy:
//  1. Walk blocks in document order, accumulating HTML, plain text and a word count
//  2. Close the window once the count reaches WordLimit (blocks are never split)
//  3. Seed the next window's plain text with the last Overlap words of the
//     closed one; HTML restarts empty at every boundary
//  4. Emit the trailing window if it gained any block text
//
// The merged style of a chunk is first-seen-wins per field: each field takes
// the first non-nil value among the chunk's blocks, in order. A chunk that
// spans a style change keeps the style of its opening blocks.
package chunk

import (
	"strings"

	"github.com/hazyhaar/docforge/docpipe"
)

// Options configures the chunking behaviour. The zero Options means
// DefaultOptions.
type Options struct {
	// WordLimit is the word count at which a chunk is closed. Default: 250.
	WordLimit int `json:"word_limit" yaml:"word_limit"`
	// Overlap is the number of trailing words carried into the next chunk.
	// Zero disables overlap. Capped at WordLimit-1.
	Overlap int `json:"overlap" yaml:"overlap"`
}

// DefaultOptions returns 250-word chunks with a 40-word overlap.
func DefaultOptions() Options { return Options{WordLimit: 250, Overlap: 40} }

func (o *Options) defaults() {
	if *o == (Options{}) {
		*o = DefaultOptions()
		return
	}
	if o.WordLimit <= 0 {
		o.WordLimit = 250
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.WordLimit {
		o.Overlap = o.WordLimit - 1
	}
}

// Chunk is one retrievable window. It owns copies of its blocks' text and
// style; nothing in it aliases the source blocks.
type Chunk struct {
	Index       int                    `json:"index"`       // 0-based position in the sequence
	SourcePage  int                    `json:"source_page"` // page of the first block
	HTML        string                 `json:"html"`
	RawText     string                 `json:"raw_text"`
	WordCount   int                    `json:"word_count"`
	OverlapPrev int                    `json:"overlap_prev"` // seed words carried from the previous chunk
	MergedStyle docpipe.ParagraphStyle `json:"merged_style"`
}

// window is the chunk under construction.
type window struct {
	html     strings.Builder
	words    []string
	seed     int
	page     int
	hasBlock bool
	style    docpipe.ParagraphStyle
}

// Split divides blocks into overlapping chunks. The template is accepted so
// callers can pass extraction output straight through; chunking does not read it.
func Split(_ docpipe.DocumentTemplate, blocks []docpipe.BlockNode, opts Options) []Chunk {
	opts.defaults()

	var chunks []Chunk
	w := &window{}

	for _, b := range blocks {
		words := strings.Fields(b.PlainText())
		if len(words) == 0 {
			continue
		}
		if !w.hasBlock {
			w.page = b.Page
			w.hasBlock = true
		}
		w.html.WriteString(b.Markup())
		w.words = append(w.words, words...)
		mergeFirstSeen(&w.style, b.Style)

		if len(w.words) >= opts.WordLimit {
			chunks = append(chunks, w.close(len(chunks)))
			w = seeded(chunks[len(chunks)-1], opts.Overlap)
		}
	}

	if w.hasBlock {
		chunks = append(chunks, w.close(len(chunks)))
	}
	return chunks
}

func (w *window) close(index int) Chunk {
	page := w.page
	if page <= 0 {
		page = 1
	}
	return Chunk{
		Index:       index,
		SourcePage:  page,
		HTML:        w.html.String(),
		RawText:     strings.Join(w.words, " "),
		WordCount:   len(w.words),
		OverlapPrev: w.seed,
		MergedStyle: w.style.Clone(),
	}
}

// seeded starts a window whose text begins with the last n words of prev.
func seeded(prev Chunk, n int) *window {
	words := strings.Fields(prev.RawText)
	if n > len(words) {
		n = len(words)
	}
	seed := make([]string, n)
	copy(seed, words[len(words)-n:])
	return &window{words: seed, seed: n}
}

// mergeFirstSeen fills every nil field of dst from src.
func mergeFirstSeen(dst *docpipe.ParagraphStyle, src docpipe.ParagraphStyle) {
	if dst.StyleID == nil {
		dst.StyleID = src.StyleID
	}
	if dst.Spacing.Before == nil {
		dst.Spacing.Before = src.Spacing.Before
	}
	if dst.Spacing.After == nil {
		dst.Spacing.After = src.Spacing.After
	}
	if dst.Spacing.Line == nil {
		dst.Spacing.Line = src.Spacing.Line
	}
	if dst.Indent.Left == nil {
		dst.Indent.Left = src.Indent.Left
	}
	if dst.Indent.Hanging == nil {
		dst.Indent.Hanging = src.Indent.Hanging
	}
	if dst.Indent.FirstLine == nil {
		dst.Indent.FirstLine = src.Indent.FirstLine
	}
	if dst.Numbering == nil {
		dst.Numbering = src.Numbering
	}
}

// CountWords returns the number of whitespace-separated words in text.
func CountWords(text string) int {
	return len(strings.Fields(text))
}
