package render

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type blockKind int

const (
	blockParagraph blockKind = iota
	blockHeading
	blockListItem
	blockTable
)

// run is a span of text sharing one set of inline flags. A run with Break set
// carries no text and renders as a line break.
type run struct {
	Text      string
	Bold      bool
	Italic    bool
	Underline bool
	Break     bool
}

// block is one entry of the restricted model the serializer understands.
type block struct {
	Kind    blockKind
	Level   int // heading level 1-3 or list nesting depth from 0
	Ordered bool
	Runs    []run
	Rows    [][]string
}

const maxListDepth = 8

type inlineFlags struct{ bold, italic, underline bool }

// parseBlocks turns sanitized markup into blocks. Anything outside the known
// structure becomes paragraphs split on blank lines.
func parseBlocks(markup string) ([]block, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, err
	}
	b := &builder{}
	for _, n := range nodes {
		b.node(n)
	}
	b.flushLoose()
	return b.blocks, nil
}

type builder struct {
	blocks []block
	loose  []run // inline content found outside any block element
}

func (b *builder) node(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.loose = append(b.loose, run{Text: n.Data})
		return
	case html.ElementNode:
	default:
		return
	}

	switch n.DataAtom {
	case atom.H1, atom.H2, atom.H3:
		b.flushLoose()
		level := int(n.Data[1] - '0')
		b.add(block{Kind: blockHeading, Level: level, Runs: inlineRuns(n, inlineFlags{})})
	case atom.P, atom.H4, atom.H5, atom.H6:
		b.flushLoose()
		b.add(block{Kind: blockParagraph, Runs: inlineRuns(n, inlineFlags{})})
	case atom.Ul, atom.Ol:
		b.flushLoose()
		b.list(n, n.DataAtom == atom.Ol, 0)
	case atom.Table:
		b.flushLoose()
		if rows := tableRows(n); len(rows) > 0 {
			b.blocks = append(b.blocks, block{Kind: blockTable, Rows: rows})
		}
	case atom.Br:
		b.loose = append(b.loose, run{Break: true})
	case atom.Strong, atom.B, atom.Em, atom.I, atom.U, atom.A:
		b.loose = append(b.loose, inlineRuns(n, flagsFor(n.DataAtom, inlineFlags{}))...)
	case atom.Li:
		// A list item outside a list is a bullet at the top level.
		b.flushLoose()
		b.add(block{Kind: blockListItem, Runs: inlineRuns(n, inlineFlags{})})
	default:
		// div, blockquote, tbody and any other container: descend.
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			b.node(c)
		}
	}
}

// add appends a block, skipping ones without visible text.
func (b *builder) add(bl block) {
	if !hasText(bl.Runs) {
		return
	}
	bl.Runs = trimRuns(bl.Runs)
	b.blocks = append(b.blocks, bl)
}

func (b *builder) list(n *html.Node, ordered bool, depth int) {
	if depth >= maxListDepth {
		depth = maxListDepth - 1
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			// Stray text between items becomes its own paragraph.
			b.node(c)
			continue
		}
		switch c.DataAtom {
		case atom.Li:
			b.flushLoose()
			// Nested lists inside the item become deeper items after it.
			var nested []*html.Node
			item := &html.Node{Type: html.ElementNode, Data: "li", DataAtom: atom.Li}
			for gc := c.FirstChild; gc != nil; {
				next := gc.NextSibling
				if gc.Type == html.ElementNode && (gc.DataAtom == atom.Ul || gc.DataAtom == atom.Ol) {
					nested = append(nested, gc)
				} else {
					c.RemoveChild(gc)
					item.AppendChild(gc)
				}
				gc = next
			}
			b.add(block{Kind: blockListItem, Level: depth, Ordered: ordered, Runs: inlineRuns(item, inlineFlags{})})
			for _, sub := range nested {
				b.list(sub, sub.DataAtom == atom.Ol, depth+1)
			}
		case atom.Ul, atom.Ol:
			b.flushLoose()
			b.list(c, c.DataAtom == atom.Ol, depth+1)
		default:
			// p, blockquote, inline tags: handled as outside any list.
			b.node(c)
		}
	}
	b.flushLoose()
}

// flushLoose turns stray inline content into paragraphs, one per blank-line
// separated section.
func (b *builder) flushLoose() {
	if len(b.loose) == 0 {
		return
	}
	var para []run
	emit := func() {
		b.add(block{Kind: blockParagraph, Runs: para})
		para = nil
	}
	for _, r := range b.loose {
		if r.Break {
			para = append(para, r)
			continue
		}
		parts := strings.Split(strings.ReplaceAll(r.Text, "\r\n", "\n"), "\n\n")
		for i, p := range parts {
			if i > 0 {
				emit()
			}
			if p != "" {
				cp := r
				cp.Text = p
				para = append(para, cp)
			}
		}
	}
	emit()
	b.loose = nil
}

// inlineRuns flattens the inline content of n. Block-level children are read
// for their text only.
func inlineRuns(n *html.Node, f inlineFlags) []run {
	var out []run
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			out = append(out, run{Text: c.Data, Bold: f.bold, Italic: f.italic, Underline: f.underline})
		case html.ElementNode:
			if c.DataAtom == atom.Br {
				out = append(out, run{Break: true})
				continue
			}
			out = append(out, inlineRuns(c, flagsFor(c.DataAtom, f))...)
		}
	}
	return out
}

func flagsFor(a atom.Atom, f inlineFlags) inlineFlags {
	switch a {
	case atom.Strong, atom.B:
		f.bold = true
	case atom.Em, atom.I:
		f.italic = true
	case atom.U:
		f.underline = true
	}
	return f
}

func tableRows(n *html.Node) [][]string {
	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if c.DataAtom == atom.Tr {
				var row []string
				for cell := c.FirstChild; cell != nil; cell = cell.NextSibling {
					if cell.Type == html.ElementNode && (cell.DataAtom == atom.Td || cell.DataAtom == atom.Th) {
						row = append(row, strings.Join(strings.Fields(textContent(cell)), " "))
					}
				}
				if len(row) > 0 {
					rows = append(rows, row)
				}
				continue
			}
			walk(c)
		}
	}
	walk(n)
	return rows
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
			if c.Type == html.ElementNode && c.DataAtom == atom.Br {
				sb.WriteByte(' ')
			}
		}
	}
	walk(n)
	return sb.String()
}

func hasText(runs []run) bool {
	for _, r := range runs {
		if strings.TrimSpace(r.Text) != "" {
			return true
		}
	}
	return false
}

// trimRuns drops leading and trailing breaks and outer whitespace.
func trimRuns(runs []run) []run {
	for len(runs) > 0 && (runs[0].Break || strings.TrimSpace(runs[0].Text) == "") {
		runs = runs[1:]
	}
	for len(runs) > 0 && (runs[len(runs)-1].Break || strings.TrimSpace(runs[len(runs)-1].Text) == "") {
		runs = runs[:len(runs)-1]
	}
	if len(runs) == 0 {
		return nil
	}
	out := make([]run, len(runs))
	copy(out, runs)
	out[0].Text = strings.TrimLeft(out[0].Text, " \t\r\n")
	out[len(out)-1].Text = strings.TrimRight(out[len(out)-1].Text, " \t\r\n")
	return out
}
