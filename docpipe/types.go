package docpipe

import (
	"html"
	"strings"
)

// Spacing holds paragraph spacing in twentieths of a point.
// A nil field inherits the value from the style chain.
type Spacing struct {
	Before *int `json:"before,omitempty"`
	After  *int `json:"after,omitempty"`
	Line   *int `json:"line,omitempty"`
}

// Indent holds paragraph indentation in twentieths of a point.
type Indent struct {
	Left      *int `json:"left,omitempty"`
	Hanging   *int `json:"hanging,omitempty"`
	FirstLine *int `json:"first_line,omitempty"`
}

// Numbering references a list definition in word/numbering.xml.
type Numbering struct {
	NumID *string `json:"num_id,omitempty"`
	Level int     `json:"level"`
}

// ParagraphStyle is the formatting vocabulary shared by extraction, chunking
// and rendering. Absent fields mean "inherit", never zero.
type ParagraphStyle struct {
	StyleID   *string    `json:"style_id,omitempty"`
	Spacing   Spacing    `json:"spacing"`
	Indent    Indent     `json:"indent"`
	Numbering *Numbering `json:"numbering,omitempty"`
}

// IsZero reports whether no field of the style is set.
func (s ParagraphStyle) IsZero() bool {
	return s.StyleID == nil && s.Numbering == nil &&
		s.Spacing.Before == nil && s.Spacing.After == nil && s.Spacing.Line == nil &&
		s.Indent.Left == nil && s.Indent.Hanging == nil && s.Indent.FirstLine == nil
}

// Clone returns a deep copy so callers never alias another block's pointers.
func (s ParagraphStyle) Clone() ParagraphStyle {
	out := ParagraphStyle{
		StyleID: cloneString(s.StyleID),
		Spacing: Spacing{
			Before: cloneInt(s.Spacing.Before),
			After:  cloneInt(s.Spacing.After),
			Line:   cloneInt(s.Spacing.Line),
		},
		Indent: Indent{
			Left:      cloneInt(s.Indent.Left),
			Hanging:   cloneInt(s.Indent.Hanging),
			FirstLine: cloneInt(s.Indent.FirstLine),
		},
	}
	if s.Numbering != nil {
		out.Numbering = &Numbering{NumID: cloneString(s.Numbering.NumID), Level: s.Numbering.Level}
	}
	return out
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// BlockKind tags a BlockNode.
type BlockKind string

const (
	KindParagraph BlockKind = "paragraph"
	KindHeading   BlockKind = "heading"
	KindListItem  BlockKind = "list_item"
	KindTable     BlockKind = "table"
)

// BlockNode is one paragraph-like block or one table, in document order.
// Paragraph fields (HTML, Text, Style, Level) are empty for tables; Rows is
// empty for everything else.
type BlockNode struct {
	Kind    BlockKind      `json:"kind"`
	Ordinal int            `json:"ordinal"`
	Page    int            `json:"page"`
	HTML    string         `json:"html,omitempty"`
	Text    string         `json:"text,omitempty"`
	Style   ParagraphStyle `json:"style"`
	Level   int            `json:"level,omitempty"` // heading level 1-3
	Rows    [][]string     `json:"rows,omitempty"`
}

// IsTable reports whether the block is a table.
func (b BlockNode) IsTable() bool { return b.Kind == KindTable }

// PlainText returns the block text; table cells are joined by spaces.
func (b BlockNode) PlainText() string {
	if !b.IsTable() {
		return b.Text
	}
	var out []byte
	for _, row := range b.Rows {
		for _, cell := range row {
			if cell == "" {
				continue
			}
			if len(out) > 0 {
				out = append(out, ' ')
			}
			out = append(out, cell...)
		}
	}
	return string(out)
}

// Markup returns the block as an HTML fragment. Tables are rendered as
// plain-text cells.
func (b BlockNode) Markup() string {
	if !b.IsTable() {
		return b.HTML
	}
	var sb strings.Builder
	sb.WriteString("<table>")
	for _, row := range b.Rows {
		sb.WriteString("<tr>")
		for _, cell := range row {
			sb.WriteString("<td>")
			sb.WriteString(html.EscapeString(cell))
			sb.WriteString("</td>")
		}
		sb.WriteString("</tr>")
	}
	sb.WriteString("</table>")
	return sb.String()
}

// Margins are section margins in twentieths of a point.
type Margins struct {
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
	Left   int `json:"left"`
}

// DefaultMargins is one inch on every side.
var DefaultMargins = Margins{Top: 1440, Right: 1440, Bottom: 1440, Left: 1440}

// DocumentTemplate is the formatting captured from a source package. Style,
// numbering, header and footer parts are kept verbatim and never reinterpreted.
type DocumentTemplate struct {
	SectionMargins Margins           `json:"section_margins"`
	HasMargins     bool              `json:"has_margins"`
	Styles         []byte            `json:"styles,omitempty"`
	Numbering      []byte            `json:"numbering,omitempty"`
	Headers        map[string][]byte `json:"headers,omitempty"`
	Footers        map[string][]byte `json:"footers,omitempty"`
}

// Document is the result of extracting a package.
type Document struct {
	Path        string           `json:"path,omitempty"`
	Fingerprint string           `json:"fingerprint"`
	Title       string           `json:"title"`
	Template    DocumentTemplate `json:"template"`
	Blocks      []BlockNode      `json:"blocks"`
	RawText     string           `json:"raw_text"`
}
