package docpipe

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"
)

// ErrMalformedPackage is returned when the body part is missing or is not XML.
var ErrMalformedPackage = errors.New("docpipe: malformed package")

const bodyPart = "word/document.xml"

const (
	nsWord = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsMC   = "http://schemas.openxmlformats.org/markup-compatibility/2006"
)

// ExtractPackage linearizes the body of a DOCX package into ordered blocks and
// captures the formatting template. Only a missing or unparsable body fails.
func ExtractPackage(c Container, maxDepth int) (DocumentTemplate, []BlockNode, error) {
	body, ok := c.Get(bodyPart)
	if !ok {
		return DocumentTemplate{}, nil, fmt.Errorf("%w: %s not found in archive", ErrMalformedPackage, bodyPart)
	}

	tpl := captureTemplate(c)
	w := newBodyWalker(maxDepth)
	if err := w.walk(body); err != nil {
		return DocumentTemplate{}, nil, err
	}
	if w.sawMargins {
		tpl.SectionMargins = w.margins
		tpl.HasMargins = true
	} else {
		tpl.SectionMargins = DefaultMargins
	}
	return tpl, w.blocks, nil
}

// captureTemplate copies the global style, numbering, header and footer parts.
func captureTemplate(c Container) DocumentTemplate {
	var tpl DocumentTemplate
	if b, ok := c.Get("word/styles.xml"); ok {
		tpl.Styles = b
	}
	if b, ok := c.Get("word/numbering.xml"); ok {
		tpl.Numbering = b
	}
	for _, name := range c.Names() {
		if !strings.HasPrefix(name, "word/") || !strings.HasSuffix(name, ".xml") {
			continue
		}
		base := strings.TrimPrefix(name, "word/")
		if strings.Contains(base, "/") {
			continue
		}
		b, _ := c.Get(name)
		switch {
		case strings.HasPrefix(base, "header"):
			if tpl.Headers == nil {
				tpl.Headers = make(map[string][]byte)
			}
			tpl.Headers[name] = b
		case strings.HasPrefix(base, "footer"):
			if tpl.Footers == nil {
				tpl.Footers = make(map[string][]byte)
			}
			tpl.Footers[name] = b
		}
	}
	return tpl
}

// bodyWalker is the state of the single left-to-right pass over the body.
type bodyWalker struct {
	maxDepth int
	depth    int
	page     int
	blocks   []BlockNode

	// skipTo is the depth of an mc:Fallback being skipped; its mc:Choice
	// sibling carries the same content.
	skipTo int

	// outer holds the paragraphs interrupted by a nested one (text boxes);
	// nested blocks wait in deferred until the outermost paragraph closes.
	outer    []paraFrame
	deferred []BlockNode

	// paragraph state
	inPara   bool
	inPPr    bool
	inNumPr  bool
	style    ParagraphStyle
	paraHTML strings.Builder
	paraText strings.Builder

	// run state
	inRun                  bool
	inRPr                  bool
	inText                 bool
	bold, italic, underlin bool
	runText                strings.Builder

	// table state
	tableDepth int
	rows       [][]string
	row        []string
	cell       strings.Builder
	inCell     bool

	// section state
	inSectPr   bool
	margins    Margins
	sawMargins bool
}

// paraFrame is the saved state of an interrupted paragraph and its open run.
type paraFrame struct {
	inPPr, inNumPr          bool
	style                   ParagraphStyle
	html, text              string
	inRun, inRPr            bool
	bold, italic, underline bool
	runText                 string
	table                   bool // interrupted by a table rather than a paragraph
}

// wordName reports whether n belongs to WordprocessingML. Unbound "w"
// prefixes are accepted; DrawingML and VML elements are not.
func wordName(n xml.Name) bool {
	return n.Space == nsWord || n.Space == "" || n.Space == "w"
}

func newBodyWalker(maxDepth int) *bodyWalker {
	if maxDepth <= 0 {
		maxDepth = 256
	}
	return &bodyWalker{maxDepth: maxDepth, page: 1}
}

func (w *bodyWalker) walk(body []byte) error {
	dec := xml.NewDecoder(bytes.NewReader(body))
	sawRoot := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedPackage, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			sawRoot = true
			w.depth++
			if w.depth > w.maxDepth {
				return fmt.Errorf("%w: XML nesting depth exceeds %d", ErrMalformedPackage, w.maxDepth)
			}
			switch {
			case w.skipTo > 0:
			case t.Name.Space == nsMC && t.Name.Local == "Fallback":
				w.skipTo = w.depth
			case wordName(t.Name):
				w.start(t)
			}
		case xml.EndElement:
			switch {
			case w.skipTo > 0:
				if w.depth == w.skipTo {
					w.skipTo = 0
				}
			case wordName(t.Name):
				w.end(t)
			}
			w.depth--
		case xml.CharData:
			if w.inText && w.skipTo == 0 {
				w.runText.Write(t)
			}
		}
	}
	if !sawRoot {
		return fmt.Errorf("%w: empty body part", ErrMalformedPackage)
	}
	return nil
}

func (w *bodyWalker) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		w.tableDepth++
		if w.tableDepth == 1 {
			w.rows = nil
			if w.inPara {
				// A table inside a text box: it follows the paragraph.
				w.suspend()
				w.outer[len(w.outer)-1].table = true
				w.inPara = false
			}
		}
	case "tr":
		if w.tableDepth == 1 {
			w.row = nil
		}
	case "tc":
		if w.tableDepth == 1 {
			w.cell.Reset()
			w.inCell = true
		}
	case "p":
		if w.tableDepth > 0 {
			if w.cell.Len() > 0 {
				w.cell.WriteByte(' ')
			}
			return
		}
		if w.inPara {
			w.suspend()
		}
		w.inPara = true
		w.style = ParagraphStyle{}
		w.paraHTML.Reset()
		w.paraText.Reset()
	case "pPr":
		w.inPPr = w.inPara
	case "pageBreakBefore":
		if w.inPPr && onOff(t) {
			w.page++
		}
	case "pStyle":
		if w.inPPr {
			if v, ok := attr(t, "val"); ok {
				w.style.StyleID = &v
			}
		}
	case "spacing":
		if w.inPPr {
			w.style.Spacing.Before = intAttr(t, "before")
			w.style.Spacing.After = intAttr(t, "after")
			w.style.Spacing.Line = intAttr(t, "line")
		}
	case "ind":
		if w.inPPr {
			w.style.Indent.Left = intAttr(t, "left")
			if w.style.Indent.Left == nil {
				w.style.Indent.Left = intAttr(t, "start")
			}
			w.style.Indent.Hanging = intAttr(t, "hanging")
			w.style.Indent.FirstLine = intAttr(t, "firstLine")
		}
	case "numPr":
		if w.inPPr {
			w.inNumPr = true
			if w.style.Numbering == nil {
				w.style.Numbering = &Numbering{}
			}
		}
	case "ilvl":
		if w.inNumPr {
			if n := intAttr(t, "val"); n != nil {
				w.style.Numbering.Level = *n
			}
		}
	case "numId":
		if w.inNumPr {
			if v, ok := attr(t, "val"); ok {
				w.style.Numbering.NumID = &v
			}
		}
	case "sectPr":
		w.inSectPr = true
	case "pgMar":
		if w.inSectPr {
			// Trailing section properties win: every sectPr overwrites.
			w.margins = Margins{
				Top:    intOr(t, "top", DefaultMargins.Top),
				Right:  intOr(t, "right", DefaultMargins.Right),
				Bottom: intOr(t, "bottom", DefaultMargins.Bottom),
				Left:   intOr(t, "left", DefaultMargins.Left),
			}
			w.sawMargins = true
		}
	case "r":
		w.inRun = true
		w.bold, w.italic, w.underlin = false, false, false
		w.runText.Reset()
	case "rPr":
		w.inRPr = w.inRun
	case "b":
		if w.inRPr {
			w.bold = onOff(t)
		}
	case "i":
		if w.inRPr {
			w.italic = onOff(t)
		}
	case "u":
		if w.inRPr {
			v, _ := attr(t, "val")
			w.underlin = v != "none" && onOff(t)
		}
	case "t":
		w.inText = w.inRun
	case "tab":
		if w.inRun && !w.inRPr {
			w.runText.WriteByte(' ')
		}
	case "br":
		if !w.inRun {
			return
		}
		if v, _ := attr(t, "type"); v == "page" {
			w.page++
			return
		}
		w.flushRun()
		if w.tableDepth > 0 {
			w.cell.WriteByte(' ')
			return
		}
		if w.inPara {
			w.paraHTML.WriteString("<br/>")
			w.paraText.WriteByte('\n')
		}
	}
}

func (w *bodyWalker) end(t xml.EndElement) {
	switch t.Name.Local {
	case "t":
		w.inText = false
	case "rPr":
		w.inRPr = false
	case "r":
		w.flushRun()
		w.inRun = false
	case "numPr":
		w.inNumPr = false
	case "pPr":
		w.inPPr = false
	case "sectPr":
		w.inSectPr = false
	case "p":
		if w.tableDepth == 0 && w.inPara {
			w.closeParagraph()
			if len(w.outer) > 0 {
				w.resume()
			}
		}
	case "tc":
		if w.tableDepth == 1 && w.inCell {
			w.row = append(w.row, strings.TrimSpace(w.cell.String()))
			w.inCell = false
		}
	case "tr":
		if w.tableDepth == 1 {
			w.rows = append(w.rows, w.row)
			w.row = nil
		}
	case "tbl":
		w.tableDepth--
		if w.tableDepth == 0 {
			if len(w.rows) > 0 {
				w.emit(BlockNode{Kind: KindTable, Page: w.page, Rows: w.rows})
			}
			w.rows = nil
			if n := len(w.outer); n > 0 && w.outer[n-1].table {
				w.resume()
			}
		}
	}
}

// flushRun moves the buffered run text into the paragraph (or table cell).
func (w *bodyWalker) flushRun() {
	text := w.runText.String()
	w.runText.Reset()
	if text == "" {
		return
	}
	if w.tableDepth > 0 {
		if w.inCell {
			w.cell.WriteString(text)
		}
		return
	}
	if !w.inPara {
		return
	}
	w.paraText.WriteString(text)

	frag := html.EscapeString(text)
	if w.underlin {
		frag = "<u>" + frag + "</u>"
	}
	if w.italic {
		frag = "<em>" + frag + "</em>"
	}
	if w.bold {
		frag = "<strong>" + frag + "</strong>"
	}
	w.paraHTML.WriteString(frag)
}

// suspend saves the open paragraph so a nested one can start.
func (w *bodyWalker) suspend() {
	w.outer = append(w.outer, paraFrame{
		inPPr: w.inPPr, inNumPr: w.inNumPr, style: w.style,
		html: w.paraHTML.String(), text: w.paraText.String(),
		inRun: w.inRun, inRPr: w.inRPr,
		bold: w.bold, italic: w.italic, underline: w.underlin,
		runText: w.runText.String(),
	})
	w.inPPr, w.inNumPr, w.inRun, w.inRPr, w.inText = false, false, false, false, false
	w.runText.Reset()
}

// resume restores the paragraph interrupted by the one just closed.
func (w *bodyWalker) resume() {
	f := w.outer[len(w.outer)-1]
	w.outer = w.outer[:len(w.outer)-1]
	w.inPara = true
	w.inPPr, w.inNumPr, w.style = f.inPPr, f.inNumPr, f.style
	w.paraHTML.Reset()
	w.paraHTML.WriteString(f.html)
	w.paraText.Reset()
	w.paraText.WriteString(f.text)
	w.inRun, w.inRPr, w.inText = f.inRun, f.inRPr, false
	w.bold, w.italic, w.underlin = f.bold, f.italic, f.underline
	w.runText.Reset()
	w.runText.WriteString(f.runText)
}

// emit appends a block in document order. Blocks closed inside another
// paragraph follow it.
func (w *bodyWalker) emit(b BlockNode) {
	if len(w.outer) > 0 {
		w.deferred = append(w.deferred, b)
		return
	}
	b.Ordinal = len(w.blocks)
	w.blocks = append(w.blocks, b)
	for _, d := range w.deferred {
		d.Ordinal = len(w.blocks)
		w.blocks = append(w.blocks, d)
	}
	w.deferred = nil
}

func (w *bodyWalker) closeParagraph() {
	w.inPara = false
	text := strings.TrimSpace(w.paraText.String())
	if text == "" {
		w.flushDeferred()
		return
	}
	inline := strings.TrimSpace(w.paraHTML.String())
	style := w.style
	if style.Numbering != nil && (style.Numbering.NumID == nil || *style.Numbering.NumID == "0") {
		// numId 0 removes numbering inherited from the style.
		style.Numbering = nil
	}

	block := BlockNode{
		Page:  w.page,
		Text:  text,
		Style: style,
	}

	level := 0
	if style.StyleID != nil {
		level = headingLevel(*style.StyleID)
	}
	switch {
	case level >= 1 && level <= 3:
		block.Kind = KindHeading
		block.Level = level
		block.HTML = fmt.Sprintf("<h%d>%s</h%d>", level, inline, level)
	case style.Numbering != nil:
		block.Kind = KindListItem
		block.HTML = "<li>" + inline + "</li>"
	default:
		block.Kind = KindParagraph
		block.HTML = "<p>" + inline + "</p>"
	}
	w.emit(block)
}

// flushDeferred emits nested blocks whose outer paragraph had no text.
func (w *bodyWalker) flushDeferred() {
	if len(w.outer) > 0 {
		return
	}
	for _, d := range w.deferred {
		d.Ordinal = len(w.blocks)
		w.blocks = append(w.blocks, d)
	}
	w.deferred = nil
}

// headingLevel extracts the heading level from a paragraph style id.
// e.g. "Heading1" → 1, "heading 2" → 2, "Title" → 1, "Subtitle" → 2.
func headingLevel(style string) int {
	lower := strings.ToLower(strings.ReplaceAll(style, " ", ""))

	if lower == "title" {
		return 1
	}
	if lower == "subtitle" {
		return 2
	}

	for _, prefix := range []string{"heading", "titre", "überschrift"} {
		if strings.HasPrefix(lower, prefix) {
			rest := lower[len(prefix):]
			if len(rest) == 1 && rest[0] >= '1' && rest[0] <= '6' {
				return int(rest[0] - '0')
			}
		}
	}
	return 0
}

func attr(t xml.StartElement, local string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

func intAttr(t xml.StartElement, local string) *int {
	v, ok := attr(t, local)
	if !ok {
		return nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return nil
	}
	return &n
}

func intOr(t xml.StartElement, local string, def int) int {
	if n := intAttr(t, local); n != nil {
		return *n
	}
	return def
}

// onOff reads a toggle property: absent val means on.
func onOff(t xml.StartElement) bool {
	v, ok := attr(t, "val")
	if !ok {
		return true
	}
	switch strings.ToLower(v) {
	case "0", "false", "off":
		return false
	}
	return true
}
