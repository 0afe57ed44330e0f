package docpipe

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"
)

const wNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// buildDocx assembles a package from raw part contents.
func buildDocx(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range parts {
		f, err := w.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		f.Write([]byte(content))
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func bodyXML(inner string) string {
	return `<?xml version="1.0" encoding="UTF-8"?><w:document ` + wNS + `><w:body>` + inner + `</w:body></w:document>`
}

func para(style, text string) string {
	ppr := ""
	if style != "" {
		ppr = `<w:pPr><w:pStyle w:val="` + style + `"/></w:pPr>`
	}
	return `<w:p>` + ppr + `<w:r><w:t>` + text + `</w:t></w:r></w:p>`
}

func TestDetect(t *testing.T) {
	pipe := New(Config{})

	if f, err := pipe.Detect("report.DOCX"); err != nil || f != FormatDocx {
		t.Fatalf("Detect(.DOCX) = %q, %v", f, err)
	}
	for _, p := range []string{"doc.odt", "doc.pdf", "doc"} {
		if _, err := pipe.Detect(p); err == nil {
			t.Errorf("Detect(%q): expected error", p)
		}
	}
}

func TestExtract_TitleBodyTable(t *testing.T) {
	body := bodyXML(
		para("Heading1", "Title") +
			para("", "Body text") +
			`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>A</w:t></w:r></w:p></w:tc><w:tc><w:p><w:r><w:t>B</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	doc, err := New(Config{}).ExtractBytes(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Blocks) != 3 {
		t.Fatalf("expected 3 blocks, got %d: %+v", len(doc.Blocks), doc.Blocks)
	}

	h := doc.Blocks[0]
	if h.Kind != KindHeading || h.Level != 1 || h.HTML != "<h1>Title</h1>" {
		t.Errorf("heading block = %+v", h)
	}
	p := doc.Blocks[1]
	if p.Kind != KindParagraph || p.HTML != "<p>Body text</p>" || p.Text != "Body text" {
		t.Errorf("paragraph block = %+v", p)
	}
	tbl := doc.Blocks[2]
	if !tbl.IsTable() || len(tbl.Rows) != 1 || len(tbl.Rows[0]) != 2 || tbl.Rows[0][0] != "A" || tbl.Rows[0][1] != "B" {
		t.Errorf("table block = %+v", tbl)
	}
	for i, b := range doc.Blocks {
		if b.Ordinal != i {
			t.Errorf("block %d has ordinal %d", i, b.Ordinal)
		}
	}

	if doc.Title != "Title" {
		t.Errorf("Title = %q", doc.Title)
	}
	if doc.RawText != "Title\nBody text\nA B" {
		t.Errorf("RawText = %q", doc.RawText)
	}
	if doc.Template.HasMargins || doc.Template.SectionMargins != DefaultMargins {
		t.Errorf("expected default margins, got %+v", doc.Template.SectionMargins)
	}
	if len(doc.Fingerprint) != 32 {
		t.Errorf("fingerprint %q", doc.Fingerprint)
	}
}

func TestExtract_InlineRuns(t *testing.T) {
	body := bodyXML(`<w:p>` +
		`<w:r><w:rPr><w:b/></w:rPr><w:t>bold</w:t></w:r>` +
		`<w:r><w:t xml:space="preserve"> and </w:t></w:r>` +
		`<w:r><w:rPr><w:i/><w:u w:val="single"/></w:rPr><w:t>both</w:t></w:r>` +
		`<w:r><w:rPr><w:b w:val="0"/><w:u w:val="none"/></w:rPr><w:t>&lt;plain&gt;</w:t></w:r>` +
		`<w:r><w:br/><w:t>next</w:t></w:r>` +
		`</w:p>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	_, blocks, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	want := "<p><strong>bold</strong> and <em><u>both</u></em>&lt;plain&gt;<br/>next</p>"
	if blocks[0].HTML != want {
		t.Errorf("HTML = %q\nwant  %q", blocks[0].HTML, want)
	}
	if blocks[0].Text != "bold and both<plain>\nnext" {
		t.Errorf("Text = %q", blocks[0].Text)
	}
}

func TestExtract_ParagraphProperties(t *testing.T) {
	body := bodyXML(`<w:p><w:pPr><w:pStyle w:val="BodyText"/>` +
		`<w:spacing w:before="120" w:after="240"/>` +
		`<w:ind w:left="720" w:hanging="360"/>` +
		`</w:pPr><w:r><w:t>styled</w:t></w:r></w:p>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	_, blocks, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	s := blocks[0].Style
	if s.StyleID == nil || *s.StyleID != "BodyText" {
		t.Fatalf("StyleID = %v", s.StyleID)
	}
	if s.Spacing.Before == nil || *s.Spacing.Before != 120 || *s.Spacing.After != 240 {
		t.Errorf("Spacing = %+v", s.Spacing)
	}
	if s.Spacing.Line != nil {
		t.Errorf("absent line spacing must stay nil, got %d", *s.Spacing.Line)
	}
	if s.Indent.Left == nil || *s.Indent.Left != 720 || *s.Indent.Hanging != 360 || s.Indent.FirstLine != nil {
		t.Errorf("Indent = %+v", s.Indent)
	}
}

func TestExtract_ListItems(t *testing.T) {
	body := bodyXML(
		`<w:p><w:pPr><w:numPr><w:ilvl w:val="1"/><w:numId w:val="7"/></w:numPr></w:pPr><w:r><w:t>item</w:t></w:r></w:p>` +
			`<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="0"/></w:numPr></w:pPr><w:r><w:t>not a list</w:t></w:r></w:p>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	_, blocks, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	li := blocks[0]
	if li.Kind != KindListItem || li.HTML != "<li>item</li>" {
		t.Errorf("list block = %+v", li)
	}
	if li.Style.Numbering == nil || *li.Style.Numbering.NumID != "7" || li.Style.Numbering.Level != 1 {
		t.Errorf("numbering = %+v", li.Style.Numbering)
	}
	if blocks[1].Kind != KindParagraph || blocks[1].Style.Numbering != nil {
		t.Errorf("numId 0 should clear numbering: %+v", blocks[1])
	}
}

func TestExtract_HeadingLevels(t *testing.T) {
	tests := []struct {
		style string
		kind  BlockKind
		level int
	}{
		{"Heading1", KindHeading, 1},
		{"heading 2", KindHeading, 2},
		{"Heading3", KindHeading, 3},
		{"Title", KindHeading, 1},
		{"Subtitle", KindHeading, 2},
		{"Titre2", KindHeading, 2},
		{"Heading4", KindParagraph, 0},
		{"Normal", KindParagraph, 0},
	}
	for _, tt := range tests {
		data := buildDocx(t, map[string]string{"word/document.xml": bodyXML(para(tt.style, "x"))})
		_, blocks, err := extractFromBytes(t, data)
		if err != nil {
			t.Fatal(err)
		}
		if blocks[0].Kind != tt.kind || blocks[0].Level != tt.level {
			t.Errorf("style %q: kind=%s level=%d, want %s/%d", tt.style, blocks[0].Kind, blocks[0].Level, tt.kind, tt.level)
		}
	}
}

func TestExtract_LastSectionMarginsWin(t *testing.T) {
	body := bodyXML(
		`<w:p><w:pPr><w:sectPr><w:pgMar w:top="100" w:right="100" w:bottom="100" w:left="100"/></w:sectPr></w:pPr><w:r><w:t>one</w:t></w:r></w:p>` +
			para("", "two") +
			`<w:sectPr><w:pgMar w:top="720" w:right="1080" w:bottom="720" w:left="1080"/></w:sectPr>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	tpl, _, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	want := Margins{Top: 720, Right: 1080, Bottom: 720, Left: 1080}
	if !tpl.HasMargins || tpl.SectionMargins != want {
		t.Errorf("margins = %+v, want %+v", tpl.SectionMargins, want)
	}
}

func TestExtract_TemplateParts(t *testing.T) {
	data := buildDocx(t, map[string]string{
		"word/document.xml":  bodyXML(para("", "x")),
		"word/styles.xml":    "<styles/>",
		"word/numbering.xml": "<numbering/>",
		"word/header1.xml":   "<hdr/>",
		"word/footer2.xml":   "<ftr/>",
		"word/media/x.png":   "png",
	})
	tpl, _, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	if string(tpl.Styles) != "<styles/>" || string(tpl.Numbering) != "<numbering/>" {
		t.Errorf("styles/numbering not captured: %q %q", tpl.Styles, tpl.Numbering)
	}
	if string(tpl.Headers["word/header1.xml"]) != "<hdr/>" || string(tpl.Footers["word/footer2.xml"]) != "<ftr/>" {
		t.Errorf("headers=%v footers=%v", tpl.Headers, tpl.Footers)
	}
}

func TestExtract_PageBreaks(t *testing.T) {
	body := bodyXML(para("", "first") +
		`<w:p><w:r><w:br w:type="page"/><w:t>second</w:t></w:r></w:p>` +
		`<w:p><w:pPr><w:pageBreakBefore/></w:pPr><w:r><w:t>third</w:t></w:r></w:p>`)
	data := buildDocx(t, map[string]string{"word/document.xml": body})

	_, blocks, err := extractFromBytes(t, data)
	if err != nil {
		t.Fatal(err)
	}
	for i, want := range []int{1, 2, 3} {
		if blocks[i].Page != want {
			t.Errorf("block %d page = %d, want %d", i, blocks[i].Page, want)
		}
	}
}

func TestExtract_MalformedPackage(t *testing.T) {
	pipe := New(Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		data []byte
	}{
		{"not a zip", []byte("definitely not a zip")},
		{"missing body", buildDocx(t, map[string]string{"word/styles.xml": "<x/>"})},
		{"broken xml", buildDocx(t, map[string]string{"word/document.xml": "<w:document><w:body>"})},
		{"empty body", buildDocx(t, map[string]string{"word/document.xml": ""})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pipe.ExtractBytes(ctx, tt.data)
			if !errors.Is(err, ErrMalformedPackage) {
				t.Fatalf("expected ErrMalformedPackage, got %v", err)
			}
		})
	}
}

func TestExtract_XMLBomb(t *testing.T) {
	depth := 300
	inner := strings.Repeat("<w:x>", depth) + strings.Repeat("</w:x>", depth)
	data := buildDocx(t, map[string]string{"word/document.xml": bodyXML(inner)})

	_, err := New(Config{}).ExtractBytes(context.Background(), data)
	if err == nil {
		t.Fatal("expected error for deeply nested XML")
	}
	if !strings.Contains(err.Error(), "nesting depth") {
		t.Errorf("expected nesting depth error, got: %v", err)
	}
}

func TestExtract_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "doc.docx")
	os.WriteFile(path, buildDocx(t, map[string]string{"word/document.xml": bodyXML(para("Title", "Quarterly report"))}), 0644)

	doc, err := New(Config{}).Extract(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if doc.Path != path || doc.Title != "Quarterly report" {
		t.Errorf("doc = %+v", doc)
	}
}

func TestExtract_FileTooLarge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "big.docx")
	os.WriteFile(path, make([]byte, 2048), 0644)

	_, err := New(Config{MaxFileSize: 1024}).Extract(context.Background(), path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("expected size error, got %v", err)
	}
}

func TestContainer_RoundTrip(t *testing.T) {
	c := NewContainer()
	c.Put("b.xml", []byte("B"))
	c.Put("a.xml", []byte("A"))
	c.Put("b.xml", []byte("B2"))

	data, err := c.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	reopened, err := OpenContainer(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	names := reopened.Names()
	if len(names) != 2 || names[0] != "b.xml" || names[1] != "a.xml" {
		t.Errorf("names = %v", names)
	}
	if b, _ := reopened.Get("b.xml"); string(b) != "B2" {
		t.Errorf("b.xml = %q", b)
	}
}

func TestContainer_PartLimit(t *testing.T) {
	data := buildDocx(t, map[string]string{"word/document.xml": strings.Repeat("x", 4096)})
	if _, err := OpenContainer(data, 1024); err == nil {
		t.Fatal("expected part size error")
	}
}

func TestStyleClone(t *testing.T) {
	id, n := "Body", 10
	num := "3"
	s := ParagraphStyle{StyleID: &id, Spacing: Spacing{Before: &n}, Numbering: &Numbering{NumID: &num, Level: 1}}
	c := s.Clone()
	*c.StyleID = "Other"
	*c.Spacing.Before = 99
	*c.Numbering.NumID = "9"
	if *s.StyleID != "Body" || *s.Spacing.Before != 10 || *s.Numbering.NumID != "3" {
		t.Fatal("Clone aliases the original")
	}
	if (ParagraphStyle{}).IsZero() != true || s.IsZero() {
		t.Fatal("IsZero mismatch")
	}
}

func extractFromBytes(t *testing.T, data []byte) (DocumentTemplate, []BlockNode, error) {
	t.Helper()
	c, err := OpenContainer(data, 0)
	if err != nil {
		t.Fatal(err)
	}
	return ExtractPackage(c, 256)
}

// textBox wraps paragraphs in a drawing text box, with the VML fallback
// Word writes next to it.
func textBox(inner string) string {
	return `<w:r><mc:AlternateContent xmlns:mc="http://schemas.openxmlformats.org/markup-compatibility/2006">` +
		`<mc:Choice Requires="wps"><w:drawing><wp:anchor xmlns:wp="http://schemas.openxmlformats.org/drawingml/2006/wordprocessingDrawing">` +
		`<a:graphic xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main"><a:graphicData>` +
		`<wps:wsp xmlns:wps="http://schemas.microsoft.com/office/word/2010/wordprocessingShape"><wps:txbx><w:txbxContent>` + inner +
		`</w:txbxContent></wps:txbx></wps:wsp></a:graphicData></a:graphic></wp:anchor></w:drawing></mc:Choice>` +
		`<mc:Fallback><w:pict><v:shape xmlns:v="urn:schemas-microsoft-com:vml"><v:textbox><w:txbxContent>` + inner +
		`</w:txbxContent></v:textbox></v:shape></w:pict></mc:Fallback></mc:AlternateContent></w:r>`
}

func TestExtract_TextBoxFollowsItsParagraph(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "paragraph in text box",
			body: `<w:p><w:r><w:t xml:space="preserve">Before box</w:t></w:r>` + textBox(para("", "Inside box")) +
				`<w:r><w:t xml:space="preserve"> after box</w:t></w:r></w:p>` + para("", "Next"),
			want: []string{"paragraph:Before box after box", "paragraph:Inside box", "paragraph:Next"},
		},
		{
			name: "table in text box",
			body: `<w:p><w:r><w:t>Lead</w:t></w:r>` +
				textBox(`<w:tbl><w:tr><w:tc><w:p><w:r><w:t>A</w:t></w:r></w:p></w:tc></w:tr></w:tbl>`) +
				`<w:r><w:t>Tail</w:t></w:r></w:p>`,
			want: []string{"paragraph:LeadTail", "table:A"},
		},
		{
			name: "text box alone",
			body: `<w:p>` + textBox(para("Heading2", "Boxed")) + `</w:p>` + para("", "After"),
			want: []string{"heading:Boxed", "paragraph:After"},
		},
		{
			name: "drawing text is not a paragraph",
			body: `<w:p><w:r><w:t>Caption</w:t></w:r><w:r><w:drawing><a:p xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">` +
				`<a:r><a:t>shape text</a:t></a:r></a:p></w:drawing></w:r></w:p>`,
			want: []string{"paragraph:Caption"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, blocks, err := extractFromBytes(t, buildDocx(t, map[string]string{"word/document.xml": bodyXML(tt.body)}))
			if err != nil {
				t.Fatal(err)
			}
			var got []string
			for i, b := range blocks {
				if b.Ordinal != i {
					t.Errorf("block %d has ordinal %d", i, b.Ordinal)
				}
				text := b.Text
				if b.Kind == KindTable {
					text = strings.Join(b.Rows[0], ",")
				}
				got = append(got, string(b.Kind)+":"+text)
			}
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("blocks = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFirstLine_CutsOnRuneBoundary(t *testing.T) {
	title := "a" + strings.Repeat("é", 150) // byte 200 is inside a rune
	got := firstLine(title + "\nsecond line")
	if !utf8.ValidString(got) || len(got) > maxTitleBytes || got != "a"+strings.Repeat("é", 99) {
		t.Errorf("firstLine = %q (%d bytes)", got, len(got))
	}
	if got := firstLine("  short  "); got != "short" {
		t.Errorf("firstLine = %q", got)
	}
}
