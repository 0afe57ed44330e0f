package render

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/hazyhaar/docforge/docpipe"
)

const (
	nsW = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsR = "http://schemas.openxmlformats.org/officeDocument/2006/relationships"

	relStyles    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles"
	relNumbering = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering"
	relHeader    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/header"
	relFooter    = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/footer"

	// Fixed numbering instances referenced by list items.
	numBullet  = 1
	numDecimal = 2
)

const contentTypesHead = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
<Override PartName="/word/numbering.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml"/>
`

const rootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const stylesXML = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="` + nsW + `">
<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:cs="Calibri"/><w:sz w:val="22"/></w:rPr></w:rPrDefault><w:pPrDefault><w:pPr><w:spacing w:after="160" w:line="259" w:lineRule="auto"/></w:pPr></w:pPrDefault></w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/></w:style>
<w:style w:type="paragraph" w:styleId="Heading1"><w:name w:val="heading 1"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:spacing w:before="240" w:after="120"/><w:outlineLvl w:val="0"/></w:pPr><w:rPr><w:b/><w:sz w:val="32"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading2"><w:name w:val="heading 2"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:spacing w:before="200" w:after="100"/><w:outlineLvl w:val="1"/></w:pPr><w:rPr><w:b/><w:sz w:val="28"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="Heading3"><w:name w:val="heading 3"/><w:basedOn w:val="Normal"/><w:next w:val="Normal"/><w:qFormat/><w:pPr><w:keepNext/><w:spacing w:before="160" w:after="80"/><w:outlineLvl w:val="2"/></w:pPr><w:rPr><w:b/><w:sz w:val="24"/></w:rPr></w:style>
<w:style w:type="paragraph" w:styleId="ListParagraph"><w:name w:val="List Paragraph"/><w:basedOn w:val="Normal"/><w:qFormat/><w:pPr><w:ind w:left="720"/><w:contextualSpacing/></w:pPr></w:style>
<w:style w:type="table" w:styleId="TableGrid"><w:name w:val="Table Grid"/><w:tblPr><w:tblBorders><w:top w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:left w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:bottom w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:right w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:insideH w:val="single" w:sz="4" w:space="0" w:color="auto"/><w:insideV w:val="single" w:sz="4" w:space="0" w:color="auto"/></w:tblBorders></w:tblPr></w:style>
</w:styles>`

// numberingXML defines one bullet and one decimal list, eight levels each.
var numberingXML = buildNumbering()

func buildNumbering() string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<w:numbering xmlns:w="` + nsW + `">`)
	for _, def := range []struct {
		id     int
		format string
	}{{numBullet, "bullet"}, {numDecimal, "decimal"}} {
		fmt.Fprintf(&sb, `<w:abstractNum w:abstractNumId="%d"><w:multiLevelType w:val="hybridMultilevel"/>`, def.id)
		for lvl := 0; lvl < maxListDepth; lvl++ {
			text := "•"
			if def.format == "decimal" {
				text = fmt.Sprintf("%%%d.", lvl+1)
			}
			fmt.Fprintf(&sb, `<w:lvl w:ilvl="%d"><w:start w:val="1"/><w:numFmt w:val="%s"/><w:lvlText w:val="%s"/><w:lvlJc w:val="left"/><w:pPr><w:ind w:left="%d" w:hanging="360"/></w:pPr></w:lvl>`,
				lvl, def.format, text, 720*(lvl+1))
		}
		sb.WriteString(`</w:abstractNum>`)
	}
	fmt.Fprintf(&sb, `<w:num w:numId="%d"><w:abstractNumId w:val="%d"/></w:num>`, numBullet, numBullet)
	fmt.Fprintf(&sb, `<w:num w:numId="%d"><w:abstractNumId w:val="%d"/></w:num>`, numDecimal, numDecimal)
	sb.WriteString(`</w:numbering>`)
	return sb.String()
}

// attachedPart is a header or footer carried over from the template.
type attachedPart struct {
	name  string // e.g. word/header1.xml
	relID string
	kind  string // "header" or "footer"
}

// writeBody renders the document part.
func writeBody(blocks []block, margins docpipe.Margins, parts []attachedPart) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<w:document xmlns:w="` + nsW + `" xmlns:r="` + nsR + `"><w:body>`)
	for _, b := range blocks {
		switch b.Kind {
		case blockHeading:
			writeParagraph(&sb, fmt.Sprintf(`<w:pStyle w:val="Heading%d"/>`, b.Level), b.Runs)
		case blockListItem:
			num := numBullet
			if b.Ordered {
				num = numDecimal
			}
			ppr := fmt.Sprintf(`<w:pStyle w:val="ListParagraph"/><w:numPr><w:ilvl w:val="%d"/><w:numId w:val="%d"/></w:numPr>`, b.Level, num)
			writeParagraph(&sb, ppr, b.Runs)
		case blockTable:
			writeTable(&sb, b.Rows)
		default:
			writeParagraph(&sb, "", b.Runs)
		}
	}
	if len(blocks) == 0 || blocks[len(blocks)-1].Kind == blockTable {
		// A body must end with a paragraph.
		sb.WriteString(`<w:p/>`)
	}
	sb.WriteString(`<w:sectPr>`)
	for _, p := range parts {
		fmt.Fprintf(&sb, `<w:%sReference w:type="default" r:id="%s"/>`, p.kind, p.relID)
	}
	fmt.Fprintf(&sb, `<w:pgSz w:w="12240" w:h="15840"/><w:pgMar w:top="%d" w:right="%d" w:bottom="%d" w:left="%d" w:header="720" w:footer="720" w:gutter="0"/>`,
		margins.Top, margins.Right, margins.Bottom, margins.Left)
	sb.WriteString(`</w:sectPr></w:body></w:document>`)
	return sb.String()
}

func writeParagraph(sb *strings.Builder, ppr string, runs []run) {
	sb.WriteString("<w:p>")
	if ppr != "" {
		sb.WriteString("<w:pPr>" + ppr + "</w:pPr>")
	}
	for _, r := range runs {
		if r.Break {
			sb.WriteString("<w:r><w:br/></w:r>")
			continue
		}
		if r.Text == "" {
			continue
		}
		sb.WriteString("<w:r>")
		if r.Bold || r.Italic || r.Underline {
			sb.WriteString("<w:rPr>")
			if r.Bold {
				sb.WriteString("<w:b/>")
			}
			if r.Italic {
				sb.WriteString("<w:i/>")
			}
			if r.Underline {
				sb.WriteString(`<w:u w:val="single"/>`)
			}
			sb.WriteString("</w:rPr>")
		}
		sb.WriteString(`<w:t xml:space="preserve">`)
		sb.WriteString(escapeText(r.Text))
		sb.WriteString("</w:t></w:r>")
	}
	sb.WriteString("</w:p>")
}

func writeTable(sb *strings.Builder, rows [][]string) {
	cols := 0
	for _, row := range rows {
		if len(row) > cols {
			cols = len(row)
		}
	}
	sb.WriteString(`<w:tbl><w:tblPr><w:tblStyle w:val="TableGrid"/><w:tblW w:w="0" w:type="auto"/></w:tblPr><w:tblGrid>`)
	for i := 0; i < cols; i++ {
		sb.WriteString(`<w:gridCol/>`)
	}
	sb.WriteString(`</w:tblGrid>`)
	for _, row := range rows {
		sb.WriteString("<w:tr>")
		for i := 0; i < cols; i++ {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			sb.WriteString(`<w:tc><w:tcPr><w:tcW w:w="0" w:type="auto"/></w:tcPr><w:p>`)
			if cell != "" {
				sb.WriteString(`<w:r><w:t xml:space="preserve">` + escapeText(cell) + `</w:t></w:r>`)
			}
			sb.WriteString("</w:p></w:tc>")
		}
		sb.WriteString("</w:tr>")
	}
	sb.WriteString("</w:tbl>")
}

// escapeText escapes s for XML character data. Characters XML 1.0 cannot
// carry become U+FFFD.
func escapeText(s string) string {
	var buf bytes.Buffer
	xml.EscapeText(&buf, []byte(s))
	return buf.String()
}

func documentRels(parts []attachedPart) string {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	sb.WriteString(`<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">`)
	sb.WriteString(`<Relationship Id="rId1" Type="` + relStyles + `" Target="styles.xml"/>`)
	sb.WriteString(`<Relationship Id="rId2" Type="` + relNumbering + `" Target="numbering.xml"/>`)
	for _, p := range parts {
		typ := relHeader
		if p.kind == "footer" {
			typ = relFooter
		}
		fmt.Fprintf(&sb, `<Relationship Id="%s" Type="%s" Target="%s"/>`, p.relID, typ, strings.TrimPrefix(p.name, "word/"))
	}
	sb.WriteString(`</Relationships>`)
	return sb.String()
}

func contentTypes(parts []attachedPart) string {
	var sb strings.Builder
	sb.WriteString(contentTypesHead)
	for _, p := range parts {
		fmt.Fprintf(&sb, `<Override PartName="/%s" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.%s+xml"/>`+"\n", p.name, p.kind)
	}
	sb.WriteString(`</Types>`)
	return sb.String()
}

// templateParts picks the first self-contained header and footer of the
// template. Parts that reference their own relationships (images, fields
// bound to other parts) are skipped because those targets are not carried.
func templateParts(tpl *docpipe.DocumentTemplate) ([]attachedPart, map[string][]byte) {
	if tpl == nil {
		return nil, nil
	}
	var parts []attachedPart
	data := make(map[string][]byte)
	pick := func(m map[string][]byte, kind, relID string) {
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			b := m[name]
			if bytes.Contains(b, []byte("r:id=")) || bytes.Contains(b, []byte("r:embed=")) || !wellFormed(b) {
				continue
			}
			parts = append(parts, attachedPart{name: name, relID: relID, kind: kind})
			data[name] = b
			return
		}
	}
	pick(tpl.Headers, "header", "rIdHeader1")
	pick(tpl.Footers, "footer", "rIdFooter1")
	return parts, data
}

// wellFormed reports whether b parses as XML from start to end.
func wellFormed(b []byte) bool {
	if len(bytes.TrimSpace(b)) == 0 {
		return false
	}
	dec := xml.NewDecoder(bytes.NewReader(b))
	root := false
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return root
		}
		if err != nil {
			return false
		}
		if _, ok := tok.(xml.StartElement); ok {
			root = true
		}
	}
}
