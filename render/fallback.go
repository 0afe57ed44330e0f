package render

import (
	"archive/zip"
	"bytes"
	"html"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/docforge/docpipe"
	"github.com/hazyhaar/docforge/sanitize"
)

// The fallback path shares nothing with the block serializer: its own part
// constants, its own tag scanner and escaping, and a direct ZIP writer.

const fbContentTypes = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">
<Default Extension="rels" ContentType="application/vnd.openxmlformats-package.relationships+xml"/>
<Default Extension="xml" ContentType="application/xml"/>
<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>
<Override PartName="/word/styles.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.styles+xml"/>
<Override PartName="/word/numbering.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.numbering+xml"/>
</Types>`

const fbRootRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/officeDocument" Target="word/document.xml"/>
</Relationships>`

const fbDocRels = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Relationships xmlns="http://schemas.openxmlformats.org/package/2006/relationships">
<Relationship Id="rId1" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/styles" Target="styles.xml"/>
<Relationship Id="rId2" Type="http://schemas.openxmlformats.org/officeDocument/2006/relationships/numbering" Target="numbering.xml"/>
</Relationships>`

const fbStyles = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:styles xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
<w:docDefaults><w:rPrDefault><w:rPr><w:rFonts w:ascii="Calibri" w:hAnsi="Calibri" w:cs="Calibri"/><w:sz w:val="22"/></w:rPr></w:rPrDefault></w:docDefaults>
<w:style w:type="paragraph" w:default="1" w:styleId="Normal"><w:name w:val="Normal"/><w:qFormat/><w:pPr><w:spacing w:after="160"/></w:pPr></w:style>
</w:styles>`

const fbNumbering = `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<w:numbering xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"></w:numbering>`

var fbEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

// emptyFallback is built once and returned if building a fallback ever fails.
var emptyFallback = func() []byte {
	b, err := buildFallback(nil, docpipe.DefaultMargins)
	if err != nil {
		panic("render: cannot build empty fallback package: " + err.Error())
	}
	return b
}()

// Fallback builds a package holding one plain paragraph per line.
func Fallback(lines []string, margins docpipe.Margins) (out []byte) {
	defer func() {
		if recover() != nil {
			out = emptyFallback
		}
	}()
	b, err := buildFallback(lines, margins)
	if err != nil {
		return emptyFallback
	}
	return b
}

// FallbackMarkup builds the fallback package for markup, one paragraph per
// block or line of its text.
func FallbackMarkup(markup sanitize.SanitizedMarkup, margins docpipe.Margins) (out []byte) {
	defer func() {
		if recover() != nil {
			out = emptyFallback
		}
	}()
	return Fallback(fbLines(string(markup)), margins)
}

// fbBreaks are the tags after which the text continues on a new line.
var fbBreaks = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"li": true, "tr": true, "table": true, "blockquote": true, "div": true, "ul": true, "ol": true,
}

// fbLines reads the text of markup, breaking lines after block end tags,
// line breaks and newlines. Cell ends become spaces. Unterminated tags are
// dropped.
func fbLines(markup string) []string {
	var lines []string
	var cur strings.Builder
	flush := func() {
		if s := strings.TrimSpace(html.UnescapeString(cur.String())); s != "" {
			lines = append(lines, s)
		}
		cur.Reset()
	}
	for i := 0; i < len(markup); {
		if markup[i] != '<' {
			j := strings.IndexByte(markup[i:], '<')
			if j < 0 {
				j = len(markup) - i
			}
			for k, part := range strings.Split(markup[i:i+j], "\n") {
				if k > 0 {
					flush()
				}
				cur.WriteString(part)
			}
			i += j
			continue
		}
		end := strings.IndexByte(markup[i:], '>')
		if end < 0 {
			break
		}
		name, closing := fbTagName(markup[i+1 : i+end])
		i += end + 1
		switch {
		case name == "br", closing && fbBreaks[name]:
			flush()
		case closing && (name == "td" || name == "th"):
			cur.WriteByte(' ')
		}
	}
	flush()
	return lines
}

func fbTagName(tag string) (name string, closing bool) {
	if strings.HasPrefix(tag, "/") {
		closing = true
		tag = tag[1:]
	}
	n := 0
	for n < len(tag) {
		c := tag[n]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			break
		}
		n++
	}
	return strings.ToLower(tag[:n]), closing
}

func buildFallback(lines []string, m docpipe.Margins) ([]byte, error) {
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` + "\n")
	body.WriteString(`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"><w:body>`)
	wrote := false
	for _, line := range lines {
		line = fbClean(line)
		if strings.TrimSpace(line) == "" {
			continue
		}
		body.WriteString(`<w:p><w:r><w:t xml:space="preserve">`)
		body.WriteString(fbEscaper.Replace(line))
		body.WriteString(`</w:t></w:r></w:p>`)
		wrote = true
	}
	if !wrote {
		body.WriteString(`<w:p/>`)
	}
	body.WriteString(`<w:sectPr><w:pgSz w:w="12240" w:h="15840"/><w:pgMar`)
	for _, a := range []struct {
		name string
		v    int
	}{{"top", m.Top}, {"right", m.Right}, {"bottom", m.Bottom}, {"left", m.Left}} {
		v := a.v
		if v <= 0 {
			v = 1440
		}
		body.WriteString(` w:` + a.name + `="` + strconv.Itoa(v) + `"`)
	}
	body.WriteString(` w:header="720" w:footer="720" w:gutter="0"/></w:sectPr></w:body></w:document>`)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, part := range []struct{ name, data string }{
		{"[Content_Types].xml", fbContentTypes},
		{"_rels/.rels", fbRootRels},
		{"word/_rels/document.xml.rels", fbDocRels},
		{"word/document.xml", body.String()},
		{"word/styles.xml", fbStyles},
		{"word/numbering.xml", fbNumbering},
	} {
		w, err := zw.Create(part.name)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(part.data)); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// fbClean keeps only characters allowed in XML 1.0 character data.
func fbClean(s string) string {
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "\uFFFD")
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t':
			return ' '
		case r < 0x20, r == 0xFFFE, r == 0xFFFF, r >= 0xD800 && r <= 0xDFFF:
			return -1
		}
		return r
	}, s)
}
