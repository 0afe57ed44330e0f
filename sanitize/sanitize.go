// Package sanitize reduces untrusted generated markup to a small, balanced
// HTML vocabulary that the renderer understands.
//
// The input is read once as a flat stream of text and tag tokens; a stack of
// open tag names keeps the output balanced. Unknown tags are dropped while
// their text is kept, stray end tags are dropped, and an end tag for an
// ancestor closes every element still open above it. The result is always
// wrapped in a single <div> and sanitizing it again returns it unchanged.
//
// Usage:
//
//	clean := sanitize.Sanitize(modelOutput)
//	text := sanitize.PlainText(clean)
package sanitize

import (
	"html"
	"net/url"
	"regexp"
	"strings"

	nethtml "golang.org/x/net/html"
)

// SanitizedMarkup is markup produced by Sanitize: allow-listed tags only,
// balanced, no attribute except a validated href on <a>, no C0 controls other
// than tab, newline and carriage return, entities normalized.
type SanitizedMarkup string

// String returns the markup.
func (m SanitizedMarkup) String() string { return string(m) }

// Report counts what Sanitize removed or repaired.
type Report struct {
	DroppedTags    int `json:"dropped_tags"`    // start tags outside the allow-list
	DroppedEnds    int `json:"dropped_ends"`    // end tags with no open match
	AutoClosed     int `json:"auto_closed"`     // elements closed by an ancestor's end tag or EOF
	StrippedBlocks int `json:"stripped_blocks"` // code fences, script and style elements
}

// allowed lists the tags that survive sanitization.
var allowed = map[string]bool{
	"p": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "li": true,
	"strong": true, "b": true, "em": true, "i": true, "u": true,
	"a": true, "br": true, "blockquote": true,
	"table": true, "thead": true, "tbody": true, "tr": true, "th": true, "td": true,
}

var voidTags = map[string]bool{"br": true}

// skipped elements lose their content as well as their tags.
var skipped = map[string]bool{"script": true, "style": true}

var allowedSchemes = map[string]bool{"http": true, "https": true, "mailto": true}

var (
	reFenceOpen  = regexp.MustCompile("^\\s*```[A-Za-z0-9_+-]*[ \t]*(?:\n|$)")
	reFenceClose = regexp.MustCompile("(?:^|\n)[ \t]*```\\s*$")
	reScript     = regexp.MustCompile(`(?is)<script\b[^>]*>.*?</script\s*>`)
	reStyle      = regexp.MustCompile(`(?is)<style\b[^>]*>.*?</style\s*>`)
)

// Sanitize returns the safe form of raw. It never fails; empty or fully
// rejected input yields "<div></div>".
func Sanitize(raw string) SanitizedMarkup {
	m, _ := SanitizeWithReport(raw)
	return m
}

// SanitizeWithReport is Sanitize plus a count of the repairs made.
func SanitizeWithReport(raw string) (SanitizedMarkup, Report) {
	var rep Report
	src := stripBlocks(raw, &rep)

	var out strings.Builder
	out.WriteString("<div>")

	var stack []string
	skipDepth := 0
	var skipTag string

	z := nethtml.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			// io.EOF, or a read error that cannot occur on a strings.Reader.
			break
		}
		tok := z.Token()

		if skipDepth > 0 {
			switch {
			case tt == nethtml.StartTagToken && tok.Data == skipTag:
				skipDepth++
			case tt == nethtml.EndTagToken && tok.Data == skipTag:
				skipDepth--
			}
			continue
		}

		switch tt {
		case nethtml.TextToken:
			out.WriteString(cleanText(tok.Data))

		case nethtml.StartTagToken, nethtml.SelfClosingTagToken:
			name := tok.Data
			if skipped[name] {
				rep.StrippedBlocks++
				if tt == nethtml.StartTagToken {
					skipDepth, skipTag = 1, name
				}
				continue
			}
			if !allowed[name] {
				rep.DroppedTags++
				continue
			}
			if voidTags[name] {
				out.WriteString("<" + name + "/>")
				continue
			}
			out.WriteString(openTag(tok))
			if tt == nethtml.SelfClosingTagToken {
				out.WriteString("</" + name + ">")
				continue
			}
			stack = append(stack, name)

		case nethtml.EndTagToken:
			name := tok.Data
			if len(stack) == 0 {
				rep.DroppedEnds++
				continue
			}
			idx := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i] == name {
					idx = i
					break
				}
			}
			if idx < 0 {
				rep.DroppedEnds++
				continue
			}
			for i := len(stack) - 1; i >= idx; i-- {
				out.WriteString("</" + stack[i] + ">")
				if i > idx {
					rep.AutoClosed++
				}
			}
			stack = stack[:idx]
		}
		// Comments and doctypes are dropped.
	}

	for i := len(stack) - 1; i >= 0; i-- {
		out.WriteString("</" + stack[i] + ">")
		rep.AutoClosed++
	}
	out.WriteString("</div>")
	return SanitizedMarkup(out.String()), rep
}

// stripBlocks removes a code fence wrapping the whole input and every
// script/style element with its content before tokenizing.
func stripBlocks(raw string, rep *Report) string {
	count := func(re *regexp.Regexp, s string) string {
		n := len(re.FindAllStringIndex(s, -1))
		if n == 0 {
			return s
		}
		rep.StrippedBlocks += n
		return re.ReplaceAllString(s, "")
	}
	s := count(reFenceOpen, raw)
	s = count(reFenceClose, s)
	s = count(reScript, s)
	return count(reStyle, s)
}

// openTag renders an allowed start tag. Only <a> keeps an attribute, and only
// a href whose scheme is http, https or mailto.
func openTag(tok nethtml.Token) string {
	if tok.Data != "a" {
		return "<" + tok.Data + ">"
	}
	for _, a := range tok.Attr {
		if a.Namespace != "" || a.Key != "href" {
			continue
		}
		if href, ok := validHref(a.Val); ok {
			return `<a href="` + html.EscapeString(href) + `">`
		}
		break
	}
	return "<a>"
}

func validHref(v string) (string, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", false
	}
	for _, r := range v {
		if r < 0x20 || r == 0x7f || r == ' ' {
			return "", false
		}
	}
	u, err := url.Parse(v)
	if err != nil || !allowedSchemes[strings.ToLower(u.Scheme)] {
		return "", false
	}
	if strings.ToLower(u.Scheme) != "mailto" && u.Host == "" {
		return "", false
	}
	return v, true
}

// cleanText drops C0 controls except tab, newline and carriage return, then
// escapes. The tokenizer has already decoded entities.
func cleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r < 0x20 || r == 0x7f:
			return -1
		}
		return r
	}, s)
	return html.EscapeString(s)
}
