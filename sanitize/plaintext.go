package sanitize

import (
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// strict strips every tag. bluemonday policies are safe for concurrent use.
var strict = bluemonday.StrictPolicy()

var (
	reBlockEnd = regexp.MustCompile(`(?i)</(?:p|h[1-6]|li|tr|table|blockquote|div|ul|ol)>|<br\s*/?>`)
	reCellEnd  = regexp.MustCompile(`(?i)</t[dh]>`)
)

// PlainText returns the text content of m, one line per block element.
func PlainText(m SanitizedMarkup) string {
	s := reBlockEnd.ReplaceAllStringFunc(string(m), func(tag string) string { return tag + "\n" })
	s = reCellEnd.ReplaceAllStringFunc(s, func(tag string) string { return tag + " " })
	return html.UnescapeString(strict.Sanitize(s))
}

// Lines returns the non-empty, trimmed lines of the plain text of m.
func Lines(m SanitizedMarkup) []string {
	var out []string
	for _, line := range strings.Split(PlainText(m), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// Degrade replaces m with one paragraph per non-empty line of its plain text.
// The result carries no inline formatting, lists or tables.
func Degrade(m SanitizedMarkup) SanitizedMarkup {
	var sb strings.Builder
	sb.WriteString("<div>")
	for _, line := range Lines(m) {
		sb.WriteString("<p>")
		sb.WriteString(cleanText(line))
		sb.WriteString("</p>")
	}
	sb.WriteString("</div>")
	return SanitizedMarkup(sb.String())
}
