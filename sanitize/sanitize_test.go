package sanitize

import (
	"strings"
	"testing"

	nethtml "golang.org/x/net/html"
)

// corpus mixes well-formed, broken and hostile markup.
var corpus = []string{
	"",
	"plain text only",
	"<p>a<b>b</p>c</b>",
	"<script>x</script><p>ok</p>",
	"<div><p>hello <em>world</p></div>",
	"</p></p><p>unopened",
	"<ul><li>one<li>two</ul>",
	"<table><tr><td>A<td>B</tr></table>",
	`<a href="https://example.com/x?y=1&amp;z=2" onclick="evil()">link</a>`,
	`<a href="javascript:alert(1)">bad</a>`,
	`<a href="/relative">rel</a>`,
	`<img src=x onerror=alert(1)><iframe src="https://x"></iframe>`,
	"<p style=\"color:red\" class=\"x\">styled</p>",
	"a < b && c > d &copy; &#169; &unknown;",
	"ctrl\x00\x01\x07chars\ttab\nnl\r\ncrlf",
	"```html\n<h1>Fenced</h1>\n```",
	"<STYLE>p{}</STYLE><H2>Upper</H2>",
	"<p/>self<br>closing<br/>",
	"<!-- comment --><!DOCTYPE html><p>x</p>",
	"<script>never closed <p>lost",
	"<b><i><u>deep</b></i></u>",
	"<h1>a</h2>b</h1>",
	"<textarea><b>raw</b></textarea>",
	"<p>\u00e9t\u00e9 \u2014 \U0001F600</p>",
	"<a href=\"mailto:a@b.c\">mail</a><a href=\"HTTP://EX.COM\">up</a>",
	`<a href=" https://ex.com/a b ">space</a>`,
}

type frame struct{ tag string }

// checkBalanced walks s with the html tokenizer and verifies tags nest as a
// simple stack and only allowed tags and attributes appear.
func checkBalanced(t *testing.T, input, s string) {
	t.Helper()
	if !strings.HasPrefix(s, "<div>") || !strings.HasSuffix(s, "</div>") {
		t.Fatalf("Sanitize(%q) = %q: missing wrapper", input, s)
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(s, "<div>"), "</div>")

	var stack []frame
	z := nethtml.NewTokenizer(strings.NewReader(inner))
	for {
		tt := z.Next()
		if tt == nethtml.ErrorToken {
			break
		}
		tok := z.Token()
		switch tt {
		case nethtml.StartTagToken:
			if !allowed[tok.Data] {
				t.Errorf("Sanitize(%q): disallowed tag %q in %q", input, tok.Data, s)
			}
			for _, a := range tok.Attr {
				if tok.Data != "a" || a.Key != "href" {
					t.Errorf("Sanitize(%q): attribute %q on %q", input, a.Key, tok.Data)
				}
				if _, ok := validHref(a.Val); !ok {
					t.Errorf("Sanitize(%q): invalid href %q", input, a.Val)
				}
			}
			stack = append(stack, frame{tok.Data})
		case nethtml.SelfClosingTagToken:
			if !voidTags[tok.Data] {
				t.Errorf("Sanitize(%q): unexpected self-closing %q", input, tok.Data)
			}
		case nethtml.EndTagToken:
			if len(stack) == 0 || stack[len(stack)-1].tag != tok.Data {
				t.Fatalf("Sanitize(%q) = %q: crossing or stray </%s>", input, s, tok.Data)
			}
			stack = stack[:len(stack)-1]
		case nethtml.CommentToken, nethtml.DoctypeToken:
			t.Errorf("Sanitize(%q): comment or doctype survived", input)
		}
	}
	if len(stack) != 0 {
		t.Errorf("Sanitize(%q) = %q: %d unclosed", input, s, len(stack))
	}
	for _, r := range s {
		if (r < 0x20 && r != '\t' && r != '\n' && r != '\r') || r == 0x7f {
			t.Errorf("Sanitize(%q): control character %U in output", input, r)
		}
	}
}

func TestSanitize_BalancedAndAllowListed(t *testing.T) {
	for _, in := range corpus {
		checkBalanced(t, in, string(Sanitize(in)))
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	for _, in := range corpus {
		once := Sanitize(in)
		twice := Sanitize(string(once))
		if once != twice {
			t.Errorf("not idempotent for %q:\n once  %q\n twice %q", in, once, twice)
		}
	}
}

func TestSanitize_Cases(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<p>a<b>b</p>c</b>", "<div><p>a<b>b</b></p>c</div>"},
		{"<script>x</script><p>ok</p>", "<div><p>ok</p></div>"},
		{"", "<div></div>"},
		{"</b></i>", "<div></div>"},
		{"<h1>a</h2>b</h1>", "<div><h1>ab</h1></div>"},
		{"<b><i>x</b>y</i>", "<div><b><i>x</i></b>y</div>"},
		{"<p>open", "<div><p>open</p></div>"},
		{"<span>kept</span> text", "<div>kept text</div>"},
		{"a < b & c", "<div>a &lt; b &amp; c</div>"},
		{"&copy;&#65;", "<div>\u00a9A</div>"},
		{"x\x00\x1by", "<div>xy</div>"},
		{"line<br>break", "<div>line<br/>break</div>"},
		{"```html\n<p>fenced</p>\n```", "<div><p>fenced</p></div>"},
		{"<style>p{color:red}</style>after", "<div>after</div>"},
		{"<script>never closed <p>lost", "<div></div>"},
		{`<p class="x" id="y">attrs</p>`, "<div><p>attrs</p></div>"},
		{`<a href="https://example.com" title="t">ok</a>`, `<div><a href="https://example.com">ok</a></div>`},
		{`<a href="javascript:alert(1)">bad</a>`, "<div><a>bad</a></div>"},
		{`<a href="ftp://example.com">ftp</a>`, "<div><a>ftp</a></div>"},
		{`<a href="mailto:team@example.com">mail</a>`, `<div><a href="mailto:team@example.com">mail</a></div>`},
		{`<p href="https://example.com">p</p>`, "<div><p>p</p></div>"},
	}
	for _, tt := range tests {
		if got := Sanitize(tt.in); string(got) != tt.want {
			t.Errorf("Sanitize(%q)\n got  %q\n want %q", tt.in, got, tt.want)
		}
	}
}

func TestSanitizeWithReport(t *testing.T) {
	_, rep := SanitizeWithReport("<script>x</script><span><p>a<b>b</p></b></i>")
	if rep.StrippedBlocks != 1 {
		t.Errorf("StrippedBlocks = %d", rep.StrippedBlocks)
	}
	if rep.DroppedTags != 1 {
		t.Errorf("DroppedTags = %d", rep.DroppedTags)
	}
	if rep.AutoClosed != 1 {
		t.Errorf("AutoClosed = %d", rep.AutoClosed)
	}
	if rep.DroppedEnds != 2 {
		t.Errorf("DroppedEnds = %d", rep.DroppedEnds)
	}
}

func TestPlainText(t *testing.T) {
	m := Sanitize("<h1>Title &amp; more</h1><p>one<br>two</p><ul><li>a</li><li>b</li></ul><table><tr><td>A</td><td>B</td></tr></table>")
	got := Lines(m)
	want := []string{"Title & more", "one", "two", "a", "b", "A B"}
	if len(got) != len(want) {
		t.Fatalf("Lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDegrade(t *testing.T) {
	m := Sanitize("<h2>Head</h2><p><strong>bold</strong> &lt;x&gt;</p><p>   </p>")
	d := Degrade(m)
	want := "<div><p>Head</p><p>bold &lt;x&gt;</p></div>"
	if string(d) != want {
		t.Errorf("Degrade = %q, want %q", d, want)
	}
	if Sanitize(string(d)) != d {
		t.Error("degraded markup must already be sanitized")
	}
	if Degrade(Sanitize("")) != "<div></div>" {
		t.Error("empty markup should degrade to an empty wrapper")
	}
}
