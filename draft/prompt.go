package draft

import (
	"fmt"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"

	"github.com/hazyhaar/docforge/chunk"
)

// DefaultSystemInstructions asks for markup the serializer understands.
const DefaultSystemInstructions = `You write document sections.
Answer with HTML only, using these tags: h1, h2, h3, p, ul, ol, li, table, tr, th, td, strong, em, u, br.
Do not wrap the answer in code fences. Do not add scripts, styles or attributes.
Match the tone and structure of the reference excerpts when they are relevant.`

// promptBuilder renders retrieved chunks as Markdown context.
type promptBuilder struct {
	md       *converter.Converter
	maxChars int
}

func newPromptBuilder(maxChars int) *promptBuilder {
	return &promptBuilder{
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		maxChars: maxChars,
	}
}

// build returns the user prompt: the reference excerpts, most relevant first,
// then the instruction. Excerpts past maxChars are dropped whole.
func (b *promptBuilder) build(prompt string, sources []chunk.Chunk) string {
	var sb strings.Builder
	if len(sources) > 0 {
		sb.WriteString("Reference excerpts:\n\n")
		used := 0
		for i, c := range sources {
			text := b.markdown(c)
			if text == "" {
				continue
			}
			entry := fmt.Sprintf("--- Excerpt %d (page %d) ---\n%s\n\n", i+1, c.SourcePage, text)
			if b.maxChars > 0 && used+len(entry) > b.maxChars && used > 0 {
				break
			}
			sb.WriteString(entry)
			used += len(entry)
		}
	}
	sb.WriteString("Task:\n")
	sb.WriteString(strings.TrimSpace(prompt))
	sb.WriteByte('\n')
	return sb.String()
}

// markdown converts the chunk HTML, falling back to its raw text.
func (b *promptBuilder) markdown(c chunk.Chunk) string {
	if strings.TrimSpace(c.HTML) != "" {
		if md, err := b.md.ConvertString(c.HTML); err == nil && strings.TrimSpace(md) != "" {
			return strings.TrimSpace(md)
		}
	}
	return strings.TrimSpace(c.RawText)
}
