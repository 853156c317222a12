package script

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a drama screenwriter for short-form audio productions.
Respond with JSON only, matching this shape exactly:
{"title": string, "synopsis": string, "scenes": [{"speaker": string, "text": string}]}
Write six to ten scenes. Each scene's text is narration or dialogue that will
be read aloud verbatim. Do not include stage directions, markdown, or any
field not listed above.`

func buildUserPrompt(req GenerateRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a short drama titled %q.", strings.TrimSpace(req.Title))
	if genre := strings.TrimSpace(req.Genre); genre != "" {
		fmt.Fprintf(&b, " Genre: %s.", genre)
	}
	if desc := strings.TrimSpace(req.Description); desc != "" {
		fmt.Fprintf(&b, " Premise: %s", desc)
	}
	if prompt := strings.TrimSpace(req.Prompt); prompt != "" {
		b.WriteString("\n\nAdditional direction: ")
		b.WriteString(prompt)
	}
	return b.String()
}
