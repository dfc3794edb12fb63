package answer

import (
	"bytes"
	"html"
	"log"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var (
	renderOnce sync.Once
	md         goldmark.Markdown
	policy     *bluemonday.Policy
)

func renderer() (goldmark.Markdown, *bluemonday.Policy) {
	renderOnce.Do(func() {
		md = goldmark.New(goldmark.WithExtensions(extension.GFM))
		policy = bluemonday.UGCPolicy()
		policy.AllowAttrs("class").Matching(bluemonday.SpaceSeparatedTokens).OnElements("code", "pre")
	})
	return md, policy
}

// Render converts Markdown to sanitized HTML. Model output is untrusted.
func Render(markdown string) string {
	m, p := renderer()
	var buf bytes.Buffer
	if err := m.Convert([]byte(markdown), &buf); err != nil {
		log.Printf("answer: markdown render failed: %v", err)
		return p.Sanitize("<pre>" + html.EscapeString(markdown) + "</pre>")
	}
	return string(p.SanitizeBytes(buf.Bytes()))
}
