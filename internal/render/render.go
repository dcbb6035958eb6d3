// Package render converts assistant markdown into the forms callers ask
// for: an HTML fragment for web clients, a standalone HTML document, or
// plain text for terminals. It also describes the markdown dialect in
// the format_info block returned with every chat response.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

// FormatInfo tells clients how to display message content.
type FormatInfo struct {
	ContentType           string            `json:"content_type"`
	RenderingInstructions map[string]string `json:"rendering_instructions"`
}

// Markdown returns the format_info block for markdown responses.
func Markdown() FormatInfo {
	return FormatInfo{
		ContentType: "markdown",
		RenderingInstructions: map[string]string{
			"headings":    "Use proper heading elements (h1-h6) for lines starting with # symbols",
			"emphasis":    "Render * and _ wrapped text as italic, ** and __ as bold",
			"lists":       "Render proper ordered and unordered lists for lines starting with numbers or - symbols",
			"code_blocks": "Properly format code blocks surrounded by ``` marks",
		},
	}
}

// md is shared; goldmark converters are safe for concurrent use. Raw
// HTML in the source is omitted from the output.
var md = goldmark.New(goldmark.WithExtensions(extension.GFM))

// HTML converts markdown to an HTML fragment.
func HTML(src string) (string, error) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(src), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// Document wraps the rendered fragment in a minimal HTML page.
func Document(title, src string) (string, error) {
	body, err := HTML(src)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.5;">
%s
</body></html>`, htmlEscape(title), body), nil
}

var htmlReplacer = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func htmlEscape(s string) string { return htmlReplacer.Replace(s) }

// Patterns for stripping markdown formatting.
var (
	mdBold       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	mdItalic     = regexp.MustCompile(`\*(.+?)\*`)
	mdLink       = regexp.MustCompile(`\[([^\]]+)\]\(([^)]+)\)`)
	mdImage      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]+\)`)
	mdHeading    = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdCodeBlock  = regexp.MustCompile("(?s)```[a-zA-Z]*\n?(.*?)```")
	mdInlineCode = regexp.MustCompile("`([^`]+)`")
)

// Plain converts markdown to plain text by stripping formatting
// characters while preserving structure. List markers stay as they
// are.
func Plain(src string) string {
	s := mdCodeBlock.ReplaceAllString(src, "$1")

	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1 ($2)")
	s = mdBold.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1")
	s = mdInlineCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")

	return strings.TrimSpace(s)
}
