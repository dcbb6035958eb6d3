package fetch

import (
	"context"
	"fmt"
	"strings"

	"github.com/nugget/quill/internal/tools"
)

// ToolName is the registered name of the page browsing tool.
const ToolName = "browse_web"

// ToolHandler returns a tools.Handler that fetches a page and renders
// it as text for the model.
func ToolHandler(f *Fetcher) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		url, err := tools.RequireString(ToolName, args, "url")
		if err != nil {
			return "", err
		}

		result, err := f.Fetch(ctx, url, tools.IntArg(args, "max_chars", 0))
		if err != nil {
			return "", err
		}
		return FormatResult(result), nil
	}
}

// FormatResult renders a fetched page as plain text.
func FormatResult(r *Result) string {
	var sb strings.Builder
	if r.Title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", r.Title)
	}
	fmt.Fprintf(&sb, "URL: %s\n\n", r.URL)
	if r.Content == "" {
		sb.WriteString("(no readable text on this page)")
	} else {
		sb.WriteString(r.Content)
	}
	if r.Truncated {
		fmt.Fprintf(&sb, "\n\n[content truncated at %d characters]", r.Length)
	}
	return sb.String()
}

// ToolDefinition returns the JSON Schema parameters for browse_web.
func ToolDefinition() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "URL to fetch and extract content from.",
			},
			"max_chars": map[string]any{
				"type":        "integer",
				"description": "Maximum characters to return. Default: 50000.",
			},
		},
		"required": []string{"url"},
	}
}

// Provider returns a tools.Provider contributing browse_web. It needs
// no credential and is always available.
func Provider(f *Fetcher) tools.Provider {
	return tools.Static("browse", &tools.Tool{
		Name:        ToolName,
		Description: "Fetch a web page and return its readable text. Use this to read a specific article or source found by search.",
		Parameters:  ToolDefinition(),
		Handler:     ToolHandler(f),
	})
}
