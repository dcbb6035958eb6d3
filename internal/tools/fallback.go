package tools

import (
	"context"
	"fmt"
)

// FallbackToolName is the name of the tool registered when no provider
// contributes anything.
const FallbackToolName = "search"

// SourceFallback marks the fallback tool.
const SourceFallback = "fallback"

// FallbackMessage is the deterministic reply of the fallback tool.
func FallbackMessage(query string) string {
	return fmt.Sprintf("I would normally search for '%s', but search is currently unavailable. "+
		"Please try again later or ask me something I can answer without searching.", query)
}

// FallbackTool returns the always-available search stand-in.
func FallbackTool() *Tool {
	return &Tool{
		Name:        FallbackToolName,
		Description: "Search for information. Use this when you need to look something up.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "What to search for.",
				},
			},
			"required": []string{"query"},
		},
		Source: SourceFallback,
		Handler: func(_ context.Context, args map[string]any) (string, error) {
			return FallbackMessage(StringArg(args, "query")), nil
		},
	}
}

// EnsureFallback registers the fallback tool if the registry is empty.
// It reports whether the fallback was added. Calling it again is a
// no-op once any tool exists.
func (r *Registry) EnsureFallback() bool {
	if r.Len() > 0 {
		return false
	}
	if err := r.Register(FallbackTool()); err != nil {
		return false
	}
	r.logger.Warn("no research tools available, registered fallback", "tool", FallbackToolName)
	return true
}
