package search

import (
	"context"
	"fmt"

	"github.com/nugget/quill/internal/tools"
)

// toolSpec describes the dedicated tool exposed for one provider.
type toolSpec struct {
	tool        string
	description string
	topics      []string
}

var toolSpecs = map[string]toolSpec{
	"wikipedia": {
		tool:        "wikipedia_research",
		description: "Look up encyclopedic background on people, places, events and concepts. Returns article introductions from Wikipedia.",
	},
	"tavily": {
		tool:        "tavily_search",
		description: "Search the web for current information. Set topic to \"news\" for recent news coverage.",
		topics:      []string{"general", "news"},
	},
	"serper": {
		tool:        "serper_search",
		description: "Search Google. Set topic to \"scholar\" to search academic papers on Google Scholar.",
		topics:      []string{"web", "scholar"},
	},
	"exa": {
		tool:        "metaphor_search",
		description: "Neural search for recent articles, essays and blog posts on a topic.",
		topics:      []string{"general", "news"},
	},
	"github": {
		tool:        "github_search",
		description: "Search GitHub repositories by keyword. Results are ordered by stars.",
	},
	"brave": {
		tool:        "brave_search",
		description: "Search the web with Brave Search.",
	},
	"searxng": {
		tool:        "searxng_search",
		description: "Search the web through a SearXNG metasearch instance.",
		topics:      []string{"general", "news"},
	},
}

// ToolName returns the tool name for a provider, or "" when the
// provider has no dedicated tool.
func ToolName(provider string) string {
	return toolSpecs[provider].tool
}

// ToolProvider contributes one research tool per registered search
// provider, plus a generic web_search tool routed to the primary
// provider.
type ToolProvider struct {
	mgr        *Manager
	maxResults int
}

// NewToolProvider wraps mgr. maxResults is the default result count
// when a call does not give one.
func NewToolProvider(mgr *Manager, maxResults int) *ToolProvider {
	if maxResults <= 0 {
		maxResults = DefaultCount
	}
	return &ToolProvider{mgr: mgr, maxResults: maxResults}
}

// Name implements tools.Provider.
func (p *ToolProvider) Name() string { return "search" }

// Tools implements tools.Provider.
func (p *ToolProvider) Tools(context.Context) ([]*tools.Tool, error) {
	if p.mgr == nil || !p.mgr.Configured() {
		return nil, nil
	}

	var list []*tools.Tool
	for _, name := range p.mgr.Providers() {
		spec, ok := toolSpecs[name]
		if !ok {
			continue
		}
		list = append(list, &tools.Tool{
			Name:        spec.tool,
			Description: spec.description,
			Parameters:  parameters(spec.topics, false),
			Handler:     p.handler(spec.tool, name),
		})
	}
	list = append(list, &tools.Tool{
		Name:        "web_search",
		Description: fmt.Sprintf("Search the web using the default provider (%s). Set provider to use another one.", p.mgr.Primary()),
		Parameters:  parameters(nil, true),
		Handler:     p.handler("web_search", ""),
	})
	return list, nil
}

func (p *ToolProvider) handler(toolName, provider string) tools.Handler {
	return func(ctx context.Context, args map[string]any) (string, error) {
		query, err := tools.RequireString(toolName, args, "query")
		if err != nil {
			return "", err
		}

		opts := Options{
			Count:    tools.IntArg(args, "count", p.maxResults),
			Language: tools.StringArg(args, "language"),
			Topic:    tools.StringArg(args, "topic"),
		}
		if opts.Count > 10 {
			opts.Count = 10
		}

		target := provider
		if target == "" {
			target = tools.StringArg(args, "provider")
		}
		var results []Result
		if target == "" {
			results, err = p.mgr.Search(ctx, query, opts)
		} else {
			results, err = p.mgr.SearchWith(ctx, target, query, opts)
		}
		if err != nil {
			return "", err
		}
		return FormatResults(results), nil
	}
}

// parameters returns the JSON Schema for a search tool.
func parameters(topics []string, withProvider bool) map[string]any {
	props := map[string]any{
		"query": map[string]any{
			"type":        "string",
			"description": "The search query string.",
		},
		"count": map[string]any{
			"type":        "integer",
			"description": "Maximum number of results to return (1-10). Default: 5.",
		},
		"language": map[string]any{
			"type":        "string",
			"description": "ISO 639-1 language code for results (e.g., 'en', 'de').",
		},
	}
	if len(topics) > 0 {
		props["topic"] = map[string]any{
			"type":        "string",
			"enum":        topics,
			"description": "Narrow the search to a category.",
		}
	}
	if withProvider {
		props["provider"] = map[string]any{
			"type":        "string",
			"description": "Search provider to use. Omit for default.",
		}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   []string{"query"},
	}
}
