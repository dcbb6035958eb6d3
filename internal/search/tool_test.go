package search

import (
	"context"
	"strings"
	"testing"

	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/tools"
)

func TestToolProvider_OneToolPerProvider(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "tavily"})
	mgr.Register(&mockProvider{name: "wikipedia"})
	mgr.Register(&mockProvider{name: "unknown"})

	list, err := NewToolProvider(mgr, 5).Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tl := range list {
		names = append(names, tl.Name)
	}
	if got := strings.Join(names, ","); got != "tavily_search,wikipedia_research,web_search" {
		t.Errorf("tools = %s", got)
	}
}

func TestToolProvider_Unconfigured(t *testing.T) {
	list, err := NewToolProvider(NewManager(""), 5).Tools(context.Background())
	if err != nil || len(list) != 0 {
		t.Errorf("Tools() = %v, %v; want none", list, err)
	}
}

func TestToolProvider_Handler(t *testing.T) {
	tavily := &mockProvider{name: "tavily", results: []Result{{Title: "Hit", URL: "https://hit"}}}
	wiki := &mockProvider{name: "wikipedia"}
	mgr := NewManager("tavily")
	mgr.Register(tavily)
	mgr.Register(wiki)

	list, _ := NewToolProvider(mgr, 4).Tools(context.Background())

	out, err := tools.Call(context.Background(), tools.Find(list, "tavily_search"), map[string]any{
		"query": "  solar  ",
		"topic": "news",
	})
	if err != nil {
		t.Fatalf("tavily_search: %v", err)
	}
	if out != "1. Hit\n   https://hit" {
		t.Errorf("output = %q", out)
	}
	if tavily.lastQuery != "solar" || tavily.lastOpts.Count != 4 || tavily.lastOpts.Topic != "news" {
		t.Errorf("provider saw %q %+v", tavily.lastQuery, tavily.lastOpts)
	}

	out, err = tools.Call(context.Background(), tools.Find(list, "web_search"), map[string]any{
		"query":    "q",
		"provider": "wikipedia",
		"count":    float64(50),
	})
	if err != nil {
		t.Fatalf("web_search: %v", err)
	}
	if out != "No results found." {
		t.Errorf("output = %q", out)
	}
	if wiki.lastOpts.Count != 10 {
		t.Errorf("count = %d, want clamped to 10", wiki.lastOpts.Count)
	}
}

func TestToolProvider_MissingQuery(t *testing.T) {
	mgr := NewManager("")
	mgr.Register(&mockProvider{name: "serper"})
	list, _ := NewToolProvider(mgr, 0).Tools(context.Background())

	_, err := tools.Call(context.Background(), tools.Find(list, "serper_search"), map[string]any{})
	if err == nil || !strings.Contains(err.Error(), "serper_search: query is required") {
		t.Errorf("err = %v", err)
	}
}

func TestToolName(t *testing.T) {
	if ToolName("exa") != "metaphor_search" {
		t.Errorf("ToolName(exa) = %q", ToolName("exa"))
	}
	if ToolName("nope") != "" {
		t.Error("unknown provider should have no tool")
	}
}

func TestFromConfig(t *testing.T) {
	mgr := FromConfig(config.SearchConfig{
		Serper:    config.APIKeyConfig{APIKey: "s"},
		Metaphor:  config.APIKeyConfig{APIKey: "m"},
		Wikipedia: config.WikipediaConfig{Language: "de"},
	}, nil)

	if got := strings.Join(mgr.Providers(), ","); got != "exa,serper,wikipedia" {
		t.Errorf("providers = %s", got)
	}
	if mgr.Primary() != "serper" {
		t.Errorf("primary = %s, want serper", mgr.Primary())
	}

	none := FromConfig(config.SearchConfig{Wikipedia: config.WikipediaConfig{Disabled: true}}, nil)
	if none.Configured() {
		t.Error("expected no providers")
	}
}
