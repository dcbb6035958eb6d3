package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string // First tool name if wantCount > 0
	}{
		{
			name:      "empty content",
			content:   "",
			wantCount: 0,
		},
		{
			name:      "whitespace only",
			content:   "   \n\t  ",
			wantCount: 0,
		},
		{
			name:      "plain text no JSON",
			content:   "Turing proposed the imitation game in 1950.",
			wantCount: 0,
		},
		{
			name:      "single tool call object",
			content:   `{"name": "wikipedia_research", "arguments": {"query": "Alan Turing"}}`,
			wantCount: 1,
			wantName:  "wikipedia_research",
		},
		{
			name:      "single tool call with whitespace",
			content:   `  {"name": "wikipedia_research", "arguments": {"query": "Alan Turing"}}  `,
			wantCount: 1,
			wantName:  "wikipedia_research",
		},
		{
			name:      "array of tool calls",
			content:   `[{"name": "wikipedia_research", "arguments": {"query": "Alan Turing"}}, {"name": "browse_web", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "wikipedia_research",
		},
		{
			name:      "tagged tool call",
			content:   `<tool_call>{"name": "tavily_search", "arguments": {"query": "kubernetes", "language": "go"}}</tool_call>`,
			wantCount: 1,
			wantName:  "tavily_search",
		},
		{
			name:      "tagged tool call without closing tag",
			content:   `<tool_call>{"name": "wikipedia_research", "arguments": {"query": "go generics"}}`,
			wantCount: 1,
			wantName:  "wikipedia_research",
		},
		{
			name:      "tagged with preamble",
			content:   `Let me check that for you. <tool_call>{"name": "wikipedia_research", "arguments": {"query": "Alan Turing"}}</tool_call>`,
			wantCount: 1,
			wantName:  "wikipedia_research",
		},
		{
			name:      "empty arguments",
			content:   `{"name": "browse_web", "arguments": {}}`,
			wantCount: 1,
			wantName:  "browse_web",
		},
		{
			name:      "nested arguments",
			content:   `{"name": "tavily_search", "arguments": {"query": "rust", "options": {"depth": 2}}}`,
			wantCount: 1,
			wantName:  "tavily_search",
		},
		{
			name:      "malformed JSON",
			content:   `{"name": "wikipedia_research", "arguments": {`,
			wantCount: 0,
		},
		{
			name:      "JSON without name field",
			content:   `{"foo": "bar", "arguments": {}}`,
			wantCount: 0,
		},
		{
			name:      "JSON with empty name",
			content:   `{"name": "", "arguments": {}}`,
			wantCount: 0,
		},
		// Validation tests
		{
			name:       "valid tool with validation",
			content:    `{"name": "wikipedia_research", "arguments": {"query": "Alan Turing"}}`,
			validTools: []string{"wikipedia_research", "tavily_search"},
			wantCount:  1,
			wantName:   "wikipedia_research",
		},
		{
			name:       "invalid tool rejected by validation",
			content:    `{"name": "rm_rf", "arguments": {}}`,
			validTools: []string{"wikipedia_research", "tavily_search"},
			wantCount:  0,
		},
		{
			name:       "mixed valid/invalid in array",
			content:    `[{"name": "wikipedia_research", "arguments": {}}, {"name": "invalid_tool", "arguments": {}}]`,
			validTools: []string{"wikipedia_research", "tavily_search"},
			wantCount:  1,
			wantName:   "wikipedia_research",
		},
		{
			name:       "no validation (nil validTools)",
			content:    `{"name": "any_tool_name", "arguments": {}}`,
			validTools: nil,
			wantCount:  1,
			wantName:   "any_tool_name",
		},
		{
			name:       "no validation (empty validTools)",
			content:    `{"name": "any_tool_name", "arguments": {}}`,
			validTools: []string{},
			wantCount:  1,
			wantName:   "any_tool_name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)

			if len(got) != tt.wantCount {
				t.Errorf("parseTextToolCalls() returned %d tools, want %d", len(got), tt.wantCount)
				return
			}

			if tt.wantCount > 0 && got[0].Name != tt.wantName {
				t.Errorf("parseTextToolCalls() first tool name = %q, want %q", got[0].Name, tt.wantName)
			}
		})
	}
}

func TestExtractToolNames(t *testing.T) {
	tests := []struct {
		name  string
		tools []map[string]any
		want  []string
	}{
		{
			name:  "nil tools",
			tools: nil,
			want:  nil,
		},
		{
			name:  "empty tools",
			tools: []map[string]any{},
			want:  nil,
		},
		{
			name: "single tool",
			tools: []map[string]any{
				{"function": map[string]any{"name": "wikipedia_research", "description": "Searches Wikipedia"}},
			},
			want: []string{"wikipedia_research"},
		},
		{
			name: "multiple tools",
			tools: []map[string]any{
				{"function": map[string]any{"name": "wikipedia_research"}},
				{"function": map[string]any{"name": "tavily_search"}},
				{"function": map[string]any{"name": "browse_web"}},
			},
			want: []string{"wikipedia_research", "tavily_search", "browse_web"},
		},
		{
			name: "malformed tool (no function)",
			tools: []map[string]any{
				{"name": "orphan_name"},
			},
			want: []string{},
		},
		{
			name: "mixed valid and malformed",
			tools: []map[string]any{
				{"function": map[string]any{"name": "valid_tool"}},
				{"broken": "entry"},
				{"function": map[string]any{"name": "another_valid"}},
			},
			want: []string{"valid_tool", "another_valid"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := extractToolNames(tt.tools)
			if len(got) != len(tt.want) {
				t.Errorf("extractToolNames() = %v, want %v", got, tt.want)
				return
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("extractToolNames()[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestParseTextToolCalls_Arguments(t *testing.T) {
	content := `{"name": "tavily_search", "arguments": {"query": "solar flares", "topic": "news", "max_results": "5"}}`

	calls := parseTextToolCalls(content, nil)
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}

	args := calls[0].Arguments
	if args["query"] != "solar flares" {
		t.Errorf("query = %v, want 'solar flares'", args["query"])
	}
	if args["topic"] != "news" {
		t.Errorf("topic = %v, want 'news'", args["topic"])
	}
	if args["max_results"] != "5" {
		t.Errorf("max_results = %v, want '5'", args["max_results"])
	}
}

func TestParseTextToolCalls_DuplicateArgumentKeepsLast(t *testing.T) {
	content := `{"name": "tavily_search", "arguments": {"query": "kubernetes", "language": "go", "query": "go generics"}}`

	calls := parseTextToolCalls(content, []string{"tavily_search"})
	if len(calls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(calls))
	}
	args := calls[0].Arguments
	if args["query"] != "go generics" {
		t.Errorf("query = %v, want 'go generics'", args["query"])
	}
	if args["language"] != "go" {
		t.Errorf("language = %v, want 'go'", args["language"])
	}
	if len(args) != 2 {
		t.Errorf("args = %v, want 2 keys", args)
	}
}

func TestParseTextToolCalls_ConcatenatedJSON(t *testing.T) {
	// Test concatenated JSON objects (qwen-style): {...}{...}{...}
	content := `{"name": "serper_search", "arguments": {"query": "model routing"}}{"name": "serper_search", "arguments": {"query": "prior research"}}{"name": "browse_web", "arguments": {"url": "https://go.dev/doc"}}`
	validTools := []string{"serper_search", "browse_web", "metaphor_search"}

	calls := parseTextToolCalls(content, validTools)
	if len(calls) != 3 {
		t.Fatalf("expected 3 tool calls, got %d", len(calls))
	}

	if calls[0].Name != "serper_search" {
		t.Errorf("call[0] name = %q, want serper_search", calls[0].Name)
	}
	if calls[1].Name != "serper_search" {
		t.Errorf("call[1] name = %q, want serper_search", calls[1].Name)
	}
	if calls[2].Name != "browse_web" {
		t.Errorf("call[2] name = %q, want browse_web", calls[2].Name)
	}
	if calls[2].Arguments["url"] != "https://go.dev/doc" {
		t.Errorf("call[2] path = %v, want https://go.dev/doc", calls[2].Arguments["url"])
	}
}

func TestParseTextToolCalls_ConcatenatedWithTrailingText(t *testing.T) {
	// Concatenated JSON followed by prose (as seen from qwen)
	content := `{"name": "serper_search", "arguments": {"query": "routing"}}{"name": "browse_web", "arguments": {"url": "https://example.com"}}Summary of findings follows`
	validTools := []string{"serper_search", "browse_web"}

	calls := parseTextToolCalls(content, validTools)
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d (trailing text should be ignored)", len(calls))
	}
}

func TestParseTextToolCalls_ToolNameSpaceJSON(t *testing.T) {
	// Test "tool_name {json}" format that some models output
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantTool   string
		wantArgs   map[string]any
	}{
		{
			name:       "github_search format",
			content:    `github_search {"query": "tiktoken", "language": "go", "sort": "stars"}`,
			validTools: []string{"github_search", "tavily_search"},
			wantTool:   "github_search",
			wantArgs:   map[string]any{"query": "tiktoken", "language": "go", "sort": "stars"},
		},
		{
			name:       "tavily_search format",
			content:    `tavily_search {"query": "kubernetes", "language": "go"}`,
			validTools: []string{"github_search", "tavily_search"},
			wantTool:   "tavily_search",
			wantArgs:   map[string]any{"query": "kubernetes", "language": "go"},
		},
		{
			name:       "with trailing text",
			content:    `github_search {"query": "paho mqtt"} I will turn it on.`,
			validTools: []string{"github_search"},
			wantTool:   "github_search",
			wantArgs:   map[string]any{"query": "paho mqtt"},
		},
		{
			name:       "invalid tool ignored",
			content:    `unknown_tool {"foo": "bar"}`,
			validTools: []string{"github_search"},
			wantTool:   "",
			wantArgs:   nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := parseTextToolCalls(tt.content, tt.validTools)

			if tt.wantTool == "" {
				if len(calls) != 0 {
					t.Errorf("expected no tool calls, got %d", len(calls))
				}
				return
			}

			if len(calls) != 1 {
				t.Fatalf("expected 1 tool call, got %d", len(calls))
			}

			if calls[0].Name != tt.wantTool {
				t.Errorf("tool name = %q, want %q", calls[0].Name, tt.wantTool)
			}

			for k, want := range tt.wantArgs {
				got := calls[0].Arguments[k]
				if got != want {
					t.Errorf("args[%q] = %v, want %v", k, got, want)
				}
			}
		})
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %s, want /api/chat", r.URL.Path)
		}
		var req ollamaRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if req.Stream {
			t.Error("expected non-streaming request")
		}
		if len(req.Messages) != 3 || req.Messages[2].ToolName != "tavily_search" {
			t.Errorf("messages = %+v", req.Messages)
		}
		w.Write([]byte(`{
			"model": "qwen3:4b",
			"message": {"role": "assistant", "content": "",
				"tool_calls": [{"function": {"name": "browse_web", "arguments": {"url": "https://go.dev"}}}]},
			"done": true,
			"prompt_eval_count": 42,
			"eval_count": 7
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, nil)
	resp, err := c.Chat(context.Background(), "qwen3:4b", []Message{
		{Role: "user", Content: "read go.dev"},
		{Role: "assistant", ToolCalls: []ToolCall{{ID: "call_1", Name: "tavily_search", Arguments: map[string]any{"query": "go"}}}},
		{Role: "tool", Content: "results", ToolCallID: "call_1", Name: "tavily_search"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.InputTokens != 42 || resp.OutputTokens != 7 {
		t.Errorf("tokens = %d/%d, want 42/7", resp.InputTokens, resp.OutputTokens)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	tc := resp.Message.ToolCalls[0]
	if tc.Name != "browse_web" || tc.Arguments["url"] != "https://go.dev" {
		t.Errorf("tool call = %+v", tc)
	}
	if !strings.HasPrefix(tc.ID, "call_") {
		t.Errorf("ID = %q, want synthesized call_ prefix", tc.ID)
	}
}

func TestOllamaClient_TextToolCallFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"qwen3:4b","message":{"role":"assistant","content":"<tool_call>{\"name\": \"wikipedia_research\", \"arguments\": {\"query\": \"Ada Lovelace\"}}</tool_call>"},"done":true}`))
	}))
	defer srv.Close()

	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "wikipedia_research"}}}
	resp, err := NewOllamaClient(srv.URL, nil).Chat(context.Background(), "qwen3:4b", []Message{{Role: "user", Content: "who?"}}, tools)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "" {
		t.Errorf("content = %q, want cleared", resp.Message.Content)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.ToolCalls[0].Name != "wikipedia_research" {
		t.Errorf("tool calls = %+v", resp.Message.ToolCalls)
	}
}

func TestOllamaClient_Ping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write([]byte(`{"models":[{"name":"qwen3:4b"},{"name":"llama3:8b"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", nil)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen3:4b" {
		t.Errorf("models = %v", models)
	}
}
