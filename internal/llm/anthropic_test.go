package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

// wire renders SDK params the way they go over the network.
func wire(t *testing.T, v any) []map[string]any {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out []map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return out
}

func blocksOf(t *testing.T, msg map[string]any) []map[string]any {
	t.Helper()
	raw, ok := msg["content"].([]any)
	if !ok {
		t.Fatalf("content is %T, want list", msg["content"])
	}
	out := make([]map[string]any, len(raw))
	for i, b := range raw {
		out[i] = b.(map[string]any)
	}
	return out
}

func TestConvertToAnthropic(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a research assistant."},
		{Role: "user", Content: "Hello!"},
		{Role: "assistant", Content: "Hi there!"},
		{Role: "user", Content: "Who was Ada Lovelace?"},
	}

	result, system := convertToAnthropic(messages)

	if system != "You are a research assistant." {
		t.Errorf("expected system prompt extracted, got %q", system)
	}
	msgs := wire(t, result)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages (no system), got %d", len(msgs))
	}
	if msgs[0]["role"] != "user" || msgs[1]["role"] != "assistant" {
		t.Errorf("roles = %v, %v", msgs[0]["role"], msgs[1]["role"])
	}
	if got := blocksOf(t, msgs[2])[0]["text"]; got != "Who was Ada Lovelace?" {
		t.Errorf("last text = %v", got)
	}
}

func TestConvertToAnthropicWithToolCalls(t *testing.T) {
	messages := []Message{
		{Role: "system", Content: "You are a research assistant."},
		{Role: "user", Content: "Search twice."},
		{
			Role: "assistant",
			ToolCalls: []ToolCall{
				{ID: "toolu_abc123", Name: "tavily_search", Arguments: map[string]any{"query": "go"}},
				{ID: "toolu_def456", Name: "wikipedia_research", Arguments: map[string]any{"query": "go"}},
			},
		},
		{Role: "tool", Content: "Tavily results", ToolCallID: "toolu_abc123"},
		{Role: "tool", Content: "Wikipedia results", ToolCallID: "toolu_def456"},
		{Role: "assistant", Content: "Here is what I found."},
	}

	result, _ := convertToAnthropic(messages)
	msgs := wire(t, result)

	if len(msgs) != 4 { // user, assistant with tool_use, user with both tool_results, assistant
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}

	calls := blocksOf(t, msgs[1])
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool_use blocks, got %d", len(calls))
	}
	if calls[0]["type"] != "tool_use" || calls[0]["id"] != "toolu_abc123" || calls[0]["name"] != "tavily_search" {
		t.Errorf("unexpected first block: %v", calls[0])
	}
	if input, _ := calls[0]["input"].(map[string]any); input["query"] != "go" {
		t.Errorf("input = %v", calls[0]["input"])
	}

	if msgs[2]["role"] != "user" {
		t.Errorf("tool results role = %v, want user", msgs[2]["role"])
	}
	results := blocksOf(t, msgs[2])
	if len(results) != 2 {
		t.Fatalf("expected merged tool results, got %d blocks", len(results))
	}
	if results[0]["type"] != "tool_result" || results[1]["tool_use_id"] != "toolu_def456" {
		t.Errorf("tool results = %v", results)
	}
}

func TestConvertToAnthropic_Images(t *testing.T) {
	result, _ := convertToAnthropic([]Message{{
		Role:    "user",
		Content: "Compare these charts.",
		Images: []string{
			"https://example.com/chart.png",
			"data:image/jpeg;base64,/9j/4AAQ",
			"ftp://example.com/skipped.png",
		},
	}})

	blocks := blocksOf(t, wire(t, result)[0])
	if len(blocks) != 3 {
		t.Fatalf("blocks = %v, want text + 2 images", blocks)
	}
	urlSrc, _ := blocks[1]["source"].(map[string]any)
	if blocks[1]["type"] != "image" || urlSrc["type"] != "url" || urlSrc["url"] != "https://example.com/chart.png" {
		t.Errorf("url image = %v", blocks[1])
	}
	b64Src, _ := blocks[2]["source"].(map[string]any)
	if b64Src["type"] != "base64" || b64Src["media_type"] != "image/jpeg" || b64Src["data"] != "/9j/4AAQ" {
		t.Errorf("base64 image = %v", blocks[2])
	}
}

func TestConvertToolsToAnthropic(t *testing.T) {
	tools := []map[string]any{
		{
			"type": "function",
			"function": map[string]any{
				"name":        "wikipedia_research",
				"description": "Search Wikipedia",
				"parameters": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"query": map[string]any{"type": "string"},
					},
					"required": []string{"query"},
				},
			},
		},
		{"broken": true},
	}

	got := wire(t, convertToolsToAnthropic(tools))
	if len(got) != 1 {
		t.Fatalf("expected 1 tool, got %d", len(got))
	}
	if got[0]["name"] != "wikipedia_research" || got[0]["description"] != "Search Wikipedia" {
		t.Errorf("tool = %v", got[0])
	}
	schema, _ := got[0]["input_schema"].(map[string]any)
	if schema["type"] != "object" {
		t.Errorf("input_schema.type = %v", schema["type"])
	}
	if req, _ := schema["required"].([]any); len(req) != 1 || req[0] != "query" {
		t.Errorf("input_schema.required = %v", schema["required"])
	}
}

func TestConvertFromAnthropic(t *testing.T) {
	var msg anthropic.Message
	body := `{
		"id": "msg_01",
		"type": "message",
		"role": "assistant",
		"model": "claude-3-sonnet-20240229",
		"stop_reason": "tool_use",
		"content": [
			{"type": "text", "text": "I'll look that up."},
			{"type": "tool_use", "id": "toolu_xyz789", "name": "tavily_search", "input": {"query": "fusion"}}
		],
		"usage": {"input_tokens": 100, "output_tokens": 20}
	}`
	if err := json.Unmarshal([]byte(body), &msg); err != nil {
		t.Fatal(err)
	}

	result := convertFromAnthropic(&msg)

	if result.Message.Content != "I'll look that up." {
		t.Errorf("unexpected content: %q", result.Message.Content)
	}
	if len(result.Message.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(result.Message.ToolCalls))
	}
	tc := result.Message.ToolCalls[0]
	if tc.ID != "toolu_xyz789" || tc.Name != "tavily_search" || tc.Arguments["query"] != "fusion" {
		t.Errorf("unexpected tool call: %+v", tc)
	}
	if result.Model != "claude-3-sonnet-20240229" || result.InputTokens != 100 || result.OutputTokens != 20 {
		t.Errorf("model/tokens = %s %d/%d", result.Model, result.InputTokens, result.OutputTokens)
	}
}

func TestConvertFromAnthropic_EmptyContent(t *testing.T) {
	result := convertFromAnthropic(&anthropic.Message{Model: "m"})
	if result.Message.Content != "" || len(result.Message.ToolCalls) != 0 {
		t.Errorf("expected empty message, got %+v", result.Message)
	}
}

func TestClientsImplementInterface(t *testing.T) {
	var _ Client = (*AnthropicClient)(nil)
	var _ Client = (*OllamaClient)(nil)
	var _ Client = (*OpenAIClient)(nil)
	var _ Client = (*GeminiClient)(nil)
}

func TestNewAnthropicClient_MissingKey(t *testing.T) {
	if _, err := NewAnthropicClient("", "", nil); err == nil {
		t.Fatal("expected error for missing key")
	}
}

func TestAnthropicClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "sk-test" {
			t.Errorf("x-api-key = %q", r.Header.Get("x-api-key"))
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Error("anthropic-version header missing")
		}
		var req struct {
			Model       string           `json:"model"`
			MaxTokens   int              `json:"max_tokens"`
			Temperature *float64         `json:"temperature"`
			System      []map[string]any `json:"system"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if len(req.System) != 1 || req.System[0]["text"] != "be brief" {
			t.Errorf("system = %v", req.System)
		}
		if req.Temperature == nil || *req.Temperature != 0 {
			t.Errorf("temperature = %v, want 0", req.Temperature)
		}
		if req.MaxTokens != anthropicMaxTokens {
			t.Errorf("max_tokens = %d", req.MaxTokens)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"id":          "msg_01",
			"type":        "message",
			"model":       "claude-3-sonnet-20240229",
			"role":        "assistant",
			"stop_reason": "end_turn",
			"content":     []map[string]any{{"type": "text", "text": "Done."}},
			"usage":       map[string]any{"input_tokens": 12, "output_tokens": 3},
		})
	}))
	defer srv.Close()

	c, err := NewAnthropicClient("sk-test", srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := c.Chat(context.Background(), "claude-3-sonnet-20240229", []Message{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hi"},
	}, nil)
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Message.Content != "Done." || resp.InputTokens != 12 || resp.OutputTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAnthropicClient_ChatError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	c, _ := NewAnthropicClient("bad", srv.URL, nil)
	if _, err := c.Chat(context.Background(), "m", []Message{{Role: "user", Content: "hi"}}, nil); err == nil {
		t.Fatal("expected error on 401")
	}
}
