package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/nugget/quill/internal/httpkit"
)

// DefaultOllamaURL is used when an ollama backend has no base_url.
const DefaultOllamaURL = "http://localhost:11434"

// OllamaClient is a client for the Ollama API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "ollama"),
		// Large models with tools need time.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(5 * time.Minute)),
	}
}

// Provider implements Client.
func (c *OllamaClient) Provider() string { return "ollama" }

type ollamaRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
	Options  *ollamaOptions   `json:"options,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
}

type ollamaMessage struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	ToolCalls []ollamaToolCall `json:"tool_calls,omitempty"`
	ToolName  string           `json:"tool_name,omitempty"`
	// Images are base64 payloads; Ollama does not fetch URLs.
	Images []string `json:"images,omitempty"`
}

// Ollama returns arguments as an object, not a string.
type ollamaToolCall struct {
	Function struct {
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	} `json:"function"`
}

type ollamaWireResponse struct {
	Model           string        `json:"model"`
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count,omitempty"`
	EvalCount       int           `json:"eval_count,omitempty"`
}

func (w *ollamaWireResponse) toChatResponse() *ChatResponse {
	resp := &ChatResponse{
		Model:        w.Model,
		Message:      Message{Role: "assistant", Content: w.Message.Content},
		InputTokens:  w.PromptEvalCount,
		OutputTokens: w.EvalCount,
	}
	for _, tc := range w.Message.ToolCalls {
		args := tc.Function.Arguments
		if args == nil {
			args = map[string]any{}
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return resp
}

// Chat sends a chat completion request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaRequest{
		Model:    model,
		Messages: convertToOllama(messages),
		Tools:    tools,
		Options:  &ollamaOptions{Temperature: 0},
	}

	c.logger.Debug("preparing request", "model", model, "messages", len(req.Messages), "tools", len(tools))

	var wire ollamaWireResponse
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodPost, c.baseURL+"/api/chat", req, &wire); err != nil {
		return nil, fmt.Errorf("ollama: %w", err)
	}
	resp := wire.toChatResponse()

	// Try to parse text-based tool calls if no native tool_calls
	if len(resp.Message.ToolCalls) == 0 && resp.Message.Content != "" {
		if parsed := parseTextToolCalls(resp.Message.Content, extractToolNames(tools)); len(parsed) > 0 {
			c.logger.Debug("parsed text tool calls", "count", len(parsed))
			resp.Message.ToolCalls = parsed
			resp.Message.Content = "" // Clear content since it was a tool call
		}
	}
	ensureCallIDs(resp.Message.ToolCalls)

	c.logger.Debug("response received",
		"model", resp.Model,
		"input_tokens", resp.InputTokens,
		"output_tokens", resp.OutputTokens,
		"tool_calls", len(resp.Message.ToolCalls),
	)
	return resp, nil
}

func convertToOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{Role: m.Role, Content: m.Content}
		if m.Role == "tool" {
			om.ToolName = m.Name
		}
		for _, url := range m.Images {
			if _, data, ok := parseDataURL(url); ok {
				om.Images = append(om.Images, data)
			}
		}
		for _, tc := range m.ToolCalls {
			var call ollamaToolCall
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			if call.Function.Arguments == nil {
				call.Function.Arguments = map[string]any{}
			}
			om.ToolCalls = append(om.ToolCalls, call)
		}
		out = append(out, om)
	}
	return out
}

// extractToolNames returns the function names from tool definitions.
func extractToolNames(tools []map[string]any) []string {
	if len(tools) == 0 {
		return nil
	}
	names := []string{}
	for _, fn := range toolFunctions(tools) {
		if fn.Name != "" {
			names = append(names, fn.Name)
		}
	}
	return names
}

type textToolCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Many models output tool calls as JSON in the content rather than using
// the native tool_calls field. Handled formats:
//   - Raw JSON object: {"name": "...", "arguments": {...}}
//   - JSON array: [{"name": "...", "arguments": {...}}]
//   - Concatenated objects: {...}{...}
//   - Tagged: <tool_call>...</tool_call>
//   - Name then object: tool_name {...}
//
// When validTools is non-empty, calls naming other tools are dropped.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	valid := func(name string) bool {
		return name != "" && (len(validTools) == 0 || slices.Contains(validTools, name))
	}
	collect := func(calls []textToolCall) []ToolCall {
		var result []ToolCall
		for _, tc := range calls {
			if !valid(tc.Name) {
				continue
			}
			args := tc.Arguments
			if args == nil {
				args = map[string]any{}
			}
			result = append(result, ToolCall{Name: tc.Name, Arguments: args})
		}
		return result
	}

	switch {
	case strings.HasPrefix(content, "["):
		var calls []textToolCall
		if err := json.Unmarshal([]byte(content), &calls); err == nil {
			return collect(calls)
		}
		return nil

	case strings.HasPrefix(content, "{"):
		// A decoder reads one object at a time, which covers both a
		// single object and several concatenated ones. Trailing prose
		// stops the scan.
		dec := json.NewDecoder(strings.NewReader(content))
		var calls []textToolCall
		for dec.More() {
			var tc textToolCall
			if err := dec.Decode(&tc); err != nil {
				break
			}
			calls = append(calls, tc)
		}
		return collect(calls)
	}

	// tool_name {json}
	name, rest, ok := strings.Cut(content, " ")
	if !ok || len(validTools) == 0 || !valid(name) {
		return nil
	}
	var args map[string]any
	if err := json.NewDecoder(strings.NewReader(strings.TrimSpace(rest))).Decode(&args); err != nil {
		return nil
	}
	return []ToolCall{{Name: name, Arguments: args}}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/tags", nil, nil); err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	return nil
}

// ListModels returns available models.
func (c *OllamaClient) ListModels(ctx context.Context) ([]string, error) {
	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := httpkit.DoJSON(ctx, c.httpClient, http.MethodGet, c.baseURL+"/api/tags", nil, &result); err != nil {
		return nil, fmt.Errorf("ollama list models: %w", err)
	}
	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
