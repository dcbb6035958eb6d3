package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message represents a chat message for the LLM.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"` // For tool responses
	Name       string     `json:"name,omitempty"`         // tool name on tool responses
	// Images holds image URLs (http(s) or data:) attached to a user
	// message.
	Images []string `json:"images,omitempty"`
}

// ToolCall represents a tool call from the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// RawArguments is set when the provider sent argument text that is
	// not a JSON object.
	RawArguments string `json:"raw_arguments,omitempty"`
}

// ChatResponse is the unified response from any LLM provider.
type ChatResponse struct {
	Model   string
	Message Message

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int
}

// decodeArguments parses a provider's JSON argument string. An empty
// string yields an empty object; anything that is not an object is
// returned as raw text for the caller to report.
func decodeArguments(s string) (map[string]any, string) {
	if s == "" {
		return map[string]any{}, ""
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(s), &args); err != nil || args == nil {
		return nil, s
	}
	return args, ""
}

// encodeArguments renders arguments for providers that expect a JSON
// string.
func encodeArguments(tc ToolCall) string {
	if tc.Arguments == nil && tc.RawArguments != "" {
		return tc.RawArguments
	}
	args := tc.Arguments
	if args == nil {
		args = map[string]any{}
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// ensureCallIDs gives every tool call an ID. Some providers omit them,
// but tool results must reference the call they answer.
func ensureCallIDs(calls []ToolCall) {
	for i := range calls {
		if calls[i].ID == "" {
			calls[i].ID = "call_" + uuid.NewString()
		}
	}
}

// toolFunctions extracts name, description and parameters from
// function-calling tool definitions.
func toolFunctions(tools []map[string]any) []toolFunction {
	out := make([]toolFunction, 0, len(tools))
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		params, _ := fn["parameters"].(map[string]any)
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		out = append(out, toolFunction{Name: name, Description: desc, Parameters: params})
	}
	return out
}

// parseDataURL splits a base64 data URL into its media type and
// payload. Media type defaults to image/png when absent.
func parseDataURL(s string) (mediaType, data string, ok bool) {
	rest, found := strings.CutPrefix(s, "data:")
	if !found {
		return "", "", false
	}
	meta, data, found := strings.Cut(rest, ",")
	if !found {
		return "", "", false
	}
	meta, found = strings.CutSuffix(meta, ";base64")
	if !found {
		return "", "", false
	}
	if meta == "" {
		meta = "image/png"
	}
	return meta, data, true
}

type toolFunction struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// ErrMissingCredential is returned by constructors when a backend has
// no API key.
type ErrMissingCredential struct {
	Provider string
}

func (e *ErrMissingCredential) Error() string {
	return fmt.Sprintf("%s: API key not configured", e.Provider)
}
