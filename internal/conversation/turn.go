// Package conversation holds the turn model shared by the research loop
// and the API, and the stores that keep conversation history keyed by
// conversation ID.
package conversation

import (
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-issued request to run a named tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	// RawArguments holds the backend's argument text when it could not
	// be decoded into Arguments.
	RawArguments string `json:"raw_arguments,omitempty"`
}

// Malformed reports whether the backend sent arguments that did not
// decode to a JSON object.
func (c ToolCall) Malformed() bool {
	return c.Arguments == nil && c.RawArguments != ""
}

// Turn is one message in a conversation. Turns are never modified after
// they are appended.
type Turn struct {
	Role       Role       `json:"role"`
	Content    Content    `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"` // tool name on tool turns
	IsError    bool       `json:"is_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// UserTurn returns a user turn with the given content.
func UserTurn(c Content) Turn {
	return Turn{Role: RoleUser, Content: c, CreatedAt: time.Now()}
}

// AssistantTurn returns an assistant turn with optional tool calls.
func AssistantTurn(text string, calls ...ToolCall) Turn {
	return Turn{Role: RoleAssistant, Content: Text(text), ToolCalls: calls, CreatedAt: time.Now()}
}

// ToolResultTurn returns the turn answering the tool call callID.
func ToolResultTurn(callID, name, result string, isError bool) Turn {
	return Turn{
		Role:       RoleTool,
		Content:    Text(result),
		ToolCallID: callID,
		Name:       name,
		IsError:    isError,
		CreatedAt:  time.Now(),
	}
}

// HasToolCalls reports whether the turn requests any tool calls.
func (t Turn) HasToolCalls() bool { return len(t.ToolCalls) > 0 }

// Clone returns a copy of turns that shares no mutable state with the
// original.
func Clone(turns []Turn) []Turn {
	if turns == nil {
		return nil
	}
	out := make([]Turn, len(turns))
	for i, t := range turns {
		out[i] = t
		if t.ToolCalls != nil {
			out[i].ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
		}
		if t.Content.blocks != nil {
			out[i].Content = Blocks(t.Content.blocks...)
		}
	}
	return out
}
