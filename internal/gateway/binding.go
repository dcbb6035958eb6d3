package gateway

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/conversation"
	"github.com/nugget/quill/internal/llm"
	"github.com/nugget/quill/internal/prompts"
	"github.com/nugget/quill/internal/tools"
)

// Binding is a resolved logical model name: a backend client plus the
// tools it was offered when bound.
type Binding struct {
	// LogicalName is the name the caller asked for.
	LogicalName string
	// Backend is the configured backend actually serving requests. It
	// differs from LogicalName when FellBack is set.
	Backend  string
	Provider string
	Model    string
	Tools    []*tools.Tool
	FellBack bool

	system string
	defs   []map[string]any
	client llm.Client
	logger *slog.Logger
}

// Usage is token accounting for one model invocation.
type Usage struct {
	Provider     string `json:"provider"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	// Estimated is set when the backend reported no usage and counts
	// were estimated locally.
	Estimated bool `json:"estimated,omitempty"`
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 Usage) {
	u.InputTokens += u2.InputTokens
	u.OutputTokens += u2.OutputTokens
	u.Estimated = u.Estimated || u2.Estimated
	if u2.Model != "" {
		u.Model = u2.Model
	}
	if u2.Provider != "" {
		u.Provider = u2.Provider
	}
}

func newBinding(name string, bc config.BackendConfig, client llm.Client, snapshot []*tools.Tool, logger *slog.Logger) *Binding {
	names := make([]string, len(snapshot))
	for i, t := range snapshot {
		names[i] = t.Name
	}
	return &Binding{
		LogicalName: name,
		Backend:     bc.Name,
		Provider:    client.Provider(),
		Model:       bc.Model,
		Tools:       snapshot,
		system:      prompts.System(names),
		defs:        tools.Definitions(snapshot),
		client:      client,
		logger:      logger,
	}
}

// NewBinding binds a client directly, bypassing resolution. Tests and
// single-backend tools use it.
func NewBinding(name, model string, client llm.Client, snapshot []*tools.Tool) *Binding {
	return newBinding(name, config.BackendConfig{Name: name, Model: model}, client, snapshot, slog.Default())
}

// Tool returns the snapshot tool with the given name, or nil.
func (b *Binding) Tool(name string) *tools.Tool {
	return tools.Find(b.Tools, name)
}

// SystemPrompt returns the prompt prepended to every invocation.
func (b *Binding) SystemPrompt() string { return b.system }

// Invoke sends the conversation to the backend with the system prompt
// prepended and returns the model's assistant turn.
func (b *Binding) Invoke(ctx context.Context, turns []conversation.Turn) (conversation.Turn, Usage, error) {
	msgs := make([]llm.Message, 0, len(turns)+1)
	msgs = append(msgs, llm.Message{Role: "system", Content: b.system})
	msgs = append(msgs, toMessages(turns)...)

	resp, err := b.client.Chat(ctx, b.Model, msgs, b.defs)
	if err != nil {
		return conversation.Turn{}, Usage{}, fmt.Errorf("%s: %w", b.Backend, err)
	}

	usage := Usage{
		Provider:     b.Provider,
		Model:        resp.Model,
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
	}
	if usage.Model == "" {
		usage.Model = b.Model
	}
	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		usage.InputTokens = llm.EstimateMessages(msgs)
		usage.OutputTokens = llm.EstimateMessages([]llm.Message{resp.Message})
		usage.Estimated = true
	}

	calls := make([]conversation.ToolCall, 0, len(resp.Message.ToolCalls))
	for _, tc := range resp.Message.ToolCalls {
		calls = append(calls, conversation.ToolCall{
			ID:           tc.ID,
			Name:         tc.Name,
			Arguments:    tc.Arguments,
			RawArguments: tc.RawArguments,
		})
	}
	if len(calls) == 0 {
		calls = nil
	}
	return conversation.AssistantTurn(resp.Message.Content, calls...), usage, nil
}

// imageURLs returns the URLs of image blocks in c, in order.
func imageURLs(c conversation.Content) []string {
	var urls []string
	for _, b := range c.BlockList() {
		if (b.Type == "image_url" || b.Type == "image") && b.URL != "" {
			urls = append(urls, b.URL)
		}
	}
	return urls
}

// toMessages converts stored turns to the backend-neutral wire form.
func toMessages(turns []conversation.Turn) []llm.Message {
	msgs := make([]llm.Message, 0, len(turns))
	for _, t := range turns {
		m := llm.Message{
			Role:    string(t.Role),
			Content: t.Content.Text(),
		}
		switch t.Role {
		case conversation.RoleUser:
			m.Images = imageURLs(t.Content)
		case conversation.RoleTool:
			m.ToolCallID = t.ToolCallID
			m.Name = t.Name
		case conversation.RoleAssistant:
			for _, tc := range t.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, llm.ToolCall{
					ID:           tc.ID,
					Name:         tc.Name,
					Arguments:    tc.Arguments,
					RawArguments: tc.RawArguments,
				})
			}
		}
		msgs = append(msgs, m)
	}
	return msgs
}
