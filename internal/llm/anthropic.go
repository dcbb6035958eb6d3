package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nugget/quill/internal/httpkit"
)

// anthropicMaxTokens caps each reply. Research answers are summaries,
// not documents.
const anthropicMaxTokens = 4096

// AnthropicClient is a client for the Anthropic Messages API.
type AnthropicClient struct {
	client anthropic.Client
	logger *slog.Logger
}

// NewAnthropicClient creates a new Anthropic client. An empty baseURL
// uses the public API.
func NewAnthropicClient(apiKey, baseURL string, logger *slog.Logger) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, &ErrMissingCredential{Provider: "anthropic"}
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Long prompts can take a while before headers arrive.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Rely on ctx deadlines for timeout control.
		option.WithHTTPClient(httpkit.NewClient(httpkit.WithTimeout(0), httpkit.WithTransport(t))),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/"))
	}
	return &AnthropicClient{
		client: anthropic.NewClient(opts...),
		logger: logger.With("provider", "anthropic"),
	}, nil
}

// Provider implements Client.
func (c *AnthropicClient) Provider() string { return "anthropic" }

// Chat sends a Messages API request.
func (c *AnthropicClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	msgs, system := convertToAnthropic(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   anthropicMaxTokens,
		Messages:    msgs,
		Tools:       convertToolsToAnthropic(tools),
		Temperature: anthropic.Float(0),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	c.logger.Debug("preparing request",
		"model", model,
		"messages", len(params.Messages),
		"tools", len(params.Tools),
		"system_len", len(system),
	)
	if c.logger.Enabled(ctx, LevelTrace) {
		if payload, err := json.Marshal(params); err == nil {
			c.logger.Log(ctx, LevelTrace, "request payload", "json", string(payload))
		}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		c.logger.Error("API error", "error", err)
		return nil, fmt.Errorf("anthropic: %w", err)
	}

	result := convertFromAnthropic(msg)
	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"stop_reason", msg.StopReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)
	return result, nil
}

// Ping lists models to verify the API key.
func (c *AnthropicClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, anthropic.ModelListParams{}); err != nil {
		return fmt.Errorf("anthropic ping: %w", err)
	}
	return nil
}

// convertToAnthropic converts internal messages to Messages API params.
// System messages are lifted into a separate system prompt, and
// consecutive tool results are merged into one user message as the API
// requires.
func convertToAnthropic(messages []Message) ([]anthropic.MessageParam, string) {
	var systemParts []string
	var out []anthropic.MessageParam
	toolResults := false

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
			continue

		case "user":
			blocks := []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(m.Content)}
			for _, url := range m.Images {
				if b, ok := anthropicImage(url); ok {
					blocks = append(blocks, b)
				}
			}
			out = append(out, anthropic.NewUserMessage(blocks...))

		case "assistant":
			var blocks []anthropic.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))

		case "tool":
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false)
			if toolResults {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
				continue
			}
			out = append(out, anthropic.NewUserMessage(block))
			toolResults = true
			continue
		}
		toolResults = false
	}

	return out, strings.Join(systemParts, "\n\n")
}

// anthropicImage builds an image block from an http(s) or base64 data
// URL. Other schemes are skipped.
func anthropicImage(url string) (anthropic.ContentBlockParamUnion, bool) {
	if mediaType, data, ok := parseDataURL(url); ok {
		return anthropic.NewImageBlockBase64(mediaType, data), true
	}
	if strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://") {
		return anthropic.NewImageBlock(anthropic.URLImageSourceParam{URL: url}), true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// convertToolsToAnthropic converts function-calling tool definitions to
// Anthropic tool params.
func convertToolsToAnthropic(tools []map[string]any) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	var out []anthropic.ToolUnionParam
	for _, fn := range toolFunctions(tools) {
		required, _ := fn.Parameters["required"].([]string)
		if required == nil {
			if list, ok := fn.Parameters["required"].([]any); ok {
				for _, v := range list {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		p := anthropic.ToolParam{
			Name:        fn.Name,
			Description: anthropic.String(fn.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: fn.Parameters["properties"],
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &p})
	}
	return out
}

// convertFromAnthropic converts a Messages API reply to our internal
// format.
func convertFromAnthropic(msg *anthropic.Message) *ChatResponse {
	var content strings.Builder
	var toolCalls []ToolCall

	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			content.WriteString(b.Text)
		case anthropic.ToolUseBlock:
			args, raw := decodeArguments(string(b.Input))
			toolCalls = append(toolCalls, ToolCall{ID: b.ID, Name: b.Name, Arguments: args, RawArguments: raw})
		}
	}
	ensureCallIDs(toolCalls)

	return &ChatResponse{
		Model: string(msg.Model),
		Message: Message{
			Role:      "assistant",
			Content:   content.String(),
			ToolCalls: toolCalls,
		},
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
}
