package llm

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"mime"
	neturl "net/url"
	"path"
	"strings"

	"google.golang.org/genai"

	"github.com/nugget/quill/internal/httpkit"
)

// GeminiClient is a client for the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *slog.Logger
}

// NewGeminiClient creates a new Gemini client.
func NewGeminiClient(ctx context.Context, apiKey, baseURL string, logger *slog.Logger) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, &ErrMissingCredential{Provider: "gemini"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	cfg := &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: httpkit.NewClient(httpkit.WithTimeout(0)),
	}
	if baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{client: client, logger: logger.With("provider", "gemini")}, nil
}

// Provider implements Client.
func (c *GeminiClient) Provider() string { return "gemini" }

// Chat sends a generate-content request with function declarations.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	contents, system := convertToGemini(messages)
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if decls := convertToolsToGemini(tools); len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	c.logger.Debug("preparing request", "model", model, "contents", len(contents), "tools", len(tools))

	result, err := c.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		c.logger.Error("API error", "error", err)
		return nil, fmt.Errorf("gemini: %w", err)
	}

	resp := &ChatResponse{
		Model:   model,
		Message: Message{Role: "assistant", Content: result.Text()},
	}
	if result.ModelVersion != "" {
		resp.Model = result.ModelVersion
	}
	if u := result.UsageMetadata; u != nil {
		resp.InputTokens = int(u.PromptTokenCount)
		resp.OutputTokens = int(u.CandidatesTokenCount)
	}
	for _, fc := range result.FunctionCalls() {
		args := fc.Args
		if args == nil {
			args = map[string]any{}
		}
		resp.Message.ToolCalls = append(resp.Message.ToolCalls, ToolCall{
			ID:        fc.ID,
			Name:      fc.Name,
			Arguments: args,
		})
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

// Ping fetches model metadata to verify the API key.
func (c *GeminiClient) Ping(ctx context.Context) error {
	if _, err := c.client.Models.Get(ctx, "gemini-2.0-flash", nil); err != nil {
		return fmt.Errorf("gemini ping: %w", err)
	}
	return nil
}

// convertToGemini maps messages to Gemini contents. Tool results are
// sent as function responses from the user role, and consecutive
// results share one content.
func convertToGemini(messages []Message) ([]*genai.Content, string) {
	var systemParts []string
	var contents []*genai.Content
	toolResults := false

	for _, m := range messages {
		switch m.Role {
		case "system":
			systemParts = append(systemParts, m.Content)
			continue

		case "user":
			parts := []*genai.Part{genai.NewPartFromText(m.Content)}
			for _, url := range m.Images {
				if p := geminiImage(url); p != nil {
					parts = append(parts, p)
				}
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

		case "assistant":
			var parts []*genai.Part
			if m.Content != "" {
				parts = append(parts, genai.NewPartFromText(m.Content))
			}
			for _, tc := range m.ToolCalls {
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   tc.ID,
					Name: tc.Name,
					Args: tc.Arguments,
				}})
			}
			if len(parts) == 0 {
				parts = append(parts, genai.NewPartFromText(""))
			}
			contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))

		case "tool":
			part := genai.NewPartFromFunctionResponse(m.Name, map[string]any{"output": m.Content})
			part.FunctionResponse.ID = m.ToolCallID
			if toolResults {
				last := contents[len(contents)-1]
				last.Parts = append(last.Parts, part)
				continue
			}
			contents = append(contents, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
			toolResults = true
			continue
		}
		toolResults = false
	}
	return contents, strings.Join(systemParts, "\n\n")
}

// geminiImage builds an inline part from a data URL or a file-URI part
// from an http(s) URL, guessing the media type from the extension.
func geminiImage(url string) *genai.Part {
	if mediaType, data, ok := parseDataURL(url); ok {
		raw, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil
		}
		return genai.NewPartFromBytes(raw, mediaType)
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return nil
	}
	mediaType := "image/jpeg"
	if u, err := neturl.Parse(url); err == nil {
		if t := mime.TypeByExtension(path.Ext(u.Path)); strings.HasPrefix(t, "image/") {
			mediaType = t
		}
	}
	return genai.NewPartFromURI(url, mediaType)
}

func convertToolsToGemini(tools []map[string]any) []*genai.FunctionDeclaration {
	var decls []*genai.FunctionDeclaration
	for _, fn := range toolFunctions(tools) {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:                 fn.Name,
			Description:          fn.Description,
			ParametersJsonSchema: fn.Parameters,
		})
	}
	return decls
}
