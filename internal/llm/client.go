// Package llm provides chat clients for the model backends a research
// request can be bound to: OpenAI, Anthropic, Gemini and Ollama.
package llm

import "context"

// Client is the interface that all LLM providers must implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// Tools use the function-calling schema from tools.Definitions.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable and the credential works.
	Ping(ctx context.Context) error

	// Provider returns the provider identifier, e.g. "openai".
	Provider() string
}
