// Package providers defines the LLM provider interface and response types.
package providers

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest holds all parameters for a chat completion call.
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

// LLMResponse is the standardized response from any LLM backend.
type LLMResponse struct {
	Content      string         `json:"content"`
	FinishReason string         `json:"finish_reason"`
	Usage        map[string]int `json:"usage,omitempty"`
}

// LLMProvider is the interface for all LLM backends.
type LLMProvider interface {
	// Chat sends a chat completion request.
	Chat(ctx context.Context, req ChatRequest) (*LLMResponse, error)

	// Complete is the single-prompt convenience form of Chat.
	Complete(ctx context.Context, prompt string) (string, error)

	// DefaultModel returns the default model identifier.
	DefaultModel() string
}
