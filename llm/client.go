// Package llm defines the generic chat-completions contract (§6) every
// model backend satisfies, plus an HTTP implementation of that contract.
// Vendor SDKs (Anthropic, OpenAI, Bedrock) are adapted onto the same
// interface in the llm/anthropic, llm/openai and llm/bedrock subpackages.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one turn of a chat-completions conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the generic chat-completions request shape from §6.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat json.RawMessage `json:"response_format,omitempty"`
}

// Response is the minimal shape LLMClient extracts from a provider's reply:
// the assistant's text content, read from choices[0].message.content or
// choices[0].text depending on the backend.
type Response struct {
	Content string
	Model   string
}

// Client is the contract every model backend (generic HTTP, Anthropic,
// OpenAI, Bedrock) satisfies. Complete issues one request and returns the
// extracted text content; retry, backoff, fallback-model and rate-limiting
// policy live in this package's HTTPClient and are the caller's
// responsibility for vendor-adapter Clients, which apply none of them.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
}
