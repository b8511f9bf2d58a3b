// Package llm defines the model-invocation port used by the router and the
// persona specialists.
package llm

import (
	"context"
	"encoding/json"
)

// Message is one chat message sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output conforming to a JSON schema.
type ResponseFormat struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

// Request is a single completion call.
type Request struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Temperature    float64         `json:"temperature,omitempty"`
}

// Response is the model's completion.
type Response struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// Client is the model-invocation capability. It is injected into the router
// and specialists per construction, never reached through package state.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}
