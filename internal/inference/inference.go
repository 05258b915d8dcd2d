// Package inference sends prompts to candidate and judge models over an
// OpenAI-compatible API. Two request shapes are supported, single-prompt
// completion and multi-turn chat, chosen per model family by a ShapeRouter.
package inference

import (
	"context"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request carries either Prompt or Messages. The client converts between the
// two when the model family expects the other shape.
type Request struct {
	ModelID     string
	Prompt      string
	Messages    []Message
	MaxTokens   int
	Temperature float32
	TopP        float32
}

type Response struct {
	Text    string
	Latency time.Duration
}

// Invoker is implemented by model clients.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, req Request) (Response, error)

func (f InvokerFunc) Invoke(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}
