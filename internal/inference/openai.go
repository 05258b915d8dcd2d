package inference

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/platform/env"
)

type Config struct {
	BaseURL string
	APIKey  string
	// DefaultShape applies to model ids matching none of ShapeRules.
	DefaultShape Shape
	ShapeRules   []ShapeRule
}

func ConfigFromEnv() (Config, error) {
	def, err := ParseShape(env.String("EVALGATE_INFERENCE_DEFAULT_SHAPE", string(ShapeChat)))
	if err != nil {
		return Config{}, err
	}
	rules, err := ParseShapeRules(env.List("EVALGATE_INFERENCE_SHAPE_RULES", nil))
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL:      env.String("EVALGATE_INFERENCE_BASE_URL", "http://localhost:8080/api/v1"),
		APIKey:       env.String("EVALGATE_INFERENCE_API_KEY", ""),
		DefaultShape: def,
		ShapeRules:   rules,
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return Config{}, errors.New("EVALGATE_INFERENCE_BASE_URL is required")
	}
	return cfg, nil
}

// completionAPI is the subset of *openai.Client used here.
type completionAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateCompletion(ctx context.Context, req openai.CompletionRequest) (openai.CompletionResponse, error)
}

type OpenAIClient struct {
	api    completionAPI
	router *ShapeRouter
	now    func() time.Time
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	router, err := NewShapeRouter(cfg.DefaultShape, cfg.ShapeRules...)
	if err != nil {
		return nil, err
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	return newOpenAIClient(openai.NewClientWithConfig(clientCfg), router), nil
}

func newOpenAIClient(api completionAPI, router *ShapeRouter) *OpenAIClient {
	return &OpenAIClient{api: api, router: router, now: time.Now}
}

// Invoke sends req in the shape the model family expects. Every failure,
// including an empty choice list, is an InferenceError.
func (c *OpenAIClient) Invoke(ctx context.Context, req Request) (Response, error) {
	start := c.now()
	var (
		text string
		err  error
	)
	switch c.router.ShapeFor(req.ModelID) {
	case ShapeCompletion:
		text, err = c.complete(ctx, req)
	default:
		text, err = c.chat(ctx, req)
	}
	if err != nil {
		return Response{}, &domain.InferenceError{ModelID: req.ModelID, Err: err}
	}
	return Response{Text: text, Latency: c.now().Sub(start)}, nil
}

func (c *OpenAIClient) chat(ctx context.Context, req Request) (string, error) {
	messages := req.Messages
	if len(messages) == 0 {
		messages = []Message{{Role: RoleUser, Content: req.Prompt}}
	}
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		out = append(out, openai.ChatCompletionMessage{Role: string(m.Role), Content: m.Content})
	}
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.ModelID,
		Messages:    out,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
		TopP:        req.TopP,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) complete(ctx context.Context, req Request) (string, error) {
	prompt := req.Prompt
	if prompt == "" {
		prompt = flatten(req.Messages)
	}
	resp, err := c.api.CreateCompletion(ctx, openai.CompletionRequest{
		Model:       req.ModelID,
		Prompt:      prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: temperature(req.Temperature),
		TopP:        req.TopP,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("no choices returned")
	}
	return resp.Choices[0].Text, nil
}

// temperature keeps an explicit zero on the wire; go-openai omits zero values.
func temperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

var roleLabels = map[Role]string{
	RoleSystem:    "System",
	RoleUser:      "User",
	RoleAssistant: "Assistant",
}

func flatten(messages []Message) string {
	if len(messages) == 1 {
		return messages[0].Content
	}
	parts := make([]string, 0, len(messages))
	for _, m := range messages {
		label, ok := roleLabels[m.Role]
		if !ok {
			label = string(m.Role)
		}
		parts = append(parts, label+": "+m.Content)
	}
	return strings.Join(parts, "\n\n")
}
