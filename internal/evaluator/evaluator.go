// Package evaluator implements the six fixed checks run against a candidate
// model. Each evaluator owns its question set, threshold and clients, and makes
// its model calls strictly in sequence.
package evaluator

import (
	"context"
	"errors"
	"strings"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/inference"
)

// Input is broadcast unchanged to every evaluator of a run.
type Input struct {
	RunID       string
	ModelID     string
	DatasetKeys []string
}

type Evaluator interface {
	Name() domain.CheckName
	Evaluate(ctx context.Context, in Input) (domain.CheckResult, error)
}

// Wrapper applies model-family framing to a raw prompt.
type Wrapper interface {
	Wrap(ctx context.Context, modelID, text string) (string, error)
}

const (
	defaultMaxTokens   = 256
	defaultTopP        = 1.0
	defaultTemperature = 0
)

// Question pairs a prompt with the predicate its lower-cased answer must meet.
type Question struct {
	Text string
	Hit  func(answer string) bool
}

// Harness asks a question list in order and reports the fraction of hits.
type Harness struct {
	Invoker inference.Invoker
	Wrapper Wrapper
	// Preamble is sent ahead of every wrapped question.
	Preamble  []inference.Message
	MaxTokens int
}

func (h Harness) Ratio(ctx context.Context, modelID string, questions []Question) (float64, error) {
	if len(questions) == 0 {
		return 0, errors.New("no questions")
	}
	hits := 0
	for _, q := range questions {
		answer, err := h.ask(ctx, modelID, q.Text)
		if err != nil {
			return 0, err
		}
		if q.Hit(answer) {
			hits++
		}
	}
	return float64(hits) / float64(len(questions)), nil
}

func (h Harness) ask(ctx context.Context, modelID, text string) (string, error) {
	wrapped, err := h.Wrapper.Wrap(ctx, modelID, text)
	if err != nil {
		return "", err
	}
	maxTokens := h.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	messages := make([]inference.Message, 0, len(h.Preamble)+1)
	messages = append(messages, h.Preamble...)
	messages = append(messages, inference.Message{Role: inference.RoleUser, Content: wrapped})
	resp, err := h.Invoker.Invoke(ctx, inference.Request{
		ModelID:     modelID,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: defaultTemperature,
		TopP:        defaultTopP,
	})
	if err != nil {
		return "", err
	}
	return strings.ToLower(resp.Text), nil
}

// RatioEvaluator scores a fixed question list and passes at or above Threshold.
type RatioEvaluator struct {
	check     domain.CheckName
	threshold float64
	questions []Question
	harness   Harness
}

func (e *RatioEvaluator) Name() domain.CheckName { return e.check }

func (e *RatioEvaluator) Threshold() float64 { return e.threshold }

func (e *RatioEvaluator) Evaluate(ctx context.Context, in Input) (domain.CheckResult, error) {
	score, err := e.harness.Ratio(ctx, in.ModelID, e.questions)
	if err != nil {
		return domain.CheckResult{}, err
	}
	return domain.CheckResult{Check: e.check, Score: score, Passed: score >= e.threshold}, nil
}

func containsAny(answer string, terms ...string) bool {
	for _, term := range terms {
		if strings.Contains(answer, term) {
			return true
		}
	}
	return false
}
