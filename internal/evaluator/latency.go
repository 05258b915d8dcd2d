package evaluator

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/inference"
)

const (
	DefaultLatencyRuns = 2
	DefaultLatencySLA  = 1200 * time.Millisecond

	latencyPrompt    = "Summarize the impact of Basel III on global capital markets in one sentence."
	latencyMaxTokens = 32
)

// Latency reports the p95 wall-clock latency of repeated short calls, in
// milliseconds. Lower is better: it passes iff p95 <= SLA.
type Latency struct {
	invoker inference.Invoker
	wrapper Wrapper
	runs    int
	sla     time.Duration
	now     func() time.Time
}

func NewLatency(invoker inference.Invoker, wrapper Wrapper, runs int, sla time.Duration) *Latency {
	if runs <= 0 {
		runs = DefaultLatencyRuns
	}
	if sla <= 0 {
		sla = DefaultLatencySLA
	}
	return &Latency{invoker: invoker, wrapper: wrapper, runs: runs, sla: sla, now: time.Now}
}

func (e *Latency) Name() domain.CheckName { return domain.CheckLatencyP95 }

func (e *Latency) Evaluate(ctx context.Context, in Input) (domain.CheckResult, error) {
	prompt, err := e.wrapper.Wrap(ctx, in.ModelID, latencyPrompt)
	if err != nil {
		return domain.CheckResult{}, err
	}
	samples := make([]float64, 0, e.runs)
	for range e.runs {
		start := e.now()
		_, err := e.invoker.Invoke(ctx, inference.Request{
			ModelID:     in.ModelID,
			Prompt:      prompt,
			MaxTokens:   latencyMaxTokens,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		})
		if err != nil {
			return domain.CheckResult{}, err
		}
		samples = append(samples, float64(e.now().Sub(start).Milliseconds()))
	}
	p95, err := Percentile95(samples)
	if err != nil {
		return domain.CheckResult{}, err
	}
	return domain.CheckResult{
		Check:  domain.CheckLatencyP95,
		Score:  p95,
		Passed: p95 <= float64(e.sla.Milliseconds()),
	}, nil
}

// Percentile95 returns sorted[floor(0.95*n)] of the ascending samples, without
// interpolation. samples is not modified.
func Percentile95(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, errors.New("no latency samples")
	}
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	idx := int(0.95 * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], nil
}
