package evaluator

import (
	"log/slog"
	"time"

	"github.com/animus-labs/modelgate/internal/inference"
)

type SuiteConfig struct {
	Candidate inference.Invoker
	// Judge defaults to Candidate.
	Judge        inference.Invoker
	Wrapper      Wrapper
	JudgeModelID string
	LatencyRuns  int
	LatencySLA   time.Duration
	Logger       *slog.Logger
}

// Suite builds the six evaluators in domain.AllChecks order.
func Suite(cfg SuiteConfig) []Evaluator {
	judge := cfg.Judge
	if judge == nil {
		judge = cfg.Candidate
	}
	h := Harness{Invoker: cfg.Candidate, Wrapper: cfg.Wrapper, MaxTokens: defaultMaxTokens}
	return []Evaluator{
		NewFactualAccuracy(h),
		NewRegulatoryCitations(h),
		NewFairLending(h),
		NewPrivacyCompliance(h),
		NewLatency(cfg.Candidate, cfg.Wrapper, cfg.LatencyRuns, cfg.LatencySLA),
		NewJudge(cfg.Candidate, judge, cfg.Wrapper, cfg.JudgeModelID, cfg.Logger),
	}
}
