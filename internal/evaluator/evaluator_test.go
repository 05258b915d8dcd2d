package evaluator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/inference"
	"github.com/animus-labs/modelgate/internal/promptwrap"
)

const testModel = "anthropic.claude-3-haiku"

type fakeInvoker struct {
	requests []inference.Request
	answer   func(req inference.Request) (string, error)
	// onInvoke runs before answer; used to advance a fake clock.
	onInvoke func()
}

func (f *fakeInvoker) Invoke(_ context.Context, req inference.Request) (inference.Response, error) {
	f.requests = append(f.requests, req)
	if f.onInvoke != nil {
		f.onInvoke()
	}
	text, err := f.answer(req)
	if err != nil {
		return inference.Response{}, err
	}
	return inference.Response{Text: text}, nil
}

func answerAlways(text string) func(inference.Request) (string, error) {
	return func(inference.Request) (string, error) { return text, nil }
}

func lastContent(req inference.Request) string {
	if len(req.Messages) == 0 {
		return req.Prompt
	}
	return req.Messages[len(req.Messages)-1].Content
}

func newWrapper(t *testing.T) *promptwrap.Wrapper {
	t.Helper()
	w, err := promptwrap.NewStatic([]promptwrap.Rule{{Match: `^anthropic\.`, Prefix: "Human: ", Suffix: "\n\nAssistant:"}})
	if err != nil {
		t.Fatalf("NewStatic: %v", err)
	}
	return w
}

func TestFactualAccuracy_PerQuestionChecks(t *testing.T) {
	inv := &fakeInvoker{answer: func(req inference.Request) (string, error) {
		switch prompt := lastContent(req); {
		case strings.Contains(prompt, "Regulation D"):
			return "The ratio is 0% since March 2020.", nil
		case strings.Contains(prompt, "Tier 1 capital"):
			return "Common Equity Tier 1 and additional Tier 1.", nil
		default:
			return "I am not sure.", nil
		}
	}}
	e := NewFactualAccuracy(Harness{Invoker: inv, Wrapper: newWrapper(t)})

	got, err := e.Evaluate(context.Background(), Input{RunID: "run-1", ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := domain.CheckResult{Check: domain.CheckFactualAccuracy, Score: 0.4, Passed: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if len(inv.requests) != len(factualQuestions) {
		t.Fatalf("expected %d calls, got %d", len(factualQuestions), len(inv.requests))
	}
	for _, req := range inv.requests {
		if req.ModelID != testModel || req.MaxTokens != 256 || req.Temperature != 0 || req.TopP != 1 {
			t.Fatalf("unexpected request params: %+v", req)
		}
		if len(req.Messages) != 1 || req.Messages[0].Role != inference.RoleUser {
			t.Fatalf("expected a single user turn, got %+v", req.Messages)
		}
		content := req.Messages[0].Content
		if !strings.HasPrefix(content, "Human: ") || !strings.HasSuffix(content, "\n\nAssistant:") {
			t.Fatalf("prompt not wrapped: %q", content)
		}
	}
}

func TestRegulatoryCitations(t *testing.T) {
	cases := []struct {
		name   string
		answer string
		want   domain.CheckResult
	}{
		{"section symbol", "See § 1020.220.", domain.CheckResult{Check: domain.CheckRegulatoryCitations, Score: 1, Passed: true}},
		{"cfr word", "It is in the CFR.", domain.CheckResult{Check: domain.CheckRegulatoryCitations, Score: 1, Passed: true}},
		{"no citation", "Consult your compliance officer.", domain.CheckResult{Check: domain.CheckRegulatoryCitations, Score: 0, Passed: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inv := &fakeInvoker{answer: answerAlways(tc.answer)}
			got, err := NewRegulatoryCitations(Harness{Invoker: inv, Wrapper: newWrapper(t)}).Evaluate(context.Background(), Input{ModelID: testModel})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("result mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFairLending_PreambleAndViolations(t *testing.T) {
	inv := &fakeInvoker{answer: func(req inference.Request) (string, error) {
		if strings.Contains(lastContent(req), "Hispanic customers") {
			return "Investigate why they are denied at a higher rate.", nil
		}
		return "The Equal Credit Opportunity Act requires identical treatment.", nil
	}}
	got, err := NewFairLending(Harness{Invoker: inv, Wrapper: newWrapper(t)}).Evaluate(context.Background(), Input{ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := domain.CheckResult{Check: domain.CheckFairLending, Score: 0.8, Passed: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	first := inv.requests[0].Messages
	if len(first) != 2 || first[0].Role != inference.RoleAssistant || first[0].Content != fairLendingPreamble {
		t.Fatalf("expected preamble turn, got %+v", first)
	}
}

func TestFairLending_MissingPhraseIsViolation(t *testing.T) {
	inv := &fakeInvoker{answer: answerAlways("Yes, terms should be identical.")}
	got, err := NewFairLending(Harness{Invoker: inv, Wrapper: newWrapper(t)}).Evaluate(context.Background(), Input{ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Score != 0 || got.Passed {
		t.Fatalf("expected score 0 and failure, got %+v", got)
	}
}

func TestPrivacyCompliance_BelowThreshold(t *testing.T) {
	calls := 0
	inv := &fakeInvoker{answer: func(inference.Request) (string, error) {
		calls++
		if calls <= 3 {
			return "The bank MUST obtain consent.", nil
		}
		return "That is generally fine.", nil
	}}
	got, err := NewPrivacyCompliance(Harness{Invoker: inv, Wrapper: newWrapper(t)}).Evaluate(context.Background(), Input{ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := domain.CheckResult{Check: domain.CheckPrivacyCompliance, Score: 0.6, Passed: false}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
}

func TestPercentile95(t *testing.T) {
	samples := []float64{100, 400, 150, 900, 1100, 200, 300, 500, 700, 800}
	got, err := Percentile95(samples)
	if err != nil {
		t.Fatalf("Percentile95: %v", err)
	}
	if got != 1100 {
		t.Fatalf("p95=%v want 1100", got)
	}
	if samples[0] != 100 || samples[4] != 1100 {
		t.Fatalf("input was reordered: %v", samples)
	}
	if got, _ := Percentile95([]float64{700}); got != 700 {
		t.Fatalf("single sample p95=%v want 700", got)
	}
	if _, err := Percentile95(nil); err == nil {
		t.Fatalf("expected error for empty samples")
	}
}

func TestLatency_MeasuresWithInjectedClock(t *testing.T) {
	cases := []struct {
		name      string
		durations []time.Duration
		want      domain.CheckResult
	}{
		{"within sla", []time.Duration{300 * time.Millisecond, 900 * time.Millisecond}, domain.CheckResult{Check: domain.CheckLatencyP95, Score: 900, Passed: true}},
		{"at sla", []time.Duration{1200 * time.Millisecond, 100 * time.Millisecond}, domain.CheckResult{Check: domain.CheckLatencyP95, Score: 1200, Passed: true}},
		{"over sla", []time.Duration{300 * time.Millisecond, 1500 * time.Millisecond}, domain.CheckResult{Check: domain.CheckLatencyP95, Score: 1500, Passed: false}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clock := time.Unix(1_700_000_000, 0)
			durations := tc.durations
			inv := &fakeInvoker{
				answer: answerAlways("ok"),
				onInvoke: func() {
					clock = clock.Add(durations[0])
					durations = durations[1:]
				},
			}
			e := NewLatency(inv, newWrapper(t), 0, 0)
			e.now = func() time.Time { return clock }

			got, err := e.Evaluate(context.Background(), Input{ModelID: testModel})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Fatalf("result mismatch (-want +got):\n%s", diff)
			}
			if len(inv.requests) != DefaultLatencyRuns {
				t.Fatalf("expected %d calls, got %d", DefaultLatencyRuns, len(inv.requests))
			}
			req := inv.requests[0]
			if req.MaxTokens != 32 || !strings.HasPrefix(req.Prompt, "Human: ") {
				t.Fatalf("unexpected latency request: %+v", req)
			}
		})
	}
}

func TestJudge_AllThreesNormalizeToPassingAverage(t *testing.T) {
	candidate := &fakeInvoker{answer: answerAlways("A candidate answer.")}
	judge := &fakeInvoker{answer: answerAlways(`{"score": 3}`)}
	e := NewJudge(candidate, judge, newWrapper(t), "", nil)

	got, err := e.Evaluate(context.Background(), Input{ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	want := domain.CheckResult{Check: domain.CheckLLMJudge, Score: 0.75, Passed: true}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("result mismatch (-want +got):\n%s", diff)
	}
	if len(candidate.requests) != 5 || len(judge.requests) != 5 {
		t.Fatalf("expected 5 candidate and 5 judge calls, got %d and %d", len(candidate.requests), len(judge.requests))
	}
	if c := candidate.requests[0]; c.MaxTokens != 192 || !strings.HasPrefix(c.Prompt, "Human: ") {
		t.Fatalf("candidate request not wrapped or sized: %+v", c)
	}
	j := judge.requests[0]
	if j.ModelID != DefaultJudgeModelID || j.MaxTokens != 32 {
		t.Fatalf("unexpected judge request: %+v", j)
	}
	if strings.HasPrefix(j.Prompt, "Human: ") {
		t.Fatalf("judge prompt must not be wrapped: %q", j.Prompt)
	}
	for _, part := range []string{judgeCases[0].Prompt, judgeCases[0].Reference, "Candidate answer: A candidate answer."} {
		if !strings.Contains(j.Prompt, part) {
			t.Fatalf("judge prompt missing %q", part)
		}
	}
}

func TestJudge_MalformedResponseScoresZero(t *testing.T) {
	candidate := &fakeInvoker{answer: answerAlways("answer")}
	calls := 0
	judge := &fakeInvoker{answer: func(inference.Request) (string, error) {
		calls++
		if calls == 2 {
			return "I would rate this highly.", nil
		}
		return `Here you go: {"score":4}`, nil
	}}
	got, err := NewJudge(candidate, judge, newWrapper(t), "judge-model", nil).Evaluate(context.Background(), Input{ModelID: testModel})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got.Score != 0.8 || !got.Passed {
		t.Fatalf("expected 16/20 and pass, got %+v", got)
	}
	if judge.requests[0].ModelID != "judge-model" {
		t.Fatalf("judge model not honoured: %q", judge.requests[0].ModelID)
	}
}

func TestParseJudgeScore(t *testing.T) {
	cases := map[string]struct {
		score int
		ok    bool
	}{
		`{"score":3}`:                  {3, true},
		` {"score": 1} `:               {1, true},
		"```json\n{\"score\": 4}\n```": {4, true},
		`{"score":5}`:                  {0, false},
		`{"score":0}`:                  {0, false},
		`{"score":2.5}`:                {0, false},
		`{"score":"3"}`:                {0, false},
		`{"grade":3}`:                  {0, false},
		`three`:                        {0, false},
	}
	for text, want := range cases {
		score, ok := ParseJudgeScore(text)
		if score != want.score || ok != want.ok {
			t.Fatalf("ParseJudgeScore(%q)=(%d,%v) want (%d,%v)", text, score, ok, want.score, want.ok)
		}
	}
}

func TestEvaluatorErrorsPropagate(t *testing.T) {
	infErr := &domain.InferenceError{ModelID: testModel, Err: errors.New("throttled")}
	inv := &fakeInvoker{answer: func(inference.Request) (string, error) { return "", infErr }}
	_, err := NewPrivacyCompliance(Harness{Invoker: inv, Wrapper: newWrapper(t)}).Evaluate(context.Background(), Input{ModelID: testModel})
	if !errors.Is(err, infErr) || !domain.Retryable(err) {
		t.Fatalf("expected retryable inference error, got %v", err)
	}
	if len(inv.requests) != 1 {
		t.Fatalf("expected evaluation to stop at first failure, got %d calls", len(inv.requests))
	}

	inv = &fakeInvoker{answer: answerAlways("unused")}
	_, err = NewLatency(inv, newWrapper(t), 2, time.Second).Evaluate(context.Background(), Input{ModelID: "meta.llama3"})
	var noMatch *domain.NoMatchError
	if !errors.As(err, &noMatch) || domain.Retryable(err) {
		t.Fatalf("expected non-retryable NoMatchError, got %v", err)
	}
	if len(inv.requests) != 0 {
		t.Fatalf("model must not be called without a wrap rule")
	}
}

func TestSuite_ClosedCheckSet(t *testing.T) {
	suite := Suite(SuiteConfig{Candidate: &fakeInvoker{answer: answerAlways("")}, Wrapper: newWrapper(t)})
	names := make([]domain.CheckName, 0, len(suite))
	for _, e := range suite {
		names = append(names, e.Name())
	}
	if diff := cmp.Diff(domain.AllChecks(), names); diff != "" {
		t.Fatalf("suite mismatch (-want +got):\n%s", diff)
	}
}
