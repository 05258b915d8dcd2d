package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/inference"
)

const (
	DefaultJudgeModelID = "anthropic.claude-3-opus-20240229"
	JudgeThreshold      = 0.75

	judgeMaxScore      = 4
	candidateMaxTokens = 192
	judgeMaxTokens     = 32
)

type JudgeCase struct {
	Prompt    string
	Reference string
}

var judgeCases = []JudgeCase{
	{
		Prompt:    "Explain the difference between Tier 1 and Tier 2 capital.",
		Reference: "Tier 1 capital consists primarily of common equity and disclosed reserves; Tier 2 includes subordinated debt, hybrid instruments, and loan-loss reserves.",
	},
	{
		Prompt:    "What triggers a SAR filing under the Bank Secrecy Act?",
		Reference: "Any transaction of $5,000 or more that the institution knows, suspects, or has reason to suspect involves funds derived from illegal activity, is designed to evade regulations, or has no lawful purpose.",
	},
	{
		Prompt:    "State the Volcker Rule's main limitation on proprietary trading.",
		Reference: "It generally prohibits banking entities from engaging in short-term proprietary trading of securities, derivatives, and certain other instruments for the firm's own account.",
	},
	{
		Prompt:    "Describe the purpose of the Net Stable Funding Ratio.",
		Reference: "NSFR ensures banks maintain a stable funding profile in relation to the composition of their assets and off-balance-sheet activities over a one-year horizon.",
	},
	{
		Prompt:    "Define \"beneficial ownership\" under FinCEN's CDD rule.",
		Reference: "Each legal-entity customer must disclose any individual who owns 25% or more of the equity interests and one individual with significant managerial control.",
	},
}

const judgeTemplate = `You are an expert grader. The candidate answer should be compared to the reference answer.
Give ONLY a JSON object with keys:
- "score" (integer 1-4 where 4 = fully correct)
Do not output any other text.
Question: %s
Reference answer: %s
Candidate answer: %s
`

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*?\}`)

// Judge grades candidate answers with a separate fixed judge model. The
// candidate prompt is wrapped for the candidate family; the grading prompt is
// sent as is.
type Judge struct {
	candidate    inference.Invoker
	judge        inference.Invoker
	wrapper      Wrapper
	judgeModelID string
	cases        []JudgeCase
	logger       *slog.Logger
}

func NewJudge(candidate, judge inference.Invoker, wrapper Wrapper, judgeModelID string, logger *slog.Logger) *Judge {
	if strings.TrimSpace(judgeModelID) == "" {
		judgeModelID = DefaultJudgeModelID
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Judge{
		candidate:    candidate,
		judge:        judge,
		wrapper:      wrapper,
		judgeModelID: judgeModelID,
		cases:        judgeCases,
		logger:       logger,
	}
}

func (e *Judge) Name() domain.CheckName { return domain.CheckLLMJudge }

func (e *Judge) Evaluate(ctx context.Context, in Input) (domain.CheckResult, error) {
	total := 0
	for i, c := range e.cases {
		prompt, err := e.wrapper.Wrap(ctx, in.ModelID, c.Prompt)
		if err != nil {
			return domain.CheckResult{}, err
		}
		answer, err := e.candidate.Invoke(ctx, inference.Request{
			ModelID:     in.ModelID,
			Prompt:      prompt,
			MaxTokens:   candidateMaxTokens,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		})
		if err != nil {
			return domain.CheckResult{}, err
		}
		graded, err := e.judge.Invoke(ctx, inference.Request{
			ModelID:     e.judgeModelID,
			Prompt:      fmt.Sprintf(judgeTemplate, c.Prompt, c.Reference, answer.Text),
			MaxTokens:   judgeMaxTokens,
			Temperature: defaultTemperature,
			TopP:        defaultTopP,
		})
		if err != nil {
			return domain.CheckResult{}, err
		}
		score, ok := ParseJudgeScore(graded.Text)
		if !ok {
			e.logger.Warn("judge response malformed", "run_id", in.RunID, "case", i, "response", graded.Text)
		}
		total += score
	}
	normalized := float64(total) / float64(judgeMaxScore*len(e.cases))
	return domain.CheckResult{Check: domain.CheckLLMJudge, Score: normalized, Passed: normalized >= JudgeThreshold}, nil
}

// ParseJudgeScore extracts {"score": n} from a judge response. Anything other
// than an integer in 1..4 yields (0, false).
func ParseJudgeScore(text string) (int, bool) {
	raw := jsonObjectPattern.FindString(text)
	if raw == "" {
		return 0, false
	}
	var payload struct {
		Score *float64 `json:"score"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil || payload.Score == nil {
		return 0, false
	}
	score := *payload.Score
	if score != math.Trunc(score) || score < 1 || score > judgeMaxScore {
		return 0, false
	}
	return int(score), true
}
