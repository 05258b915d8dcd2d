package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// CheckName identifies one evaluator kind. The set is closed.
type CheckName string

const (
	CheckFactualAccuracy     CheckName = "FactualAccuracy"
	CheckRegulatoryCitations CheckName = "RegulatoryCitations"
	CheckFairLending         CheckName = "FairLending"
	CheckPrivacyCompliance   CheckName = "PrivacyCompliance"
	CheckLatencyP95          CheckName = "LatencyP95"
	CheckLLMJudge            CheckName = "LLMJudge"
)

// AllChecks lists every check a complete run must report, in branch order.
func AllChecks() []CheckName {
	return []CheckName{
		CheckFactualAccuracy,
		CheckRegulatoryCitations,
		CheckFairLending,
		CheckPrivacyCompliance,
		CheckLatencyP95,
		CheckLLMJudge,
	}
}

// CheckResult is the immutable output of one evaluator for one run.
type CheckResult struct {
	Check  CheckName `json:"check"`
	Score  float64   `json:"score"`
	Passed bool      `json:"passed"`
}

// AllPassed is the unanimous-approval rule. An empty set never approves.
func AllPassed(results []CheckResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// ResultsDigest hashes the canonical (check-sorted) JSON form of results so that
// two result sets compare equal regardless of completion order.
func ResultsDigest(results []CheckResult) (string, error) {
	sorted := make([]CheckResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Check < sorted[j].Check })

	blob, err := json.Marshal(sorted)
	if err != nil {
		return "", fmt.Errorf("marshal results: %w", err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}
