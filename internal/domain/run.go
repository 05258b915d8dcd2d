package domain

import (
	"errors"
	"strings"
	"time"
)

// Trigger is the inbound request to evaluate a candidate model.
type Trigger struct {
	ModelID string `json:"modelId,omitempty"`
	RunID   string `json:"runId,omitempty"`
}

// Selection is the test-suite selector output broadcast to every evaluator.
type Selection struct {
	RunID       string   `json:"runId"`
	DatasetKeys []string `json:"datasetKeys"`
}

// Run is the durable record written once per run id by the aggregator.
type Run struct {
	ID              string        `json:"runId"`
	ModelID         string        `json:"modelId,omitempty"`
	CreatedAt       time.Time     `json:"timestamp"`
	Approved        bool          `json:"approved"`
	Results         []CheckResult `json:"results"`
	IntegritySHA256 string        `json:"integritySha256"`
}

func (r Run) Validate() error {
	if strings.TrimSpace(r.ID) == "" {
		return errors.New("run id is required")
	}
	if r.CreatedAt.IsZero() {
		return errors.New("created at is required")
	}
	if len(r.Results) == 0 {
		return errors.New("results are required")
	}
	if strings.TrimSpace(r.IntegritySHA256) == "" {
		return errors.New("integrity sha256 is required")
	}
	return nil
}

// Signal returns the approval payload for this run.
func (r Run) Signal() ApprovalSignal {
	return ApprovalSignal{RunID: r.ID, Results: r.Results}
}

// ApprovalSignal is published, and written to the approved pointer, only for
// approved runs.
type ApprovalSignal struct {
	RunID   string        `json:"runId"`
	Results []CheckResult `json:"results"`
}

// Outcome is the aggregator's decision for a run.
type Outcome struct {
	RunID    string `json:"runId"`
	Approved bool   `json:"approved"`
	// Results is set when a replayed run id diverged from its stored record;
	// it carries the stored results the decision was made on.
	Results []CheckResult `json:"results,omitempty"`
	// PublishErr is set when the run was persisted as approved but the
	// downstream signal or pointer update failed.
	PublishErr error `json:"-"`
}
