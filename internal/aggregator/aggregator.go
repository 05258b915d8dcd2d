// Package aggregator turns a complete result set into the run decision. It is
// the only writer of run records and of the approved-model pointer.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/animus-labs/modelgate/internal/domain"
)

// RunStore persists run records together with their pending approval signal.
type RunStore interface {
	// SaveRun returns created=false when the run id is already stored with an
	// identical result digest, and domain.ErrRunConflict when the digest differs.
	SaveRun(ctx context.Context, run domain.Run) (created bool, err error)
	GetRun(ctx context.Context, runID string) (domain.Run, error)
	PendingSignals(ctx context.Context, limit int) ([]domain.ApprovalSignal, error)
	MarkSignalDelivered(ctx context.Context, runID string) error
}

type Publisher interface {
	Publish(ctx context.Context, signal domain.ApprovalSignal) error
}

type PointerStore interface {
	SetApproved(ctx context.Context, signal domain.ApprovalSignal) error
}

type Aggregator struct {
	runs     RunStore
	delivery delivery
	logger   *slog.Logger
	expected []domain.CheckName
	now      func() time.Time
}

type Option func(*Aggregator)

// WithExpectedChecks overrides the barrier set. Defaults to domain.AllChecks.
func WithExpectedChecks(checks []domain.CheckName) Option {
	return func(a *Aggregator) {
		a.expected = append([]domain.CheckName(nil), checks...)
	}
}

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

func New(runs RunStore, publisher Publisher, pointer PointerStore, logger *slog.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &Aggregator{
		runs:     runs,
		delivery: delivery{runs: runs, publisher: publisher, pointer: pointer},
		logger:   logger,
		expected: domain.AllChecks(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate decides, persists and, for a newly approved run, signals. Only
// persistence failures are returned as errors; signal failures are reported in
// Outcome.PublishErr and left pending for the relay.
func (a *Aggregator) Aggregate(ctx context.Context, runID, modelID string, results []domain.CheckResult) (domain.Outcome, error) {
	ordered, err := a.complete(results)
	if err != nil {
		return domain.Outcome{}, err
	}
	digest, err := domain.ResultsDigest(ordered)
	if err != nil {
		return domain.Outcome{}, &domain.PersistenceError{RunID: runID, Err: err}
	}
	run := domain.Run{
		ID:              runID,
		ModelID:         modelID,
		CreatedAt:       a.now().UTC(),
		Approved:        domain.AllPassed(ordered),
		Results:         ordered,
		IntegritySHA256: digest,
	}
	if err := run.Validate(); err != nil {
		return domain.Outcome{}, &domain.PersistenceError{RunID: runID, Err: err}
	}

	created, err := a.runs.SaveRun(ctx, run)
	if errors.Is(err, domain.ErrRunConflict) {
		return a.storedDecision(ctx, runID, digest)
	}
	if err != nil {
		a.logger.Error("run persist failed", "run_id", runID, "error", err)
		return domain.Outcome{}, &domain.PersistenceError{RunID: runID, Err: err}
	}
	outcome := domain.Outcome{RunID: runID, Approved: run.Approved}
	if !created {
		a.logger.Info("run already recorded", "run_id", runID, "approved", run.Approved)
		return outcome, nil
	}
	a.logger.Info("run recorded", "run_id", runID, "model_id", modelID, "approved", run.Approved, "integrity_sha256", digest)
	if !run.Approved {
		return outcome, nil
	}
	if err := a.delivery.deliver(ctx, run.Signal()); err != nil {
		a.logger.Error("approval signal not delivered", "run_id", runID, "error", err)
		outcome.PublishErr = err
		return outcome, nil
	}
	a.logger.Info("approval signal delivered", "run_id", runID)
	return outcome, nil
}

// storedDecision answers a replay whose fresh results differ from the stored
// record. The stored record stands and nothing is signalled again.
func (a *Aggregator) storedDecision(ctx context.Context, runID, digest string) (domain.Outcome, error) {
	stored, err := a.runs.GetRun(ctx, runID)
	if err != nil {
		a.logger.Error("load stored run failed", "run_id", runID, "error", err)
		return domain.Outcome{}, &domain.PersistenceError{RunID: runID, Err: fmt.Errorf("%w: %w", domain.ErrRunConflict, err)}
	}
	a.logger.Warn("replay diverged from stored run, keeping stored decision",
		"run_id", runID,
		"approved", stored.Approved,
		"stored_sha256", stored.IntegritySHA256,
		"replay_sha256", digest,
	)
	return domain.Outcome{RunID: runID, Approved: stored.Approved, Results: stored.Results}, nil
}

// complete enforces the fan-in barrier: exactly one result per expected check,
// returned in expected order.
func (a *Aggregator) complete(results []domain.CheckResult) ([]domain.CheckResult, error) {
	byCheck := make(map[domain.CheckName]domain.CheckResult, len(results))
	for _, r := range results {
		if _, dup := byCheck[r.Check]; dup {
			return nil, fmt.Errorf("%w: duplicate result for %s", domain.ErrIncompleteResults, r.Check)
		}
		byCheck[r.Check] = r
	}
	ordered := make([]domain.CheckResult, 0, len(a.expected))
	for _, check := range a.expected {
		r, ok := byCheck[check]
		if !ok {
			return nil, fmt.Errorf("%w: missing result for %s", domain.ErrIncompleteResults, check)
		}
		ordered = append(ordered, r)
	}
	if len(byCheck) != len(ordered) {
		return nil, fmt.Errorf("%w: %d unexpected results", domain.ErrIncompleteResults, len(byCheck)-len(ordered))
	}
	return ordered, nil
}
