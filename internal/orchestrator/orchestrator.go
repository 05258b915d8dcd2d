// Package orchestrator runs one evaluation workflow: select tests, fan the
// selection out to every evaluator, wait for all of them, then aggregate.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/animus-labs/modelgate/internal/domain"
	"github.com/animus-labs/modelgate/internal/evaluator"
	"github.com/animus-labs/modelgate/internal/platform/httpserver"
)

const (
	DefaultBranchTimeout = 2 * time.Minute
	DefaultMaxAttempts   = 3
	DefaultBackoff       = 5 * time.Second
	DefaultRunTimeout    = 30 * time.Minute
)

type Selector interface {
	Select(ctx context.Context, trigger domain.Trigger) (domain.Selection, error)
}

type Aggregator interface {
	Aggregate(ctx context.Context, runID, modelID string, results []domain.CheckResult) (domain.Outcome, error)
}

// Auditor records run state changes. Failures are logged and never affect the
// run.
type Auditor interface {
	RecordTransition(ctx context.Context, runID, requestID, from, to string, detail map[string]any) error
}

// RetryPolicy applies to each evaluator branch independently.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

type Config struct {
	DefaultModelID string
	Branch         RetryPolicy
	RunTimeout     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Branch.Timeout <= 0 {
		c.Branch.Timeout = DefaultBranchTimeout
	}
	if c.Branch.MaxAttempts <= 0 {
		c.Branch.MaxAttempts = DefaultMaxAttempts
	}
	if c.Branch.Backoff < 0 {
		c.Branch.Backoff = 0
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = DefaultRunTimeout
	}
	return c
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.DefaultModelID) == "" {
		return errors.New("default model id is required")
	}
	if c.Branch.MaxAttempts < 0 {
		return errors.New("branch max attempts must be >= 0")
	}
	if c.Branch.Timeout < 0 || c.RunTimeout < 0 {
		return errors.New("branch and run timeouts must be >= 0")
	}
	return nil
}

// Result is the terminal outcome of one workflow execution. Err is set only
// for StateFailed.
type Result struct {
	RunID      string               `json:"runId"`
	ModelID    string               `json:"modelId"`
	State      domain.RunState      `json:"status"`
	Approved   bool                 `json:"approved"`
	Checks     []domain.CheckResult `json:"checks,omitempty"`
	PublishErr error                `json:"-"`
	Err        error                `json:"-"`
}

// BranchError reports an evaluator branch that produced no result.
type BranchError struct {
	Check    domain.CheckName
	Attempts int
	Err      error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("evaluator %s failed after %d attempt(s): %v", e.Check, e.Attempts, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

type Orchestrator struct {
	selector   Selector
	evaluators []evaluator.Evaluator
	aggregator Aggregator
	cfg        Config
	logger     *slog.Logger
	metrics    *Metrics
	auditor    Auditor
	sleep      func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithAuditor(a Auditor) Option {
	return func(o *Orchestrator) { o.auditor = a }
}

func New(selector Selector, evaluators []evaluator.Evaluator, aggregator Aggregator, cfg Config, logger *slog.Logger, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if selector == nil || aggregator == nil {
		return nil, errors.New("orchestrator requires a selector and an aggregator")
	}
	if len(evaluators) == 0 {
		return nil, errors.New("orchestrator requires at least one evaluator")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	o := &Orchestrator{
		selector:   selector,
		evaluators: evaluators,
		aggregator: aggregator,
		cfg:        cfg.withDefaults(),
		logger:     logger,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// run tracks the state of one execution.
type run struct {
	id        string
	modelID   string
	requestID string
	state     domain.RunState
}

// Execute drives one trigger to a terminal state. It never returns a partial
// decision: any branch without a result fails the run.
func (o *Orchestrator) Execute(ctx context.Context, trigger domain.Trigger) Result {
	requestID, _ := httpserver.RequestIDFromContext(ctx)
	ctx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	modelID := strings.TrimSpace(trigger.ModelID)
	if modelID == "" {
		modelID = o.cfg.DefaultModelID
	}
	trigger.ModelID = modelID
	r := &run{id: strings.TrimSpace(trigger.RunID), modelID: modelID, requestID: requestID, state: domain.RunStateSelectingTests}
	o.logger.Info("run started", "run_id", r.id, "model_id", modelID, "request_id", requestID)

	selection, err := o.selector.Select(ctx, trigger)
	if err != nil {
		return o.fail(ctx, r, nil, fmt.Errorf("select tests: %w", err))
	}
	r.id = selection.RunID
	o.transition(ctx, r, domain.RunStateRunningEvaluators, map[string]any{"datasets": len(selection.DatasetKeys)})

	checks, err := o.fanOut(ctx, evaluator.Input{RunID: r.id, ModelID: modelID, DatasetKeys: selection.DatasetKeys})
	if err != nil {
		return o.fail(ctx, r, checks, err)
	}
	o.transition(ctx, r, domain.RunStateAggregating, nil)

	outcome, err := o.aggregator.Aggregate(ctx, r.id, modelID, checks)
	if err != nil {
		return o.fail(ctx, r, checks, fmt.Errorf("aggregate: %w", err))
	}
	if len(outcome.Results) > 0 {
		checks = outcome.Results
	}
	if outcome.PublishErr != nil {
		o.metrics.publishFailed()
		o.logger.Warn("approval signal pending relay", "run_id", r.id, "error", outcome.PublishErr)
	}
	final := domain.RunStateRejected
	if outcome.Approved {
		final = domain.RunStateApproved
	}
	o.transition(ctx, r, final, map[string]any{"approved": outcome.Approved})
	o.metrics.runCompleted(final)
	o.logger.Info("run completed", "run_id", r.id, "model_id", modelID, "status", final)
	return Result{
		RunID:      r.id,
		ModelID:    modelID,
		State:      final,
		Approved:   outcome.Approved,
		Checks:     checks,
		PublishErr: outcome.PublishErr,
	}
}

func (o *Orchestrator) fail(ctx context.Context, r *run, checks []domain.CheckResult, err error) Result {
	o.logger.Error("run failed", "run_id", r.id, "model_id", r.modelID, "state", r.state, "error", err)
	o.transition(ctx, r, domain.RunStateFailed, map[string]any{"error": err.Error()})
	o.metrics.runCompleted(domain.RunStateFailed)
	return Result{RunID: r.id, ModelID: r.modelID, State: domain.RunStateFailed, Checks: checks, Err: err}
}

func (o *Orchestrator) transition(ctx context.Context, r *run, to domain.RunState, detail map[string]any) {
	from := r.state
	if err := domain.ValidateTransition(from, to); err != nil {
		o.logger.Error("invalid run transition", "run_id", r.id, "from", from, "to", to, "error", err)
		return
	}
	r.state = to
	o.logger.Info("run state changed", "run_id", r.id, "from", from, "to", to)
	if o.auditor == nil || r.id == "" {
		return
	}
	// Audit rows are written even when the run context has expired.
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.auditor.RecordTransition(auditCtx, r.id, r.requestID, string(from), string(to), detail); err != nil {
		o.logger.Warn("audit transition failed", "run_id", r.id, "to", to, "error", err)
	}
}

type slot struct {
	result domain.CheckResult
	err    error
}

// fanOut runs every evaluator concurrently and waits for all of them. Each
// branch writes only its own slot and always returns nil to the group, so one
// failure never cancels its siblings.
func (o *Orchestrator) fanOut(ctx context.Context, in evaluator.Input) ([]domain.CheckResult, error) {
	slots := make([]slot, len(o.evaluators))
	var g errgroup.Group
	for i, ev := range o.evaluators {
		g.Go(func() error {
			res, err := o.runBranch(ctx, ev, in)
			slots[i] = slot{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	checks := make([]domain.CheckResult, 0, len(slots))
	var errs []error
	for _, s := range slots {
		if s.err != nil {
			errs = append(errs, s.err)
			continue
		}
		checks = append(checks, s.result)
	}
	return checks, errors.Join(errs...)
}

func (o *Orchestrator) runBranch(ctx context.Context, ev evaluator.Evaluator, in evaluator.Input) (domain.CheckResult, error) {
	name := ev.Name()
	policy := o.cfg.Branch
	for attempt := 1; ; attempt++ {
		start := time.Now()
		attemptCtx, cancel := context.WithTimeout(ctx, policy.Timeout)
		res, err := ev.Evaluate(attemptCtx, in)
		cancel()
		took := time.Since(start)

		if err == nil && res.Check != name {
			err = fmt.Errorf("evaluator reported check %q", res.Check)
		}
		var inf *domain.InferenceError
		if errors.As(err, &inf) && inf.Check == "" {
			inf.Check = name
		}
		if err == nil {
			o.metrics.attempt(name, "ok", took)
			o.metrics.score(res)
			o.logger.Info("evaluator completed", "run_id", in.RunID, "check", name, "attempt", attempt, "score", res.Score, "passed", res.Passed)
			return res, nil
		}

		retry := domain.Retryable(err) && attempt < policy.MaxAttempts && ctx.Err() == nil
		if !retry {
			o.metrics.attempt(name, "error", took)
			o.logger.Error("evaluator failed", "run_id", in.RunID, "check", name, "attempt", attempt, "error", err)
			return domain.CheckResult{}, &BranchError{Check: name, Attempts: attempt, Err: err}
		}
		o.metrics.attempt(name, "retry", took)
		o.logger.Warn("evaluator attempt failed, retrying", "run_id", in.RunID, "check", name, "attempt", attempt, "error", err)
		if err := o.sleep(ctx, policy.Backoff); err != nil {
			return domain.CheckResult{}, &BranchError{Check: name, Attempts: attempt, Err: err}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
