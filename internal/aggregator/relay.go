package aggregator

import (
	"context"
	"errors"
	"log/slog"

	"github.com/animus-labs/modelgate/internal/domain"
)

const (
	targetEvent   = "event"
	targetPointer = "pointer"
	targetOutbox  = "outbox"
)

// delivery publishes a signal, then moves the approved pointer, then clears the
// outbox row. A failure stops the sequence and leaves the row pending.
type delivery struct {
	runs      RunStore
	publisher Publisher
	pointer   PointerStore
}

func (d delivery) deliver(ctx context.Context, signal domain.ApprovalSignal) error {
	if err := d.publisher.Publish(ctx, signal); err != nil {
		return &domain.PublishError{RunID: signal.RunID, Target: targetEvent, Err: err}
	}
	if err := d.pointer.SetApproved(ctx, signal); err != nil {
		return &domain.PublishError{RunID: signal.RunID, Target: targetPointer, Err: err}
	}
	if err := d.runs.MarkSignalDelivered(ctx, signal.RunID); err != nil {
		return &domain.PublishError{RunID: signal.RunID, Target: targetOutbox, Err: err}
	}
	return nil
}

// Relay re-delivers approval signals left pending by a failed or interrupted
// aggregation. Consumers may see a signal more than once.
type Relay struct {
	delivery delivery
	logger   *slog.Logger
}

func NewRelay(runs RunStore, publisher Publisher, pointer PointerStore, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Relay{
		delivery: delivery{runs: runs, publisher: publisher, pointer: pointer},
		logger:   logger,
	}
}

// Sweep delivers up to limit pending signals, oldest first, and keeps going
// past individual failures.
func (r *Relay) Sweep(ctx context.Context, limit int) (int, error) {
	pending, err := r.delivery.runs.PendingSignals(ctx, limit)
	if err != nil {
		return 0, err
	}
	delivered := 0
	var errs []error
	for _, signal := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.delivery.deliver(ctx, signal); err != nil {
			r.logger.Warn("relay delivery failed", "run_id", signal.RunID, "error", err)
			errs = append(errs, err)
			continue
		}
		delivered++
		r.logger.Info("relay delivered approval signal", "run_id", signal.RunID)
	}
	return delivered, errors.Join(errs...)
}
