package auditlog

import (
	"context"
	"time"
)

const resourceEvaluationRun = "evaluation_run"

// TransitionRecorder writes one audit row per run state change.
type TransitionRecorder struct {
	db    QueryRower
	actor string
	now   func() time.Time
}

func NewTransitionRecorder(db QueryRower, actor string) *TransitionRecorder {
	if actor == "" {
		actor = "evalgate"
	}
	return &TransitionRecorder{db: db, actor: actor, now: time.Now}
}

func (r *TransitionRecorder) RecordTransition(ctx context.Context, runID, requestID, from, to string, detail map[string]any) error {
	payload := map[string]any{"from": from, "to": to}
	for k, v := range detail {
		payload[k] = v
	}
	_, err := Insert(ctx, r.db, Event{
		OccurredAt:   r.now().UTC(),
		Actor:        r.actor,
		Action:       "run." + to,
		ResourceType: resourceEvaluationRun,
		ResourceID:   runID,
		RequestID:    requestID,
		Payload:      payload,
	})
	return err
}
