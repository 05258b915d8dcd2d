package domain

import "fmt"

// RunState is a workflow execution state. Approved, Rejected and Failed are
// terminal. Rejected is a business outcome; Failed is an operational one.
type RunState string

const (
	RunStateSelectingTests    RunState = "selecting_tests"
	RunStateRunningEvaluators RunState = "running_evaluators"
	RunStateAggregating       RunState = "aggregating"
	RunStateApproved          RunState = "approved"
	RunStateRejected          RunState = "rejected"
	RunStateFailed            RunState = "failed"
)

var runTransitions = map[RunState][]RunState{
	RunStateSelectingTests:    {RunStateRunningEvaluators, RunStateFailed},
	RunStateRunningEvaluators: {RunStateAggregating, RunStateFailed},
	RunStateAggregating:       {RunStateApproved, RunStateRejected, RunStateFailed},
	RunStateApproved:          {},
	RunStateRejected:          {},
	RunStateFailed:            {},
}

func (s RunState) Valid() bool {
	_, ok := runTransitions[s]
	return ok
}

func (s RunState) Terminal() bool {
	next, ok := runTransitions[s]
	return ok && len(next) == 0
}

// CanTransition returns true when a transition is allowed.
func CanTransition(from, to RunState) bool {
	for _, candidate := range runTransitions[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// ValidateTransition ensures a run state transition is valid.
func ValidateTransition(from, to RunState) error {
	if !from.Valid() || !to.Valid() {
		return fmt.Errorf("invalid run state transition %q -> %q", from, to)
	}
	if !CanTransition(from, to) {
		return fmt.Errorf("run state transition %q -> %q not allowed", from, to)
	}
	return nil
}
