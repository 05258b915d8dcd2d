package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrRunConflict reports a second aggregation of a run id with a result set
	// that differs from the stored one.
	ErrRunConflict = errors.New("run already recorded with different results")
	// ErrIncompleteResults reports a fan-in that is missing or duplicating checks.
	ErrIncompleteResults = errors.New("incomplete result set")
)

// ConfigurationError: the prompt-wrapping rule store is unreachable or its
// payload is malformed.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("prompt rules unavailable: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// NoMatchError: no wrap rule matches the model family.
type NoMatchError struct {
	ModelID string
}

func (e *NoMatchError) Error() string {
	return fmt.Sprintf("no prompt rule matches model %q", e.ModelID)
}

// DatasetUnavailableError: dataset listing failed. Fatal to the run.
type DatasetUnavailableError struct {
	Err error
}

func (e *DatasetUnavailableError) Error() string {
	return fmt.Sprintf("dataset store unavailable: %v", e.Err)
}

func (e *DatasetUnavailableError) Unwrap() error {
	return e.Err
}

// InferenceError: a candidate or judge call failed or timed out. Check is
// empty until the failing evaluator branch is known.
type InferenceError struct {
	Check   CheckName
	ModelID string
	Err     error
}

func (e *InferenceError) Error() string {
	if e.Check != "" {
		return fmt.Sprintf("%s inference on %q failed: %v", e.Check, e.ModelID, e.Err)
	}
	return fmt.Sprintf("inference on %q failed: %v", e.ModelID, e.Err)
}

func (e *InferenceError) Unwrap() error {
	return e.Err
}

// PersistenceError: the durable run write failed. Fatal to the run.
type PersistenceError struct {
	RunID string
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist run %s: %v", e.RunID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// PublishError: the approval signal or pointer update failed after the run was
// persisted. Never fatal.
type PublishError struct {
	RunID  string
	Target string
	Err    error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %s for run %s: %v", e.Target, e.RunID, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// Retryable reports whether an evaluator branch may be re-run with the same
// input after err.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var inf *InferenceError
	if errors.As(err, &inf) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
