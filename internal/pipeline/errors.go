package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrStepFailed marks a pipeline step reported as failed by the
	// backend. Fatal to the current job; retry means a fresh upload.
	ErrStepFailed = errors.New("pipeline: step failed")

	// ErrPollTimeout means the poll budget was exhausted before the job
	// reached a terminal state. Distinct from a step failure.
	ErrPollTimeout = errors.New("pipeline: no terminal state within poll budget")

	// ErrRetriesExhausted means the retry session has no attempts left.
	ErrRetriesExhausted = errors.New("pipeline: retry attempts exhausted")
)

// StepError carries the failed backend step, its client-facing phase, and
// the backend's error text, so callers can render a specific, actionable
// message instead of a generic failure.
type StepError struct {
	Step       string
	ClientStep ClientStepID
	Message    string
}

func (e *StepError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("pipeline: step %s failed: %s", e.Step, e.Message)
	}

	return fmt.Sprintf("pipeline: step %s failed", e.Step)
}

func (e *StepError) Unwrap() error {
	return ErrStepFailed
}
