package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/internal/backend"
)

func rec(step string, status backend.StepStatus, errText string) backend.StepRecord {
	return backend.StepRecord{Step: step, Status: status, Error: errText}
}

func stateOf(t *testing.T, steps []StepView, id ClientStepID) StepView {
	t.Helper()

	for _, s := range steps {
		if s.ID == id {
			return s
		}
	}

	t.Fatalf("step %s not found", id)

	return StepView{}
}

func TestNewTracker_InitialStates(t *testing.T) {
	tracker := NewTracker(nil)
	steps := tracker.Steps()

	require.Len(t, steps, 4)
	assert.Equal(t, StatePending, steps[0].State)

	for _, s := range steps[1:] {
		assert.Equal(t, StateWaiting, s.State)
	}
}

func TestApply_StartedStepIsInProgress(t *testing.T) {
	tracker := NewTracker(nil)

	steps := tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepStarted, ""),
	})

	assert.Equal(t, StateInProgress, stateOf(t, steps, StepValidation).State)
	assert.Equal(t, StateWaiting, stateOf(t, steps, StepProcessing).State)
}

func TestApply_GroupCompletesOnlyOnFinalBackendStep(t *testing.T) {
	tracker := NewTracker(nil)

	// Watermarking completing is mid-group: processing stays in progress.
	steps := tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec(BackendWatermarking, backend.StepCompleted, ""),
	})

	assert.Equal(t, StateCompleted, stateOf(t, steps, StepValidation).State)
	assert.Equal(t, StateInProgress, stateOf(t, steps, StepProcessing).State)

	// Packaging is the group's final step: now processing completes and
	// ai-generation becomes next up.
	steps = tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec(BackendWatermarking, backend.StepCompleted, ""),
		rec(BackendCollage, backend.StepCompleted, ""),
		rec(BackendPackaging, backend.StepCompleted, ""),
	})

	assert.Equal(t, StateCompleted, stateOf(t, steps, StepProcessing).State)
	assert.Equal(t, StatePending, stateOf(t, steps, StepAIGeneration).State)
}

func TestApply_FailureHaltsProgress(t *testing.T) {
	tracker := NewTracker(nil)

	steps := tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec(BackendWatermarking, backend.StepFailed, "image too small"),
	})

	assert.Equal(t, StateCompleted, stateOf(t, steps, StepValidation).State)

	failed := stateOf(t, steps, StepProcessing)
	assert.Equal(t, StateError, failed.State)
	assert.Equal(t, "image too small", failed.Error)

	// Nothing after the error advances, not even to pending.
	assert.Equal(t, StateWaiting, stateOf(t, steps, StepAIGeneration).State)
	assert.Equal(t, StateWaiting, stateOf(t, steps, StepEtsyCreation).State)
}

func TestApply_ErrorIsSticky(t *testing.T) {
	tracker := NewTracker(nil)

	tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepFailed, "bad format"),
	})

	// A later snapshot claiming progress does not resurrect the step.
	steps := tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
	})

	failed := stateOf(t, steps, StepValidation)
	assert.Equal(t, StateError, failed.State)
	assert.Equal(t, "bad format", failed.Error)
}

func TestApply_StatesNeverMoveBackward(t *testing.T) {
	tracker := NewTracker(nil)

	tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec(BackendWatermarking, backend.StepStarted, ""),
	})

	// Stale snapshot: only validation started. Derived states regress, the
	// tracker must not.
	steps := tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepStarted, ""),
	})

	assert.Equal(t, StateCompleted, stateOf(t, steps, StepValidation).State)
	assert.Equal(t, StateInProgress, stateOf(t, steps, StepProcessing).State)
}

func TestApply_UnknownBackendStepIgnored(t *testing.T) {
	tracker := NewTracker(nil)

	steps := tracker.Apply([]backend.StepRecord{
		rec("thumbnailing", backend.StepStarted, ""),
	})

	assert.Equal(t, StatePending, stateOf(t, steps, StepValidation).State)

	for _, s := range steps[1:] {
		assert.Equal(t, StateWaiting, s.State)
	}
}

func TestApply_EmptySnapshotKeepsInitialState(t *testing.T) {
	tracker := NewTracker(nil)

	steps := tracker.Apply(nil)

	assert.Equal(t, StatePending, stateOf(t, steps, StepValidation).State)
}

func TestProgress(t *testing.T) {
	tracker := NewTracker(nil)
	assert.Zero(t, tracker.Progress())

	tracker.Apply([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec(BackendWatermarking, backend.StepCompleted, ""),
		rec(BackendCollage, backend.StepCompleted, ""),
		rec(BackendPackaging, backend.StepCompleted, ""),
	})

	assert.InDelta(t, 0.5, tracker.Progress(), 1e-9)
}

func TestFailed(t *testing.T) {
	tracker := NewTracker(nil)

	_, ok := tracker.Failed()
	assert.False(t, ok)

	tracker.Apply([]backend.StepRecord{
		rec(BackendAIMetadata, backend.StepFailed, "quota exceeded"),
	})

	failed, ok := tracker.Failed()
	require.True(t, ok)
	assert.Equal(t, StepAIGeneration, failed.ID)
	assert.Equal(t, "quota exceeded", failed.Error)
}

func TestIsTerminalSuccess(t *testing.T) {
	tests := []struct {
		name    string
		records []backend.StepRecord
		want    bool
	}{
		{"empty", nil, false},
		{"mid pipeline", []backend.StepRecord{
			rec(BackendCollage, backend.StepCompleted, ""),
		}, false},
		{"final step started", []backend.StepRecord{
			rec(BackendDriveUpload, backend.StepStarted, ""),
		}, false},
		{"final step completed", []backend.StepRecord{
			rec(BackendDriveUpload, backend.StepCompleted, ""),
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isTerminalSuccess(tt.records))
		})
	}
}
