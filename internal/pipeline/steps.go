// Package pipeline drives a remote listing job to a terminal state: it
// polls the processing backend, projects backend step records onto the
// coarse client-facing phases, and enforces the per-step lifecycle
// waiting → pending → in-progress → {completed | error}.
package pipeline

import (
	"log/slog"
	"sync"

	"github.com/listforge/listforge/internal/backend"
)

// Backend step vocabulary, in pipeline order.
const (
	BackendValidation   = "validation"
	BackendWatermarking = "watermarking"
	BackendCollage      = "collage"
	BackendPackaging    = "packaging"
	BackendAIMetadata   = "ai_metadata"
	BackendEtsyListing  = "etsy_listing"
	BackendDriveUpload  = "drive_upload"
)

// backendOrder is the fixed order in which the backend reports steps.
var backendOrder = []string{
	BackendValidation,
	BackendWatermarking,
	BackendCollage,
	BackendPackaging,
	BackendAIMetadata,
	BackendEtsyListing,
	BackendDriveUpload,
}

// ClientStepID is a coarse, user-facing phase collapsing several backend
// steps.
type ClientStepID string

const (
	StepValidation   ClientStepID = "validation"
	StepProcessing   ClientStepID = "processing"
	StepAIGeneration ClientStepID = "ai-generation"
	StepEtsyCreation ClientStepID = "etsy-creation"
)

// clientOrder is the fixed pipeline order of client steps.
var clientOrder = []ClientStepID{
	StepValidation,
	StepProcessing,
	StepAIGeneration,
	StepEtsyCreation,
}

// stepMapping collapses backend steps onto client steps (many-to-one).
var stepMapping = map[string]ClientStepID{
	BackendValidation:   StepValidation,
	BackendWatermarking: StepProcessing,
	BackendCollage:      StepProcessing,
	BackendPackaging:    StepProcessing,
	BackendAIMetadata:   StepAIGeneration,
	BackendEtsyListing:  StepEtsyCreation,
	BackendDriveUpload:  StepEtsyCreation,
}

// finalBackendStep is the last backend step mapping to each client step.
// A client step is completed only when this step reports completed — a
// completed status on an earlier step of the group leaves the group
// in-progress.
var finalBackendStep = map[ClientStepID]string{
	StepValidation:   BackendValidation,
	StepProcessing:   BackendPackaging,
	StepAIGeneration: BackendAIMetadata,
	StepEtsyCreation: BackendDriveUpload,
}

// StepState is the lifecycle state of one client step.
type StepState string

const (
	StateWaiting    StepState = "waiting"
	StatePending    StepState = "pending"
	StateInProgress StepState = "in-progress"
	StateCompleted  StepState = "completed"
	StateError      StepState = "error"
)

// stateRank orders states for monotonicity checks. Error is terminal and
// handled separately.
var stateRank = map[StepState]int{
	StateWaiting:    0,
	StatePending:    1,
	StateInProgress: 2,
	StateCompleted:  3,
}

// StepView is the presentation-facing snapshot of one client step.
type StepView struct {
	ID    ClientStepID
	State StepState
	Error string
}

// clientIndex returns the pipeline position of the client step a backend
// step maps to, or -1 for unknown step names.
func clientIndex(backendStep string) int {
	id, ok := stepMapping[backendStep]
	if !ok {
		return -1
	}

	for i, c := range clientOrder {
		if c == id {
			return i
		}
	}

	return -1
}

// Tracker projects backend status snapshots onto client step states.
// Transitions are monotonic: a step never moves backward, overall progress
// never regresses, and once a step errors no later step advances past
// waiting.
type Tracker struct {
	logger *slog.Logger

	mu    sync.Mutex
	steps []StepView
}

// NewTracker creates a tracker with every step waiting and the first step
// pending (next up).
func NewTracker(logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}

	steps := make([]StepView, len(clientOrder))
	for i, id := range clientOrder {
		steps[i] = StepView{ID: id, State: StateWaiting}
	}

	steps[0].State = StatePending

	return &Tracker{logger: logger, steps: steps}
}

// Steps returns a snapshot of the current client step states.
func (t *Tracker) Steps() []StepView {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]StepView, len(t.steps))
	copy(out, t.steps)

	return out
}

// Progress returns completed steps over total steps, in [0, 1].
func (t *Tracker) Progress() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	completed := 0
	for _, s := range t.steps {
		if s.State == StateCompleted {
			completed++
		}
	}

	return float64(completed) / float64(len(t.steps))
}

// Failed returns the errored step, if any.
func (t *Tracker) Failed() (StepView, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.steps {
		if s.State == StateError {
			return s, true
		}
	}

	return StepView{}, false
}

// Apply folds a backend status snapshot into the tracker and returns the
// resulting client step states.
func (t *Tracker) Apply(records []backend.StepRecord) []StepView {
	derived := deriveStates(records, t.logger)

	t.mu.Lock()
	defer t.mu.Unlock()

	for i := range t.steps {
		t.steps[i] = mergeStep(t.steps[i], derived[i])
	}

	markPending(t.steps)

	out := make([]StepView, len(t.steps))
	copy(out, t.steps)

	return out
}

// deriveStates computes client step states from one raw snapshot, without
// history. The first failed record wins: steps before it are completed,
// the mapped step errors, everything after stays waiting.
func deriveStates(records []backend.StepRecord, logger *slog.Logger) []StepView {
	states := make([]StepView, len(clientOrder))
	for i, id := range clientOrder {
		states[i] = StepView{ID: id, State: StateWaiting}
	}

	if len(records) == 0 {
		return states
	}

	// Failure scan: the first failed step is fatal to the pipeline.
	for _, rec := range records {
		if rec.Status != backend.StepFailed {
			continue
		}

		idx := clientIndex(rec.Step)
		if idx < 0 {
			logger.Warn("unknown backend step in failure record", slog.String("step", rec.Step))

			continue
		}

		for i := range idx {
			states[i].State = StateCompleted
		}

		states[idx].State = StateError
		states[idx].Error = rec.Error

		return states
	}

	latest := records[len(records)-1]

	idx := clientIndex(latest.Step)
	if idx < 0 {
		logger.Warn("unknown backend step in status record", slog.String("step", latest.Step))

		return states
	}

	for i := range idx {
		states[i].State = StateCompleted
	}

	switch latest.Status {
	case backend.StepStarted:
		states[idx].State = StateInProgress
	case backend.StepCompleted:
		// The group completes only when its final backend step does;
		// earlier members completing keep the group in progress.
		if latest.Step == finalBackendStep[clientOrder[idx]] {
			states[idx].State = StateCompleted
		} else {
			states[idx].State = StateInProgress
		}
	case backend.StepFailed:
		// Unreachable: failures were consumed by the scan above.
	}

	return states
}

// mergeStep combines the previous state with a freshly derived one,
// keeping transitions monotonic. An errored step stays errored; a
// completed step stays completed even if a later snapshot is stale.
func mergeStep(prev, next StepView) StepView {
	if prev.State == StateError {
		return prev
	}

	if next.State == StateError {
		return next
	}

	if stateRank[next.State] > stateRank[prev.State] {
		return next
	}

	return prev
}

// markPending marks the first waiting step after the last completed step
// as pending (next up). After an error, later steps stay waiting.
func markPending(steps []StepView) {
	for i := range steps {
		switch steps[i].State {
		case StateError:
			return
		case StateWaiting:
			if i == 0 || steps[i-1].State == StateCompleted {
				steps[i].State = StatePending
			}

			return
		case StatePending, StateInProgress:
			return
		case StateCompleted:
			// Keep scanning for the next-up step.
		}
	}
}

// isTerminalSuccess reports whether a snapshot's latest record marks the
// whole pipeline as successfully finished.
func isTerminalSuccess(records []backend.StepRecord) bool {
	if len(records) == 0 {
		return false
	}

	latest := records[len(records)-1]

	return latest.Step == backendOrder[len(backendOrder)-1] && latest.Status == backend.StepCompleted
}
