package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listforge/listforge/internal/backend"
)

// scriptedFetcher serves one canned snapshot per tick, repeating the last
// one once the script runs out.
type scriptedFetcher struct {
	snapshots [][]backend.StepRecord
	errs      []error
	calls     int
}

func (f *scriptedFetcher) JobStatus(_ context.Context, _ string) (*backend.JobStatus, error) {
	i := f.calls
	f.calls++

	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}

	if len(f.snapshots) == 0 {
		return &backend.JobStatus{}, nil
	}

	if i >= len(f.snapshots) {
		i = len(f.snapshots) - 1
	}

	return &backend.JobStatus{Steps: f.snapshots[i]}, nil
}

// newTestPoller returns a poller whose sleeps are instantaneous.
func newTestPoller(fetcher StatusFetcher, maxPolls int) *Poller {
	p := NewPoller(fetcher, time.Second, maxPolls, nil)
	p.sleepFunc = func(_ context.Context, _ time.Duration) error { return nil }

	return p
}

func TestPoll_CompletesOnTerminalSnapshot(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendValidation, backend.StepStarted, "")},
		{rec(BackendValidation, backend.StepCompleted, "")},
		{rec(BackendDriveUpload, backend.StepCompleted, "")},
	}}

	poller := newTestPoller(fetcher, 10)
	tracker := NewTracker(nil)

	status, err := poller.Poll(context.Background(), "job-1", tracker, nil)
	require.NoError(t, err)
	require.NotNil(t, status)

	// Terminal on the third tick; no further fetches issued.
	assert.Equal(t, 3, fetcher.calls)

	for _, s := range tracker.Steps() {
		assert.Equal(t, StateCompleted, s.State)
	}
}

func TestPoll_StepFailureStopsImmediately(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendValidation, backend.StepCompleted, "")},
		{
			rec(BackendValidation, backend.StepCompleted, ""),
			rec(BackendWatermarking, backend.StepFailed, "corrupt image"),
		},
	}}

	poller := newTestPoller(fetcher, 10)
	tracker := NewTracker(nil)

	_, err := poller.Poll(context.Background(), "job-1", tracker, nil)
	require.Error(t, err)

	var stepErr *StepError

	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, BackendWatermarking, stepErr.Step)
	assert.Equal(t, StepProcessing, stepErr.ClientStep)
	assert.Equal(t, "corrupt image", stepErr.Message)
	assert.ErrorIs(t, err, ErrStepFailed)

	assert.Equal(t, 2, fetcher.calls)

	// Completed state earned before the failure is preserved.
	assert.Equal(t, StateCompleted, stateOf(t, tracker.Steps(), StepValidation).State)
}

func TestPoll_BudgetExhaustion(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendCollage, backend.StepStarted, "")},
	}}

	poller := newTestPoller(fetcher, 60)
	tracker := NewTracker(nil)

	_, err := poller.Poll(context.Background(), "job-1", tracker, nil)
	require.ErrorIs(t, err, ErrPollTimeout)

	// Exactly the budget, never one more.
	assert.Equal(t, 60, fetcher.calls)
}

func TestPoll_UpdatesAreSequentialAndPerTick(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendValidation, backend.StepStarted, "")},
		{rec(BackendValidation, backend.StepCompleted, "")},
		{rec(BackendDriveUpload, backend.StepCompleted, "")},
	}}

	poller := newTestPoller(fetcher, 10)

	var updates []Update

	inCallback := false
	onUpdate := func(u Update) {
		require.False(t, inCallback, "overlapping update callbacks")

		inCallback = true
		updates = append(updates, u)
		inCallback = false
	}

	_, err := poller.Poll(context.Background(), "job-1", NewTracker(nil), onUpdate)
	require.NoError(t, err)

	require.Len(t, updates, 3)
	assert.Equal(t, StateInProgress, stateOf(t, updates[0].Steps, StepValidation).State)
	assert.Equal(t, StateCompleted, stateOf(t, updates[1].Steps, StepValidation).State)
	assert.Equal(t, StateCompleted, stateOf(t, updates[2].Steps, StepEtsyCreation).State)
}

func TestPoll_UpdateDeliveredBeforeFailureReturn(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendValidation, backend.StepFailed, "nope")},
	}}

	poller := newTestPoller(fetcher, 10)

	called := 0
	onUpdate := func(u Update) {
		called++

		assert.Equal(t, StateError, stateOf(t, u.Steps, StepValidation).State)
	}

	_, err := poller.Poll(context.Background(), "job-1", NewTracker(nil), onUpdate)
	require.ErrorIs(t, err, ErrStepFailed)
	assert.Equal(t, 1, called)
}

func TestPoll_FetchErrorPropagates(t *testing.T) {
	netErr := errors.New("connection refused")
	fetcher := &scriptedFetcher{errs: []error{netErr}}

	poller := newTestPoller(fetcher, 10)

	_, err := poller.Poll(context.Background(), "job-1", NewTracker(nil), nil)
	require.ErrorIs(t, err, netErr)
	assert.Equal(t, 1, fetcher.calls)
}

func TestPoll_CancellationBetweenTicks(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendValidation, backend.StepStarted, "")},
	}}

	ctx, cancel := context.WithCancel(context.Background())

	poller := NewPoller(fetcher, time.Second, 10, nil)
	poller.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()

		return ctx.Err()
	}

	_, err := poller.Poll(ctx, "job-1", NewTracker(nil), nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, fetcher.calls)
}

func TestPoll_SleepsBeforeFirstFetch(t *testing.T) {
	fetcher := &scriptedFetcher{snapshots: [][]backend.StepRecord{
		{rec(BackendDriveUpload, backend.StepCompleted, "")},
	}}

	poller := NewPoller(fetcher, time.Second, 10, nil)

	slept := 0
	poller.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept++

		assert.Equal(t, time.Second, d)
		assert.GreaterOrEqual(t, slept, fetcher.calls+1)

		return nil
	}

	_, err := poller.Poll(context.Background(), "job-1", NewTracker(nil), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, slept)
}

func TestOutcome_FailedUnknownStepKeepsRawName(t *testing.T) {
	failed, done := Outcome([]backend.StepRecord{
		rec(BackendValidation, backend.StepCompleted, ""),
		rec("thumbnailing", backend.StepFailed, "boom"),
	})

	require.NotNil(t, failed)
	assert.False(t, done)
	assert.Equal(t, "thumbnailing", failed.Step)
	assert.Equal(t, ClientStepID("thumbnailing"), failed.ClientStep, "unmapped step names surface as-is")
	assert.Equal(t, "boom", failed.Message)
}
