package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/listforge/listforge/internal/backend"
)

// Default polling parameters: a 5 second interval with a 60 tick budget
// gives a 5 minute ceiling.
const (
	defaultPollInterval = 5 * time.Second
	defaultMaxPolls     = 60
)

// StatusFetcher retrieves one status snapshot for a processing job.
// Defined at the consumer; backend.Client satisfies it.
type StatusFetcher interface {
	JobStatus(ctx context.Context, processingID string) (*backend.JobStatus, error)
}

// Update is delivered to the poll callback after every tick: the raw
// backend snapshot plus the derived client step states.
type Update struct {
	Snapshot *backend.JobStatus
	Steps    []StepView
}

// UpdateFunc receives per-tick updates. Ticks are strictly sequential: the
// next status fetch is not scheduled until the callback has returned, so
// step reporting can never arrive out of order.
type UpdateFunc func(Update)

// Poller converts a sequence of remote status snapshots into client step
// transitions without over- or under-reporting completion.
type Poller struct {
	fetcher  StatusFetcher
	interval time.Duration
	maxPolls int
	logger   *slog.Logger

	// sleepFunc waits between ticks. Tests override this to run the full
	// poll budget without real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. Zero interval or maxPolls select the
// defaults (5s, 60 ticks).
func NewPoller(fetcher StatusFetcher, interval time.Duration, maxPolls int, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}

	if interval <= 0 {
		interval = defaultPollInterval
	}

	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	return &Poller{
		fetcher:   fetcher,
		interval:  interval,
		maxPolls:  maxPolls,
		logger:    logger,
		sleepFunc: sleepContext,
	}
}

// Poll drives tracker until the job reaches a terminal state or the poll
// budget runs out. On a failed step it returns a *StepError immediately —
// no further ticks are issued, and already-completed step state is
// preserved in the tracker for the caller to present. Budget exhaustion
// returns ErrPollTimeout. Cancellation of ctx aborts polling between
// ticks.
func (p *Poller) Poll(ctx context.Context, jobID string, tracker *Tracker, onUpdate UpdateFunc) (*backend.JobStatus, error) {
	p.logger.Info("polling job status",
		slog.String("job_id", jobID),
		slog.Duration("interval", p.interval),
		slog.Int("max_polls", p.maxPolls),
	)

	for tick := 1; tick <= p.maxPolls; tick++ {
		if err := p.sleepFunc(ctx, p.interval); err != nil {
			return nil, fmt.Errorf("pipeline: polling canceled: %w", err)
		}

		status, err := p.fetcher.JobStatus(ctx, jobID)
		if err != nil {
			return nil, fmt.Errorf("pipeline: fetching status for %s: %w", jobID, err)
		}

		steps := tracker.Apply(status.Steps)

		if onUpdate != nil {
			onUpdate(Update{Snapshot: status, Steps: steps})
		}

		if failed, ok := findFailure(status.Steps); ok {
			p.logger.Warn("pipeline step failed",
				slog.String("job_id", jobID),
				slog.String("step", failed.Step),
				slog.String("error", failed.Message),
				slog.Int("tick", tick),
			)

			return nil, failed
		}

		if isTerminalSuccess(status.Steps) {
			p.logger.Info("job completed",
				slog.String("job_id", jobID),
				slog.Int("ticks", tick),
			)

			return status, nil
		}
	}

	p.logger.Warn("poll budget exhausted",
		slog.String("job_id", jobID),
		slog.Int("max_polls", p.maxPolls),
	)

	return nil, fmt.Errorf("pipeline: job %s: %w", jobID, ErrPollTimeout)
}

// Outcome classifies one status snapshot: a failed step (if any) and
// whether the snapshot is a terminal success. Used by one-shot status
// refreshes outside the poll loop.
func Outcome(records []backend.StepRecord) (*StepError, bool) {
	if failed, ok := findFailure(records); ok {
		return failed, false
	}

	return nil, isTerminalSuccess(records)
}

// findFailure returns a StepError for the first failed record, if any.
// A failed step is fatal to the pipeline; the poller never retries it.
func findFailure(records []backend.StepRecord) (*StepError, bool) {
	for _, rec := range records {
		if rec.Status != backend.StepFailed {
			continue
		}

		clientStep, ok := stepMapping[rec.Step]
		if !ok {
			// Unknown step name: present the raw name rather than an
			// empty phase.
			clientStep = ClientStepID(rec.Step)
		}

		return &StepError{
			Step:       rec.Step,
			ClientStep: clientStep,
			Message:    rec.Error,
		}, true
	}

	return nil, false
}

// sleepContext waits for d or until ctx is canceled.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
