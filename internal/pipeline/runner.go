package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/listforge/listforge/internal/backend"
	"github.com/listforge/listforge/internal/joblog"
)

// Uploader is the slice of the backend client the runner needs to submit a
// batch.
type Uploader interface {
	Upload(ctx context.Context, files []backend.UploadFile, fields map[string]string, progress backend.ProgressFunc) (*backend.UploadResult, error)
}

// BackendClient is the full backend surface the runner depends on.
type BackendClient interface {
	Uploader
	StatusFetcher
}

// Submission is one batch of images plus the scalar form fields that ride
// along with it (listing metadata, flattened).
type Submission struct {
	Paths  []string
	Fields map[string]string
}

// Hooks carries the optional UI callbacks for one run. Either may be nil.
type Hooks struct {
	Progress backend.ProgressFunc
	Update   UpdateFunc
}

// RunResult describes how a run ended. Steps holds the final client step
// views regardless of outcome.
type RunResult struct {
	JobID   string
	BatchID string
	Attempt int
	Status  joblog.Status
	Steps   []StepView
}

// Runner drives the full pipeline for one submission: upload the batch,
// record the job in the local ledger, poll the backend until a terminal
// state, and mirror step transitions back into the ledger as they arrive.
type Runner struct {
	client  BackendClient
	ledger  *joblog.Store
	session *Session
	poller  *Poller
	logger  *slog.Logger
}

// NewRunner wires a runner. ledger may be nil to run without local
// persistence (status and retry then have nothing to read).
func NewRunner(client BackendClient, ledger *joblog.Store, session *Session, poller *Poller, logger *slog.Logger) *Runner {
	if client == nil {
		panic("pipeline: nil backend client")
	}

	if session == nil {
		session = NewSession(0)
	}

	if poller == nil {
		poller = NewPoller(client, 0, 0, logger)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{client: client, ledger: ledger, session: session, poller: poller, logger: logger}
}

// Submit starts a brand-new job from a submission. The retry budget resets;
// the batch gets a fresh id shared by any later retries.
func (r *Runner) Submit(ctx context.Context, sub Submission, hooks Hooks) (*RunResult, error) {
	if len(sub.Paths) == 0 {
		return nil, errors.New("pipeline: no files to submit")
	}

	r.session.Reset()

	batchID := uuid.NewString()

	return r.run(ctx, batchID, 0, sub.Paths, sub.Fields, hooks)
}

// Retry re-runs a previously recorded job from a fresh upload. The whole
// pipeline restarts server-side; only the batch id and attempt counter
// carry over. The retry bound is enforced against the persisted attempt
// number, so it survives process restarts.
func (r *Runner) Retry(ctx context.Context, job *joblog.Job, hooks Hooks) (*RunResult, error) {
	if job == nil {
		return nil, errors.New("pipeline: no job to retry")
	}

	if len(job.Files) == 0 {
		return nil, fmt.Errorf("pipeline: job %s has no recorded files to re-upload", job.ID)
	}

	r.session.Restore(job.Attempt)

	attempt, err := r.session.Begin()
	if err != nil {
		return nil, err
	}

	return r.run(ctx, job.BatchID, attempt, job.Files, job.Fields, hooks)
}

// run executes one attempt end to end.
func (r *Runner) run(ctx context.Context, batchID string, attempt int, paths []string, fields map[string]string, hooks Hooks) (*RunResult, error) {
	files := make([]backend.UploadFile, 0, len(paths))

	for _, path := range paths {
		file, err := backend.FileFromPath(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline: preparing %s: %w", path, err)
		}

		files = append(files, file)
	}

	merged := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		merged[k] = v
	}

	merged["batchId"] = batchID

	result, err := r.client.Upload(ctx, files, merged, hooks.Progress)
	if err != nil {
		return nil, err
	}

	jobID := result.ProcessingID

	r.logger.Info("batch uploaded",
		slog.String("job_id", jobID),
		slog.String("batch_id", batchID),
		slog.Int("attempt", attempt),
		slog.Int("files", len(files)),
	)

	// Ledger writes never abort a run in flight; the backend already has
	// the batch, so losing local history beats losing the job.
	if r.ledger != nil {
		if err := r.ledger.CreateJob(ctx, jobID, batchID, attempt, paths, fields); err != nil {
			r.logger.Warn("recording job failed", slog.String("job_id", jobID), slog.Any("error", err))
		}
	}

	tracker := NewTracker(r.logger)
	res := &RunResult{JobID: jobID, BatchID: batchID, Attempt: attempt}

	onUpdate := func(u Update) {
		r.recordSteps(ctx, jobID, u.Steps)

		if hooks.Update != nil {
			hooks.Update(u)
		}
	}

	_, pollErr := r.poller.Poll(ctx, jobID, tracker, onUpdate)

	res.Steps = tracker.Steps()

	if pollErr != nil {
		res.Status = joblog.StatusFailed
		r.setStatus(ctx, jobID, joblog.StatusFailed, pollErr.Error())

		return res, pollErr
	}

	res.Status = joblog.StatusCompleted
	r.setStatus(ctx, jobID, joblog.StatusCompleted, "")

	r.logger.Info("run finished", slog.String("job_id", jobID), slog.String("batch_id", batchID))

	return res, nil
}

// recordSteps mirrors the latest step views into the ledger.
func (r *Runner) recordSteps(ctx context.Context, jobID string, steps []StepView) {
	if r.ledger == nil {
		return
	}

	for _, step := range steps {
		if step.State == StateWaiting {
			continue
		}

		err := r.ledger.RecordStep(ctx, jobID, string(step.ID), string(step.State), step.Error)
		if err != nil {
			r.logger.Warn("recording step failed",
				slog.String("job_id", jobID),
				slog.String("step", string(step.ID)),
				slog.Any("error", err),
			)
		}
	}
}

// setStatus updates the ledger terminal status, logging instead of failing.
func (r *Runner) setStatus(ctx context.Context, jobID string, status joblog.Status, errText string) {
	if r.ledger == nil {
		return
	}

	if err := r.ledger.SetStatus(ctx, jobID, status, errText); err != nil {
		r.logger.Warn("updating job status failed", slog.String("job_id", jobID), slog.Any("error", err))
	}
}
