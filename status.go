package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/joblog"
	"github.com/listforge/listforge/internal/pipeline"
)

// refreshRemote fetches a fresh status snapshot for a job still recorded
// as running, mirrors it into the ledger, and returns the reloaded job.
// Failures are best-effort: the recorded state is shown instead.
func refreshRemote(ctx context.Context, ledger *joblog.Store, job *joblog.Job, logger *slog.Logger) *joblog.Job {
	tokens, err := openTokenStore(logger)
	if err != nil || tokens.Get() == nil {
		return job
	}

	client := newBackendClient(tokens, logger)

	snapshot, err := client.JobStatus(ctx, job.ID)
	if err != nil {
		logger.Debug("remote status refresh failed", slog.Any("error", err))

		return job
	}

	tracker := pipeline.NewTracker(logger)

	for _, s := range tracker.Apply(snapshot.Steps) {
		if s.State == pipeline.StateWaiting {
			continue
		}

		if recErr := ledger.RecordStep(ctx, job.ID, string(s.ID), string(s.State), s.Error); recErr != nil {
			logger.Warn("recording refreshed step failed", slog.Any("error", recErr))
		}
	}

	failed, done := pipeline.Outcome(snapshot.Steps)

	switch {
	case failed != nil:
		_ = ledger.SetStatus(ctx, job.ID, joblog.StatusFailed, failed.Error())
	case done:
		_ = ledger.SetStatus(ctx, job.ID, joblog.StatusCompleted, "")
	}

	refreshed, err := ledger.GetJob(ctx, job.ID)
	if err != nil {
		return job
	}

	return refreshed
}

func newStatusCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show recorded jobs and their step history",
		Long:  "Without arguments, shows the most recent job. With a job id, shows that job's step history. --limit lists recent jobs instead.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}

			return runStatus(jobID, limit, cmd.Flags().Changed("limit"))
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "list this many recent jobs")

	return cmd
}

func runStatus(jobID string, limit int, listMode bool) error {
	logger := buildLogger()
	ctx := context.Background()

	ledger, err := joblog.Open(ctx, resolvedCfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	if listMode {
		return listJobs(ctx, ledger, limit)
	}

	var job *joblog.Job

	if jobID != "" {
		job, err = ledger.GetJob(ctx, jobID)
	} else {
		job, err = ledger.LatestJob(ctx)
	}

	if errors.Is(err, joblog.ErrNotFound) {
		return errors.New("no jobs recorded yet — run 'listforge run' first")
	}

	if err != nil {
		return err
	}

	// A job recorded as running may have finished since; merge in a fresh
	// snapshot when the backend is reachable.
	if job.Status == joblog.StatusRunning {
		job = refreshRemote(ctx, ledger, job, logger)
	}

	if flagJSON {
		return printJobJSON(job)
	}

	printJobText(job)

	return nil
}

func listJobs(ctx context.Context, ledger *joblog.Store, limit int) error {
	jobs, err := ledger.ListJobs(ctx, limit)
	if err != nil {
		return err
	}

	if flagJSON {
		out := make([]jobOutput, 0, len(jobs))
		for i := range jobs {
			out = append(out, toJobOutput(&jobs[i]))
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	if len(jobs) == 0 {
		statusf("No jobs recorded yet.\n")

		return nil
	}

	rows := make([][]string, 0, len(jobs))
	for i := range jobs {
		job := &jobs[i]
		rows = append(rows, []string{
			job.ID,
			job.BatchID,
			fmt.Sprintf("%d", job.Attempt),
			string(job.Status),
			formatTime(job.CreatedAt),
		})
	}

	printTable(os.Stdout, []string{"JOB", "BATCH", "ATTEMPT", "STATUS", "CREATED"}, rows)

	return nil
}

// jobOutput is the JSON schema for `status --json`.
type jobOutput struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	Attempt   int             `json:"attempt"`
	Status    string          `json:"status"`
	Error     string          `json:"error,omitempty"`
	Files     []string        `json:"files,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	Steps     []jobStepOutput `json:"steps,omitempty"`
}

type jobStepOutput struct {
	Step      string    `json:"step"`
	State     string    `json:"state"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toJobOutput(job *joblog.Job) jobOutput {
	out := jobOutput{
		ID:        job.ID,
		BatchID:   job.BatchID,
		Attempt:   job.Attempt,
		Status:    string(job.Status),
		Error:     job.Error,
		Files:     job.Files,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}

	for _, s := range job.Steps {
		out.Steps = append(out.Steps, jobStepOutput{
			Step:      s.Step,
			State:     s.State,
			Error:     s.Error,
			UpdatedAt: s.UpdatedAt,
		})
	}

	return out
}

func printJobJSON(job *joblog.Job) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(toJobOutput(job)); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}

func printJobText(job *joblog.Job) {
	fmt.Printf("Job:     %s\n", job.ID)
	fmt.Printf("Batch:   %s (attempt %d)\n", job.BatchID, job.Attempt)
	fmt.Printf("Status:  %s\n", job.Status)

	if job.Error != "" {
		fmt.Printf("Error:   %s\n", job.Error)
	}

	fmt.Printf("Created: %s\n", formatTime(job.CreatedAt))

	if len(job.Files) > 0 {
		fmt.Printf("Files:   %d\n", len(job.Files))
	}

	if len(job.Steps) == 0 {
		return
	}

	fmt.Println("Steps:")

	for _, s := range job.Steps {
		line := fmt.Sprintf("  %-14s %s", s.Step, s.State)
		if s.Error != "" {
			line += ": " + s.Error
		}

		fmt.Println(line)
	}
}
