package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/joblog"
)

func newRetryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry [job-id]",
		Short: "Re-run a failed job from a fresh upload",
		Long:  "Re-uploads the recorded image batch of a failed job and tracks the new attempt. Without a job id, retries the most recent job. Retries are bounded per batch.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			jobID := ""
			if len(args) == 1 {
				jobID = args[0]
			}

			return runRetry(jobID)
		},
	}
}

func runRetry(jobID string) error {
	logger := buildLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tokens, err := openTokenStore(logger)
	if err != nil {
		return err
	}

	if tokens.Get() == nil {
		return errors.New("not logged in — run 'listforge login' first")
	}

	ledger, err := joblog.Open(ctx, resolvedCfg.LedgerPath, logger)
	if err != nil {
		return err
	}
	defer ledger.Close()

	var job *joblog.Job

	if jobID != "" {
		job, err = ledger.GetJob(ctx, jobID)
	} else {
		job, err = ledger.LatestJob(ctx)
	}

	if errors.Is(err, joblog.ErrNotFound) {
		return errors.New("no job to retry — run 'listforge run' first")
	}

	if err != nil {
		return err
	}

	if job.Status == joblog.StatusCompleted {
		return fmt.Errorf("job %s already completed", job.ID)
	}

	if job.Status == joblog.StatusRunning {
		return fmt.Errorf("job %s is still recorded as running; check 'listforge status %s' first", job.ID, job.ID)
	}

	statusf("Retrying batch %s (attempt %d)...\n", job.BatchID, job.Attempt+1)

	runner := newRunner(newBackendClient(tokens, logger), ledger, logger)

	res, err := runner.Retry(ctx, job, runHooks())

	return reportResult(res, err)
}
