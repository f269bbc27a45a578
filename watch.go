package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/joblog"
	"github.com/listforge/listforge/internal/pipeline"
	"github.com/listforge/listforge/internal/watch"
)

func newWatchCmd() *cobra.Command {
	var lf listingFlags

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Watch a directory and submit new images as batches",
		Long:  "Watches a directory for new image files. Files arriving within the debounce window form one batch, which is uploaded and tracked like 'listforge run'. The listing metadata flags apply to every batch.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := resolvedCfg.WatchDir
			if len(args) == 1 {
				dir = args[0]
			}

			return runWatch(dir, &lf)
		},
	}

	lf.register(cmd)
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

func runWatch(dir string, lf *listingFlags) error {
	logger := buildLogger()

	if dir == "" {
		return errors.New("no directory to watch — pass one or set watch.dir in the config file")
	}

	meta, err := lf.metadata()
	if err != nil {
		return err
	}

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

	runner := newRunner(newBackendClient(tokens, logger), ledger, logger)
	fields := meta.Fields()

	submit := func(ctx context.Context, paths []string) {
		res, submitErr := runner.Submit(ctx, pipeline.Submission{
			Paths:  paths,
			Fields: fields,
		}, runHooks())

		// Watch mode keeps going after a failed batch; the job is in the
		// ledger for a later 'listforge retry'.
		if reportErr := reportResult(res, submitErr); reportErr != nil {
			logger.Error("batch failed", "error", reportErr)
		}
	}

	watcher := watch.New(dir, resolvedCfg.Debounce, resolvedCfg.Extensions, submit, logger)

	statusf("Watching %s — press Ctrl-C to stop.\n", dir)

	return watcher.Run(ctx)
}
