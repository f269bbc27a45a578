package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/backend"
	"github.com/listforge/listforge/internal/joblog"
	"github.com/listforge/listforge/internal/listing"
	"github.com/listforge/listforge/internal/pipeline"
)

// listingFlags collects the listing metadata flags shared by run and
// watch.
type listingFlags struct {
	title       string
	description string
	tags        []string
	materials   []string
	priceCents  int64
	quantity    int
	section     string
}

// register binds the metadata flags onto a command.
func (lf *listingFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&lf.title, "title", "", "listing title (required)")
	cmd.Flags().StringVar(&lf.description, "description", "", "listing description")
	cmd.Flags().StringSliceVar(&lf.tags, "tags", nil, "listing tags (comma separated, max 13)")
	cmd.Flags().StringSliceVar(&lf.materials, "materials", nil, "listing materials (comma separated)")
	cmd.Flags().Int64Var(&lf.priceCents, "price-cents", 0, "listing price in cents")
	cmd.Flags().IntVar(&lf.quantity, "quantity", 0, "listing quantity")
	cmd.Flags().StringVar(&lf.section, "section", "", "shop section name")
}

// metadata builds and validates the listing metadata from the flags.
func (lf *listingFlags) metadata() (*listing.Metadata, error) {
	meta := &listing.Metadata{
		Title:       lf.title,
		Description: lf.description,
		Tags:        lf.tags,
		Materials:   lf.materials,
		PriceCents:  lf.priceCents,
		Quantity:    lf.quantity,
		Section:     lf.section,
	}

	if err := meta.Validate(); err != nil {
		return nil, err
	}

	return meta, nil
}

func newRunCmd() *cobra.Command {
	var lf listingFlags

	cmd := &cobra.Command{
		Use:   "run <dir | images...>",
		Short: "Upload an image batch and track it to a finished listing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runRun(args, &lf)
		},
	}

	lf.register(cmd)
	_ = cmd.MarkFlagRequired("title")

	return cmd
}

// expandPaths resolves each argument to image files: a directory argument
// expands to the image files directly inside it, anything else is taken
// as-is.
func expandPaths(args, extensions []string) ([]string, error) {
	exts := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		exts[strings.ToLower(ext)] = true
	}

	var paths []string

	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}

		if !info.IsDir() {
			paths = append(paths, arg)

			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", arg, err)
		}

		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}

			ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(entry.Name()), "."))
			if ext != "" && exts[ext] {
				paths = append(paths, filepath.Join(arg, entry.Name()))
			}
		}
	}

	if len(paths) == 0 {
		return nil, errors.New("no image files to upload")
	}

	sort.Strings(paths)

	return paths, nil
}

func runRun(args []string, lf *listingFlags) error {
	logger := buildLogger()

	meta, err := lf.metadata()
	if err != nil {
		return err
	}

	paths, err := expandPaths(args, resolvedCfg.Extensions)
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

	res, err := runner.Submit(ctx, pipeline.Submission{
		Paths:  paths,
		Fields: meta.Fields(),
	}, runHooks())

	return reportResult(res, err)
}

// runHooks builds the interactive progress callbacks. Upload progress is a
// single rewritten line; step updates are re-rendered per poll tick.
func runHooks() pipeline.Hooks {
	uploadDone := false

	return pipeline.Hooks{
		Progress: func(p backend.Progress) {
			if flagQuiet || flagJSON {
				return
			}

			fmt.Fprintf(os.Stderr, "\rUploading %s / %s (%.0f%%)",
				formatSize(p.Loaded), formatSize(p.Total), p.Percent)

			if p.Loaded >= p.Total {
				fmt.Fprintln(os.Stderr)
			}
		},
		Update: func(u pipeline.Update) {
			if flagQuiet || flagJSON {
				return
			}

			if !uploadDone {
				uploadDone = true

				fmt.Fprintln(os.Stderr, "Processing:")
			}

			renderSteps(u.Steps)
		},
	}
}

// resultOutput is the JSON schema for run/retry results.
type resultOutput struct {
	JobID   string       `json:"job_id"`
	BatchID string       `json:"batch_id"`
	Attempt int          `json:"attempt"`
	Status  string       `json:"status"`
	Steps   []stepOutput `json:"steps"`
	Error   string       `json:"error,omitempty"`
}

type stepOutput struct {
	ID    string `json:"id"`
	State string `json:"state"`
	Error string `json:"error,omitempty"`
}

// reportResult prints the terminal outcome of a run or retry and converts
// the pipeline error into the command's exit status.
func reportResult(res *pipeline.RunResult, runErr error) error {
	if res == nil {
		return runErr
	}

	if flagJSON {
		if err := printResultJSON(res, runErr); err != nil {
			return err
		}

		return runErr
	}

	if runErr != nil {
		var stepErr *pipeline.StepError
		if errors.As(runErr, &stepErr) {
			statusf("Job %s failed at %s: %s\n", res.JobID, stepErr.ClientStep, stepErr.Message)
			statusf("Run 'listforge retry' to try again.\n")
		}

		return runErr
	}

	statusf("Listing created — job %s completed.\n", res.JobID)

	return nil
}

func printResultJSON(res *pipeline.RunResult, runErr error) error {
	out := resultOutput{
		JobID:   res.JobID,
		BatchID: res.BatchID,
		Attempt: res.Attempt,
		Status:  string(res.Status),
		Steps:   make([]stepOutput, 0, len(res.Steps)),
	}

	if runErr != nil {
		out.Error = runErr.Error()
	}

	for _, s := range res.Steps {
		out.Steps = append(out.Steps, stepOutput{
			ID:    string(s.ID),
			State: string(s.State),
			Error: s.Error,
		})
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding JSON output: %w", err)
	}

	return nil
}
