package main

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/listforge/listforge/internal/backend"
	"github.com/listforge/listforge/internal/config"
	"github.com/listforge/listforge/internal/joblog"
	"github.com/listforge/listforge/internal/pipeline"
	"github.com/listforge/listforge/internal/tokenstore"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagBaseURL    string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by
// PersistentPreRunE. It is available to all subcommands after the root
// pre-run phase completes.
var resolvedCfg *config.Resolved

// httpClientTimeout is the default timeout for plain API requests.
// Uploads carry their own, much larger budget on top of this client.
const httpClientTimeout = 30 * time.Second

// defaultHTTPClient returns an HTTP client with a sensible timeout.
func defaultHTTPClient() *http.Client {
	return &http.Client{Timeout: httpClientTimeout}
}

// uploadHTTPClient returns an HTTP client without a request timeout; the
// upload path enforces its own wall-clock budget via context.
func uploadHTTPClient() *http.Client {
	return &http.Client{}
}

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "listforge",
		Short:   "Etsy listing automation CLI",
		Long:    "Uploads image batches to the listforge processing backend, tracks the pipeline to a finished Etsy listing draft, and retries failed jobs.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "backend base URL override")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRetryCmd())
	cmd.AddCommand(newWatchCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (defaults -> file -> env -> flags) and stores the result in resolvedCfg.
func loadConfig() error {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		BaseURL:    flagBaseURL,
	}

	resolved, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	resolvedCfg = resolved

	return nil
}

// buildLogger creates an slog.Logger configured by the resolved config and
// CLI flags. Config-file log level provides the baseline; --verbose and
// --quiet override it because CLI flags always win. The "auto" format
// picks text on a terminal and JSON otherwise, so piped logs stay
// machine-readable.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	format := "auto"
	if resolvedCfg != nil {
		format = resolvedCfg.LogFormat

		switch resolvedCfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	out := io.Writer(os.Stderr)

	if resolvedCfg != nil {
		out = logOutput(resolvedCfg.LogFile)
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" || (format == "auto" && !stderrIsTerminal()) {
		return slog.New(slog.NewJSONHandler(out, opts))
	}

	return slog.New(slog.NewTextHandler(out, opts))
}

// logOutput resolves the log destination. An unopenable log file falls
// back to stderr with a visible warning so the misconfiguration does not
// pass silently.
func logOutput(path string) io.Writer {
	if path == "" {
		return os.Stderr
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: cannot open log file %s (%v); logging to stderr\n", path, err)

		return os.Stderr
	}

	return f
}

// stderrIsTerminal reports whether stderr is attached to a terminal.
func stderrIsTerminal() bool {
	fd := os.Stderr.Fd()

	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// openTokenStore opens the persisted token file at the configured path.
func openTokenStore(logger *slog.Logger) (*tokenstore.Store, error) {
	return tokenstore.Open(resolvedCfg.TokenPath, logger)
}

// newBackendClient wires the token store, refresher, and API client from
// the resolved configuration.
func newBackendClient(tokens *tokenstore.Store, logger *slog.Logger) *backend.Client {
	refresher := backend.NewRefresher(resolvedCfg.BaseURL, defaultHTTPClient(), tokens, logger)
	refresher.SetAuthFailureFunc(func(error) {
		fmt.Fprintln(os.Stderr, "Session expired — run 'listforge login' again.")
	})

	client := backend.NewClient(resolvedCfg.BaseURL, uploadHTTPClient(), tokens, refresher, logger)
	client.SetUploadTimeout(resolvedCfg.UploadTimeout)

	return client
}

// newRunner assembles the full pipeline runner behind run, retry, and
// watch.
func newRunner(client *backend.Client, ledger *joblog.Store, logger *slog.Logger) *pipeline.Runner {
	session := pipeline.NewSession(resolvedCfg.MaxAttempts)
	poller := pipeline.NewPoller(client, resolvedCfg.PollInterval, resolvedCfg.MaxPolls, logger)

	return pipeline.NewRunner(client, ledger, session, poller, logger)
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
