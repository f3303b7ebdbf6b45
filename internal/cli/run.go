package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/streamz/internal/config"
	"github.com/roach88/streamz/internal/engine"
	"github.com/roach88/streamz/internal/metrics"
	"github.com/roach88/streamz/internal/pipeline"
	"github.com/roach88/streamz/internal/store"
)

// Error codes for run failures not covered by config.LoadError.
const (
	ErrCodeSourceFailed = "E201"
	ErrCodeBuildFailed  = "E202"
	ErrCodeStoreFailed  = "E203"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Record      string
	MetricsAddr string

	// RunIDs overrides the run ID generator (for testing).
	// If nil, the engine uses UUIDv7.
	RunIDs engine.RunIDGenerator
}

// RunSummary is the result printed when a run ends.
type RunSummary struct {
	RunID    string `json:"run_id"`
	Pipeline string `json:"pipeline"`
	State    string `json:"state"`
	Error    string `json:"error,omitempty"`
}

func (s RunSummary) String() string {
	if s.Error != "" {
		return fmt.Sprintf("run %s of %s %s: %s", s.RunID, s.Pipeline, s.State, s.Error)
	}
	return fmt.Sprintf("run %s of %s %s", s.RunID, s.Pipeline, s.State)
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <pipeline.yaml>",
		Short: "Run a pipeline until its sources finish or it is interrupted",
		Long: `Run the pipeline described by a pipeline file.

Every source runs concurrently; items flow through the optional filter and
timed batch into the log. The run ends when all sources finish, when any
source fails, or on Ctrl-C. An interrupted run is not an error.

--record and --metrics-addr take precedence over STREAMZ_RECORD and
STREAMZ_METRICS_ADDR, which take precedence over the file's record and
metrics_addr settings.

Example:
  streamz run ./ticker.yaml
  streamz run ./ticker.yaml --record ./runs.db --metrics-addr :9090`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Record, "record", "", "path to SQLite database recording runs and batches")
	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on")

	return cmd
}

func runPipeline(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	cfg, err := config.Load(path)
	if err != nil {
		_ = out.Failure(config.Code(err), err.Error(), nil)
		return WrapExitError(exitCodeForLoad(err), "invalid pipeline", err)
	}
	if opts.Record != "" {
		cfg.Record = opts.Record
	}
	if opts.MetricsAddr != "" {
		cfg.MetricsAddr = opts.MetricsAddr
	}

	logger := newLogger(cmd.ErrOrStderr(), cfg.SlogLevel(), opts.Verbose)
	slog.SetDefault(logger)

	pipeOpts := pipeline.Options{Logger: logger, RunIDs: opts.RunIDs}

	if cfg.Record != "" {
		logger.Info("opening database", "path", cfg.Record)
		st, err := store.Open(cfg.Record)
		if err != nil {
			_ = out.Failure(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		pipeOpts.Store = st
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	if cfg.MetricsAddr != "" {
		collector := metrics.NewCollector("streamz")
		pipeOpts.Metrics = collector
		go func() {
			if err := collector.Serve(ctx, cfg.MetricsAddr); err != nil {
				logger.Error("metrics server stopped", "error", err)
			}
		}()
	}

	p, err := pipeline.Build(cfg, pipeOpts)
	if err != nil {
		_ = out.Failure(ErrCodeBuildFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "failed to build pipeline", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	out.Debugf("Running %s with %d source(s). Press Ctrl-C to stop.", cfg.Name, len(cfg.Sources))

	state, runErr := p.Run(ctx)
	summary := RunSummary{RunID: p.RunID(), Pipeline: cfg.Name, State: state.String()}

	if runErr != nil {
		summary.Error = runErr.Error()
		var details map[string]string
		if label, ok := engine.FailedSource(runErr); ok {
			details = map[string]string{"source": label}
		}
		_ = out.RunFailure(summary.RunID, state, ErrCodeSourceFailed, summary.String(), details)
		return WrapExitError(exitCodeForState(state), "pipeline failed", runErr)
	}

	return out.RunResult(summary.RunID, state, summary)
}

// exitCodeForLoad separates unusable input (missing file) from invalid
// content.
func exitCodeForLoad(err error) int {
	switch config.Code(err) {
	case config.ErrCodeNotFound, config.ErrCodeRead:
		return ExitCommandError
	default:
		return ExitFailure
	}
}
