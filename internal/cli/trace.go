package cli

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/streamz/internal/store"
)

// Error codes for trace.
const (
	ErrCodeRunNotFound = "E301"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - show one run's batches
}

// TraceRun is one run in trace output.
type TraceRun struct {
	ID         string `json:"id"`
	Pipeline   string `json:"pipeline"`
	State      string `json:"state"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Error      string `json:"error,omitempty"`
	Batches    int    `json:"batches"`
}

// TraceBatch is one batch in trace output.
type TraceBatch struct {
	Seq       int64    `json:"seq"`
	FlushedAt string   `json:"flushed_at"`
	Items     []string `json:"items"`
}

// TraceResult holds the output for a single run.
type TraceResult struct {
	Run     TraceRun     `json:"run"`
	Batches []TraceBatch `json:"batches"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show recorded runs",
		Long: `Show runs recorded with run --record.

Without --run, lists every run oldest first. With --run, shows that run's
batches in flush order.

Examples:
  streamz trace --db ./runs.db
  streamz trace --db ./runs.db --run 0192f0c4-...
  streamz trace --db ./runs.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run id to show batches for")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// Opening would create an empty database; trace only reads.
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, "database not found", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	if opts.RunID == "" {
		runs, err := st.ListRuns(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		out := make([]TraceRun, len(runs))
		for i, r := range runs {
			out[i] = toTraceRun(r)
		}
		if opts.Format == "json" {
			return outputTraceJSON(cmd.OutOrStdout(), out)
		}
		return outputRunsText(cmd.OutOrStdout(), out)
	}

	run, err := st.ReadRun(ctx, opts.RunID)
	if errors.Is(err, sql.ErrNoRows) {
		out := newPrinter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
		_ = out.Failure(ErrCodeRunNotFound, fmt.Sprintf("no run %q recorded", opts.RunID), nil)
		return NewExitError(ExitFailure, fmt.Sprintf("run %q not found", opts.RunID))
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read run", err)
	}

	batches, err := st.ReadBatches(ctx, opts.RunID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read batches", err)
	}

	result := TraceResult{Run: toTraceRun(run), Batches: make([]TraceBatch, len(batches))}
	for i, b := range batches {
		result.Batches[i] = TraceBatch{Seq: b.Seq, FlushedAt: formatTime(b.FlushedAt), Items: b.Items}
	}

	if opts.Format == "json" {
		return outputTraceJSON(cmd.OutOrStdout(), result)
	}
	return outputTraceText(cmd.OutOrStdout(), result, opts.Verbose)
}

func toTraceRun(r store.Run) TraceRun {
	tr := TraceRun{
		ID:        r.ID,
		Pipeline:  r.Pipeline,
		State:     r.State,
		StartedAt: formatTime(r.StartedAt),
		Error:     r.Error,
		Batches:   r.Batches,
	}
	if r.Finished() {
		tr.FinishedAt = formatTime(r.FinishedAt)
	}
	return tr
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func outputTraceJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputRunsText(w io.Writer, runs []TraceRun) error {
	if len(runs) == 0 {
		_, err := fmt.Fprintln(w, "No runs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPIPELINE\tSTATE\tSTARTED\tBATCHES")
	for _, r := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.Pipeline, r.State, r.StartedAt, r.Batches)
	}
	return tw.Flush()
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	r := result.Run
	fmt.Fprintf(w, "Run: %s\n", r.ID)
	fmt.Fprintf(w, "Pipeline: %s\n", r.Pipeline)
	fmt.Fprintf(w, "State: %s\n", r.State)
	fmt.Fprintf(w, "Started: %s\n", r.StartedAt)
	if r.FinishedAt != "" {
		fmt.Fprintf(w, "Finished: %s\n", r.FinishedAt)
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", r.Error)
	}

	fmt.Fprintf(w, "\nBatches (%d):\n", len(result.Batches))
	for _, b := range result.Batches {
		fmt.Fprintf(w, "  [%d] %s  %d item(s)\n", b.Seq, b.FlushedAt, len(b.Items))
		if verbose {
			for _, item := range b.Items {
				fmt.Fprintf(w, "      %s\n", item)
			}
		}
	}
	return nil
}
