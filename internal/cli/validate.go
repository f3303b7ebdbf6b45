package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/streamz/internal/config"
)

// ValidateResult describes a valid pipeline file.
type ValidateResult struct {
	Pipeline string   `json:"pipeline"`
	Sources  []string `json:"sources"`
	Batched  bool     `json:"batched"`
	Filtered bool     `json:"filtered"`
}

func (r ValidateResult) String() string {
	return fmt.Sprintf("✓ %s is valid: %d source(s) %v", r.Pipeline, len(r.Sources), r.Sources)
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <pipeline.yaml>",
		Short: "Check a pipeline file without running it",
		Long: `Check a pipeline file against the schema and the semantic rules
(unique source labels, positive periods), including environment overrides.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newPrinter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	out.Debugf("Validating %s", path)

	cfg, err := config.Load(path)
	if err != nil {
		_ = out.Failure(config.Code(err), err.Error(), nil)
		return WrapExitError(exitCodeForLoad(err), "validation failed", err)
	}

	result := ValidateResult{
		Pipeline: cfg.Name,
		Sources:  make([]string, 0, len(cfg.Sources)),
		Batched:  cfg.Batch != nil,
		Filtered: cfg.Filter != nil,
	}
	for _, src := range cfg.Sources {
		out.Debugf("  source %s (%s) %s", src.Label, src.Kind, src.URL)
		result.Sources = append(result.Sources, src.Label)
	}
	return out.Result(result)
}
