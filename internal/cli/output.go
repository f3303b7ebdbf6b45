package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/streamz/internal/engine"
)

// Process exit codes.
const (
	ExitSuccess      = 0 // completed or interrupted
	ExitFailure      = 1 // a source failed, or the pipeline file is invalid
	ExitCommandError = 2 // the command could not start: missing file, unusable database
)

// ExitError carries the process exit code out of a command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError returns an ExitError without a cause.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError returns an ExitError caused by err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns the code of the first ExitError in err's chain, or
// ExitFailure.
func GetExitCode(err error) int {
	var ee *ExitError
	if !errors.As(err, &ee) {
		return ExitFailure
	}
	return ee.Code
}

// exitCodeForState maps a finished run to its exit code. Interrupted runs
// are successful.
func exitCodeForState(state engine.State) int {
	if state == engine.Failed {
		return ExitFailure
	}
	return ExitSuccess
}

// Envelope is the shape of every --format json response.
type Envelope struct {
	Status string     `json:"status"` // "ok" or "error"
	RunID  string     `json:"run_id,omitempty"`
	State  string     `json:"state,omitempty"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes a failure. Code is a config code (E1xx) or a command
// code (E2xx run, E3xx trace).
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// runInfo ties a response to an engine run. The zero value means no run
// was started.
type runInfo struct {
	id    string
	state engine.State
}

// Printer writes command results to Out as text or JSON envelopes.
// Diagnostics go to Diag so they never mix with JSON on Out.
type Printer struct {
	Format  string
	Out     io.Writer
	Diag    io.Writer
	Verbose bool
}

func newPrinter(opts *RootOptions, out, diag io.Writer) *Printer {
	return &Printer{Format: opts.Format, Out: out, Diag: diag, Verbose: opts.Verbose}
}

// Result prints a successful command result.
func (p *Printer) Result(data any) error {
	return p.write(runInfo{}, data, nil)
}

// RunResult prints the result of a finished run.
func (p *Printer) RunResult(id string, state engine.State, data any) error {
	return p.write(runInfo{id: id, state: state}, data, nil)
}

// Failure prints an error that happened before any run started.
func (p *Printer) Failure(code, message string, details any) error {
	return p.write(runInfo{}, nil, &ErrorBody{Code: code, Message: message, Details: details})
}

// RunFailure prints the error that ended a run.
func (p *Printer) RunFailure(id string, state engine.State, code, message string, details any) error {
	return p.write(runInfo{id: id, state: state}, nil, &ErrorBody{Code: code, Message: message, Details: details})
}

func (p *Printer) write(run runInfo, data any, failure *ErrorBody) error {
	if p.Format == "json" {
		env := Envelope{Status: "ok", RunID: run.id, Data: data, Error: failure}
		if run.id != "" {
			env.State = run.state.String()
		}
		if failure != nil {
			env.Status = "error"
		}
		return json.NewEncoder(p.Out).Encode(env)
	}

	if failure == nil {
		_, err := fmt.Fprintln(p.Out, data)
		return err
	}
	if _, err := fmt.Fprintf(p.Out, "Error [%s]: %s\n", failure.Code, failure.Message); err != nil {
		return err
	}
	if p.Verbose && failure.Details != nil {
		_, err := fmt.Fprintf(p.Out, "  details: %v\n", failure.Details)
		return err
	}
	return nil
}

// Debugf writes a diagnostic line when verbose output is on.
func (p *Printer) Debugf(format string, args ...any) {
	if !p.Verbose {
		return
	}
	fmt.Fprintf(p.diag(), format+"\n", args...)
}

func (p *Printer) diag() io.Writer {
	if p.Diag == nil {
		return p.Out
	}
	return p.Diag
}
