package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/syllabus/internal/engine"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Run finished; degraded runs too unless --strict
	ExitFailure      = 1 // Store unreachable, run aborted, or degraded with --strict
	ExitCommandError = 2 // Bad flags or policy, unknown course, unreadable CSV
)

// ExitError carries the process exit code for a failed command.
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

// WrapExitError returns an ExitError wrapping err.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps err to a process exit code. Errors that are not an
// ExitError exit with ExitFailure.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return ExitFailure
}

// Envelope wraps every JSON document the CLI prints.
type Envelope struct {
	// Status is "ok", "degraded" or "error".
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody describes why a command produced no data.
type ErrorBody struct {
	Code    string `json:"code"` // NOT_FOUND, USAGE, CONNECTIVITY
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// textWriter is implemented by values with their own text rendering, such
// as *engine.Report and *Outline.
type textWriter interface {
	WriteText(w io.Writer) error
}

// OutputFormatter prints command results as text or as a JSON Envelope.
// Diagnostics go to ErrWriter so they never mix with a JSON document.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer
	Verbose   bool
}

func (f *OutputFormatter) json() bool { return f.Format == "json" }

// Success prints v. Text output uses v's WriteText when it has one.
func (f *OutputFormatter) Success(v any) error {
	if f.json() {
		return f.encode(Envelope{Status: "ok", Data: v})
	}
	if tw, ok := v.(textWriter); ok {
		return tw.WriteText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, v)
	return err
}

// Report prints a run report. The JSON status follows the run status; an
// aborted run also carries a CONNECTIVITY error body.
func (f *OutputFormatter) Report(r *engine.Report) error {
	if !f.json() {
		return r.WriteText(f.Writer)
	}
	env := Envelope{Status: string(r.Status), Data: r}
	if r.Status == engine.StatusFailed {
		env.Status = "error"
		env.Error = &ErrorBody{Code: string(engine.ErrCodeConnectivity), Message: "run aborted"}
	}
	return f.encode(env)
}

// Error prints a command failure. Details are shown in text mode only when
// verbose.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.json() {
		return f.encode(Envelope{Status: "error", Error: &ErrorBody{Code: code, Message: message, Details: details}})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

func (f *OutputFormatter) encode(env Envelope) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(env)
}

// VerboseLog prints a progress line to the diagnostic writer when verbose.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}
