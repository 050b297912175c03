package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/graphmig/internal/changelog"
	"github.com/roach88/graphmig/internal/condition"
	"github.com/roach88/graphmig/internal/diff"
	"github.com/roach88/graphmig/internal/lock"
	"github.com/roach88/graphmig/internal/store"
	"github.com/roach88/graphmig/internal/writer"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Migration failure (conflict, failed precondition, target error, ...)
	ExitCommandError = 2 // Command error (bad flags, invalid config or changelog, ...)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric           = "E001" // Generic/unknown error
	ErrCodeConfig            = "E002" // Invalid configuration
	ErrCodeChangelog         = "E003" // Changelog could not be loaded
	ErrCodeInvalidChangelog  = "E004" // Changelog failed validation
	ErrCodeIntegrityConflict = "E005" // Executed changeset was edited
	ErrCodePrecondition      = "E006" // FAIL precondition not met
	ErrCodeMalformed         = "E007" // Condition query returned the wrong shape
	ErrCodeUnsupportedQuery  = "E008" // Unknown condition node
	ErrCodeLockTimeout       = "E009" // Local lock wait exceeded
	ErrCodeTarget            = "E010" // Target store failure
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// classify maps a run error to its CLI error code and exit code.
func classify(err error) (string, int) {
	var (
		loadErr *changelog.LoadError
		valErr  *changelog.ValidationError
	)
	switch {
	case errors.As(err, &valErr):
		return ErrCodeInvalidChangelog, ExitCommandError
	case errors.As(err, &loadErr):
		return ErrCodeChangelog, ExitCommandError
	case diff.IsIntegrityConflict(err):
		return ErrCodeIntegrityConflict, ExitFailure
	case writer.IsPreconditionFailed(err):
		return ErrCodePrecondition, ExitFailure
	case store.IsMalformedResult(err):
		return ErrCodeMalformed, ExitFailure
	case condition.IsUnsupportedQuery(err):
		return ErrCodeUnsupportedQuery, ExitFailure
	case errors.Is(err, lock.ErrLockTimeout):
		return ErrCodeLockTimeout, ExitFailure
	case store.IsTargetError(err):
		return ErrCodeTarget, ExitFailure
	default:
		return ErrCodeGeneric, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
// In text mode data is printed with its String method.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error, details any) error {
	code, exit := classify(err)
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	return WrapExitError(exit, code+": "+message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
