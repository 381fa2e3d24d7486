package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	faulterrors "github.com/xtxerr/faultlogger/internal/errors"
	"github.com/xtxerr/faultlogger/internal/storage/formatter"
	"github.com/xtxerr/faultlogger/internal/storage/types"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (query error, retention error)
	ExitCommandError = 2 // Command error (bad flags, store cannot be opened)
)

// ExitError represents an error with a specific exit code.
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostic output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"`          // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`  // success payload
	Error  *CLIError   `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    int32  `json:"code"`    // API error code, e.g. 401
	Name    string `json:"name"`    // code name, e.g. "InvalidParameter"
	Message string `json:"message"` // human-readable message
}

// RecordView is the JSON shape of a record.
type RecordView struct {
	Seq       int64  `json:"seq"`
	ID        string `json:"id"`
	PID       int32  `json:"pid"`
	UID       int32  `json:"uid"`
	Module    string `json:"module"`
	Type      int32  `json:"type"`
	TypeName  string `json:"type_name"`
	Timestamp int64  `json:"timestamp"`
	Reason    string `json:"reason"`
	Summary   string `json:"summary"`
	LogName   string `json:"log_name"`
	FullLog   string `json:"full_log,omitempty"`

	// Sections holds the parsed full log, keyed by section name.
	Sections map[string]string `json:"sections,omitempty"`
}

func newRecordView(r types.Record, full bool) RecordView {
	v := RecordView{
		Seq:       r.Seq,
		ID:        r.ID.String(),
		PID:       r.ProcessID,
		UID:       r.UserID,
		Module:    r.Module,
		Type:      int32(r.Category),
		TypeName:  r.Category.Name(),
		Timestamp: r.Timestamp,
		Reason:    r.Reason,
		Summary:   r.Summary,
		LogName:   r.LogName(),
	}
	if full {
		v.FullLog = r.FullLog
		if sections := formatter.Parse(r.FullLog, r.Category); len(sections) > 0 {
			v.Sections = sections
		}
	}
	return v
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	code := faulterrors.ErrorToCode(err)
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Name:    faulterrors.CodeName(code),
				Message: err.Error(),
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%d %s]: %v\n", code, faulterrors.CodeName(code), err)
	return nil
}

// Records outputs records as a table, or as JSON.
func (f *OutputFormatter) Records(records []types.Record, full bool) error {
	views := make([]RecordView, len(records))
	for i, r := range records {
		views[i] = newRecordView(r, full)
	}

	if f.Format == "json" {
		return f.Success(views)
	}

	if len(records) == 0 {
		fmt.Fprintln(f.Writer, "no records")
		return nil
	}

	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SEQ\tTYPE\tTIME\tPID\tUID\tMODULE\tREASON")
	for _, r := range records {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.Seq, r.Category.Name(), r.Time().UTC().Format("2006-01-02 15:04:05"),
			r.ProcessID, r.UserID, r.Module, firstLine(r.Reason))
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if full {
		for _, r := range records {
			fmt.Fprintf(f.Writer, "\n=== %s ===\n%s", r.LogName(), r.FullLog)
		}
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
