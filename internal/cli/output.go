package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/queryview"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario failures, rejected operations
	ExitCommandError = 2 // Invalid flags, unreadable database or config
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
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

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Success writes data. Text output prints data with fmt.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error writes an error response.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	_, err := fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	return err
}

// RowOutput is the JSON form of one view row.
type RowOutput struct {
	Identity    string        `json:"identity"`
	Version     int64         `json:"version"`
	Pending     string        `json:"pending,omitempty"`
	Quarantined bool          `json:"quarantined,omitempty"`
	Status      string        `json:"status,omitempty"`
	Summary     string        `json:"summary"`
	Payload     model.Payload `json:"payload"`
}

// ViewOutput is the JSON form of a ViewModel.
type ViewOutput struct {
	Kind         string         `json:"kind"`
	Rows         []RowOutput    `json:"rows"`
	Total        int            `json:"total"`
	NextCursor   int            `json:"next_cursor"`
	StatusCounts map[string]int `json:"status_counts,omitempty"`
}

func newViewOutput(vm queryview.ViewModel) ViewOutput {
	out := ViewOutput{
		Kind:         string(vm.Kind),
		Rows:         make([]RowOutput, len(vm.Rows)),
		Total:        vm.Total,
		NextCursor:   vm.NextCursor,
		StatusCounts: vm.StatusCounts,
	}
	for i, r := range vm.Rows {
		ro := RowOutput{
			Identity:    r.Identity.String(),
			Version:     r.Version,
			Quarantined: r.Quarantined,
			Status:      r.DisplayStatus,
			Summary:     summarize(r.Payload),
			Payload:     r.Payload,
		}
		if r.Pending != model.PendingNone {
			ro.Pending = r.Pending.String()
		}
		out.Rows[i] = ro
	}
	return out
}

// String renders the view as an aligned text table.
func (v ViewOutput) String() string {
	var b strings.Builder
	for _, r := range v.Rows {
		flag := ""
		switch {
		case r.Quarantined:
			flag = " [quarantined]"
		case r.Pending != "":
			flag = " [" + r.Pending + "]"
		}
		fmt.Fprintf(&b, "%-28s v%-4d %-13s %s%s\n", r.Identity, r.Version, r.Status, r.Summary, flag)
	}
	fmt.Fprintf(&b, "%d of %d %s", len(v.Rows), v.Total, v.Kind)
	if v.NextCursor >= 0 {
		fmt.Fprintf(&b, " (next cursor %d)", v.NextCursor)
	}
	return b.String()
}

// summarize renders the fields a seller scans a list for.
func summarize(p model.Payload) string {
	switch v := p.(type) {
	case model.Product:
		stock, _ := v.Stock()
		s := fmt.Sprintf("%s  stock=%d  %s", v.Name, stock, formatCents(v.PriceCents))
		if v.CategoryName != "" {
			s += "  (" + v.CategoryName + ")"
		}
		return s
	case model.SellerOrder:
		return fmt.Sprintf("%s  %s  %s", v.OrderNumber, v.BuyerName, formatCents(v.TotalCents))
	case model.FAQQuestion:
		return fmt.Sprintf("%q  answers=%d  %s", v.Question, v.AnswerCount, v.ProductName)
	case model.FAQAnswer:
		return fmt.Sprintf("%s: %q", v.QuestionID, v.Body)
	case nil:
		return ""
	}
	return string(p.Kind())
}

func formatCents(c int64) string {
	sign := ""
	if c < 0 {
		sign, c = "-", -c
	}
	return fmt.Sprintf("%s$%d.%02d", sign, c/100, c%100)
}
