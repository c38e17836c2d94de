package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/misev/asqldb/internal/session"
	"github.com/misev/asqldb/pkg/types"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Query or engine failure
	ExitCommandError = 2 // Command error (bad configuration, unreachable engine)
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

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Lines writes one line per item in text mode and a JSON array otherwise.
func (f *OutputFormatter) Lines(items []string) error {
	if f.Format == "json" {
		if items == nil {
			items = []string{}
		}
		return f.json(items)
	}
	for _, it := range items {
		if _, err := fmt.Fprintln(f.Writer, it); err != nil {
			return err
		}
	}
	return nil
}

// Bag writes a result bag.
func (f *OutputFormatter) Bag(bag session.Bag) error {
	if f.Format == "json" {
		out := make([]any, len(bag))
		for i, v := range bag {
			out[i] = jsonValue(v)
		}
		return f.json(out)
	}
	for _, v := range bag {
		if _, err := fmt.Fprintln(f.Writer, textValue(v)); err != nil {
			return err
		}
	}
	return nil
}

func (f *OutputFormatter) json(v any) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type jsonArray struct {
	CellType string    `json:"cell_type"`
	Domain   string    `json:"domain"`
	Cells    []float64 `json:"cells"`
}

func jsonValue(v any) any {
	switch x := v.(type) {
	case *types.MArray:
		return jsonArray{CellType: x.CellType.String(), Domain: x.Domain.String(), Cells: x.Cells}
	case types.ArrayRef:
		return x.String()
	default:
		// []byte marshals as base64
		return x
	}
}

func textValue(v any) string {
	switch x := v.(type) {
	case *types.MArray:
		return fmt.Sprintf("%s %s %v", x.CellType, x.Domain, x.Cells)
	case []byte:
		return fmt.Sprintf("%x", x)
	default:
		return fmt.Sprint(x)
	}
}
