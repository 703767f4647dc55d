package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/statenet/internal/behaviors"
	"github.com/roach88/statenet/internal/compiler"
	"github.com/roach88/statenet/internal/engine"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool                       `json:"valid"`
	Graphs   []string                   `json:"graphs,omitempty"`
	Errors   []compiler.ValidationError `json:"errors,omitempty"`
	Warnings []GraphWarning             `json:"warnings,omitempty"`
}

// GraphWarning is a cycle warning tagged with its graph.
type GraphWarning struct {
	Graph string `json:"graph"`
	compiler.CycleWarning
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <graph-path>",
		Short: "Check graphs without running them",
		Long: `Check every graph in a CUE file or directory without running it.

Reports every structural problem at once: unknown parents, endpoints that
are not siblings, bad join counts, timers without durations, behaviors the
registry does not know, and more. Loops of transitions that never wait are
reported as warnings.`,
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
	formatter := newFormatter(opts, cmd)

	loadResult, loadErrors := compiler.LoadPath(path, compiler.LoadModeCollectAll)

	// Handle load errors (path not found, no files, etc.)
	if loadResult == nil && len(loadErrors) > 0 {
		var loadErr *compiler.LoadError
		if errors.As(loadErrors[0], &loadErr) {
			return outputValidateError(formatter, loadErr.Code, loadErr.Message, nil)
		}
		return outputValidateError(formatter, compiler.ErrCodeGeneric, loadErrors[0].Error(), nil)
	}

	formatter.VerboseLog("Found %d CUE file(s) in %s", loadResult.FileCount, path)

	result := ValidationResult{}
	reg := behaviors.Default()
	for i := range loadResult.Graphs {
		spec := &loadResult.Graphs[i]
		formatter.VerboseLog("Validating graph: %s", spec.Name)
		result.Graphs = append(result.Graphs, spec.Name)
		result.Errors = append(result.Errors, engine.Check(spec, reg)...)
		for _, w := range compiler.AnalyzeCycles(spec) {
			result.Warnings = append(result.Warnings, GraphWarning{Graph: spec.Name, CycleWarning: w})
		}
	}

	// Add any load errors as validation errors
	for _, err := range loadErrors {
		var loadErr *compiler.LoadError
		if errors.As(err, &loadErr) {
			result.Errors = append(result.Errors, compiler.ValidationError{
				Field:   "load",
				Message: loadErr.Message,
				Code:    loadErr.Code,
				Line:    lineOf(loadErr),
			})
			continue
		}
		result.Errors = append(result.Errors, compiler.ValidationError{
			Field:   "load",
			Message: err.Error(),
			Code:    compiler.ErrCodeGeneric,
		})
	}

	result.Valid = len(result.Errors) == 0
	return outputValidation(formatter, result)
}

func lineOf(err *compiler.LoadError) int {
	if err.Pos.IsValid() {
		return err.Pos.Line()
	}
	return 0
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Unreadable input is a command-level error (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

func outputValidation(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.JSON() {
		response := CLIResponse{Status: "ok", Data: result}
		if !result.Valid {
			response.Status = "error"
			response.Error = &CLIError{
				Code:    result.Errors[0].Code,
				Message: result.Errors[0].Message,
			}
		}
		if err := formatter.Encode(response); err != nil {
			return err
		}
	} else {
		writeValidationText(formatter, result)
	}

	if !result.Valid {
		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(result.Errors)))
	}
	return nil
}

func writeValidationText(formatter *OutputFormatter, result ValidationResult) {
	w := formatter.Writer
	if result.Valid {
		fmt.Fprintf(w, "✓ %d graph(s) valid\n", len(result.Graphs))
	} else {
		fmt.Fprintln(w, "✗ Validation failed")
		fmt.Fprintln(w)
		for _, err := range result.Errors {
			if err.Line > 0 {
				fmt.Fprintf(w, "line %d\n", err.Line)
			}
			fmt.Fprintf(w, "  %s: %s\n", err.Code, err.Message)
			if err.Field != "" {
				fmt.Fprintf(w, "    at %s\n", err.Field)
			}
		}
	}

	for _, warn := range result.Warnings {
		fmt.Fprintf(w, "%s [%s]: %s\n", warn.Level, warn.Graph, warn.Message)
	}
}
