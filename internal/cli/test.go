package cli

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/statenet/internal/harness"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update bool   // regenerate golden files
	Filter string // scenario filter (glob pattern)
	Graphs string // base directory for scenario graph paths
}

// errGoldenMismatch marks a trace that differs from its golden file.
var errGoldenMismatch = errors.New("trace does not match golden file (run with --update to regenerate)")

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios>",
		Short: "Run behavior scenarios on virtual time",
		Long: `Run scenario files against their graphs on virtual time.

<scenarios> is a scenario file or a directory of them. Each scenario's
assertions are checked, and when golden/<name>.golden exists next to the
scenario file the rendered trace must match it byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, etc.)

Examples:
  statenet test ./testdata/scenarios
  statenet test ./testdata/scenarios --filter "door_*"
  statenet test ./testdata/scenarios --update
  statenet test ./scenarios --graphs ./graphs --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.Graphs, "graphs", "", "resolve scenario graph paths against this directory")

	return cmd
}

func runTests(opts *TestOptions, scenarios string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	paths, err := harness.FindScenarios(scenarios)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to find scenarios", err)
	}
	paths, err = filterScenarios(paths, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid filter pattern", err)
	}

	if len(paths) == 0 {
		if formatter.JSON() {
			return outputTestJSON(formatter, &harness.SuiteResult{Scenarios: []harness.ScenarioSummary{}})
		}
		fmt.Fprintln(formatter.Writer, "No scenarios found.")
		return nil
	}

	suiteOpts := []harness.SuiteOption{harness.WithCheck(goldenCheck(opts.Update))}
	if opts.Graphs != "" {
		suiteOpts = append(suiteOpts, harness.WithGraphBase(opts.Graphs))
	}
	result := harness.RunSuite(paths, suiteOpts...)

	// Output results
	if formatter.JSON() {
		return outputTestJSON(formatter, result)
	}
	return outputTestText(formatter, result, opts.Update)
}

// filterScenarios keeps the paths whose base name, without extension,
// matches pattern.
func filterScenarios(paths []string, pattern string) ([]string, error) {
	if pattern == "" {
		return paths, nil
	}
	var kept []string
	for _, p := range paths {
		base := filepath.Base(p)
		matched, err := filepath.Match(pattern, strings.TrimSuffix(base, filepath.Ext(base)))
		if err != nil {
			return nil, err
		}
		if matched {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// goldenCheck compares each trace with golden/<scenario-file>.golden next
// to the scenario, or rewrites it when update is set. Scenarios without a
// golden file are checked by their assertions alone.
func goldenCheck(update bool) func(string, *harness.Scenario, *harness.Result) error {
	return func(path string, scenario *harness.Scenario, result *harness.Result) error {
		goldenPath := goldenFilePath(path)
		current := harness.FormatTrace(scenario.Name, result)

		if update {
			if err := os.MkdirAll(filepath.Dir(goldenPath), 0755); err != nil {
				return fmt.Errorf("failed to create golden directory: %w", err)
			}
			if err := os.WriteFile(goldenPath, current, 0644); err != nil {
				return fmt.Errorf("failed to write golden file: %w", err)
			}
			return nil
		}

		golden, err := os.ReadFile(goldenPath)
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read golden file: %w", err)
		}
		if !bytes.Equal(golden, current) {
			return errGoldenMismatch
		}
		return nil
	}
}

// goldenFilePath returns the path to the golden file for a scenario.
func goldenFilePath(scenarioFile string) string {
	dir := filepath.Dir(scenarioFile)
	base := filepath.Base(scenarioFile)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, "golden", name+".golden")
}

// outputTestJSON outputs the suite result as JSON.
func outputTestJSON(formatter *OutputFormatter, result *harness.SuiteResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if result.Failed > 0 {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", result.Failed),
		}
	}
	if err := formatter.Encode(response); err != nil {
		return err
	}

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}
	return nil
}

// outputTestText outputs one line per scenario, then a summary.
func outputTestText(formatter *OutputFormatter, result *harness.SuiteResult, updated bool) error {
	w := formatter.Writer

	for _, s := range result.Scenarios {
		name := s.Name
		if name == "" {
			name = filepath.Base(s.Path)
		}
		if s.Pass {
			if updated {
				fmt.Fprintf(w, "✓ %s (golden updated)\n", name)
			} else {
				fmt.Fprintf(w, "✓ %s\n", name)
			}
			continue
		}
		fmt.Fprintf(w, "✗ %s\n", name)
		for _, e := range s.Errors {
			fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(strings.TrimRight(e, "\n"), "\n", "\n  "))
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "Test Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.TotalScenarios)

	if result.Failed > 0 {
		// Test failures = exit code 1
		return NewExitError(ExitFailure, fmt.Sprintf("%d scenario(s) failed", result.Failed))
	}

	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
