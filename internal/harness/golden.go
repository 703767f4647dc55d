package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// FormatTrace renders a result as the deterministic text compared against
// golden files: a header, the printed output, then one line per trace
// event.
func FormatTrace(scenarioName string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", scenarioName)
	fmt.Fprintf(&b, "run: %s\n", result.RunID)
	fmt.Fprintf(&b, "outcome: %s\n", result.Outcome)

	b.WriteString("output:\n")
	for _, line := range strings.Split(strings.TrimSuffix(result.Output, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(&b, "| %s\n", line)
		}
	}

	b.WriteString("trace:\n")
	for _, event := range result.Trace {
		b.WriteString(event.String())
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can check Pass, or an error if the
// scenario could not run. Test failure (via goldie) occurs if the trace
// doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file.
// This is useful when you've already run a scenario and want to compare
// the result against a golden file without re-running.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, FormatTrace(scenarioName, result))
}
