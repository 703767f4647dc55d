package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SuiteResult summarizes a batch of scenario runs.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Scenarios      []ScenarioSummary `json:"scenarios"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioSummary is one scenario's line in a suite report.
type ScenarioSummary struct {
	Name    string   `json:"name"`
	Path    string   `json:"path"`
	Pass    bool     `json:"pass"`
	Outcome string   `json:"outcome,omitempty"`
	Errors  []string `json:"errors,omitempty"`
}

// ScenarioFailure represents a scenario that could not load, could not
// run, or failed its assertions.
type ScenarioFailure struct {
	ScenarioPath string `json:"scenario_path"`
	Scenario     string `json:"scenario,omitempty"`
	Error        string `json:"error"`
}

// FindScenarios returns path itself when it is a file, or every .yaml and
// .yml file directly under it, sorted, when it is a directory.
func FindScenarios(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("scenario path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario directory: %w", err)
	}
	var paths []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if !e.IsDir() && (ext == ".yaml" || ext == ".yml") {
			paths = append(paths, filepath.Join(path, e.Name()))
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// SuiteOption configures RunSuite.
type SuiteOption func(*suiteConfig)

type suiteConfig struct {
	graphBase string
	check     func(path string, scenario *Scenario, result *Result) error
}

// WithGraphBase resolves scenario graph paths against dir instead of each
// scenario file's own directory.
func WithGraphBase(dir string) SuiteOption {
	return func(c *suiteConfig) {
		c.graphBase = dir
	}
}

// WithCheck runs fn after each scenario that ran, such as a golden file
// comparison. An error fails the scenario.
func WithCheck(fn func(path string, scenario *Scenario, result *Result) error) SuiteOption {
	return func(c *suiteConfig) {
		c.check = fn
	}
}

// RunSuite loads and runs every scenario in paths. A scenario that fails
// to load or run counts as failed; the suite keeps going.
func RunSuite(paths []string, opts ...SuiteOption) *SuiteResult {
	var cfg suiteConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	result := &SuiteResult{}

	for _, path := range paths {
		result.TotalScenarios++

		var (
			scenario *Scenario
			err      error
		)
		if cfg.graphBase != "" {
			scenario, err = LoadScenarioWithBasePath(path, cfg.graphBase)
		} else {
			scenario, err = LoadScenario(path)
		}
		if err != nil {
			result.fail(path, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := Run(scenario)
		if err != nil {
			result.fail(path, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}
		if cfg.check != nil {
			if err := cfg.check(path, scenario, runResult); err != nil {
				runResult.AddError(err.Error())
			}
		}

		result.Scenarios = append(result.Scenarios, ScenarioSummary{
			Name:    scenario.Name,
			Path:    path,
			Pass:    runResult.Pass,
			Outcome: runResult.Outcome,
			Errors:  runResult.Errors,
		})
		if !runResult.Pass {
			result.Failed++
			result.Failures = append(result.Failures, ScenarioFailure{
				ScenarioPath: path,
				Scenario:     scenario.Name,
				Error:        fmt.Sprintf("scenario assertions failed: %s", strings.Join(runResult.Errors, "; ")),
			})
			continue
		}
		result.Passed++
	}

	return result
}

func (r *SuiteResult) fail(path, name, msg string) {
	r.Failed++
	r.Scenarios = append(r.Scenarios, ScenarioSummary{Name: name, Path: path, Errors: []string{msg}})
	r.Failures = append(r.Failures, ScenarioFailure{ScenarioPath: path, Scenario: name, Error: msg})
}
