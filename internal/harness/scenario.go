package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/statenet/internal/fsm"
)

// Scenario defines a behavior test scenario.
// Scenarios start a graph on virtual time, drive it with steps, and assert
// on the resulting trace and final node states.
type Scenario struct {
	// Name uniquely identifies this scenario. It names the golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Graph is the CUE file or directory declaring the graph.
	// Relative paths are resolved against the scenario file's directory.
	Graph string `yaml:"graph"`

	// GraphName picks one graph when Graph declares several.
	GraphName string `yaml:"graph_name,omitempty"`

	// Seed makes random transitions reproducible.
	Seed *uint64 `yaml:"seed,omitempty"`

	// Debounce overrides the delay unfiltered tap transitions wait.
	Debounce string `yaml:"debounce,omitempty"`

	// RunID is an optional fixed run ID for the trace.
	// If empty, defaults to testutil.DefaultRunID.
	RunID string `yaml:"run_id,omitempty"`

	// Steps drive the run after the root has started.
	Steps []Step `yaml:"steps"`

	// Assertions validate the final trace and node states.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one stimulus. Exactly one field is set.
type Step struct {
	// Advance moves virtual time forward, e.g. "1500ms".
	Advance string `yaml:"advance,omitempty"`

	// Text posts a text message.
	Text *string `yaml:"text,omitempty"`

	// Tap posts a tap on the named object.
	Tap string `yaml:"tap,omitempty"`

	// Post posts an arbitrary event.
	Post *PostStep `yaml:"post,omitempty"`

	// Start starts the node at this path.
	Start string `yaml:"start,omitempty"`

	// Stop stops the node at this path.
	Stop string `yaml:"stop,omitempty"`
}

// PostStep posts an event of Kind, from the node at path Node when set.
type PostStep struct {
	Kind    string `yaml:"kind"`
	Node    string `yaml:"node,omitempty"`
	Payload any    `yaml:"payload,omitempty"`
}

// Assertion validates the trace or final node states.
type Assertion struct {
	// Type specifies the assertion type:
	// - "started": node started at least once
	// - "started_count": node started exactly Count times
	// - "start_order": Nodes first started in this order
	// - "running": node is running after the last step
	// - "not_started": node never started
	// - "fired": transition fired at least once, or exactly Count times
	// - "outcome": the run ended with Outcome
	Type string `yaml:"type"`

	// Node is a node path (started, started_count, running, not_started).
	Node string `yaml:"node,omitempty"`

	// Nodes is the expected start order (start_order).
	Nodes []string `yaml:"nodes,omitempty"`

	// Transition is a transition name (fired).
	Transition string `yaml:"transition,omitempty"`

	// Count is the expected number of occurrences (started_count, fired).
	Count *int `yaml:"count,omitempty"`

	// Outcome is the expected run outcome (outcome).
	Outcome string `yaml:"outcome,omitempty"`
}

// Assertion type constants.
const (
	AssertStarted      = "started"
	AssertStartedCount = "started_count"
	AssertStartOrder   = "start_order"
	AssertRunning      = "running"
	AssertNotStarted   = "not_started"
	AssertFired        = "fired"
	AssertOutcome      = "outcome"
)

// LoadScenario reads and parses a scenario YAML file.
// The graph path is resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the graph path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}

	if scenario.Graph != "" && !filepath.IsAbs(scenario.Graph) && basePath != "" {
		scenario.Graph = filepath.Join(basePath, scenario.Graph)
	}
	if _, err := os.Stat(scenario.Graph); err != nil {
		return nil, fmt.Errorf("invalid scenario: graph not found: %s", scenario.Graph)
	}

	return scenario, nil
}

// ParseScenario parses and validates scenario YAML. The graph path is
// left as written.
func ParseScenario(data []byte) (*Scenario, error) {
	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if s.Graph == "" {
		return fmt.Errorf("graph is required")
	}
	if s.Debounce != "" {
		if d, err := time.ParseDuration(s.Debounce); err != nil || d <= 0 {
			return fmt.Errorf("debounce %q must be a positive duration", s.Debounce)
		}
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, st Step) error {
	set := 0
	for _, present := range []bool{
		st.Advance != "",
		st.Text != nil,
		st.Tap != "",
		st.Post != nil,
		st.Start != "",
		st.Stop != "",
	} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of advance, text, tap, post, start, stop is required", index)
	}

	if st.Advance != "" {
		d, err := time.ParseDuration(st.Advance)
		if err != nil {
			return fmt.Errorf("steps[%d]: advance: %w", index, err)
		}
		if d < 0 {
			return fmt.Errorf("steps[%d]: advance %s is negative", index, st.Advance)
		}
	}
	if st.Post != nil {
		if st.Post.Kind == "" {
			return fmt.Errorf("steps[%d]: post.kind is required", index)
		}
		if fsm.Kind(st.Post.Kind).IsOutcome() && st.Post.Node == "" {
			return fmt.Errorf("steps[%d]: post of %s needs a node", index, st.Post.Kind)
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertStarted, AssertRunning, AssertNotStarted:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for %s", index, a.Type)
		}
	case AssertStartedCount:
		if a.Node == "" {
			return fmt.Errorf("assertions[%d]: node is required for started_count", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for started_count", index)
		}
	case AssertStartOrder:
		if len(a.Nodes) == 0 {
			return fmt.Errorf("assertions[%d]: nodes list is required for start_order", index)
		}
	case AssertFired:
		if a.Transition == "" {
			return fmt.Errorf("assertions[%d]: transition is required for fired", index)
		}
		if a.Count != nil && *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for fired", index)
		}
	case AssertOutcome:
		if a.Outcome == "" {
			return fmt.Errorf("assertions[%d]: outcome is required for outcome", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
