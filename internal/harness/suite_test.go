package harness

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "counting.yaml"),
		filepath.Join("testdata", "scenarios", "patrol_idle.yaml"),
		filepath.Join("testdata", "scenarios", "patrol_look_again.yaml"),
	}, paths)

	single := filepath.Join("testdata", "scenarios", "counting.yaml")
	paths, err = FindScenarios(single)
	require.NoError(t, err)
	assert.Equal(t, []string{single}, paths)

	_, err = FindScenarios(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestRunSuite_AllPass(t *testing.T) {
	paths, err := FindScenarios(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)

	result := RunSuite(paths)
	assert.Equal(t, 3, result.TotalScenarios)
	assert.Equal(t, 3, result.Passed)
	assert.Equal(t, 0, result.Failed)
	assert.Empty(t, result.Failures)
	require.Len(t, result.Scenarios, 3)
	assert.Equal(t, "counting", result.Scenarios[0].Name)
	assert.Equal(t, "completion", result.Scenarios[0].Outcome)
}

func TestRunSuite_Failures(t *testing.T) {
	dir := t.TempDir()
	graph, err := filepath.Abs(filepath.Join("testdata", "graphs", "patrol.cue"))
	require.NoError(t, err)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: [\n"), 0644))

	wrong := filepath.Join(dir, "wrong.yaml")
	require.NoError(t, os.WriteFile(wrong, []byte(`
name: wrong
description: "expects an outcome the patrol never reaches"
graph: `+graph+`
assertions:
  - type: outcome
    outcome: success
`), 0644))

	result := RunSuite([]string{broken, wrong})
	assert.Equal(t, 2, result.TotalScenarios)
	assert.Equal(t, 0, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Contains(t, result.Failures[0].Error, "failed to load scenario")
	assert.Equal(t, "wrong", result.Failures[1].Scenario)
	assert.Contains(t, result.Failures[1].Error, "scenario assertions failed")
}

func TestRunSuite_Options(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "idle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: idle
description: "graph path resolves against the given base"
graph: patrol.cue
assertions:
  - type: outcome
    outcome: stopped
`), 0644))

	var checked []string
	result := RunSuite([]string{path},
		WithGraphBase(filepath.Join("testdata", "graphs")),
		WithCheck(func(p string, s *Scenario, r *Result) error {
			checked = append(checked, s.Name)
			return errors.New("trace does not match golden file")
		}),
	)

	assert.Equal(t, []string{"idle"}, checked)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Scenarios, 1)
	assert.Equal(t, []string{"trace does not match golden file"}, result.Scenarios[0].Errors)
}
