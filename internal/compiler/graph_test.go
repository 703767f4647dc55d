package compiler

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const patrolCUE = `
graph: patrol: {
	root: "main"
	node: {
		main: {children: "first"}
		look: {
			parent:   "main"
			behavior: "print"
			params: text: "looking"
		}
		walk: {parent: "main", behavior: "wait", params: duration: "1s"}
		done: {parent: "main", behavior: "parent_succeeds"}
	}
	transition: {
		start: {kind: "immediate", from: "look", to: "walk"}
		tired: {kind: "timer", from: "walk", to: "done", duration: "2s"}
		both: {kind: "completion", from: ["look", "walk"], to: "done", count: 1}
		word: {kind: "text", from: "walk", to: "look", match: "again"}
	}
}
`

func TestCompileGraph_Patrol(t *testing.T) {
	result, errs := LoadSource("patrol.cue", patrolCUE, LoadModeCollectAll)
	require.Empty(t, errs)
	require.Len(t, result.Graphs, 1)

	g := result.Graphs[0]
	assert.Equal(t, "patrol", g.Name)
	assert.Equal(t, "main", g.Root)

	require.Len(t, g.Nodes, 4)
	names := []string{g.Nodes[0].Name, g.Nodes[1].Name, g.Nodes[2].Name, g.Nodes[3].Name}
	assert.Equal(t, []string{"main", "look", "walk", "done"}, names, "declaration order is kept")
	assert.Equal(t, "first", g.Nodes[0].Children)
	assert.Equal(t, "main", g.Nodes[1].Parent)
	assert.Equal(t, "print", g.Nodes[1].Behavior)
	assert.Equal(t, "looking", g.Nodes[1].Params["text"])

	require.Len(t, g.Transitions, 4)
	assert.Equal(t, "start", g.Transitions[0].Name)
	assert.Equal(t, "immediate", g.Transitions[0].Kind)
	assert.Equal(t, []string{"look"}, g.Transitions[0].From)
	assert.Equal(t, []string{"walk"}, g.Transitions[0].To)
	assert.Equal(t, "2s", g.Transitions[1].Duration)
	assert.Equal(t, []string{"look", "walk"}, g.Transitions[2].From)
	assert.Equal(t, 1, g.Transitions[2].Count)
	assert.Equal(t, "again", g.Transitions[3].Match)

	assert.Empty(t, Validate(&g))
}

func TestCompileGraph_LookupByName(t *testing.T) {
	result, errs := LoadSource("patrol.cue", patrolCUE, LoadModeCollectAll)
	require.Empty(t, errs)

	g, ok := result.Graph("patrol")
	require.True(t, ok)
	assert.Equal(t, "patrol", g.Name)

	_, ok = result.Graph("missing")
	assert.False(t, ok)
}

func TestCompileGraph_Errors(t *testing.T) {
	tests := []struct {
		name  string
		src   string
		field string
	}{
		{
			name:  "no nodes",
			src:   `graph: empty: {}`,
			field: "node",
		},
		{
			name:  "missing kind",
			src:   `graph: g: {node: a: {}, transition: t: {from: "a", to: "a"}}`,
			field: "transition.t.kind",
		},
		{
			name:  "missing to",
			src:   `graph: g: {node: a: {}, transition: t: {kind: "immediate", from: "a"}}`,
			field: "transition.t.to",
		},
		{
			name:  "endpoint not a string",
			src:   `graph: g: {node: a: {}, transition: t: {kind: "immediate", from: 3, to: "a"}}`,
			field: "transition.t.from",
		},
		{
			name:  "parent not a string",
			src:   `graph: g: {node: a: {parent: 1}}`,
			field: "node.a.parent",
		},
		{
			name:  "params not a struct",
			src:   `graph: g: {node: a: {params: "x"}}`,
			field: "node.a.params",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, errs := LoadSource("bad.cue", tt.src, LoadModeFailFast)
			require.Len(t, errs, 1)

			var loadErr *LoadError
			require.True(t, errors.As(errs[0], &loadErr))
			assert.Equal(t, ErrCodeBuildFailed, loadErr.Code)
			assert.Contains(t, loadErr.Message, tt.field)
		})
	}
}

func TestLoadSource_CollectAll(t *testing.T) {
	src := `
graph: one: {}
graph: two: {}
graph: ok: {node: a: {}}
`
	result, errs := LoadSource("many.cue", src, LoadModeCollectAll)
	assert.Len(t, errs, 2)
	require.Len(t, result.Graphs, 1)
	assert.Equal(t, "ok", result.Graphs[0].Name)

	_, errs = LoadSource("many.cue", src, LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadSource_NoGraphs(t *testing.T) {
	_, errs := LoadSource("none.cue", `other: 1`, LoadModeCollectAll)
	require.Len(t, errs, 1)

	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNoGraphs, loadErr.Code)
}

func TestLoadSource_SyntaxError(t *testing.T) {
	_, errs := LoadSource("broken.cue", `graph: g: {`, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken.cue")
}

func TestLoadGraphs_Directory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.cue"), []byte(patrolCUE), 0o644))

	result, errs := LoadGraphs(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 1, result.FileCount)
	require.Len(t, result.Graphs, 1)
	assert.Equal(t, "patrol", result.Graphs[0].Name)
}

func TestLoadGraphs_NamedPackage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "patrol.cue"), []byte("package graphs\n"+patrolCUE), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "door.cue"), []byte("package graphs\n\ngraph: door: node: main: {}\n"), 0o644))

	result, errs := LoadGraphs(dir, LoadModeCollectAll)
	require.Empty(t, errs)
	assert.Equal(t, 2, result.FileCount)
	var names []string
	for _, g := range result.Graphs {
		names = append(names, g.Name)
	}
	assert.ElementsMatch(t, []string{"door", "patrol"}, names)
}

func TestLoadGraphs_UnreadablePackageClause(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.cue"), []byte("package \"graphs\"\n"), 0o644))

	_, errs := LoadGraphs(dir, LoadModeCollectAll)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "broken.cue")
}

func TestLoadGraphs_Errors(t *testing.T) {
	_, errs := LoadGraphs(filepath.Join(t.TempDir(), "missing"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)

	_, errs = LoadGraphs(t.TempDir(), LoadModeFailFast)
	require.Len(t, errs, 1)
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNoFiles, loadErr.Code)
}

func TestCompileError_Format(t *testing.T) {
	err := &CompileError{Field: "node", Message: "at least one node is required"}
	assert.Equal(t, "node: at least one node is required", err.Error())
}

func TestLoadPath(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "patrol.cue")
	require.NoError(t, os.WriteFile(file, []byte(patrolCUE), 0o644))

	fromFile, errs := LoadPath(file, LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, 1, fromFile.FileCount)

	fromDir, errs := LoadPath(dir, LoadModeFailFast)
	require.Empty(t, errs)
	assert.Equal(t, fromFile.Graphs, fromDir.Graphs)

	_, errs = LoadPath(filepath.Join(dir, "missing.cue"), LoadModeFailFast)
	require.Len(t, errs, 1)
	var loadErr *LoadError
	require.True(t, errors.As(errs[0], &loadErr))
	assert.Equal(t, ErrCodeNotFound, loadErr.Code)
}

func TestLoadResult_Select(t *testing.T) {
	result, errs := LoadSource("pair.cue", `
graph: one: node: main: {}
graph: two: node: main: {}
`, LoadModeCollectAll)
	require.Empty(t, errs)

	g, err := result.Select("two")
	require.NoError(t, err)
	assert.Equal(t, "two", g.Name)

	_, err = result.Select("three")
	assert.ErrorContains(t, err, `graph "three" not declared`)

	_, err = result.Select("")
	assert.ErrorContains(t, err, "2 graphs declared")

	single, errs := LoadSource("patrol.cue", patrolCUE, LoadModeCollectAll)
	require.Empty(t, errs)
	g, err = single.Select("")
	require.NoError(t, err)
	assert.Equal(t, "patrol", g.Name)
}
