package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFormatter_UsesCommandStreams(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	f := newFormatter(&RootOptions{Format: "json", Verbose: true}, cmd)
	assert.True(t, f.JSON())
	assert.True(t, f.Verbose)

	require.NoError(t, f.Success("ok"))
	f.VerboseLog("loaded %d graph(s)", 2)

	assert.Contains(t, out.String(), `"status": "ok"`)
	assert.Equal(t, "loaded 2 graph(s)\n", errOut.String(), "diagnostics stay off stdout")
}

func TestOutputFormatter_JSONFlag(t *testing.T) {
	assert.True(t, (&OutputFormatter{Format: "json"}).JSON())
	assert.False(t, (&OutputFormatter{Format: "text"}).JSON())
	assert.False(t, (&OutputFormatter{}).JSON())
}

func TestOutputFormatter_EncodeIndents(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Encode(CLIResponse{Status: "ok", RunID: "run-1"}))
	assert.Equal(t, "{\n  \"status\": \"ok\",\n  \"run_id\": \"run-1\"\n}\n", buf.String())
}

func TestOutputFormatter_Error(t *testing.T) {
	tests := []struct {
		name    string
		format  string
		verbose bool
		want    []string
		absent  []string
	}{
		{"text", "text", false, []string{"Error [E206]: unknown behavior\n"}, []string{"Details:"}},
		{"text verbose", "text", true, []string{"Error [E206]", "Details: map[node:walk]"}, nil},
		{"json", "json", false, []string{`"status": "error"`, `"code": "E206"`, `"node": "walk"`}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			f := &OutputFormatter{Format: tt.format, Writer: buf, Verbose: tt.verbose}

			require.NoError(t, f.Error("E206", "unknown behavior", map[string]string{"node": "walk"}))
			for _, s := range tt.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tt.absent {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestOutputFormatter_VerboseLogFallsBackToWriter(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
	f.VerboseLog("run %s", "run-1")
	assert.Equal(t, "run run-1\n", buf.String())
	assert.Same(t, buf, f.GetErrWriter())

	quiet := &bytes.Buffer{}
	(&OutputFormatter{Writer: quiet}).VerboseLog("hidden")
	assert.Empty(t, quiet.String())
}

func TestCLIResponse_OmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(CLIResponse{Status: "ok"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, string(data))

	data, err = json.Marshal(CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: ErrCodeRunFailed, Message: "root failed"},
		RunID:  "run-1",
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","error":{"code":"E_RUN_FAILED","message":"root failed"},"run_id":"run-1"}`, string(data))
}

func TestErrorCodes(t *testing.T) {
	codes := []string{ErrCodeTestFailed, ErrCodeRunFailed, ErrCodeNoRun}
	assert.Equal(t, []string{"E_TEST_FAILED", "E_RUN_FAILED", "E_NO_RUN"}, codes)
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain error", errors.New("boom"), ExitFailure},
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "root failed")), ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to load graph", cause)

	assert.Equal(t, "failed to load graph: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "root failed", NewExitError(ExitFailure, "root failed").Error())
}
