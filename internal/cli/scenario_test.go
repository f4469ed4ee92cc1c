package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	scenariosDir = filepath.Join("..", "harness", "testdata", "scenarios")
	goldenDir    = filepath.Join("..", "harness", "testdata", "golden")
)

func runScenarioCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"scenario"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestScenarioCommand_ShippedScenariosPassWithGolden(t *testing.T) {
	out, err := runScenarioCmd(t, "--format", "json", "--golden", goldenDir, scenariosDir)
	require.NoError(t, err, out)

	var resp struct {
		Status string      `json:"status"`
		Data   ScenarioRun `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Zero(t, resp.Data.Failed)
	assert.Equal(t, resp.Data.Total, resp.Data.Passed)
	assert.GreaterOrEqual(t, resp.Data.Total, 3)
}

func TestScenarioCommand_Filter(t *testing.T) {
	out, err := runScenarioCmd(t, "--filter", "zero_*", scenariosDir)
	require.NoError(t, err)
	assert.Contains(t, out, "PASS  zero_timeout (2 events)")
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
}

func TestScenarioCommand_GoldenMismatchFails(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "zero_timeout.golden"), []byte(`{"scenario_name":"zero_timeout","trace":[]}`), 0644))

	out, err := runScenarioCmd(t, "--filter", "zero_timeout", "--golden", golden, scenariosDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "FAIL  zero_timeout")
	assert.Contains(t, out, "trace differs from golden file")
}

func TestScenarioCommand_MissingDirectory(t *testing.T) {
	_, err := runScenarioCmd(t, "/nonexistent/directory")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenarios directory not found")
}

func TestScenarioCommand_EmptyDirectory(t *testing.T) {
	_, err := runScenarioCmd(t, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenario files found")
}

func TestScenarioCommand_MalformedScenario(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("name: bad\nflow: [{do: fly}]\n"), 0644))

	_, err := runScenarioCmd(t, dir)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "scenario bad")
}
