package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplayDeterministic(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")
	_, err := recordRun(t, db, "run-1", testProgram("blink.yaml"))
	require.NoError(t, err)
	_, err = recordRun(t, db, "run-2", testProgram("blink.yaml"), "--timeout", "10 msec")
	require.NoError(t, err)

	out, err := execute(t, "replay", "--db", db, testProgram("blink.yaml"))
	require.NoError(t, err)

	assert.Contains(t, out, "Replay of blink: 2 run(s)")
	assert.Contains(t, out, "✓ run-1: 4 instant(s), 8 dispatch(es)")
	assert.Contains(t, out, "✓ run-2: 2 instant(s), 4 dispatch(es)")
	assert.Contains(t, out, "✓ All runs deterministic")
}

func TestReplaySingleRunJSON(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")
	_, err := recordRun(t, db, "run-1", testProgram("countdown.cue"))
	require.NoError(t, err)

	out, err := execute(t, "--format", "json", "replay", "--db", db, "--run", "run-1", testProgram("countdown.cue"))
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllDeterministic)
	require.Len(t, resp.Data.Runs, 1)

	r := resp.Data.Runs[0]
	assert.Equal(t, "run-1", r.RunID)
	assert.True(t, r.Finished)
	assert.True(t, r.Deterministic)
	assert.Equal(t, r.RecordedDigest, r.ReplayedDigest)
	assert.Empty(t, r.Divergence)
}

func TestReplayDetectsDivergence(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "tempo.db")
	program := filepath.Join(dir, "blink.yaml")

	original, err := os.ReadFile(testProgram("blink.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(program, original, 0644))
	_, err = recordRun(t, db, "run-1", program)
	require.NoError(t, err)

	// Same program name, different timer period.
	changed := strings.Replace(string(original), "period: 10 msec", "period: 15 msec", 1)
	require.NoError(t, os.WriteFile(program, []byte(changed), 0644))

	out, err := execute(t, "replay", "--db", db, program)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ run-1")
	assert.Contains(t, out, "diverged at")
	assert.Contains(t, out, "✗ Replay diverged from the recording")
}

func TestReplayNoRecordedRuns(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")
	_, err := recordRun(t, db, "run-1", testProgram("blink.yaml"))
	require.NoError(t, err)

	out, err := execute(t, "replay", "--db", db, testProgram("countdown.cue"))
	require.NoError(t, err)
	assert.Contains(t, out, "No recorded runs of countdown.")
}

func TestReplayRunOfOtherProgram(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")
	_, err := recordRun(t, db, "run-1", testProgram("blink.yaml"))
	require.NoError(t, err)

	_, err = execute(t, "replay", "--db", db, "--run", "run-1", testProgram("countdown.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `recorded program "blink"`)
}

func TestReplayRunNotFound(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")
	_, err := recordRun(t, db, "run-1", testProgram("blink.yaml"))
	require.NoError(t, err)

	out, err := execute(t, "replay", "--db", db, "--run", "missing", testProgram("blink.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error ["+ErrCodeRunNotFound+"]")
}

func TestReplayInvalidProgram(t *testing.T) {
	db := filepath.Join(t.TempDir(), "tempo.db")

	_, err := execute(t, "replay", "--db", db, testProgram("invalid.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to compile program")
}
