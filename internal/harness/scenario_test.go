package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeProgram writes a minimal YAML program into dir/programs.
func writeProgram(t *testing.T, dir, name string) string {
	t.Helper()
	programsDir := filepath.Join(dir, "programs")
	if err := os.MkdirAll(programsDir, 0755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(programsDir, name)
	content := `
name: tiny
triggers:
  - {name: t, kind: logical}
reactions:
  - {name: observe, triggers: [t], body: {builtin: log}}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadScenario_ProgramPath(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "tiny.yaml")
	scenarioPath := filepath.Join(dir, "test.yaml")

	content := `
name: test_scenario
description: "Test scenario for loading"
program: programs/tiny.yaml
inject:
  - {trigger: t, delay: 5 msec, value: {n: 1}}
assertions:
  - {type: dispatch_count, reaction: observe, count: 1}
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	scenario, err := LoadScenario(scenarioPath)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(dir, "programs", "tiny.yaml"), scenario.Program.Path)
	assert.Nil(t, scenario.Program.Spec)
	require.Len(t, scenario.Inject, 1)
	assert.Equal(t, "5 msec", scenario.Inject[0].Delay)
	assert.Equal(t, map[string]any{"n": 1}, scenario.Inject[0].Value)
	assert.Len(t, scenario.Assertions, 1)
}

func TestParseScenario_InlineProgram(t *testing.T) {
	content := `
name: inline
description: Inline program
program:
  name: tiny
  run: {fast: true}
  triggers:
    - {name: t, kind: logical}
  reactions:
    - {name: observe, triggers: [t], body: {builtin: log}}
assertions:
  - {type: instants, count: 0}
`
	scenario, err := ParseScenario([]byte(content), "")
	require.NoError(t, err)

	require.NotNil(t, scenario.Program.Spec)
	assert.Empty(t, scenario.Program.Path)
	assert.Equal(t, "tiny", scenario.Program.Spec.Name)
	assert.True(t, scenario.Program.Spec.Run.Fast)
	require.Len(t, scenario.Program.Spec.Reactions, 1)
	assert.Equal(t, "observe", scenario.Program.Spec.Reactions[0].Name)
}

func TestParseScenario_InlineProgramUnknownField(t *testing.T) {
	content := `
name: inline
description: Inline program with a typo
program:
  name: tiny
  trigers: []
assertions:
  - {type: instants, count: 0}
`
	_, err := ParseScenario([]byte(content), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "trigers")
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario("/nonexistent/path/scenario.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_ProgramNotFound(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := filepath.Join(dir, "test.yaml")
	content := `
name: missing_program
description: References a program that is not there
program: programs/absent.cue
assertions:
  - {type: instants, count: 0}
`
	require.NoError(t, os.WriteFile(scenarioPath, []byte(content), 0644))

	_, err := LoadScenario(scenarioPath)
	require.Error(t, err)

	var notFound *ProgramNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing_program", notFound.Scenario)
	assert.Equal(t, "absent.cue", notFound.ProgramPath)
	assert.Equal(t, filepath.Join(dir, "programs", "absent.cue"), notFound.ResolvedPath)
}

func TestParseScenario_UnknownField(t *testing.T) {
	content := `
name: typo
description: Misspelled field
program: tiny.yaml
asertions: []
`
	_, err := ParseScenario([]byte(content), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Validation(t *testing.T) {
	program := `
program:
  name: tiny
  triggers:
    - {name: t, kind: logical}
  reactions:
    - {name: observe, triggers: [t], body: {builtin: log}}
`
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name:    "missing name",
			body:    "description: d\n" + program + "assertions:\n  - {type: instants}\n",
			wantErr: "name is required",
		},
		{
			name:    "missing description",
			body:    "name: n\n" + program + "assertions:\n  - {type: instants}\n",
			wantErr: "description is required",
		},
		{
			name:    "missing program",
			body:    "name: n\ndescription: d\nassertions:\n  - {type: instants}\n",
			wantErr: "program is required",
		},
		{
			name:    "no assertions",
			body:    "name: n\ndescription: d\n" + program,
			wantErr: "assertions list is required",
		},
		{
			name:    "unknown assertion type",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: eventually}\n",
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name:    "dispatch_order without reactions",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: dispatch_order}\n",
			wantErr: "reactions list is required",
		},
		{
			name:    "value_seen without trigger",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: value_seen, reaction: observe}\n",
			wantErr: "reaction and trigger are required",
		},
		{
			name:    "final_time with at and max",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: final_time, at: 1 msec, max: 2 msec}\n",
			wantErr: "exactly one of at and max",
		},
		{
			name:    "final_time bad interval",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: final_time, at: soon}\n",
			wantErr: "assertions[0]: at",
		},
		{
			name:    "negative count",
			body:    "name: n\ndescription: d\n" + program + "assertions:\n  - {type: dropped, count: -1}\n",
			wantErr: "count must be non-negative",
		},
		{
			name:    "inject without trigger",
			body:    "name: n\ndescription: d\n" + program + "inject:\n  - {delay: 1 msec}\nassertions:\n  - {type: instants}\n",
			wantErr: "inject[0]: trigger is required",
		},
		{
			name:    "inject bad delay",
			body:    "name: n\ndescription: d\n" + program + "inject:\n  - {trigger: t, delay: later}\nassertions:\n  - {type: instants}\n",
			wantErr: "inject[0]: delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.body), "")
			require.Error(t, err)
			assert.Contains(t, err.Error(), "invalid scenario")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadDir(t *testing.T) {
	scenarios, err := LoadDir(filepath.Join("testdata", "scenarios"))
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	names := make([]string, len(scenarios))
	for i, s := range scenarios {
		names[i] = s.Name
	}
	// Sorted by file name.
	assert.Equal(t, "async_physical", names[0])
	assert.Contains(t, names, "timer_ports")
	assert.Contains(t, names, "countdown")
}

func TestLoadDir_SkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	writeProgram(t, dir, "tiny.yaml")
	scenario := `
name: only
description: The only scenario
program: programs/tiny.yaml
assertions:
  - {type: instants, count: 0}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "only.yml"), []byte(scenario), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("notes"), 0644))

	scenarios, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "only", scenarios[0].Name)
}

func TestLoadDir_ReportsFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: [unclosed"), 0644))

	_, err := LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken.yaml")
}
