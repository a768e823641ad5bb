package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/ir"
)

// Scenario defines a scheduler test scenario: a program, optional run
// overrides and injected events, and assertions over the resulting trace.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Program is a path to a CUE or YAML program file, relative to the
	// scenario file, or an inline YAML program.
	Program ProgramRef `yaml:"program"`

	// Run replaces the program's run settings when present.
	Run *ir.RunConfig `yaml:"run,omitempty"`

	// RunID is an optional fixed run ID. Defaults to "test-run-default".
	RunID string `yaml:"run_id,omitempty"`

	// Inject lists events scheduled after the program's own initial events,
	// before the first instant.
	Inject []Injection `yaml:"inject,omitempty"`

	// ExpectError is the runtime error code the run must abort with.
	ExpectError string `yaml:"expect_error,omitempty"`

	// Assertions validate the final trace.
	Assertions []Assertion `yaml:"assertions"`
}

// ProgramRef is a program file path or an inline program.
type ProgramRef struct {
	Path string
	Spec *ir.ProgramSpec
}

// UnmarshalYAML accepts a scalar path or a program mapping.
func (p *ProgramRef) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Decode(&p.Path)
	case yaml.MappingNode:
		// Round-trip through the program loader so inline programs get the
		// same strict decoding as program files.
		data, err := yaml.Marshal(node)
		if err != nil {
			return err
		}
		spec, err := compiler.ParseYAML(data)
		if err != nil {
			return err
		}
		p.Spec = spec
		return nil
	}
	return fmt.Errorf("line %d: program must be a path or a mapping", node.Line)
}

// Injection is an event scheduled by the scenario.
type Injection struct {
	Trigger string `yaml:"trigger"`
	Delay   string `yaml:"delay,omitempty"`
	Value   any    `yaml:"value,omitempty"`

	// Async posts the event through ScheduleAsync (physical actions only).
	Async bool `yaml:"async,omitempty"`

	// ExpectError is the runtime error code the scheduling call must return.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the trace.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Reactions is the expected order (dispatch_order).
	Reactions []string `yaml:"reactions,omitempty"`

	// Instant restricts dispatch_order to one instant, matched exactly.
	Instant *int64 `yaml:"instant,omitempty"`

	// Reaction is used by dispatch_count and value_seen.
	Reaction string `yaml:"reaction,omitempty"`

	// Trigger and Value are used by value_seen. A missing value only
	// checks presence.
	Trigger string `yaml:"trigger,omitempty"`
	Value   any    `yaml:"value,omitempty"`

	// At is an elapsed logical time (value_seen, final_time).
	At        string  `yaml:"at,omitempty"`
	Microstep *uint32 `yaml:"microstep,omitempty"`

	// Max bounds the final elapsed time (final_time).
	Max string `yaml:"max,omitempty"`

	// Count is used by dispatch_count, instants, dropped, deadline_violations.
	Count int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatchOrder      = "dispatch_order"
	AssertDispatchCount      = "dispatch_count"
	AssertValueSeen          = "value_seen"
	AssertFinalTime          = "final_time"
	AssertInstants           = "instants"
	AssertDropped            = "dropped"
	AssertDeadlineViolations = "deadline_violations"
)

// ProgramNotFoundError is returned when a scenario references a missing
// program file.
type ProgramNotFoundError struct {
	Scenario     string
	ProgramPath  string
	ResolvedPath string
}

// Error implements the error interface.
func (e *ProgramNotFoundError) Error() string {
	return fmt.Sprintf(
		"scenario %q references program file %q which does not exist (resolved to: %s)",
		e.Scenario,
		e.ProgramPath,
		e.ResolvedPath,
	)
}

// LoadScenario reads and parses a scenario YAML file. A relative program
// path is resolved against the scenario file's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving the program path relative to basePath.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, basePath)
}

// ParseScenario parses scenario YAML. basePath resolves a relative program
// path; empty leaves it as is.
func ParseScenario(data []byte, basePath string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if p := scenario.Program.Path; p != "" && !filepath.IsAbs(p) && basePath != "" {
		scenario.Program.Path = filepath.Join(basePath, p)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch filepath.Ext(e.Name()) {
		case ".yaml", ".yml":
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	scenarios := make([]*Scenario, 0, len(names))
	for _, name := range names {
		s, err := LoadScenario(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case s.Program.Spec != nil:
	case s.Program.Path != "":
		if _, err := os.Stat(s.Program.Path); os.IsNotExist(err) {
			return &ProgramNotFoundError{
				Scenario:     s.Name,
				ProgramPath:  filepath.Base(s.Program.Path),
				ResolvedPath: s.Program.Path,
			}
		}
	default:
		return fmt.Errorf("program is required")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, inj := range s.Inject {
		if inj.Trigger == "" {
			return fmt.Errorf("inject[%d]: trigger is required", i)
		}
		if inj.Delay != "" {
			if _, err := ir.ParseInterval(inj.Delay); err != nil {
				return fmt.Errorf("inject[%d]: delay: %w", i, err)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	checkInterval := func(field, v string) error {
		if v == "" {
			return nil
		}
		if _, err := ir.ParseInterval(v); err != nil {
			return fmt.Errorf("assertions[%d]: %s: %w", index, field, err)
		}
		return nil
	}

	switch a.Type {
	case AssertDispatchOrder:
		if len(a.Reactions) == 0 {
			return fmt.Errorf("assertions[%d]: reactions list is required for dispatch_order", index)
		}
	case AssertDispatchCount:
		if a.Reaction == "" {
			return fmt.Errorf("assertions[%d]: reaction is required for dispatch_count", index)
		}
	case AssertValueSeen:
		if a.Reaction == "" || a.Trigger == "" {
			return fmt.Errorf("assertions[%d]: reaction and trigger are required for value_seen", index)
		}
		if a.Value != nil {
			if _, err := ir.FromGo(a.Value); err != nil {
				return fmt.Errorf("assertions[%d]: value: %w", index, err)
			}
		}
		if err := checkInterval("at", a.At); err != nil {
			return err
		}
	case AssertFinalTime:
		if (a.At == "") == (a.Max == "") {
			return fmt.Errorf("assertions[%d]: final_time needs exactly one of at and max", index)
		}
		if err := checkInterval("at", a.At); err != nil {
			return err
		}
		if err := checkInterval("max", a.Max); err != nil {
			return err
		}
	case AssertInstants, AssertDropped, AssertDeadlineViolations:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	return nil
}
