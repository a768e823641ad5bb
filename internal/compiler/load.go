package compiler

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/tempo/internal/ir"
)

// LoadFile reads a program document. The format follows the extension:
// .cue for CUE, .yaml or .yml for YAML.
func LoadFile(path string) (*ir.ProgramSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return ParseCUE(data, path)
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return nil, fmt.Errorf("%s: unsupported program format (want .cue, .yaml or .yml)", path)
	}
}

// ParseYAML decodes a YAML program document. Unknown fields are errors.
func ParseYAML(data []byte) (*ir.ProgramSpec, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var spec ir.ProgramSpec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode yaml program: %w", err)
	}
	return &spec, nil
}

// ParseCUE evaluates a CUE document and compiles its top-level "program"
// struct. The value must be concrete.
//
//	program: {
//		name: "blink"
//		trigger: tick: {kind: "timer", period: "100 msec"}
//		reaction: show: {triggers: ["tick"], body: builtin: "log"}
//	}
func ParseCUE(data []byte, filename string) (*ir.ProgramSpec, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	root := v.LookupPath(cue.ParsePath("program"))
	if !root.Exists() {
		return nil, &CompileError{
			Field:   "program",
			Message: "program is required",
			Pos:     v.Pos(),
		}
	}
	if err := root.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}
	return CompileProgram(root)
}

// CompileProgram converts a CUE program struct into a ProgramSpec.
//
// Triggers and reactions are structs keyed by name; their declaration order
// is preserved and becomes ID order in the engine program.
func CompileProgram(v cue.Value) (*ir.ProgramSpec, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	spec := &ir.ProgramSpec{}

	// Name defaults to the struct label.
	if nameVal := v.LookupPath(cue.ParsePath("name")); nameVal.Exists() {
		name, err := nameVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		spec.Name = name
	} else if labels := v.Path().Selectors(); len(labels) > 0 {
		spec.Name = labels[len(labels)-1].String()
	}

	if runVal := v.LookupPath(cue.ParsePath("run")); runVal.Exists() {
		if err := runVal.Decode(&spec.Run); err != nil {
			return nil, formatCUEError(err)
		}
	}

	var err error
	spec.Triggers, err = parseTriggers(v)
	if err != nil {
		return nil, err
	}
	spec.Reactions, err = parseReactions(v)
	if err != nil {
		return nil, err
	}
	spec.Schedules, err = parseSchedules(v)
	if err != nil {
		return nil, err
	}
	return spec, nil
}

func parseTriggers(v cue.Value) ([]ir.TriggerDecl, error) {
	var triggers []ir.TriggerDecl

	trigVal := v.LookupPath(cue.ParsePath("trigger"))
	if !trigVal.Exists() {
		return triggers, nil
	}
	iter, err := trigVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		var decl ir.TriggerDecl
		if err := iter.Value().Decode(&decl); err != nil {
			return nil, formatCUEError(err)
		}
		decl.Name = iter.Label()
		triggers = append(triggers, decl)
	}
	return triggers, nil
}

func parseReactions(v cue.Value) ([]ir.ReactionDecl, error) {
	var reactions []ir.ReactionDecl

	reactVal := v.LookupPath(cue.ParsePath("reaction"))
	if !reactVal.Exists() {
		return reactions, nil
	}
	iter, err := reactVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		rv := iter.Value()
		var decl ir.ReactionDecl
		if err := rv.Decode(&decl); err != nil {
			return nil, formatCUEError(err)
		}
		decl.Name = iter.Label()

		value, err := parseValue(rv.LookupPath(cue.ParsePath("body.value")))
		if err != nil {
			return nil, err
		}
		decl.Body.Value = value
		reactions = append(reactions, decl)
	}
	return reactions, nil
}

func parseSchedules(v cue.Value) ([]ir.ScheduleDecl, error) {
	var schedules []ir.ScheduleDecl

	schedVal := v.LookupPath(cue.ParsePath("schedule"))
	if !schedVal.Exists() {
		return schedules, nil
	}
	iter, err := schedVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for iter.Next() {
		sv := iter.Value()
		var decl ir.ScheduleDecl
		if err := sv.Decode(&decl); err != nil {
			return nil, formatCUEError(err)
		}
		value, err := parseValue(sv.LookupPath(cue.ParsePath("value")))
		if err != nil {
			return nil, err
		}
		decl.Value = value
		schedules = append(schedules, decl)
	}
	return schedules, nil
}

// parseValue decodes a payload through JSON so numbers keep their exact
// integer form. A missing value is nil.
func parseValue(v cue.Value) (any, error) {
	if !v.Exists() {
		return nil, nil
	}
	data, err := v.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	value, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, &CompileError{Field: "value", Message: err.Error(), Pos: v.Pos()}
	}
	return value, nil
}
