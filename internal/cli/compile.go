package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/engine"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// TriggerPlan describes a compiled trigger.
type TriggerPlan struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Offset     string `json:"offset,omitempty"`
	Period     string `json:"period,omitempty"`
	MinSpacing string `json:"min_spacing,omitempty"`
	Policy     string `json:"policy,omitempty"`
}

// ReactionPlan describes a compiled reaction with its assigned priority.
type ReactionPlan struct {
	Name     string   `json:"name"`
	Priority int64    `json:"priority"`
	Deadline string   `json:"deadline,omitempty"`
	Triggers []string `json:"triggers"`
	Effects  []string `json:"effects,omitempty"`
}

// CompilationResult is the execution plan of a compiled program.
type CompilationResult struct {
	Program   string         `json:"program"`
	Timeout   string         `json:"timeout,omitempty"`
	KeepAlive bool           `json:"keepalive"`
	Fast      bool           `json:"fast"`
	Triggers  []TriggerPlan  `json:"triggers"`
	Reactions []ReactionPlan `json:"reactions"`
	Initial   int            `json:"initial_events"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program>",
		Short: "Compile a program and print its execution plan",
		Long: `Compile a CUE or YAML program and print its execution plan.

The plan lists every trigger and every reaction with the priority the
compiler assigned to it. Reactions without explicit priorities are
ranked by declaration order and port dependencies.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	formatter.VerboseLog("Compiling %s", path)
	compiled, err := loadAndCompile(path)
	if err != nil {
		if verrs, ok := compiler.AsValidationErrors(err); ok {
			return outputCompileErrors(formatter, verrs)
		}
		code, message := describeError(err)
		return outputCompileError(formatter, code, message, nil)
	}

	result := buildPlan(compiled)

	if opts.Output != "" {
		if err := writePlanToFile(result, opts.Output); err != nil {
			return outputCompileError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, compiled.Program, result, opts.Output)
}

// buildPlan snapshots the compiled program.
func buildPlan(c *compiler.Compiled) *CompilationResult {
	p := c.Program
	result := &CompilationResult{
		Program:   p.Name,
		KeepAlive: c.Run.KeepAlive,
		Fast:      c.Run.Fast,
		Triggers:  make([]TriggerPlan, 0, p.NumTriggers()),
		Reactions: make([]ReactionPlan, 0, p.NumReactions()),
		Initial:   len(c.Schedules),
	}
	if c.Run.Timeout > 0 {
		result.Timeout = c.Run.Timeout.String()
	}

	for i, n := 0, p.NumTriggers(); i < n; i++ {
		spec, _ := p.Trigger(engine.TriggerID(i))
		tp := TriggerPlan{Name: spec.Name, Kind: spec.Kind.String()}
		if spec.Offset > 0 {
			tp.Offset = spec.Offset.String()
		}
		if spec.Period > 0 {
			tp.Period = spec.Period.String()
		}
		if spec.MinSpacing > 0 {
			tp.MinSpacing = spec.MinSpacing.String()
			tp.Policy = spec.Policy.String()
		}
		result.Triggers = append(result.Triggers, tp)
	}

	for i, n := 0, p.NumReactions(); i < n; i++ {
		info, _ := p.ReactionInfo(engine.ReactionID(i))
		rp := ReactionPlan{
			Name:     info.Name,
			Priority: info.Priority,
			Triggers: info.Triggers,
			Effects:  info.Effects,
		}
		if info.Deadline > 0 {
			rp.Deadline = info.Deadline.String()
		}
		result.Reactions = append(result.Reactions, rp)
	}
	return result
}

// outputCompileSuccess outputs the plan.
func outputCompileSuccess(formatter *OutputFormatter, p *engine.Program, result *CompilationResult, outputFile string) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Compiled %s: %d trigger(s), %d reaction(s)\n\n",
		result.Program, len(result.Triggers), len(result.Reactions))

	if len(result.Triggers) > 0 {
		fmt.Fprintln(formatter.Writer, "Triggers:")
		for _, t := range result.Triggers {
			fmt.Fprintf(formatter.Writer, "  %s: %s", t.Name, t.Kind)
			if t.Period != "" {
				fmt.Fprintf(formatter.Writer, " every %s", t.Period)
			}
			if t.MinSpacing != "" {
				fmt.Fprintf(formatter.Writer, " spacing %s (%s)", t.MinSpacing, t.Policy)
			}
			fmt.Fprintln(formatter.Writer)
		}
		fmt.Fprintln(formatter.Writer)
	}

	fmt.Fprintln(formatter.Writer, "Reactions:")
	for i, n := 0, p.NumReactions(); i < n; i++ {
		info, _ := p.ReactionInfo(engine.ReactionID(i))
		fmt.Fprint(formatter.Writer, "  ")
		engine.PrintReaction(formatter.Writer, info)
	}
	fmt.Fprintln(formatter.Writer)

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "Wrote plan to %s\n", outputFile)
	}

	return nil
}

// outputCompileError outputs a single compilation error.
func outputCompileError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Compilation errors are command-level errors (exit code 2)
	return WrapExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message), nil)
}

// outputCompileErrors outputs multiple validation errors.
func outputCompileErrors(formatter *OutputFormatter, errs compiler.ValidationErrors) error {
	if formatter.Format == "json" {
		cliErrors := make([]CLIError, len(errs))
		for i, err := range errs {
			cliErrors[i] = CLIError{
				Code:    err.Code,
				Message: err.Message,
				Details: err.Field,
			}
		}

		response := CLIResponse{
			Status: "error",
			Error:  &cliErrors[0],
			Data:   cliErrors, // Include all errors in data
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
	}

	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	return NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))
}

// writePlanToFile writes the plan as indented JSON.
func writePlanToFile(result *CompilationResult, filename string) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling plan: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
