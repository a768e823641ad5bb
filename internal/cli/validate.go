package cli

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/compiler"
)

// ValidationIssue is one problem found in a program file.
type ValidationIssue struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line,omitempty"`
}

// FileValidation holds the validation results of one program file.
type FileValidation struct {
	Path    string            `json:"path"`
	Program string            `json:"program,omitempty"`
	Valid   bool              `json:"valid"`
	Errors  []ValidationIssue `json:"errors,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid bool             `json:"valid"`
	Files []FileValidation `json:"files"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <program>...",
		Short: "Validate programs without running them",
		Long: `Validate CUE or YAML programs without running them.

Checks syntax, trigger and reaction declarations, body arguments,
intervals and port dependency cycles. All problems in all files are
reported, not just the first.

Examples:
  tempo validate ./blink.cue
  tempo validate ./programs/*.yaml --format json`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, paths []string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}

	result := ValidationResult{Valid: true, Files: make([]FileValidation, 0, len(paths))}
	for _, path := range paths {
		formatter.VerboseLog("Validating %s", path)

		fv, err := ValidateProgramFile(path)
		if err != nil {
			// Missing files are command errors, not validation failures.
			code, message := describeError(err)
			return outputValidateError(formatter, code, message, nil)
		}
		if !fv.Valid {
			result.Valid = false
		}
		result.Files = append(result.Files, fv)
	}

	if !result.Valid {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateProgramFile validates one program file. The error return is for
// files that do not exist; every other problem is reported in the result.
func ValidateProgramFile(path string) (FileValidation, error) {
	fv := FileValidation{Path: path, Valid: true}

	spec, err := LoadProgram(path)
	if err != nil {
		var loadErr *LoadError
		if errors.As(err, &loadErr) && loadErr.Code == ErrCodeNotFound {
			return fv, err
		}
		fv.Valid = false
		fv.Errors = append(fv.Errors, issueFromLoadError(err))
		return fv, nil
	}
	fv.Program = spec.Name

	for _, verr := range compiler.Validate(spec) {
		fv.Errors = append(fv.Errors, ValidationIssue{Field: verr.Field, Code: verr.Code, Message: verr.Message})
	}
	if len(fv.Errors) == 0 {
		// The engine has a few checks of its own.
		if _, err := compiler.Compile(spec); err != nil {
			fv.Errors = append(fv.Errors, ValidationIssue{Field: "program", Code: ErrCodeGeneric, Message: err.Error()})
		}
	}
	fv.Valid = len(fv.Errors) == 0
	return fv, nil
}

func issueFromLoadError(err error) ValidationIssue {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		issue := ValidationIssue{Field: "load", Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.Line = loadErr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Field: "load", Code: ErrCodeGeneric, Message: err.Error()}
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Format == "json" {
		return formatter.Success(result)
	}

	for _, f := range result.Files {
		fmt.Fprintf(formatter.Writer, "✓ %s (%s)\n", f.Path, f.Program)
	}
	fmt.Fprintln(formatter.Writer, "✓ All programs valid")
	return nil
}

// outputValidateError outputs a single validation error.
func outputValidateError(formatter *OutputFormatter, code, message string, details any) error {
	_ = formatter.Error(code, message, details)
	// Missing inputs are command-level errors (exit code 2)
	return NewExitError(ExitCommandError, fmt.Sprintf("%s: %s", code, message))
}

// outputValidationErrors outputs every file's validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	count := 0
	var first *ValidationIssue
	for i := range result.Files {
		for j := range result.Files[i].Errors {
			if first == nil {
				first = &result.Files[i].Errors[j]
			}
			count++
		}
	}

	if formatter.Format == "json" {
		response := CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    first.Code,
				Message: first.Message,
			},
		}

		encoder := json.NewEncoder(formatter.Writer)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(response); err != nil {
			return err
		}

		// Validation failures = exit code 1 (test/validation failure)
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)

	for _, f := range result.Files {
		if f.Valid {
			fmt.Fprintf(formatter.Writer, "✓ %s\n\n", f.Path)
			continue
		}
		fmt.Fprintf(formatter.Writer, "%s\n", f.Path)
		for _, e := range f.Errors {
			if e.Line > 0 {
				fmt.Fprintf(formatter.Writer, "  line %d\n", e.Line)
			}
			fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", e.Code, e.Field, e.Message)
		}
		fmt.Fprintln(formatter.Writer)
	}

	// Validation failures = exit code 1 (test/validation failure)
	return NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", count))
}
