package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"cuelang.org/go/cue/token"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/ir"
)

// LoadError represents an error that occurred while loading a program file.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadProgram reads a CUE or YAML program file. Every failure is a
// *LoadError carrying one of the E00x codes.
func LoadProgram(path string) (*ir.ProgramSpec, error) {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing program file: %v", err)}
	}
	if info.IsDir() {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("is a directory: %s", path)}
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue", ".yaml", ".yml":
	default:
		return nil, &LoadError{Code: ErrCodeUnsupported, Message: fmt.Sprintf("unsupported program format: %s (want .cue, .yaml or .yml)", path)}
	}

	spec, err := compiler.LoadFile(path)
	if err != nil {
		return nil, convertLoadError(err)
	}
	return spec, nil
}

// convertLoadError converts a compiler load error to a LoadError with
// position info.
func convertLoadError(err error) *LoadError {
	var compileErr *compiler.CompileError
	if errors.As(err, &compileErr) {
		return &LoadError{
			Code:    ErrCodeBuildFailed,
			Message: compileErr.Message,
			Pos:     compileErr.Pos,
		}
	}
	return &LoadError{Code: ErrCodeLoadFailed, Message: err.Error()}
}

// loadAndCompile loads a program file and compiles it. Load failures are
// *LoadError; validation failures are compiler.ValidationErrors.
func loadAndCompile(path string) (*compiler.Compiled, error) {
	spec, err := LoadProgram(path)
	if err != nil {
		return nil, err
	}
	return compiler.Compile(spec)
}

// Error code constants - unified across all CLI commands. Program
// validation codes (E1xx) come from the compiler package.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeUnsupported = "E003" // Unsupported program format
	ErrCodeLoadFailed  = "E004" // Program read or decode failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE evaluation failed
	ErrCodeWriteFailed = "E007" // File write error

	// Run and store errors
	ErrCodeRunFailed        = "E201" // Scheduler aborted the run
	ErrCodeRunNotFound      = "E202" // No such run in the trace store
	ErrCodeNotDeterministic = "E203" // Replay diverged from the recording
)

// describeError returns the code and message of a load or compile error.
func describeError(err error) (string, string) {
	var loadErr *LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code, loadErr.Message
	}
	if verrs, ok := compiler.AsValidationErrors(err); ok && len(verrs) > 0 {
		return verrs[0].Code, verrs[0].Message
	}
	return ErrCodeGeneric, err.Error()
}
