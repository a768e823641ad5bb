package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
	"github.com/roach88/tempo/internal/testutil"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	RunID    string // optional - specific run only
}

// ReplayRunResult holds the replay result for a single recorded run.
type ReplayRunResult struct {
	RunID          string `json:"run_id"`
	Instants       int    `json:"instants"`
	Dispatches     int    `json:"dispatches"`
	Finished       bool   `json:"finished"`
	RecordedDigest string `json:"recorded_digest"`
	ReplayedDigest string `json:"replayed_digest"`
	Deterministic  bool   `json:"deterministic"`
	Divergence     string `json:"divergence,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Program          string            `json:"program"`
	Runs             []ReplayRunResult `json:"runs"`
	TotalRuns        int               `json:"total_runs"`
	AllDeterministic bool              `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay <program>",
		Short: "Re-run recorded runs and verify determinism",
		Long: `Re-run recorded runs of a program and verify determinism.

Each recorded run of the program is executed again with the same start
time, stop time and run settings, on a virtual physical clock, into a
scratch in-memory store. The instants and dispatches of the two runs
must match one for one. Physical lag is not compared.

A run that never finished (the process died) is compared up to its
last recorded instant.

Events injected from outside the program (async physical actions) are
not part of the program and cannot be replayed.

Exit codes:
  0 - All runs are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, etc.)

Examples:
  tempo replay --db ./tempo.db ./blink.cue
  tempo replay --db ./tempo.db --run 0190c5e8-... ./blink.cue
  tempo replay --db ./tempo.db ./blink.cue --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay specific run only")

	return cmd
}

func runReplay(opts *ReplayOptions, path string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	spec, err := LoadProgram(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load program", err)
	}
	if _, err := compiler.Compile(spec); err != nil {
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runs, err := selectRuns(ctx, st, spec.Name, opts.RunID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			_ = formatter.Error(ErrCodeRunNotFound, err.Error(), nil)
			return WrapExitError(ExitCommandError, "run not found", err)
		}
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	result := ReplayResult{
		Program:          spec.Name,
		Runs:             make([]ReplayRunResult, 0, len(runs)),
		TotalRuns:        len(runs),
		AllDeterministic: true,
	}

	for _, run := range runs {
		formatter.VerboseLog("Replaying run %s", run.Info.ID)
		runResult, err := replayAndVerifyRun(ctx, st, spec, run)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay run %s", run.Info.ID), err)
		}
		if !runResult.Deterministic {
			result.AllDeterministic = false
		}
		result.Runs = append(result.Runs, runResult)
	}

	if opts.Format == "json" {
		return outputReplayJSON(formatter, result)
	}
	return outputReplayText(formatter, result)
}

// selectRuns returns the named run, or every recorded run of the program.
func selectRuns(ctx context.Context, st *store.Store, program, runID string) ([]store.Run, error) {
	if runID != "" {
		run, err := st.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if run.Info.Program != program {
			return nil, fmt.Errorf("run %s recorded program %q, not %q", runID, run.Info.Program, program)
		}
		return []store.Run{run}, nil
	}

	all, err := st.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	runs := []store.Run{}
	for _, r := range all {
		if r.Info.Program == program {
			runs = append(runs, r)
		}
	}
	return runs, nil
}

// replayAndVerifyRun re-executes a recorded run and compares the traces.
func replayAndVerifyRun(ctx context.Context, st *store.Store, spec *ir.ProgramSpec, run store.Run) (ReplayRunResult, error) {
	recorded, err := st.ReadTrace(ctx, run.Info.ID)
	if err != nil {
		return ReplayRunResult{}, err
	}

	replayed, err := replayRun(ctx, spec, run.Info)
	if err != nil {
		return ReplayRunResult{}, err
	}

	if !run.Finished {
		// Only the recorded prefix can be checked.
		replayed.Instants = truncate(replayed.Instants, len(recorded.Instants))
		replayed.Dispatches = truncate(replayed.Dispatches, len(recorded.Dispatches))
	}

	result := ReplayRunResult{
		RunID:      run.Info.ID,
		Instants:   len(recorded.Instants),
		Dispatches: len(recorded.Dispatches),
		Finished:   run.Finished,
	}
	if result.RecordedDigest, err = recorded.Digest(); err != nil {
		return ReplayRunResult{}, err
	}
	if result.ReplayedDigest, err = replayed.Digest(); err != nil {
		return ReplayRunResult{}, err
	}

	div := store.Compare(recorded, replayed)
	result.Deterministic = div == nil && result.RecordedDigest == result.ReplayedDigest
	if div != nil {
		result.Divergence = div.String()
	}
	return result, nil
}

// replayRun executes the program again with the recorded run settings and
// returns its trace.
func replayRun(ctx context.Context, spec *ir.ProgramSpec, info ir.RunInfo) (store.Trace, error) {
	// Each replay compiles afresh: builtin bodies keep per-run counters.
	compiled, err := compiler.Compile(spec)
	if err != nil {
		return store.Trace{}, err
	}

	scratch, err := store.OpenMemory()
	if err != nil {
		return store.Trace{}, err
	}
	defer scratch.Close()

	var duration ir.Interval
	if info.StopTime != ir.Forever {
		duration = info.StopTime.Sub(info.StartTime)
	}
	// An unbounded keepalive run was ended from outside; without input the
	// replay would wait forever.
	keepAlive := info.KeepAlive && duration > 0

	sched := engine.New(compiled.Program,
		engine.WithDuration(duration),
		engine.WithKeepAlive(keepAlive),
		engine.WithFast(info.Fast),
		engine.WithStartTime(info.StartTime),
		engine.WithPhysicalClock(testutil.NewManualClock(time.Unix(0, int64(info.StartTime)).UTC())),
		engine.WithRunIDGenerator(engine.NewFixedGenerator(info.ID)),
		engine.WithLogger(discardLogger()),
		engine.WithRecorder(scratch),
	)
	if err := sched.Initialize(); err != nil {
		return store.Trace{}, err
	}
	if err := compiled.ScheduleInitial(sched); err != nil {
		return store.Trace{}, err
	}
	// Aborted runs are replayed too; the abort is part of the behavior.
	_ = sched.Run(ctx)

	return scratch.ReadTrace(ctx, info.ID)
}

func truncate[T any](s []T, n int) []T {
	if len(s) > n {
		return s[:n]
	}
	return s
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(formatter *OutputFormatter, result ReplayResult) error {
	if !result.AllDeterministic {
		_ = formatter.Error(ErrCodeNotDeterministic, "replay diverged from the recording", result)
		return NewExitError(ExitFailure, "non-deterministic replay detected")
	}
	return formatter.Success(result)
}

// outputReplayText outputs the replay result as text.
func outputReplayText(formatter *OutputFormatter, result ReplayResult) error {
	w := formatter.Writer

	if len(result.Runs) == 0 {
		fmt.Fprintf(w, "No recorded runs of %s.\n", result.Program)
		return nil
	}

	fmt.Fprintf(w, "Replay of %s: %d run(s)\n\n", result.Program, result.TotalRuns)
	for _, r := range result.Runs {
		mark := "✓"
		if !r.Deterministic {
			mark = "✗"
		}
		partial := ""
		if !r.Finished {
			partial = " (unfinished, prefix only)"
		}
		fmt.Fprintf(w, "%s %s: %d instant(s), %d dispatch(es)%s\n", mark, r.RunID, r.Instants, r.Dispatches, partial)
		if formatter.Verbose {
			fmt.Fprintf(w, "  recorded: %s\n", r.RecordedDigest)
			fmt.Fprintf(w, "  replayed: %s\n", r.ReplayedDigest)
		}
		if r.Divergence != "" {
			fmt.Fprintf(w, "  diverged at %s\n", r.Divergence)
		}
	}
	fmt.Fprintln(w)

	if !result.AllDeterministic {
		fmt.Fprintln(w, "✗ Replay diverged from the recording")
		return NewExitError(ExitFailure, "non-deterministic replay detected")
	}
	fmt.Fprintln(w, "✓ All runs deterministic")
	return nil
}
