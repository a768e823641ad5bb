package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/compiler"
	"github.com/roach88/tempo/internal/engine"
	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Database  string
	Timeout   string
	KeepAlive bool
	Fast      bool

	// RunIDs allows overriding the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	RunIDs engine.RunIDGenerator

	// Clock allows overriding the physical clock (for testing).
	Clock engine.PhysicalClock
}

// RunSummary is the outcome of a run.
type RunSummary struct {
	RunID          string `json:"run_id"`
	Program        string `json:"program"`
	FinalElapsed   string `json:"final_elapsed"`
	FinalMicrostep uint32 `json:"final_microstep"`
	Instants       int64  `json:"instants"`
	Dispatches     int64  `json:"dispatches"`
	Scheduled      int64  `json:"scheduled"`
	Dropped        int64  `json:"dropped"`
	DeadlineMisses int64  `json:"deadline_misses"`
	Database       string `json:"database,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <program>",
		Short: "Run a program",
		Long: `Run a CUE or YAML program until it stops.

A run ends when the stop time is reached, a reaction requests stop, or
the event queue empties (unless --keepalive is set). Ctrl-C requests a
stop; the shutdown instant still runs.

With --db every instant, dispatch and scheduling decision is recorded
to a SQLite trace store for the trace and replay commands.

Flags override the program's own run settings.

Example:
  tempo run ./blink.cue
  tempo run --db ./tempo.db --timeout "2 sec" --fast ./blink.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite trace database")
	cmd.Flags().StringVar(&opts.Timeout, "timeout", "", `stop after this much logical time, e.g. "500 msec"`)
	cmd.Flags().BoolVar(&opts.KeepAlive, "keepalive", false, "wait for input when the event queue is empty")
	cmd.Flags().BoolVar(&opts.Fast, "fast", false, "do not wait for physical time to catch up")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
	logger := newLogger(opts.RootOptions, formatter.GetErrWriter())

	compiled, err := loadAndCompile(path)
	if err != nil {
		code, message := describeError(err)
		_ = formatter.Error(code, message, err.Error())
		return WrapExitError(ExitCommandError, "failed to compile program", err)
	}

	settings, err := runSettings(compiled.Run, opts, cmd)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid run settings", err)
	}

	engineOpts := append(settings.Options(), engine.WithLogger(logger))
	if opts.RunIDs != nil {
		engineOpts = append(engineOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}
	if opts.Clock != nil {
		engineOpts = append(engineOpts, engine.WithPhysicalClock(opts.Clock))
	}

	if opts.Database != "" {
		logger.Debug("opening trace store", "path", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil {
				logger.Error("error closing database", "error", closeErr)
			}
		}()
		engineOpts = append(engineOpts, engine.WithRecorder(st))
	}

	sched := engine.New(compiled.Program, engineOpts...)
	if err := sched.Initialize(); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize scheduler", err)
	}
	if err := compiled.ScheduleInitial(sched); err != nil {
		return WrapExitError(ExitCommandError, "failed to schedule initial events", err)
	}

	// Setup signal handling for graceful shutdown
	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, stopping", "signal", sig)
			sched.RequestStop()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	runErr := sched.Run(ctx)
	summary := summarize(sched, opts.Database)
	formatter.RunID = summary.RunID

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		_ = formatter.Error(ErrCodeRunFailed, runErr.Error(), summary)
		return WrapExitError(ExitFailure, "run aborted", runErr)
	}
	return outputRunSummary(formatter, summary)
}

// runSettings applies the flags the user set on top of the program's
// declared settings.
func runSettings(declared compiler.RunSettings, opts *RunOptions, cmd *cobra.Command) (compiler.RunSettings, error) {
	settings := declared
	if cmd.Flags().Changed("timeout") {
		d, err := ir.ParseInterval(opts.Timeout)
		if err != nil {
			return settings, fmt.Errorf("--timeout: %w", err)
		}
		settings.Timeout = d
	}
	if cmd.Flags().Changed("keepalive") {
		settings.KeepAlive = opts.KeepAlive
	}
	if cmd.Flags().Changed("fast") {
		settings.Fast = opts.Fast
	}
	return settings, nil
}

func summarize(s *engine.Scheduler, database string) RunSummary {
	st := s.Stats()
	return RunSummary{
		RunID:          s.RunID(),
		Program:        s.Program().Name,
		FinalElapsed:   st.FinalTag.Since(s.Clock().StartTime()).String(),
		FinalMicrostep: st.FinalTag.Microstep,
		Instants:       st.Instants,
		Dispatches:     st.Dispatches,
		Scheduled:      st.Scheduled,
		Dropped:        st.Dropped,
		DeadlineMisses: st.DeadlineMisses,
		Database:       database,
	}
}

func outputRunSummary(formatter *OutputFormatter, s RunSummary) error {
	if formatter.Format == "json" {
		return formatter.Success(s)
	}

	w := formatter.Writer
	fmt.Fprintf(w, "✓ %s finished at (%s, %d)\n", s.Program, s.FinalElapsed, s.FinalMicrostep)
	fmt.Fprintf(w, "  run:         %s\n", s.RunID)
	fmt.Fprintf(w, "  instants:    %d\n", s.Instants)
	fmt.Fprintf(w, "  dispatches:  %d\n", s.Dispatches)
	fmt.Fprintf(w, "  scheduled:   %d\n", s.Scheduled)
	fmt.Fprintf(w, "  dropped:     %d\n", s.Dropped)
	if s.DeadlineMisses > 0 {
		fmt.Fprintf(w, "  deadlines:   %d missed\n", s.DeadlineMisses)
	}
	if s.Database != "" {
		fmt.Fprintf(w, "  recorded to: %s\n", s.Database)
	}
	return nil
}

// discardLogger is used by commands that run schedulers purely for their
// traces.
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(math.MaxInt)}))
}
