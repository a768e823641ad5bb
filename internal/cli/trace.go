package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/ir"
	"github.com/roach88/tempo/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	RunID     string // optional - defaults to the latest run
	Reaction  string // optional - filter to one reaction
	Schedules bool   // include scheduling decisions
}

// TraceDispatch is one reaction invocation in the timeline.
type TraceDispatch struct {
	Seq      int64  `json:"seq"`
	Reaction string `json:"reaction"`
	Priority int64  `json:"priority"`
	Lag      string `json:"lag"`
	Missed   bool   `json:"missed_deadline,omitempty"`
}

// TraceInstant is one processed tag with the reactions it dispatched.
type TraceInstant struct {
	Seq        int64           `json:"seq"`
	Elapsed    string          `json:"elapsed"`
	Microstep  uint32          `json:"microstep"`
	Triggers   []string        `json:"triggers"`
	Dispatches []TraceDispatch `json:"dispatches"`
}

// TraceSchedule is one scheduling decision.
type TraceSchedule struct {
	Seq       int64  `json:"seq"`
	Handle    uint64 `json:"handle"`
	Trigger   string `json:"trigger"`
	Elapsed   string `json:"elapsed"`
	Microstep uint32 `json:"microstep"`
	Outcome   string `json:"outcome"`
	Payload   any    `json:"payload"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	RunID     string          `json:"run_id"`
	Program   string          `json:"program"`
	Finished  bool            `json:"finished"`
	Timeline  []TraceInstant  `json:"timeline"`
	Schedules []TraceSchedule `json:"schedules,omitempty"`
	Stats     ir.RunStats     `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded timeline of a run",
		Long: `Show the recorded timeline of a run.

Lists every instant in order with the triggers present in it and the
reactions it dispatched, in priority order, with their physical lag.

The output includes:
- Timeline: instants and their dispatches
- Schedules: scheduling decisions with their outcome (--schedules)
- Stats: counters recorded when the run ended

Examples:
  tempo trace --db ./tempo.db
  tempo trace --db ./tempo.db --run 0190c5e8-... --reaction show
  tempo trace --db ./tempo.db --schedules --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "run to show (default: latest)")
	cmd.Flags().StringVar(&opts.Reaction, "reaction", "", "only show instants that dispatched this reaction")
	cmd.Flags().BoolVar(&opts.Schedules, "schedules", false, "include scheduling decisions")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}

	st, err := store.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	runID := opts.RunID
	if runID == "" {
		latest, err := st.LatestRun(ctx)
		if err != nil {
			return traceLookupError(formatter, err)
		}
		runID = latest.Info.ID
	}

	trace, err := st.ReadTrace(ctx, runID)
	if err != nil {
		return traceLookupError(formatter, err)
	}

	dispatches := trace.Dispatches
	if opts.Reaction != "" {
		if dispatches, err = st.ReadReactionDispatches(ctx, runID, opts.Reaction); err != nil {
			return WrapExitError(ExitCommandError, "failed to read dispatches", err)
		}
	}

	result := buildTraceResult(trace, dispatches, opts.Reaction != "")
	if opts.Schedules {
		result.Schedules = buildSchedules(trace)
	}

	if opts.Format == "json" {
		return formatter.Success(result)
	}
	return outputTraceText(formatter.Writer, result, opts.Verbose)
}

func traceLookupError(formatter *OutputFormatter, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		_ = formatter.Error(ErrCodeRunNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, "run not found", err)
	}
	return WrapExitError(ExitCommandError, "failed to read trace", err)
}

// buildTraceResult groups dispatches under their instants. When filtered,
// instants without a matching dispatch are left out.
func buildTraceResult(trace store.Trace, dispatches []ir.DispatchRecord, filtered bool) TraceResult {
	start := trace.Run.Info.StartTime
	byInstant := make(map[int64][]TraceDispatch)
	for _, d := range dispatches {
		byInstant[d.Instant] = append(byInstant[d.Instant], TraceDispatch{
			Seq:      d.Seq,
			Reaction: d.Reaction,
			Priority: d.Priority,
			Lag:      d.Lag.String(),
			Missed:   d.Missed,
		})
	}

	result := TraceResult{
		RunID:    trace.Run.Info.ID,
		Program:  trace.Run.Info.Program,
		Finished: trace.Run.Finished,
		Timeline: []TraceInstant{},
		Stats:    trace.Run.Stats,
	}
	for _, in := range trace.Instants {
		ds, ok := byInstant[in.Seq]
		if filtered && !ok {
			continue
		}
		if ds == nil {
			ds = []TraceDispatch{}
		}
		result.Timeline = append(result.Timeline, TraceInstant{
			Seq:        in.Seq,
			Elapsed:    in.Tag.Since(start).String(),
			Microstep:  in.Tag.Microstep,
			Triggers:   in.Triggers,
			Dispatches: ds,
		})
	}
	return result
}

func buildSchedules(trace store.Trace) []TraceSchedule {
	start := trace.Run.Info.StartTime
	out := make([]TraceSchedule, len(trace.Schedules))
	for i, s := range trace.Schedules {
		out[i] = TraceSchedule{
			Seq:       s.Seq,
			Handle:    s.Handle,
			Trigger:   s.Trigger,
			Elapsed:   s.Tag.Since(start).String(),
			Microstep: s.Tag.Microstep,
			Outcome:   s.Outcome,
			Payload:   ir.ToGo(s.Payload),
		}
	}
	return out
}

// outputTraceText outputs the trace result as text.
func outputTraceText(w io.Writer, result TraceResult, verbose bool) error {
	fmt.Fprintf(w, "Trace for run: %s (%s)\n", result.RunID, result.Program)
	fmt.Fprintf(w, "Status: %s\n", finishedStatus(result.Finished))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no instants)")
	}
	for _, in := range result.Timeline {
		fmt.Fprintf(w, "  [%d] (%s, %d) %s\n", in.Seq, in.Elapsed, in.Microstep, strings.Join(in.Triggers, " "))
		for _, d := range in.Dispatches {
			formatDispatch(w, d, verbose)
		}
	}
	fmt.Fprintln(w)

	if len(result.Schedules) > 0 {
		fmt.Fprintln(w, "=== Schedules ===")
		for _, s := range result.Schedules {
			fmt.Fprintf(w, "  [%d] #%d %s at (%s, %d) %s\n", s.Seq, s.Handle, s.Trigger, s.Elapsed, s.Microstep, s.Outcome)
			if verbose && s.Payload != nil {
				fmt.Fprintf(w, "       Payload: %v\n", s.Payload)
			}
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Instants:   %d\n", result.Stats.Instants)
	fmt.Fprintf(w, "  Dispatches: %d\n", result.Stats.Dispatches)
	fmt.Fprintf(w, "  Scheduled:  %d\n", result.Stats.Scheduled)
	fmt.Fprintf(w, "  Dropped:    %d\n", result.Stats.Dropped)
	fmt.Fprintf(w, "  Deadlines:  %d missed\n", result.Stats.DeadlineMisses)

	return nil
}

// formatDispatch formats a single dispatch for text output.
func formatDispatch(w io.Writer, d TraceDispatch, verbose bool) {
	fmt.Fprintf(w, "       %d %s", d.Priority, d.Reaction)
	if d.Missed {
		fmt.Fprintf(w, " DEADLINE MISSED (lag %s)", d.Lag)
	} else if verbose {
		fmt.Fprintf(w, " lag=%s", d.Lag)
	}
	fmt.Fprintln(w)
}

// finishedStatus returns a human-readable run status.
func finishedStatus(finished bool) string {
	if finished {
		return "Finished"
	}
	return "Unfinished (no end recorded)"
}
