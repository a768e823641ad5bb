package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tempo/internal/store"
)

// RunsOptions holds flags for the runs command.
type RunsOptions struct {
	*RootOptions
	Database   string
	Unfinished bool
}

// RunListing describes one recorded run.
type RunListing struct {
	RunID      string `json:"run_id"`
	Program    string `json:"program"`
	Finished   bool   `json:"finished"`
	Instants   int64  `json:"instants"`
	Dispatches int64  `json:"dispatches"`
	// LastElapsed is the elapsed time of the last recorded instant.
	LastElapsed string `json:"last_elapsed,omitempty"`
}

// NewRunsCommand creates the runs command.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs",
		Long: `List the runs recorded in a trace database, oldest first.

With --unfinished only runs that never recorded an end are listed,
typically because the process was killed. For those the last recorded
instant shows how far the run got.

Examples:
  tempo runs --db ./tempo.db
  tempo runs --db ./tempo.db --unfinished`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRuns(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().BoolVar(&opts.Unfinished, "unfinished", false, "only list runs that never finished")

	return cmd
}

func runRuns(opts *RunsOptions, cmd *cobra.Command) error {
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

	var runs []store.Run
	if opts.Unfinished {
		runs, err = st.FindUnfinishedRuns(ctx)
	} else {
		runs, err = st.ListRuns(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list runs", err)
	}

	listings := make([]RunListing, 0, len(runs))
	for _, r := range runs {
		l := RunListing{
			RunID:      r.Info.ID,
			Program:    r.Info.Program,
			Finished:   r.Finished,
			Instants:   r.Stats.Instants,
			Dispatches: r.Stats.Dispatches,
		}
		tag, ok, err := st.LastInstant(ctx, r.Info.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read last instant", err)
		}
		if ok {
			l.LastElapsed = tag.Since(r.Info.StartTime).String()
		}
		listings = append(listings, l)
	}

	if opts.Format == "json" {
		return formatter.Success(listings)
	}

	w := formatter.Writer
	if len(listings) == 0 {
		fmt.Fprintln(w, "No runs found.")
		return nil
	}
	for _, l := range listings {
		status := "finished"
		if !l.Finished {
			status = "unfinished"
		}
		fmt.Fprintf(w, "%s  %-20s %-10s", l.RunID, l.Program, status)
		if l.LastElapsed != "" {
			fmt.Fprintf(w, " last instant at %s", l.LastElapsed)
		}
		fmt.Fprintln(w)
	}
	return nil
}
