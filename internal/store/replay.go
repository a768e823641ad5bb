package store

import (
	"context"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// Trace is everything recorded for one run.
type Trace struct {
	Run        Run
	Instants   []ir.InstantRecord
	Dispatches []ir.DispatchRecord
	Schedules  []ir.ScheduleRecord
}

// ReadTrace loads the full trace of a run.
// Returns ErrNotFound if the run does not exist.
func (s *Store) ReadTrace(ctx context.Context, runID string) (Trace, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return Trace{}, err
	}
	tr := Trace{Run: run}
	if tr.Instants, err = s.ReadInstants(ctx, runID); err != nil {
		return Trace{}, fmt.Errorf("read trace: %w", err)
	}
	if tr.Dispatches, err = s.ReadDispatches(ctx, runID); err != nil {
		return Trace{}, fmt.Errorf("read trace: %w", err)
	}
	if tr.Schedules, err = s.ReadSchedules(ctx, runID); err != nil {
		return Trace{}, fmt.Errorf("read trace: %w", err)
	}
	return tr, nil
}

// Digest returns ir.TraceDigest over the trace's instants and dispatches.
func (t Trace) Digest() (string, error) {
	return ir.TraceDigest(t.Instants, t.Dispatches)
}

// Divergence describes the first point where two traces disagree.
type Divergence struct {
	// Kind is "instant" or "dispatch".
	Kind string
	// Seq is the sequence number of the first differing record.
	Seq      int64
	Expected string
	Actual   string
}

func (d *Divergence) String() string {
	return fmt.Sprintf("%s %d: expected %s, got %s", d.Kind, d.Seq, d.Expected, d.Actual)
}

// Compare reports the first divergence between a recorded trace and a
// replayed one, or nil if their observable behavior matches. Run IDs and
// physical lag are ignored, the same fields TraceDigest ignores.
func Compare(recorded, replayed Trace) *Divergence {
	n := max(len(recorded.Instants), len(replayed.Instants))
	for i := 0; i < n; i++ {
		want, got := describeInstant(recorded.Instants, i), describeInstant(replayed.Instants, i)
		if want != got {
			return &Divergence{Kind: "instant", Seq: int64(i), Expected: want, Actual: got}
		}
	}
	n = max(len(recorded.Dispatches), len(replayed.Dispatches))
	for i := 0; i < n; i++ {
		want, got := describeDispatch(recorded.Dispatches, i), describeDispatch(replayed.Dispatches, i)
		if want != got {
			return &Divergence{Kind: "dispatch", Seq: int64(i), Expected: want, Actual: got}
		}
	}
	return nil
}

func describeInstant(recs []ir.InstantRecord, i int) string {
	if i >= len(recs) {
		return "<none>"
	}
	r := recs[i]
	return fmt.Sprintf("(%s, %d) %v", r.Elapsed, r.Tag.Microstep, r.Triggers)
}

func describeDispatch(recs []ir.DispatchRecord, i int) string {
	if i >= len(recs) {
		return "<none>"
	}
	r := recs[i]
	return fmt.Sprintf("%s@%d prio=%d", r.Reaction, r.Instant, r.Priority)
}

// FindUnfinishedRuns returns runs that started but never recorded an end,
// typically because the process died mid-run.
func (s *Store) FindUnfinishedRuns(ctx context.Context) ([]Run, error) {
	runs, err := s.ListRuns(ctx)
	if err != nil {
		return nil, fmt.Errorf("find unfinished runs: %w", err)
	}
	out := []Run{}
	for _, r := range runs {
		if !r.Finished {
			out = append(out, r)
		}
	}
	return out, nil
}

// LastInstant returns the tag of the last recorded instant of a run and
// false if the run has none.
func (s *Store) LastInstant(ctx context.Context, runID string) (ir.Tag, bool, error) {
	var t, microstep int64
	err := s.db.QueryRowContext(ctx, `
		SELECT time, microstep FROM instants
		WHERE run_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, runID).Scan(&t, &microstep)
	if err != nil {
		if isNoRows(err) {
			return ir.Tag{}, false, nil
		}
		return ir.Tag{}, false, fmt.Errorf("last instant: %w", err)
	}
	return ir.Tag{Time: ir.Instant(t), Microstep: uint32(microstep)}, true, nil
}
