package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// ErrNotFound is returned when a run does not exist.
var ErrNotFound = errors.New("run not found")

// Run is a stored run header.
type Run struct {
	Info     ir.RunInfo
	Finished bool
	// Stats is the zero value until the run finished.
	Stats ir.RunStats
}

// GetRun retrieves a run by ID.
// Returns ErrNotFound if it does not exist.
func (s *Store) GetRun(ctx context.Context, id string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program, start_time, stop_time, keepalive, fast, version, finished, stats
		FROM runs
		WHERE id = ?
	`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("get run %q: %w", id, ErrNotFound)
	}
	return run, err
}

// LatestRun returns the most recently started run.
// Returns ErrNotFound if the store is empty.
func (s *Store) LatestRun(ctx context.Context) (Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, program, start_time, stop_time, keepalive, fast, version, finished, stats
		FROM runs
		ORDER BY rowid DESC
		LIMIT 1
	`)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("latest run: %w", ErrNotFound)
	}
	return run, err
}

// ListRuns returns every run in the order they were started.
// Returns an empty slice (not nil) for an empty store.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, program, start_time, stop_time, keepalive, fast, version, finished, stats
		FROM runs
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// ReadInstants returns the instants of a run ordered by seq.
// Returns an empty slice (not nil) if none were recorded.
func (s *Store) ReadInstants(ctx context.Context, runID string) ([]ir.InstantRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, time, microstep, elapsed, triggers
		FROM instants
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query instants: %w", err)
	}
	defer rows.Close()

	out := []ir.InstantRecord{}
	for rows.Next() {
		var (
			rec       ir.InstantRecord
			t         int64
			microstep int64
			elapsed   int64
			triggers  string
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &t, &microstep, &elapsed, &triggers); err != nil {
			return nil, fmt.Errorf("scan instant: %w", err)
		}
		rec.Tag = ir.Tag{Time: ir.Instant(t), Microstep: uint32(microstep)}
		rec.Elapsed = ir.Interval(elapsed)
		if rec.Triggers, err = unmarshalTriggers(triggers); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate instants: %w", err)
	}
	return out, nil
}

// ReadDispatches returns the dispatches of a run ordered by seq.
func (s *Store) ReadDispatches(ctx context.Context, runID string) ([]ir.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, instant, time, microstep, reaction, priority, lag, missed
		FROM dispatches
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	return collectDispatches(rows)
}

// ReadReactionDispatches returns the dispatches of a single reaction.
func (s *Store) ReadReactionDispatches(ctx context.Context, runID, reaction string) ([]ir.DispatchRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, instant, time, microstep, reaction, priority, lag, missed
		FROM dispatches
		WHERE run_id = ? AND reaction = ?
		ORDER BY seq ASC
	`, runID, reaction)
	if err != nil {
		return nil, fmt.Errorf("query dispatches: %w", err)
	}
	return collectDispatches(rows)
}

func collectDispatches(rows *sql.Rows) ([]ir.DispatchRecord, error) {
	defer rows.Close()

	out := []ir.DispatchRecord{}
	for rows.Next() {
		var (
			rec       ir.DispatchRecord
			t         int64
			microstep int64
			lag       int64
			missed    int
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Instant, &t, &microstep,
			&rec.Reaction, &rec.Priority, &lag, &missed); err != nil {
			return nil, fmt.Errorf("scan dispatch: %w", err)
		}
		rec.Tag = ir.Tag{Time: ir.Instant(t), Microstep: uint32(microstep)}
		rec.Lag = ir.Interval(lag)
		rec.Missed = missed != 0
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate dispatches: %w", err)
	}
	return out, nil
}

// ReadSchedules returns the scheduling requests of a run ordered by seq.
func (s *Store) ReadSchedules(ctx context.Context, runID string) ([]ir.ScheduleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, handle, trigger, time, microstep, payload, outcome
		FROM schedules
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query schedules: %w", err)
	}
	defer rows.Close()

	out := []ir.ScheduleRecord{}
	for rows.Next() {
		var (
			rec       ir.ScheduleRecord
			handle    int64
			t         int64
			microstep int64
			payload   string
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &handle, &rec.Trigger, &t, &microstep,
			&payload, &rec.Outcome); err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		rec.Handle = uint64(handle)
		rec.Tag = ir.Tag{Time: ir.Instant(t), Microstep: uint32(microstep)}
		if rec.Payload, err = unmarshalPayload(payload); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schedules: %w", err)
	}
	return out, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (Run, error) {
	var (
		run       Run
		start     int64
		stop      int64
		keepalive int
		fast      int
		finished  int
		stats     sql.NullString
	)
	err := row.Scan(&run.Info.ID, &run.Info.Program, &start, &stop, &keepalive, &fast,
		&run.Info.Version, &finished, &stats)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scan run: %w", err)
	}
	run.Info.StartTime = ir.Instant(start)
	run.Info.StopTime = ir.Instant(stop)
	run.Info.KeepAlive = keepalive != 0
	run.Info.Fast = fast != 0
	run.Finished = finished != 0
	if stats.Valid {
		if run.Stats, err = unmarshalStats(stats.String); err != nil {
			return Run{}, err
		}
	}
	return run, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
