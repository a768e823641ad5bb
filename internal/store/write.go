package store

import (
	"context"
	"fmt"

	"github.com/roach88/tempo/internal/ir"
)

// RecordRunStart inserts the run row. Uses ON CONFLICT(id) DO NOTHING for
// idempotency; a duplicate run ID is silently ignored.
func (s *Store) RecordRunStart(ctx context.Context, run ir.RunInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs
		(id, program, start_time, stop_time, keepalive, fast, version)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		run.ID,
		run.Program,
		int64(run.StartTime),
		int64(run.StopTime),
		boolToInt(run.KeepAlive),
		boolToInt(run.Fast),
		run.Version,
	)
	if err != nil {
		return fmt.Errorf("record run start: %w", err)
	}
	return nil
}

// RecordInstant inserts one processed instant.
//
// Note: The run referenced by RunID must exist (foreign key constraint).
func (s *Store) RecordInstant(ctx context.Context, rec ir.InstantRecord) error {
	triggers, err := marshalTriggers(rec.Triggers)
	if err != nil {
		return fmt.Errorf("record instant: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instants
		(run_id, seq, time, microstep, elapsed, triggers)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.RunID,
		rec.Seq,
		int64(rec.Tag.Time),
		int64(rec.Tag.Microstep),
		int64(rec.Elapsed),
		triggers,
	)
	if err != nil {
		return fmt.Errorf("record instant: %w", err)
	}
	return nil
}

// RecordDispatch inserts one reaction invocation.
func (s *Store) RecordDispatch(ctx context.Context, rec ir.DispatchRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches
		(run_id, seq, instant, time, microstep, reaction, priority, lag, missed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.RunID,
		rec.Seq,
		rec.Instant,
		int64(rec.Tag.Time),
		int64(rec.Tag.Microstep),
		rec.Reaction,
		rec.Priority,
		int64(rec.Lag),
		boolToInt(rec.Missed),
	)
	if err != nil {
		return fmt.Errorf("record dispatch: %w", err)
	}
	return nil
}

// RecordSchedule inserts one scheduling request. The payload is serialized
// to canonical JSON per RFC 8785.
func (s *Store) RecordSchedule(ctx context.Context, rec ir.ScheduleRecord) error {
	payload, err := marshalPayload(rec.Payload)
	if err != nil {
		return fmt.Errorf("record schedule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO schedules
		(run_id, seq, handle, trigger, time, microstep, payload, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`,
		rec.RunID,
		rec.Seq,
		int64(rec.Handle),
		rec.Trigger,
		int64(rec.Tag.Time),
		int64(rec.Tag.Microstep),
		payload,
		rec.Outcome,
	)
	if err != nil {
		return fmt.Errorf("record schedule: %w", err)
	}
	return nil
}

// RecordRunEnd marks the run finished and stores its stats.
// Returns ErrNotFound if the run was never started.
func (s *Store) RecordRunEnd(ctx context.Context, runID string, stats ir.RunStats) error {
	statsJSON, err := marshalStats(stats)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET finished = 1, stats = ? WHERE id = ?
	`, statsJSON, runID)
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record run end: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("record run end %q: %w", runID, ErrNotFound)
	}
	return nil
}
