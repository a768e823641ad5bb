package engine

import (
	"context"

	"github.com/roach88/tempo/internal/ir"
)

// Recorder persists a run's trace. Records arrive in the order they happened
// and are flushed at instant boundaries, never from inside a reaction.
//
// Implemented by store.Store.
type Recorder interface {
	RecordRunStart(ctx context.Context, run ir.RunInfo) error
	RecordInstant(ctx context.Context, rec ir.InstantRecord) error
	RecordDispatch(ctx context.Context, rec ir.DispatchRecord) error
	RecordSchedule(ctx context.Context, rec ir.ScheduleRecord) error
	RecordRunEnd(ctx context.Context, runID string, stats ir.RunStats) error
}

type runEnd struct {
	runID string
	stats ir.RunStats
}

func (s *Scheduler) record(rec any) {
	if s.cfg.recorder == nil {
		return
	}
	s.records = append(s.records, rec)
}

func (s *Scheduler) recordSchedule(h Handle, trigger TriggerID, tag ir.Tag, value any, outcome string) {
	if s.cfg.recorder == nil {
		return
	}
	s.record(ir.ScheduleRecord{
		RunID:   s.runID,
		Seq:     s.scheduleSeq,
		Handle:  uint64(h),
		Trigger: s.prog.triggerName(trigger),
		Tag:     tag,
		Payload: ir.Describe(value),
		Outcome: outcome,
	})
	s.scheduleSeq++
}

// flush hands buffered records to the recorder. Recorder failures are
// logged and the run continues: a trace is an observer of the run, not part
// of it.
func (s *Scheduler) flush(ctx context.Context) {
	if s.cfg.recorder == nil || len(s.records) == 0 {
		return
	}
	rec := s.cfg.recorder
	for _, r := range s.records {
		var err error
		switch v := r.(type) {
		case ir.RunInfo:
			err = rec.RecordRunStart(ctx, v)
		case ir.InstantRecord:
			err = rec.RecordInstant(ctx, v)
		case ir.DispatchRecord:
			err = rec.RecordDispatch(ctx, v)
		case ir.ScheduleRecord:
			err = rec.RecordSchedule(ctx, v)
		case runEnd:
			err = rec.RecordRunEnd(ctx, v.runID, v.stats)
		}
		if err != nil {
			s.log.Error("trace record failed", "run_id", s.runID, "error", err)
		}
	}
	clear(s.records)
	s.records = s.records[:0]
}
