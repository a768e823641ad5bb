package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tempo/internal/ir"
)

func TestRecordRunStart_Idempotent(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	run := createTestRun("run-1")
	require.NoError(t, s.RecordRunStart(ctx, run))

	dup := run
	dup.Program = "other"
	require.NoError(t, s.RecordRunStart(ctx, dup))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, run, got.Info)
	assert.False(t, got.Finished)
	assert.Equal(t, ir.RunStats{}, got.Stats)
}

func TestRecordInstant_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustStartRun(t, s, "run-1")

	rec := createTestInstant("run-1", 0, 10*ir.Msec, "tick", "sample")
	rec.Tag.Microstep = 3
	require.NoError(t, s.RecordInstant(ctx, rec))

	got, err := s.ReadInstants(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestRecordInstant_EmptyTriggers(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustStartRun(t, s, "run-1")

	require.NoError(t, s.RecordInstant(ctx, createTestInstant("run-1", 0, 0)))

	got, err := s.ReadInstants(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{}, got[0].Triggers)
}

func TestRecordInstant_DuplicateSeqIgnored(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustStartRun(t, s, "run-1")

	require.NoError(t, s.RecordInstant(ctx, createTestInstant("run-1", 0, 0, "a")))
	require.NoError(t, s.RecordInstant(ctx, createTestInstant("run-1", 0, 5*ir.Msec, "b")))

	got, err := s.ReadInstants(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, []string{"a"}, got[0].Triggers)
}

func TestRecord_RequiresRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.RecordInstant(ctx, createTestInstant("missing", 0, 0)))
	assert.Error(t, s.RecordDispatch(ctx, createTestDispatch("missing", 0, 0, "r", 1)))
}

func TestRecordDispatch_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustStartRun(t, s, "run-1")

	rec := createTestDispatch("run-1", 0, 0, "show", 2)
	rec.Lag = 3 * ir.Msec
	rec.Missed = true
	require.NoError(t, s.RecordDispatch(ctx, rec))

	got, err := s.ReadDispatches(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0])
}

func TestRecordSchedule_Payloads(t *testing.T) {
	tests := []struct {
		name    string
		payload ir.IRValue
		want    ir.IRValue
	}{
		{"nil", nil, ir.IRNull{}},
		{"string", ir.IRString("hello"), ir.IRString("hello")},
		{"large int", ir.IRInt(1 << 60), ir.IRInt(1 << 60)},
		{"object", ir.IRObject{"id": ir.IRInt(7), "tags": ir.IRArray{ir.IRString("a")}},
			ir.IRObject{"id": ir.IRInt(7), "tags": ir.IRArray{ir.IRString("a")}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := createTestStore(t)
			ctx := context.Background()
			mustStartRun(t, s, "run-1")

			rec := ir.ScheduleRecord{
				RunID:   "run-1",
				Seq:     0,
				Handle:  42,
				Trigger: "poke",
				Tag:     ir.Tag{Time: testStart.Add(20 * ir.Msec), Microstep: 1},
				Payload: tt.payload,
				Outcome: ir.OutcomeScheduled,
			}
			require.NoError(t, s.RecordSchedule(ctx, rec))

			got, err := s.ReadSchedules(ctx, "run-1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			rec.Payload = tt.want
			assert.Equal(t, rec, got[0])
		})
	}
}

func TestRecordRunEnd(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	mustStartRun(t, s, "run-1")

	stats := ir.RunStats{
		Instants:   3,
		Dispatches: 5,
		Scheduled:  4,
		Dropped:    1,
		FinalTag:   ir.Tag{Time: testStart.Add(20 * ir.Msec), Microstep: 1},
	}
	require.NoError(t, s.RecordRunEnd(ctx, "run-1", stats))

	got, err := s.GetRun(ctx, "run-1")
	require.NoError(t, err)
	assert.True(t, got.Finished)
	assert.Equal(t, stats, got.Stats)
}

func TestRecordRunEnd_UnknownRun(t *testing.T) {
	s := createTestStore(t)
	err := s.RecordRunEnd(context.Background(), "missing", ir.RunStats{})
	assert.ErrorIs(t, err, ErrNotFound)
}
