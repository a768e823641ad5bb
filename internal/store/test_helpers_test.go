package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/roach88/tempo/internal/ir"
)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

const testStart = ir.Instant(1_700_000_000_000_000_000)

// createTestRun creates a run header with minimal required fields.
func createTestRun(id string) ir.RunInfo {
	return ir.RunInfo{
		ID:        id,
		Program:   "test-program",
		StartTime: testStart,
		StopTime:  testStart.Add(100 * ir.Msec),
		Fast:      true,
		Version:   ir.EngineVersion,
	}
}

func createTestInstant(runID string, seq int64, elapsed ir.Interval, triggers ...string) ir.InstantRecord {
	return ir.InstantRecord{
		RunID:    runID,
		Seq:      seq,
		Tag:      ir.TagAt(testStart.Add(elapsed)),
		Elapsed:  elapsed,
		Triggers: triggers,
	}
}

func createTestDispatch(runID string, seq, instant int64, reaction string, priority int64) ir.DispatchRecord {
	return ir.DispatchRecord{
		RunID:    runID,
		Seq:      seq,
		Instant:  instant,
		Tag:      ir.TagAt(testStart),
		Reaction: reaction,
		Priority: priority,
	}
}

// mustStartRun records a run header or fails the test.
func mustStartRun(t *testing.T, s *Store, id string) {
	t.Helper()
	if err := s.RecordRunStart(context.Background(), createTestRun(id)); err != nil {
		t.Fatalf("RecordRunStart() failed: %v", err)
	}
}
