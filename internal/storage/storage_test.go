package storage

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCalibrationRunLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordCalibrationStart("run-1"); err != nil {
		t.Fatalf("record start: %v", err)
	}
	if err := s.RecordCalibrationResult(CalibrationRunRecord{
		ID: "run-1", Status: "ok", FOVDeg: 1.2, SolverTolerance: 0.03,
	}); err != nil {
		t.Fatalf("record result: %v", err)
	}

	recs, err := s.RecentCalibrationRuns(10)
	if err != nil {
		t.Fatalf("recent runs: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 run, got %d", len(recs))
	}
	if recs[0].Status != "ok" || recs[0].FOVDeg != 1.2 {
		t.Fatalf("unexpected record: %+v", recs[0])
	}
}

func TestRecordSolveOutcome(t *testing.T) {
	s := newTestStore(t)
	rec := SolveOutcomeRecord{FrameID: 42, OK: true, StarCount: 15, CenterRA: 83.8, CenterDec: -5.4, SolveMS: 20}
	if err := s.RecordSolveOutcome(rec); err != nil {
		t.Fatalf("record solve outcome: %v", err)
	}

	var count int
	if err := s.DB.QueryRow(`SELECT COUNT(*) FROM solve_outcomes WHERE frame_id = ?`, rec.FrameID).Scan(&count); err != nil {
		t.Fatalf("query: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 row, got %d", count)
	}
}

func TestAppendAndRecentServerLog(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 3; i++ {
		if err := s.AppendServerLog("info", "line"); err != nil {
			t.Fatalf("append: %v", err)
		}
		time.Sleep(time.Millisecond)
	}

	lines, err := s.RecentServerLog(10_000)
	if err != nil {
		t.Fatalf("recent log: %v", err)
	}
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestNilStoreMethodsAreNoOps(t *testing.T) {
	var s *Store
	if err := s.RecordCalibrationStart("x"); err != nil {
		t.Fatalf("expected nil-store no-op, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("expected nil-store Close no-op, got %v", err)
	}
}
