package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for calibration runs, solve
// outcomes, stage latency samples, and the server log ring (SPEC_FULL.md §4
// supplement, grounded on photonic's job/result history store).
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS calibration_runs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            failure_reason TEXT,
            fov_deg REAL,
            solver_tolerance REAL,
            started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS solve_outcomes (
            frame_id INTEGER PRIMARY KEY,
            ok BOOLEAN NOT NULL,
            failure_reason TEXT,
            star_count INTEGER,
            center_ra REAL,
            center_dec REAL,
            solve_ms INTEGER,
            recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stage_latency_samples (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            stage TEXT NOT NULL,
            frame_id INTEGER,
            duration_ms INTEGER,
            recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS server_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            level TEXT NOT NULL,
            message TEXT NOT NULL,
            recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_stage_latency_stage ON stage_latency_samples(stage);`,
		`CREATE INDEX IF NOT EXISTS idx_solve_outcomes_ok ON solve_outcomes(ok);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// CalibrationRunRecord captures persisted calibration-run info.
type CalibrationRunRecord struct {
	ID              string
	Status          string
	FailureReason   string
	FOVDeg          float64
	SolverTolerance float64
}

// RecordCalibrationStart inserts a running calibration run.
func (s *Store) RecordCalibrationStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO calibration_runs (id, status) VALUES (?, 'running');`, id)
	return err
}

// RecordCalibrationResult finalizes a calibration run.
func (s *Store) RecordCalibrationResult(rec CalibrationRunRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE calibration_runs SET status=?, failure_reason=?, fov_deg=?, solver_tolerance=?, completed_at=CURRENT_TIMESTAMP WHERE id=?;`,
		rec.Status, rec.FailureReason, rec.FOVDeg, rec.SolverTolerance, rec.ID)
	return err
}

// RecentCalibrationRuns returns the latest runs up to limit.
func (s *Store) RecentCalibrationRuns(limit int) ([]CalibrationRunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, failure_reason, fov_deg, solver_tolerance FROM calibration_runs ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []CalibrationRunRecord
	for rows.Next() {
		var rec CalibrationRunRecord
		var reason sql.NullString
		var fov, tol sql.NullFloat64
		if err := rows.Scan(&rec.ID, &rec.Status, &reason, &fov, &tol); err != nil {
			return nil, err
		}
		rec.FailureReason = reason.String
		rec.FOVDeg = fov.Float64
		rec.SolverTolerance = tol.Float64
		recs = append(recs, rec)
	}
	return recs, nil
}

// SolveOutcomeRecord captures one frame's solve result for history/debugging.
type SolveOutcomeRecord struct {
	FrameID       uint64
	OK            bool
	FailureReason string
	StarCount     int
	CenterRA      float64
	CenterDec     float64
	SolveMS       int64
}

// RecordSolveOutcome persists one frame's solve result.
func (s *Store) RecordSolveOutcome(rec SolveOutcomeRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO solve_outcomes (frame_id, ok, failure_reason, star_count, center_ra, center_dec, solve_ms) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.FrameID, rec.OK, rec.FailureReason, rec.StarCount, rec.CenterRA, rec.CenterDec, rec.SolveMS)
	return err
}

// RecordStageLatency persists one stage timing sample. Intended to be
// called sparingly (e.g. every Nth frame) since this hits disk; the live
// stats ring (internal/stats) is the authoritative in-memory source.
func (s *Store) RecordStageLatency(stage string, frameID uint64, d time.Duration) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO stage_latency_samples (stage, frame_id, duration_ms) VALUES (?, ?, ?);`,
		stage, frameID, d.Milliseconds())
	return err
}

// AppendServerLog appends one line to the persisted server log ring,
// consumed by get_server_log(bytes).
func (s *Store) AppendServerLog(level, message string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO server_log (level, message) VALUES (?, ?);`, level, message)
	return err
}

// RecentServerLog returns the most recent log lines whose total size is
// roughly bounded by maxBytes, oldest first.
func (s *Store) RecentServerLog(maxBytes int) ([]string, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT recorded_at, level, message FROM server_log ORDER BY id DESC LIMIT 500;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []string
	total := 0
	for rows.Next() {
		var ts time.Time
		var level, msg string
		if err := rows.Scan(&ts, &level, &msg); err != nil {
			return nil, err
		}
		line := ts.Format(time.RFC3339) + " [" + level + "] " + msg
		total += len(line)
		if total > maxBytes {
			break
		}
		lines = append(lines, line)
	}
	// reverse to oldest-first
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return lines, nil
}
