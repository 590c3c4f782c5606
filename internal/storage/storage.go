package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for capture sessions, tiles, and
// stitch jobs.
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
		`CREATE TABLE IF NOT EXISTS capture_sessions (
            id TEXT PRIMARY KEY,
            target_count INTEGER NOT NULL,
            captured_count INTEGER DEFAULT 0,
            completed BOOLEAN DEFAULT FALSE,
            plan_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS captured_tiles (
            id TEXT PRIMARY KEY,
            session_id TEXT NOT NULL,
            sequence INTEGER NOT NULL,
            azimuth_deg REAL NOT NULL,
            elevation_deg REAL NOT NULL,
            byte_size INTEGER,
            file_path TEXT,
            captured_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stitch_jobs (
            id TEXT PRIMARY KEY,
            session_id TEXT,
            status TEXT NOT NULL,
            input_dir TEXT,
            output_path TEXT,
            options_json TEXT,
            error_message TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS stitch_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_captured_tiles_session ON captured_tiles(session_id, sequence);`,
		`CREATE INDEX IF NOT EXISTS idx_stitch_jobs_session ON stitch_jobs(session_id);`,
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

// SessionRecord captures persisted session info.
type SessionRecord struct {
	ID            string
	TargetCount   int
	CapturedCount int
	Completed     bool
	PlanJSON      string
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// TileRecord captures persisted tile metadata. Image bytes live on disk, not in
// the database.
type TileRecord struct {
	ID           string
	SessionID    string
	Sequence     int
	AzimuthDeg   float64
	ElevationDeg float64
	ByteSize     int
	FilePath     string
	CapturedAt   time.Time
}

// JobRecord captures persisted stitch job info.
type JobRecord struct {
	ID          string
	SessionID   string
	Status      string
	InputDir    string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// RecordSessionStart inserts (or replaces) a session row.
func (s *Store) RecordSessionStart(id string, targetCount int, planJSON string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO capture_sessions (id, target_count, plan_json) VALUES (?, ?, ?);`,
		id, targetCount, planJSON)
	return err
}

// RecordTile persists one committed tile and bumps the session counter.
func (s *Store) RecordTile(rec TileRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO captured_tiles (id, session_id, sequence, azimuth_deg, elevation_deg, byte_size, file_path) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.SessionID, rec.Sequence, rec.AzimuthDeg, rec.ElevationDeg, rec.ByteSize, rec.FilePath)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`UPDATE capture_sessions SET captured_count = captured_count + 1 WHERE id=?;`, rec.SessionID)
	return err
}

// RecordSessionComplete marks a session as finished.
func (s *Store) RecordSessionComplete(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE capture_sessions SET completed=TRUE, completed_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordSessionReset clears a session's tiles and counters, keeping the row.
func (s *Store) RecordSessionReset(id string) error {
	if s == nil {
		return nil
	}
	if _, err := s.DB.Exec(`DELETE FROM captured_tiles WHERE session_id=?;`, id); err != nil {
		return err
	}
	_, err := s.DB.Exec(`UPDATE capture_sessions SET captured_count=0, completed=FALSE, completed_at=NULL WHERE id=?;`, id)
	return err
}

// SessionTiles returns a session's tiles in capture order.
func (s *Store) SessionTiles(sessionID string) ([]TileRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, session_id, sequence, azimuth_deg, elevation_deg, byte_size, file_path, captured_at FROM captured_tiles WHERE session_id=? ORDER BY sequence;`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []TileRecord
	for rows.Next() {
		var rec TileRecord
		var path sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Sequence, &rec.AzimuthDeg, &rec.ElevationDeg, &rec.ByteSize, &path, &rec.CapturedAt); err != nil {
			return nil, err
		}
		if path.Valid {
			rec.FilePath = path.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RecordJobQueued inserts a pending stitch job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stitch_jobs (id, session_id, status, input_dir, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.SessionID, rec.Status, rec.InputDir, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a stitch job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a stitch job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE stitch_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO stitch_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// Job fetches one stitch job by ID.
func (s *Store) Job(id string) (JobRecord, error) {
	if s == nil {
		return JobRecord{}, errors.New("store not initialized")
	}
	var rec JobRecord
	var started, completed sql.NullTime
	var errorMsg, inputDir, outputPath, opts, sessionID sql.NullString
	err := s.DB.QueryRow(`SELECT id, session_id, status, input_dir, output_path, options_json, error_message, created_at, started_at, completed_at FROM stitch_jobs WHERE id=?;`, id).
		Scan(&rec.ID, &sessionID, &rec.Status, &inputDir, &outputPath, &opts, &errorMsg, &rec.CreatedAt, &started, &completed)
	if err != nil {
		return JobRecord{}, err
	}
	rec.SessionID = sessionID.String
	rec.InputDir = inputDir.String
	rec.OutputPath = outputPath.String
	rec.OptionsJSON = opts.String
	rec.Error = errorMsg.String
	if started.Valid {
		rec.StartedAt = &started.Time
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return rec, nil
}

// RecentJobs returns the latest stitch jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, session_id, status, input_dir, output_path, options_json, error_message, created_at, started_at, completed_at FROM stitch_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var started, completed sql.NullTime
		var errorMsg, inputDir, outputPath, opts, sessionID sql.NullString
		if err := rows.Scan(&rec.ID, &sessionID, &rec.Status, &inputDir, &outputPath, &opts, &errorMsg, &rec.CreatedAt, &started, &completed); err != nil {
			return nil, err
		}
		rec.SessionID = sessionID.String
		rec.InputDir = inputDir.String
		rec.OutputPath = outputPath.String
		rec.OptionsJSON = opts.String
		rec.Error = errorMsg.String
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// JobMeta fetches the last meta blob for a stitch job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM stitch_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}
