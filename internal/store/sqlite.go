// Package store provides the persistence collaborators for recordings:
// an embedded SQLite database for the field unit and a client for the
// remote FrisTrack REST API.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fristrack/tracker/internal/recording"

	_ "modernc.org/sqlite"
)

// SQLite persists recordings and their position samples locally.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite initializes the database, creating directories as needed.
func OpenSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("store: create db directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: enable wal: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// InitSchema ensures baseline tables exist.
func (s *SQLite) InitSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS recordings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'recording',
			started_at TEXT NOT NULL,
			ended_at TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_recordings_match ON recordings(match_id, id);`,
		`CREATE TABLE IF NOT EXISTS recording_positions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			recording_id INTEGER NOT NULL REFERENCES recordings(id),
			player_id INTEGER,
			x REAL NOT NULL,
			y REAL NOT NULL,
			z REAL NOT NULL,
			recorded_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_positions_recording ON recording_positions(recording_id, recorded_at);`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: init schema: %w", err)
		}
	}
	return nil
}

// StartRecording creates a recording row for the match. At most one
// recording per match may be active at a time.
func (s *SQLite) StartRecording(ctx context.Context, matchID int64) (int64, error) {
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recordings WHERE match_id = ? AND status = 'recording';`,
		matchID).Scan(&active)
	if err != nil {
		return 0, fmt.Errorf("store: check active recording: %w", err)
	}
	if active > 0 {
		return 0, fmt.Errorf("store: match %d already has an active recording", matchID)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO recordings (match_id, status, started_at) VALUES (?, 'recording', ?);`,
		matchID, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("store: insert recording: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: recording id: %w", err)
	}
	return id, nil
}

// StopRecording marks the match's active recording finished.
func (s *SQLite) StopRecording(ctx context.Context, matchID int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recordings SET status = 'finished', ended_at = ? WHERE match_id = ? AND status = 'recording';`,
		time.Now().UTC().Format(time.RFC3339Nano), matchID)
	if err != nil {
		return fmt.Errorf("store: finish recording: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: finish recording: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("store: match %d has no active recording", matchID)
	}
	return nil
}

// SavePositions appends a batch of points to a recording in one
// transaction, stamping each with the receive time.
func (s *SQLite) SavePositions(ctx context.Context, recordingID int64, positions []recording.Position) error {
	if len(positions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin save: %w", err)
	}

	now := time.Now().UTC()
	for i, p := range positions {
		// Spread a batch across nanoseconds so per-row receive times
		// keep the append order sortable.
		ts := now.Add(time.Duration(i)).Format(time.RFC3339Nano)
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recording_positions (recording_id, x, y, z, recorded_at) VALUES (?, ?, ?, ?, ?);`,
			recordingID, p.X, p.Y, p.Z, ts); err != nil {
			tx.Rollback()
			return fmt.Errorf("store: insert position: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit save: %w", err)
	}
	return nil
}

// GetRecordingData returns all samples of the match's latest recording,
// ordered by receive time.
func (s *SQLite) GetRecordingData(ctx context.Context, matchID int64) ([]recording.Sample, error) {
	var recordingID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM recordings WHERE match_id = ? ORDER BY id DESC LIMIT 1;`,
		matchID).Scan(&recordingID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: match %d has no recordings", matchID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: find recording: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, recording_id, player_id, x, y, z, recorded_at
		 FROM recording_positions
		 WHERE recording_id = ?
		 ORDER BY recorded_at ASC;`,
		recordingID)
	if err != nil {
		return nil, fmt.Errorf("store: query positions: %w", err)
	}
	defer rows.Close()

	var samples []recording.Sample
	for rows.Next() {
		var (
			sample   recording.Sample
			playerID sql.NullInt64
			tsStr    string
		)
		if err := rows.Scan(&sample.ID, &sample.RecordingID, &playerID, &sample.X, &sample.Y, &sample.Z, &tsStr); err != nil {
			return nil, fmt.Errorf("store: scan position: %w", err)
		}

		ts, err := time.Parse(time.RFC3339Nano, tsStr)
		if err != nil {
			ts, _ = time.Parse("2006-01-02T15:04:05Z07:00", tsStr)
		}
		sample.Timestamp = ts
		if playerID.Valid {
			id := playerID.Int64
			sample.PlayerID = &id
		}
		samples = append(samples, sample)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate positions: %w", err)
	}
	return samples, nil
}
