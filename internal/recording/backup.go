package recording

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// BackupDir writes one JSON backup file per match, overwritten on each
// stop. The envelope carries a version tag so the sample shape can
// evolve; files written by older builds as a bare array still read back.
type BackupDir struct {
	dir string
}

const backupVersion = 1

type backupEnvelope struct {
	Version int      `json:"version"`
	MatchID int64    `json:"matchId"`
	Samples []Sample `json:"samples"`
}

func NewBackupDir(dir string) *BackupDir {
	return &BackupDir{dir: dir}
}

// Path returns the backup file location for a match.
func (b *BackupDir) Path(matchID int64) string {
	return filepath.Join(b.dir, fmt.Sprintf("match_%d.json", matchID))
}

// Exists reports whether a backup is present for the match.
func (b *BackupDir) Exists(matchID int64) bool {
	_, err := os.Stat(b.Path(matchID))
	return err == nil
}

// Write persists the samples for a match, creating the directory as
// needed.
func (b *BackupDir) Write(matchID int64, samples []Sample) error {
	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return fmt.Errorf("recording: create backup dir: %w", err)
	}

	env := backupEnvelope{Version: backupVersion, MatchID: matchID, Samples: samples}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("recording: encode backup: %w", err)
	}
	if err := os.WriteFile(b.Path(matchID), data, 0o644); err != nil {
		return fmt.Errorf("recording: write backup: %w", err)
	}
	return nil
}

// Read loads the samples for a match. Both the versioned envelope and
// the legacy flat-array format are accepted.
func (b *BackupDir) Read(matchID int64) ([]Sample, error) {
	data, err := os.ReadFile(b.Path(matchID))
	if err != nil {
		return nil, fmt.Errorf("recording: read backup: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		// Legacy un-versioned form: a bare sample array.
		var samples []Sample
		if err := json.Unmarshal(trimmed, &samples); err != nil {
			return nil, fmt.Errorf("recording: decode legacy backup: %w", err)
		}
		return samples, nil
	}

	var env backupEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("recording: decode backup: %w", err)
	}
	return env.Samples, nil
}
