package recording

import (
	"context"
	"time"
)

// Status is the lifecycle state of a recording session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRecording Status = "recording"
	StatusFinished  Status = "finished"
)

// Sample is one persisted point of a recording, in field-relative
// coordinates (0-100 normalized, not raw GPS). Samples are ordered by
// timestamp for replay, but interval jitter means consumers must sort
// defensively rather than assume strict monotonicity.
type Sample struct {
	ID          int64     `json:"id"`
	RecordingID int64     `json:"recordingId"`
	PlayerID    *int64    `json:"playerId,omitempty"` // reserved for per-player tracking
	Timestamp   time.Time `json:"timestamp"`
	X           float64   `json:"x"`
	Y           float64   `json:"y"`
	Z           float64   `json:"z"`
}

// Position is an unsaved point in an outgoing batch. The store assigns
// ids and received timestamps on insert.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Session is a snapshot of one recording's lifecycle, tied 1:1 to a
// match while active.
type Session struct {
	MatchID     int64  `json:"matchId"`
	RecordingID int64  `json:"recordingId"`
	Status      Status `json:"status"`
	StartTime   int64  `json:"startTime,omitempty"` // Unix ms
	EndTime     int64  `json:"endTime,omitempty"`   // Unix ms
	Samples     int    `json:"samples"`             // Flushed so far
	Err         string `json:"error,omitempty"`     // Fatal sampling error, if any
}

// Store is the persistence collaborator. The embedded SQLite store and
// the remote REST client both implement it.
type Store interface {
	// StartRecording creates a recording for the match and returns its id.
	StartRecording(ctx context.Context, matchID int64) (int64, error)
	// StopRecording marks the match's active recording finished.
	StopRecording(ctx context.Context, matchID int64) error
	// SavePositions appends a batch of points to a recording.
	SavePositions(ctx context.Context, recordingID int64, positions []Position) error
	// GetRecordingData returns all samples of the match's latest recording.
	GetRecordingData(ctx context.Context, matchID int64) ([]Sample, error)
}
