package playback

import (
	"context"
	"fmt"
	"log"

	"github.com/fristrack/tracker/internal/recording"
)

// Loader resolves a match's recorded samples: the local backup when one
// exists (no network round trip, works offline), the store otherwise.
type Loader struct {
	backups *recording.BackupDir
	store   recording.Store
}

func NewLoader(backups *recording.BackupDir, store recording.Store) *Loader {
	return &Loader{backups: backups, store: store}
}

// Load builds a Player for the match's latest recording.
func (l *Loader) Load(ctx context.Context, matchID int64) (*Player, error) {
	if l.backups != nil && l.backups.Exists(matchID) {
		samples, err := l.backups.Read(matchID)
		if err == nil {
			return NewPlayer(samples), nil
		}
		// A corrupt backup isn't fatal while the store still has the
		// authoritative copy.
		log.Printf("[playback] backup for match %d unreadable, falling back to store: %v", matchID, err)
	}

	if l.store == nil {
		return nil, fmt.Errorf("playback: no backup and no store for match %d", matchID)
	}
	samples, err := l.store.GetRecordingData(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("playback: load match %d: %w", matchID, err)
	}
	return NewPlayer(samples), nil
}
