package recording

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"
)

var csvHeader = []string{"timestamp", "recording_id", "player_id", "x", "y", "z"}

// WriteCSV streams samples as CSV, one row per sample, for offline
// analysis tools that don't speak the JSON backup format.
func WriteCSV(w io.Writer, samples []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}

	for _, s := range samples {
		player := ""
		if s.PlayerID != nil {
			player = fmt.Sprintf("%d", *s.PlayerID)
		}
		row := []string{
			s.Timestamp.UTC().Format(time.RFC3339Nano),
			fmt.Sprintf("%d", s.RecordingID),
			player,
			fmt.Sprintf("%.3f", s.X),
			fmt.Sprintf("%.3f", s.Y),
			fmt.Sprintf("%.3f", s.Z),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
