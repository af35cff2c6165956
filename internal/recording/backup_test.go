package recording

import (
	"os"
	"testing"
	"time"
)

func sampleFixture() []Sample {
	player := int64(3)
	base := time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)
	return []Sample{
		{ID: 1, RecordingID: 42, Timestamp: base, X: 10.5, Y: 20.25, Z: 1},
		{ID: 2, RecordingID: 42, PlayerID: &player, Timestamp: base.Add(time.Second), X: 11, Y: 21, Z: 1.5},
	}
}

func TestBackupRoundTrip(t *testing.T) {
	b := NewBackupDir(t.TempDir())
	want := sampleFixture()

	if b.Exists(42) {
		t.Fatal("Exists before write")
	}
	if err := b.Write(42, want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if !b.Exists(42) {
		t.Fatal("Exists after write")
	}

	got, err := b.Read(42)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d samples, want %d", len(got), len(want))
	}
	if got[0].X != want[0].X || !got[0].Timestamp.Equal(want[0].Timestamp) {
		t.Errorf("sample 0 = %+v, want %+v", got[0], want[0])
	}
	if got[1].PlayerID == nil || *got[1].PlayerID != 3 {
		t.Errorf("PlayerID = %v, want 3", got[1].PlayerID)
	}
}

func TestBackupOverwrite(t *testing.T) {
	b := NewBackupDir(t.TempDir())
	if err := b.Write(42, sampleFixture()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := b.Write(42, sampleFixture()[:1]); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := b.Read(42)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d samples after overwrite, want 1", len(got))
	}
}

func TestBackupReadsLegacyArray(t *testing.T) {
	b := NewBackupDir(t.TempDir())
	legacy := `[{"id":1,"recordingId":9,"timestamp":"2026-05-10T14:00:00Z","x":5,"y":6,"z":0}]`
	if err := os.WriteFile(b.Path(9), []byte(legacy), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	got, err := b.Read(9)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(got) != 1 || got[0].X != 5 || got[0].RecordingID != 9 {
		t.Errorf("unexpected samples: %+v", got)
	}
}

func TestBackupReadCorrupt(t *testing.T) {
	b := NewBackupDir(t.TempDir())
	if err := os.WriteFile(b.Path(9), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := b.Read(9); err == nil {
		t.Fatal("Read should fail on a corrupt file")
	}
}

func TestBackupReadMissing(t *testing.T) {
	b := NewBackupDir(t.TempDir())
	if _, err := b.Read(1); err == nil {
		t.Fatal("Read should fail for a missing match")
	}
}
