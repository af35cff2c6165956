package playback

import (
	"math"
	"testing"
	"time"

	"github.com/fristrack/tracker/internal/recording"
)

func frames(n int) []recording.Sample {
	base := time.Date(2026, 5, 10, 14, 0, 0, 0, time.UTC)
	out := make([]recording.Sample, n)
	for i := range out {
		out[i] = recording.Sample{
			ID:        int64(i + 1),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			X:         float64(i),
		}
	}
	return out
}

func TestAdvanceWraps(t *testing.T) {
	p := NewPlayer(frames(3))

	if got := p.Advance(); got != 1 {
		t.Fatalf("Advance = %d, want 1", got)
	}
	p.Advance()
	if got := p.Advance(); got != 0 {
		t.Errorf("Advance past end = %d, want wrap to 0", got)
	}
}

func TestJumpClampsAtEnds(t *testing.T) {
	p := NewPlayer(frames(20))

	p.Seek(15)
	if got := p.Jump(10); got != 19 {
		t.Errorf("Jump(+10) from 15 = %d, want clamp to 19", got)
	}
	if got := p.Jump(-100); got != 0 {
		t.Errorf("Jump(-100) = %d, want clamp to 0", got)
	}
	if got := p.Seek(500); got != 19 {
		t.Errorf("Seek(500) = %d, want clamp to 19", got)
	}
	if got := p.Seek(-3); got != 0 {
		t.Errorf("Seek(-3) = %d, want clamp to 0", got)
	}
}

func TestSamplesSortedByTimestamp(t *testing.T) {
	shuffled := frames(5)
	shuffled[0], shuffled[3] = shuffled[3], shuffled[0]
	shuffled[1], shuffled[4] = shuffled[4], shuffled[1]

	p := NewPlayer(shuffled)
	sorted := p.Samples()
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Timestamp.Before(sorted[i-1].Timestamp) {
			t.Fatalf("samples out of order at %d: %v before %v",
				i, sorted[i].Timestamp, sorted[i-1].Timestamp)
		}
	}
	if cur, ok := p.Current(); !ok || cur.ID != 1 {
		t.Errorf("frame 0 = %+v, want earliest sample", cur)
	}
}

func TestTickAdvancesOnlyWhenPlaying(t *testing.T) {
	p := NewPlayer(frames(3))

	if s, ok := p.Tick(); !ok || s.ID != 1 {
		t.Fatalf("paused Tick = %+v, want frame 0", s)
	}
	p.Play()
	if s, ok := p.Tick(); !ok || s.ID != 2 {
		t.Fatalf("playing Tick = %+v, want frame 1", s)
	}
	p.Pause()
	if s, _ := p.Tick(); s.ID != 2 {
		t.Errorf("Tick after pause moved to %+v", s)
	}
}

func TestEmptyPlayerIsSafe(t *testing.T) {
	p := NewPlayer(nil)

	if p.Len() != 0 || p.Advance() != 0 || p.Jump(5) != 0 || p.Seek(3) != 0 {
		t.Error("empty player should pin every movement to frame 0")
	}
	if _, ok := p.Current(); ok {
		t.Error("Current should report no sample")
	}
	p.Play()
	if _, ok := p.Tick(); ok {
		t.Error("Tick should report no sample")
	}
}

func TestMapToField(t *testing.T) {
	s := recording.Sample{X: 50, Y: 100}
	x, y := MapToField(s, 800)
	if math.Abs(x-400) > 1e-9 {
		t.Errorf("x = %v, want 400", x)
	}
	if math.Abs(y-400) > 1e-9 {
		t.Errorf("y = %v, want 400 (surface height is width/aspect)", y)
	}
}
