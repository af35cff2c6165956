// Package playback replays a finished recording as a point moving over
// a normalized 2D field.
package playback

import (
	"sort"
	"sync"

	"github.com/fristrack/tracker/internal/recording"
)

// FieldAspect is the long-to-short ratio of the rendered field,
// matching a regulation field.
const FieldAspect = 2.0

// Player drives a frame index over a loaded sample sequence. Playback
// is an infinite restartable loop: advancing past the end wraps to 0.
type Player struct {
	mu      sync.Mutex
	samples []recording.Sample
	frame   int
	playing bool
}

// NewPlayer sorts the samples by timestamp (the producer doesn't
// guarantee strict monotonicity across interval ticks) and starts at
// frame 0, paused.
func NewPlayer(samples []recording.Sample) *Player {
	sorted := append([]recording.Sample(nil), samples...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	return &Player{samples: sorted}
}

// Len returns the number of loaded frames.
func (p *Player) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.samples)
}

// Frame returns the current frame index.
func (p *Player) Frame() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frame
}

// Playing reports whether the animation loop is running.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *Player) Play() {
	p.mu.Lock()
	p.playing = true
	p.mu.Unlock()
}

func (p *Player) Pause() {
	p.mu.Lock()
	p.playing = false
	p.mu.Unlock()
}

// Advance moves one frame forward, wrapping past the end, and returns
// the new frame index.
func (p *Player) Advance() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return 0
	}
	p.frame = (p.frame + 1) % len(p.samples)
	return p.frame
}

// Jump moves by delta frames, clamped to [0, len-1], and returns the
// new frame index. Never out of bounds.
func (p *Player) Jump(delta int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekLocked(p.frame + delta)
}

// Seek moves to an absolute frame, clamped, and returns the result.
func (p *Player) Seek(frame int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seekLocked(frame)
}

func (p *Player) seekLocked(frame int) int {
	if len(p.samples) == 0 {
		p.frame = 0
		return 0
	}
	if frame < 0 {
		frame = 0
	}
	if frame > len(p.samples)-1 {
		frame = len(p.samples) - 1
	}
	p.frame = frame
	return p.frame
}

// Current returns the sample at the current frame.
func (p *Player) Current() (recording.Sample, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return recording.Sample{}, false
	}
	return p.samples[p.frame], true
}

// Tick advances one frame when playing and returns the current sample.
// Called once per redraw tick by the rendering side.
func (p *Player) Tick() (recording.Sample, bool) {
	p.mu.Lock()
	if p.playing && len(p.samples) > 0 {
		p.frame = (p.frame + 1) % len(p.samples)
	}
	defer p.mu.Unlock()
	if len(p.samples) == 0 {
		return recording.Sample{}, false
	}
	return p.samples[p.frame], true
}

// Samples returns the sorted sample sequence.
func (p *Player) Samples() []recording.Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]recording.Sample(nil), p.samples...)
}

// MapToField scales a normalized 0-100 sample into surface units for a
// rendering surface of the given width, with the fixed field aspect.
func MapToField(s recording.Sample, surfaceWidth float64) (x, y float64) {
	height := surfaceWidth / FieldAspect
	return s.X / 100 * surfaceWidth, s.Y / 100 * height
}
