package recording

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/fristrack/tracker/internal/gps"
)

var (
	// ErrAlreadyRecording rejects a second start for a match whose
	// session is still live.
	ErrAlreadyRecording = errors.New("recording: match already has an active recording")
	// ErrNotRecording rejects a stop for a match with no live session.
	ErrNotRecording = errors.New("recording: match is not recording")
	// ErrStopInFlight rejects a concurrent stop for the same match.
	ErrStopInFlight = errors.New("recording: stop already in progress")
)

// Locator yields the current unified location, or nil when none.
type Locator interface {
	Current() *gps.Data
}

// Config tunes the manager.
type Config struct {
	// Interval is the sampling cadence. Zero means 1 s.
	Interval time.Duration
	// Field anchors fixes to normalized coordinates.
	Field Field
}

// Manager runs the record/stop lifecycle for match position traces.
// One sampling loop per live session; a flush failure is fatal to that
// loop (the error is kept on the session) rather than silently retried.
type Manager struct {
	store    Store
	loc      Locator
	backups  *BackupDir
	field    Field
	interval time.Duration

	mu       sync.Mutex
	sessions map[int64]*session
}

type session struct {
	matchID       int64
	recordingID   int64
	status        Status
	startTime     int64
	endTime       int64
	samples       int
	err           error
	stopping      bool
	loopCancelled bool

	stop chan struct{}
	done chan struct{}

	// Synthetic random-walk state, used when no source has a fix.
	synthX, synthY float64
}

// NewManager builds a Manager. backups may be nil to disable local
// backups.
func NewManager(store Store, loc Locator, backups *BackupDir, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Manager{
		store:    store,
		loc:      loc,
		backups:  backups,
		field:    cfg.Field,
		interval: cfg.Interval,
		sessions: make(map[int64]*session),
	}
}

// Start creates a recording for the match and begins the sampling loop.
// A match with a live session is rejected, never superseded.
func (m *Manager) Start(ctx context.Context, matchID int64) (Session, error) {
	m.mu.Lock()
	if existing, ok := m.sessions[matchID]; ok && existing.status == StatusRecording {
		m.mu.Unlock()
		return Session{}, ErrAlreadyRecording
	}
	// Reserve the slot before the store round trip so two concurrent
	// starts can't both create a recording.
	sess := &session{
		matchID: matchID,
		status:  StatusRecording,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		synthX:  50,
		synthY:  50,
	}
	m.sessions[matchID] = sess
	m.mu.Unlock()

	recordingID, err := m.store.StartRecording(ctx, matchID)
	if err != nil {
		m.mu.Lock()
		delete(m.sessions, matchID)
		m.mu.Unlock()
		return Session{}, fmt.Errorf("recording: start match %d: %w", matchID, err)
	}

	m.mu.Lock()
	sess.recordingID = recordingID
	sess.startTime = time.Now().UnixMilli()
	snap := sess.snapshot()
	m.mu.Unlock()

	go m.sampleLoop(sess)
	log.Printf("[recording] match %d recording started (id %d)", matchID, recordingID)
	return snap, nil
}

// sampleLoop reads the current location once per interval and flushes
// one batch per tick. A flush failure stops the loop: a session that
// cannot persist must not pretend to record.
func (m *Manager) sampleLoop(sess *session) {
	defer close(sess.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-sess.stop:
			return
		case <-ticker.C:
			pos := m.samplePosition(sess)
			err := m.store.SavePositions(context.Background(), sess.recordingID, []Position{pos})

			m.mu.Lock()
			if err != nil {
				sess.err = fmt.Errorf("recording: flush match %d: %w", sess.matchID, err)
				m.mu.Unlock()
				log.Printf("[recording] %v (sampling aborted)", err)
				return
			}
			sess.samples++
			m.mu.Unlock()
		}
	}
}

// samplePosition projects the current fix onto the field, or advances a
// bounded random walk when no source has one, so a recording made
// before GPS hardware is wired up still produces a replayable trace.
func (m *Manager) samplePosition(sess *session) Position {
	if m.loc != nil {
		if cur := m.loc.Current(); cur != nil {
			return m.field.Project(cur)
		}
	}

	m.mu.Lock()
	sess.synthX = clamp(sess.synthX+rand.Float64()*10-5, 0, 100)
	sess.synthY = clamp(sess.synthY+rand.Float64()*10-5, 0, 100)
	pos := Position{X: sess.synthX, Y: sess.synthY}
	m.mu.Unlock()
	return pos
}

// Stop cancels the sampling loop, marks the recording finished
// server-side, then attempts a local backup. Backup failure is logged,
// not raised: the authoritative copy already lives in the store.
func (m *Manager) Stop(ctx context.Context, matchID int64) error {
	m.mu.Lock()
	sess, ok := m.sessions[matchID]
	if !ok || sess.status != StatusRecording {
		m.mu.Unlock()
		return ErrNotRecording
	}
	if sess.stopping {
		m.mu.Unlock()
		return ErrStopInFlight
	}
	sess.stopping = true
	cancelled := sess.loopCancelled
	sess.loopCancelled = true
	m.mu.Unlock()

	// The loop must be dead before anything else happens; no in-flight
	// sample may land after stop begins. A retried stop (after a store
	// failure) finds the channel already closed.
	if !cancelled {
		close(sess.stop)
	}
	<-sess.done

	if err := m.store.StopRecording(ctx, matchID); err != nil {
		m.mu.Lock()
		sess.stopping = false
		m.mu.Unlock()
		return fmt.Errorf("recording: stop match %d: %w", matchID, err)
	}

	m.mu.Lock()
	sess.status = StatusFinished
	sess.endTime = time.Now().UnixMilli()
	flushed := sess.samples
	m.mu.Unlock()
	log.Printf("[recording] match %d recording finished (%d samples)", matchID, flushed)

	if m.backups != nil {
		samples, err := m.store.GetRecordingData(ctx, matchID)
		if err != nil {
			log.Printf("[recording] backup fetch for match %d failed: %v", matchID, err)
			return nil
		}
		if err := m.backups.Write(matchID, samples); err != nil {
			log.Printf("[recording] backup write for match %d failed: %v", matchID, err)
		}
	}
	return nil
}

// Session returns a snapshot of the match's session, if one exists.
func (m *Manager) Session(matchID int64) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[matchID]
	if !ok {
		return Session{MatchID: matchID, Status: StatusIdle}, false
	}
	return sess.snapshot(), true
}

// Sessions lists snapshots of all known sessions.
func (m *Manager) Sessions() []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.snapshot())
	}
	return out
}

// Close stops every live session. Used at daemon shutdown.
func (m *Manager) Close(ctx context.Context) {
	m.mu.Lock()
	var live []int64
	for id, sess := range m.sessions {
		if sess.status == StatusRecording && !sess.stopping {
			live = append(live, id)
		}
	}
	m.mu.Unlock()

	for _, id := range live {
		if err := m.Stop(ctx, id); err != nil {
			log.Printf("[recording] shutdown stop of match %d: %v", id, err)
		}
	}
}

func (s *session) snapshot() Session {
	snap := Session{
		MatchID:     s.matchID,
		RecordingID: s.recordingID,
		Status:      s.status,
		StartTime:   s.startTime,
		EndTime:     s.endTime,
		Samples:     s.samples,
	}
	if s.err != nil {
		snap.Err = s.err.Error()
	}
	return snap
}
