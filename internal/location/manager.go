// Package location merges whichever GPS source is active into a single
// current-location value and lets the caller switch sources without
// restructuring consumers.
package location

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/fristrack/tracker/internal/ble"
	"github.com/fristrack/tracker/internal/gps"
)

// FixSource is the subset of the BLE transport the manager consumes.
// It only ever receives copies of decoded telemetry, never the
// connection handle.
type FixSource interface {
	SubscribeFixes(func(gps.Data)) (cancel func())
	SubscribeState(func(ble.State)) (cancel func())
}

// Config tunes the manager.
type Config struct {
	// MaxAge is the staleness window: a fix older than this is treated
	// as absent. Zero means the 10 s default; negative disables the check.
	MaxAge time.Duration
	// PollInterval is the phone-watch cadence. The provider is read at
	// its natural rate with no distance filter.
	PollInterval time.Duration
}

// Manager exposes one coherent current location regardless of which
// source is active. Source selection stays under user control: a BLE
// disconnect does not silently fall back to the phone.
type Manager struct {
	phone gps.Provider

	mu        sync.Mutex
	source    gps.Source
	lastPhone *gps.Data
	lastBLE   *gps.Data
	maxAge    time.Duration
	interval  time.Duration
	watching  bool
	stop      chan struct{}
	done      chan struct{}

	unsubFixes func()
	unsubState func()

	nextSub int
	subs    map[int]func(gps.Data)

	now func() time.Time
}

// New builds a Manager over the phone provider and the BLE transport.
// The phone source is active initially.
func New(phone gps.Provider, bleSrc FixSource, cfg Config) *Manager {
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 10 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	m := &Manager{
		phone:    phone,
		source:   gps.SourcePhone,
		maxAge:   cfg.MaxAge,
		interval: cfg.PollInterval,
		subs:     make(map[int]func(gps.Data)),
		now:      time.Now,
	}

	if bleSrc != nil {
		m.unsubFixes = bleSrc.SubscribeFixes(m.onBLEFix)
		m.unsubState = bleSrc.SubscribeState(m.onBLEState)
	}
	return m
}

func (m *Manager) onBLEFix(d gps.Data) {
	d.Source = gps.SourceBluetooth
	m.mu.Lock()
	m.lastBLE = &d
	active := m.source == gps.SourceBluetooth && d.Valid
	subs := m.subsLocked()
	m.mu.Unlock()

	if active {
		for _, fn := range subs {
			fn(d)
		}
	}
}

func (m *Manager) onBLEState(st ble.State) {
	if st.Connected {
		return
	}
	// The transport cleared its cached telemetry; drop our copy too so a
	// torn-down link can't keep serving a position.
	m.mu.Lock()
	m.lastBLE = nil
	m.mu.Unlock()
}

// SetSource switches the active source. Pure state change: switching to
// bluetooth while disconnected simply yields no current location until
// the caller initiates discovery.
func (m *Manager) SetSource(src gps.Source) {
	m.mu.Lock()
	m.source = src
	m.mu.Unlock()
	log.Printf("[location] source set to %s", src)
}

// Source returns the active source.
func (m *Manager) Source() gps.Source {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.source
}

// Current computes the current location, or nil when none is usable.
// With the bluetooth source selected, only a valid, fresh BLE fix
// surfaces; an invalid one is treated as absent even if a phone
// location exists. With the phone source, the most recent phone fix is
// returned.
func (m *Manager) Current() *gps.Data {
	m.mu.Lock()
	defer m.mu.Unlock()

	var d *gps.Data
	switch m.source {
	case gps.SourceBluetooth:
		if m.lastBLE != nil && m.lastBLE.Valid {
			d = m.lastBLE
		}
	default:
		d = m.lastPhone
	}

	if d == nil || m.stale(d) {
		return nil
	}
	out := *d
	return &out
}

func (m *Manager) stale(d *gps.Data) bool {
	if m.maxAge < 0 {
		return false
	}
	age := m.now().UnixMilli() - d.Timestamp
	return age > m.maxAge.Milliseconds()
}

// StartWatch connects the phone provider and begins polling it. The
// connect doubles as the permission gate: a refused port or denied
// permission surfaces here, before any polling starts.
func (m *Manager) StartWatch() error {
	m.mu.Lock()
	if m.watching {
		m.mu.Unlock()
		return nil
	}
	if m.phone == nil {
		m.mu.Unlock()
		return fmt.Errorf("location: no phone provider configured")
	}
	m.watching = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	if err := m.phone.Connect(); err != nil {
		m.mu.Lock()
		m.watching = false
		m.mu.Unlock()
		return fmt.Errorf("location: start watch: %w", err)
	}

	go m.watch(stop, done)
	log.Printf("[location] phone watch started (%s)", m.phone.Name())
	return nil
}

func (m *Manager) watch(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d, err := m.phone.Read()
			if err != nil || d == nil || !d.Valid {
				continue
			}
			fix := *d
			fix.Source = gps.SourcePhone

			m.mu.Lock()
			m.lastPhone = &fix
			active := m.source == gps.SourcePhone
			subs := m.subsLocked()
			m.mu.Unlock()

			if active {
				for _, fn := range subs {
					fn(fix)
				}
			}
		}
	}
}

// StopWatch releases the phone subscription so no further callbacks
// fire. Idempotent; safe across screen-lifecycle style teardowns.
func (m *Manager) StopWatch() {
	m.mu.Lock()
	if !m.watching {
		m.mu.Unlock()
		return
	}
	m.watching = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	<-done
	if err := m.phone.Close(); err != nil {
		log.Printf("[location] close phone provider: %v", err)
	}
	log.Printf("[location] phone watch stopped")
}

// Subscribe registers a listener for location updates from the active
// source. The returned cancel is idempotent.
func (m *Manager) Subscribe(fn func(gps.Data)) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close stops the watch and detaches from the BLE transport.
func (m *Manager) Close() {
	m.StopWatch()
	if m.unsubFixes != nil {
		m.unsubFixes()
	}
	if m.unsubState != nil {
		m.unsubState()
	}
}

func (m *Manager) subsLocked() []func(gps.Data) {
	out := make([]func(gps.Data), 0, len(m.subs))
	for _, fn := range m.subs {
		out = append(out, fn)
	}
	return out
}
