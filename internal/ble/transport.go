package ble

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/fristrack/tracker/internal/gps"
)

// UUIDs advertised by the FrisTrack GPS pod. The pod streams telemetry
// as notifications on a UART-style characteristic.
const (
	DefaultServiceUUID        = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	DefaultCharacteristicUUID = "6e400003-b5a3-f393-e0a9-e50e24dcca9e"

	DefaultScanTimeout    = 10 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

var (
	// ErrUnavailable means the native adapter failed to initialize at
	// startup. Every operation fails fast with this instead of touching
	// the stack.
	ErrUnavailable = errors.New("ble: adapter unavailable")
	// ErrPermissionDenied means the platform refused radio/location access.
	ErrPermissionDenied = errors.New("ble: permission denied")
	// ErrScanActive rejects overlapping discovery runs.
	ErrScanActive = errors.New("ble: scan already in progress")
	// ErrBusy rejects a connect while another attempt is in flight.
	ErrBusy = errors.New("ble: connection attempt already in progress")
	// ErrNoNotifiable means the device exposes nothing we can stream from.
	ErrNoNotifiable = errors.New("ble: no notifiable characteristic on device")
)

// Device is a discovered peripheral as shown to the user.
type Device struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// State is a copy of the transport's connection/discovery state.
// Consumers only ever get copies; the connection handle itself never
// leaves the transport.
type State struct {
	Available   bool      `json:"available"`
	Scanning    bool      `json:"isScanning"`
	Connecting  bool      `json:"isConnecting"`
	Connected   bool      `json:"isConnected"`
	Discovered  []Device  `json:"discoveredDevices"`
	ConnectedTo *Device   `json:"connectedDevice,omitempty"`
	LastFix     *gps.Data `json:"lastGPSData,omitempty"`
	Err         string    `json:"error,omitempty"`
}

// Config tunes the transport.
type Config struct {
	ServiceUUID        string
	CharacteristicUUID string
	ConnectTimeout     time.Duration
}

// Transport owns the link to one external GPS peripheral: discovery,
// connection, notification subscription and telemetry decode. It fans
// decoded fixes and state changes out to any number of subscribers.
type Transport struct {
	central Central
	cfg     Config

	mu           sync.Mutex
	available    bool
	scanning     bool
	connecting   bool
	connected    bool
	devices      []Device
	seen         map[string]struct{}
	connectedDev *Device
	peripheral   Peripheral
	lastFix      *gps.Data
	lastErr      string
	dropped      int

	nextSub   int
	fixSubs   map[int]func(gps.Data)
	stateSubs map[int]func(State)
}

// New builds a Transport over the given central and probes availability
// once. An Enable failure is not fatal: the transport stays constructed
// and every operation reports ErrUnavailable.
func New(central Central, cfg Config) *Transport {
	if cfg.ServiceUUID == "" {
		cfg.ServiceUUID = DefaultServiceUUID
	}
	if cfg.CharacteristicUUID == "" {
		cfg.CharacteristicUUID = DefaultCharacteristicUUID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}

	t := &Transport{
		central:   central,
		cfg:       cfg,
		seen:      make(map[string]struct{}),
		fixSubs:   make(map[int]func(gps.Data)),
		stateSubs: make(map[int]func(State)),
	}

	if err := central.Enable(); err != nil {
		t.lastErr = err.Error()
		log.Printf("[ble] adapter unavailable: %v", err)
	} else {
		t.available = true
		central.SetDisconnectHandler(t.handleDrop)
	}
	return t
}

// Available reports whether the native adapter initialized at startup.
func (t *Transport) Available() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.available
}

// RequestPermissions asks the platform for radio/location access. On
// this target (Linux field unit) there is no permission prompt, so it
// always grants.
func (t *Transport) RequestPermissions() (bool, error) {
	if !t.Available() {
		return false, ErrUnavailable
	}
	return true, nil
}

// Scan runs a time-bounded discovery and returns whatever was found.
// Results are deduplicated by device id and, when filter is non-empty,
// restricted to names containing it (case-insensitive). Each new device
// is also published through the state subscription as it is found.
func (t *Transport) Scan(ctx context.Context, filter string, timeout time.Duration) ([]Device, error) {
	if !t.Available() {
		return nil, ErrUnavailable
	}
	granted, err := t.RequestPermissions()
	if err != nil {
		return nil, err
	}
	if !granted {
		return nil, ErrPermissionDenied
	}
	if timeout <= 0 {
		timeout = DefaultScanTimeout
	}

	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return nil, ErrScanActive
	}
	t.scanning = true
	t.devices = nil
	t.seen = make(map[string]struct{})
	t.lastErr = ""
	t.mu.Unlock()
	t.publishState()

	errCh := make(chan error, 1)
	go func() {
		errCh <- t.central.Scan(func(id, name string) {
			t.onDiscover(filter, id, name)
		})
	}()

	var scanErr error
	select {
	case <-ctx.Done():
		scanErr = ctx.Err()
	case <-time.After(timeout):
	case err := <-errCh:
		// Scan unblocked before the deadline: either an external
		// StopScan (err == nil) or a stack failure.
		scanErr = err
	}

	if err := t.central.StopScan(); err != nil {
		log.Printf("[ble] stop scan: %v", err)
	}

	t.mu.Lock()
	t.scanning = false
	if scanErr != nil {
		t.lastErr = scanErr.Error()
	}
	found := append([]Device(nil), t.devices...)
	t.mu.Unlock()
	t.publishState()

	if scanErr != nil {
		return found, fmt.Errorf("ble: scan: %w", scanErr)
	}
	log.Printf("[ble] scan finished, %d device(s)", len(found))
	return found, nil
}

func (t *Transport) onDiscover(filter, id, name string) {
	if filter != "" && !strings.Contains(strings.ToLower(name), strings.ToLower(filter)) {
		return
	}
	t.mu.Lock()
	if !t.scanning {
		t.mu.Unlock()
		return
	}
	if _, dup := t.seen[id]; dup {
		t.mu.Unlock()
		return
	}
	t.seen[id] = struct{}{}
	t.devices = append(t.devices, Device{ID: id, Name: name})
	t.mu.Unlock()
	t.publishState()
}

// StopScan ends an active discovery early. Safe to call when no scan is
// running.
func (t *Transport) StopScan() {
	t.mu.Lock()
	active := t.scanning
	t.mu.Unlock()
	if !active {
		return
	}
	if err := t.central.StopScan(); err != nil {
		log.Printf("[ble] stop scan: %v", err)
	}
}

// Connect establishes a connection to a discovered device, locates the
// GPS characteristic (exact UUID, then any notifiable one on the GPS
// service, then the first notifiable anywhere) and subscribes to it.
func (t *Transport) Connect(dev Device) error {
	if !t.Available() {
		return ErrUnavailable
	}

	t.mu.Lock()
	if t.connecting {
		t.mu.Unlock()
		return ErrBusy
	}
	if t.connected {
		t.mu.Unlock()
		return fmt.Errorf("ble: already connected, disconnect first")
	}
	t.connecting = true
	t.lastErr = ""
	t.mu.Unlock()
	t.publishState()

	fail := func(err error) error {
		t.mu.Lock()
		t.connecting = false
		t.lastErr = err.Error()
		t.mu.Unlock()
		t.publishState()
		return err
	}

	peripheral, err := t.central.Connect(dev.ID, t.cfg.ConnectTimeout)
	if err != nil {
		return fail(err)
	}

	chars, err := peripheral.Characteristics()
	if err != nil {
		peripheral.Disconnect()
		return fail(fmt.Errorf("ble: characteristic discovery: %w", err))
	}

	if !t.subscribeTelemetry(chars) {
		peripheral.Disconnect()
		return fail(ErrNoNotifiable)
	}

	t.mu.Lock()
	t.peripheral = peripheral
	t.connected = true
	t.connecting = false
	d := dev
	t.connectedDev = &d
	t.mu.Unlock()
	t.publishState()
	log.Printf("[ble] connected to %q (%s)", dev.Name, dev.ID)
	return nil
}

// subscribeTelemetry enables notifications on the best-matching
// characteristic. Notify failing doubles as the "is it notifiable"
// probe for the fallback passes.
func (t *Transport) subscribeTelemetry(chars []Characteristic) bool {
	for _, ch := range chars {
		if strings.EqualFold(ch.UUID(), t.cfg.CharacteristicUUID) {
			if ch.Notify(t.onNotify) == nil {
				return true
			}
		}
	}
	for _, ch := range chars {
		if strings.EqualFold(ch.ServiceUUID(), t.cfg.ServiceUUID) &&
			ch.Notify(t.onNotify) == nil {
			return true
		}
	}
	for _, ch := range chars {
		if ch.Notify(t.onNotify) == nil {
			return true
		}
	}
	return false
}

func (t *Transport) onNotify(payload []byte) {
	fix, err := DecodeTelemetry(payload)
	if err != nil {
		// onDecodeFailure: drop. The stream is lossy by nature; a
		// malformed packet never interrupts it.
		t.mu.Lock()
		t.dropped++
		t.mu.Unlock()
		log.Printf("[ble] dropped undecodable packet: %v", err)
		return
	}

	t.mu.Lock()
	t.lastFix = fix
	t.lastErr = ""
	subs := make([]func(gps.Data), 0, len(t.fixSubs))
	for _, fn := range t.fixSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()

	for _, fn := range subs {
		fn(*fix)
	}
	t.publishState()
}

// Disconnect cancels the active connection if any and clears cached
// telemetry. Always safe to call.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	p := t.peripheral
	changed := t.connected || t.connecting || t.peripheral != nil
	t.peripheral = nil
	t.connected = false
	t.connecting = false
	t.connectedDev = nil
	t.lastFix = nil
	t.mu.Unlock()

	if p != nil {
		if err := p.Disconnect(); err != nil {
			log.Printf("[ble] disconnect: %v", err)
		}
	}
	if changed {
		t.publishState()
	}
}

// handleDrop runs when the link drops out from under us.
func (t *Transport) handleDrop(id string) {
	t.mu.Lock()
	if t.connectedDev == nil || t.connectedDev.ID != id {
		t.mu.Unlock()
		return
	}
	t.peripheral = nil
	t.connected = false
	t.connectedDev = nil
	t.lastFix = nil
	t.lastErr = "connection lost"
	t.mu.Unlock()
	log.Printf("[ble] link to %s dropped", id)
	t.publishState()
}

// Close tears the transport down: stops any scan and drops the link.
func (t *Transport) Close() {
	t.StopScan()
	t.Disconnect()
}

// SubscribeFixes registers a listener for decoded telemetry. The
// returned cancel is idempotent.
func (t *Transport) SubscribeFixes(fn func(gps.Data)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.fixSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.fixSubs, id)
		t.mu.Unlock()
	}
}

// SubscribeState registers a listener for connection/discovery state
// changes. The returned cancel is idempotent.
func (t *Transport) SubscribeState(fn func(State)) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextSub
	t.nextSub++
	t.stateSubs[id] = fn
	return func() {
		t.mu.Lock()
		delete(t.stateSubs, id)
		t.mu.Unlock()
	}
}

// State returns a snapshot of the current transport state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stateLocked()
}

// LastFix returns a copy of the most recent decoded telemetry, or nil.
func (t *Transport) LastFix() *gps.Data {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.lastFix == nil {
		return nil
	}
	fix := *t.lastFix
	return &fix
}

// Dropped returns how many undecodable packets were discarded.
func (t *Transport) Dropped() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

func (t *Transport) stateLocked() State {
	st := State{
		Available:  t.available,
		Scanning:   t.scanning,
		Connecting: t.connecting,
		Connected:  t.connected,
		Discovered: append([]Device(nil), t.devices...),
		Err:        t.lastErr,
	}
	if t.connectedDev != nil {
		d := *t.connectedDev
		st.ConnectedTo = &d
	}
	if t.lastFix != nil {
		fix := *t.lastFix
		st.LastFix = &fix
	}
	return st
}

func (t *Transport) publishState() {
	t.mu.Lock()
	st := t.stateLocked()
	subs := make([]func(State), 0, len(t.stateSubs))
	for _, fn := range t.stateSubs {
		subs = append(subs, fn)
	}
	t.mu.Unlock()
	for _, fn := range subs {
		fn(st)
	}
}
