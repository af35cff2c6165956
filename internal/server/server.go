package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fristrack/tracker/internal/ble"
	"github.com/fristrack/tracker/internal/gps"
	"github.com/fristrack/tracker/internal/location"
	"github.com/fristrack/tracker/internal/playback"
	"github.com/fristrack/tracker/internal/recording"
)

// Server is the daemon surface: it exposes the unified location, the
// BLE transport and the recording lifecycle over HTTP + websocket, and
// broadcasts live frames to all connected clients.
type Server struct {
	cfg    *Config
	loc    *location.Manager
	ble    *ble.Transport
	rec    *recording.Manager
	loader *playback.Loader
	store  recording.Store
	webFS  fs.FS

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	playersMu sync.Mutex
	players   map[int64]*playback.Player
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all websocket clients.
type Frame struct {
	Location *gps.Data           `json:"location,omitempty"`
	Source   gps.Source          `json:"source,omitempty"`
	BLE      *ble.State          `json:"ble,omitempty"`
	Sessions []recording.Session `json:"sessions,omitempty"`
	Config   *Config             `json:"config,omitempty"`
	Stamp    int64               `json:"stamp"` // Unix ms
}

// New creates a new Server.
func New(cfg *Config, loc *location.Manager, transport *ble.Transport, rec *recording.Manager, loader *playback.Loader, st recording.Store, webFS fs.FS) *Server {
	return &Server{
		cfg:    cfg,
		loc:    loc,
		ble:    transport,
		rec:    rec,
		loader: loader,
		store:  st,
		webFS:  webFS,
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		players: make(map[int64]*playback.Player),
	}
}

// Run starts the HTTP server and the broadcast loop.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()

	// Serve embedded web files
	mux.Handle("/", http.FileServer(http.FS(s.webFS)))

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Source switching
	mux.HandleFunc("/api/source", s.handleSource)

	// BLE transport
	mux.HandleFunc("/api/ble/scan", s.handleScan)
	mux.HandleFunc("/api/ble/stop-scan", s.handleStopScan)
	mux.HandleFunc("/api/ble/connect", s.handleConnect)
	mux.HandleFunc("/api/ble/disconnect", s.handleDisconnect)
	mux.HandleFunc("/api/ble/state", s.handleBLEState)

	// Recording lifecycle
	mux.HandleFunc("/api/recordings/start", s.handleRecordStart)
	mux.HandleFunc("/api/recordings/stop", s.handleRecordStop)
	mux.HandleFunc("/api/recordings/status", s.handleRecordStatus)
	mux.HandleFunc("/api/recordings/data", s.handleRecordData)
	mux.HandleFunc("/api/recordings/export", s.handleRecordExport)

	// Playback
	mux.HandleFunc("/api/playback/load", s.handlePlaybackLoad)
	mux.HandleFunc("/api/playback/control", s.handlePlaybackControl)

	// BLE state changes (new scan results, drops) go out immediately so
	// clients can update discovery lists progressively.
	unsubState := s.ble.SubscribeState(func(st ble.State) {
		s.broadcast(Frame{BLE: &st, Stamp: time.Now().UnixMilli()})
	})
	defer unsubState()

	go s.broadcastLoop(ctx)

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	return srv.ListenAndServe()
}

// broadcastLoop periodically pushes the unified location and session
// state to all clients.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frame := Frame{
				Location: s.loc.Current(),
				Source:   s.loc.Source(),
				Sessions: s.rec.Sessions(),
				Stamp:    time.Now().UnixMilli(),
			}
			s.broadcast(frame)
		}
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	total := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", total)

	// Send initial config + state
	bleState := s.ble.State()
	first := Frame{
		Config:   s.cfg,
		Source:   s.loc.Source(),
		Location: s.loc.Current(),
		BLE:      &bleState,
		Sessions: s.rec.Sessions(),
		Stamp:    time.Now().UnixMilli(),
	}
	if data, err := json.Marshal(first); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			remaining := len(s.clients)
			s.clientsMu.Unlock()
			close(client.send)
			log.Printf("[ws] client disconnected (%d total)", remaining)
		}()
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", 400)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		// Broadcast updated config
		s.broadcast(Frame{Config: s.cfg, Stamp: time.Now().UnixMilli()})
		writeOK(w)

	default:
		http.Error(w, "method not allowed", 405)
	}
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Source gps.Source `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}
	if req.Source != gps.SourcePhone && req.Source != gps.SourceBluetooth {
		http.Error(w, fmt.Sprintf("unknown source %q", req.Source), 400)
		return
	}
	s.loc.SetSource(req.Source)
	writeOK(w)
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		Filter    string `json:"filter"`
		TimeoutMs int    `json:"timeoutMs"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
		http.Error(w, "bad request", 400)
		return
	}
	if req.Filter == "" {
		req.Filter = s.cfg.BLE.DeviceFilter
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = time.Duration(s.cfg.BLE.ScanTimeoutMs) * time.Millisecond
	}

	devices, err := s.ble.Scan(r.Context(), req.Filter, timeout)
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, devices)
}

func (s *Server) handleStopScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.ble.StopScan()
	writeOK(w)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var dev ble.Device
	if err := json.NewDecoder(r.Body).Decode(&dev); err != nil || dev.ID == "" {
		http.Error(w, "bad request", 400)
		return
	}
	if err := s.ble.Connect(dev); err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeOK(w)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	s.ble.Disconnect()
	writeOK(w)
}

func (s *Server) handleBLEState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return
	}
	writeJSON(w, s.ble.State())
}

func (s *Server) handleRecordStart(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromBody(w, r)
	if !ok {
		return
	}
	sess, err := s.rec.Start(r.Context(), matchID)
	if err == recording.ErrAlreadyRecording {
		http.Error(w, err.Error(), 409)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, sess)
}

func (s *Server) handleRecordStop(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromBody(w, r)
	if !ok {
		return
	}
	err := s.rec.Stop(r.Context(), matchID)
	switch err {
	case nil:
		writeOK(w)
	case recording.ErrNotRecording, recording.ErrStopInFlight:
		http.Error(w, err.Error(), 409)
	default:
		http.Error(w, err.Error(), 502)
	}
}

func (s *Server) handleRecordStatus(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromQuery(w, r)
	if !ok {
		return
	}
	sess, _ := s.rec.Session(matchID)
	writeJSON(w, sess)
}

func (s *Server) handleRecordData(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromQuery(w, r)
	if !ok {
		return
	}
	samples, err := s.store.GetRecordingData(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	writeJSON(w, samples)
}

func (s *Server) handleRecordExport(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromQuery(w, r)
	if !ok {
		return
	}
	samples, err := s.store.GetRecordingData(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="match_%d.csv"`, matchID))
	if err := recording.WriteCSV(w, samples); err != nil {
		log.Printf("[server] csv export for match %d: %v", matchID, err)
	}
}

func (s *Server) handlePlaybackLoad(w http.ResponseWriter, r *http.Request) {
	matchID, ok := matchIDFromBody(w, r)
	if !ok {
		return
	}
	player, err := s.loader.Load(r.Context(), matchID)
	if err != nil {
		http.Error(w, err.Error(), 502)
		return
	}

	s.playersMu.Lock()
	s.players[matchID] = player
	s.playersMu.Unlock()

	writeJSON(w, map[string]interface{}{
		"matchId": matchID,
		"frames":  player.Len(),
	})
}

// handlePlaybackControl drives a loaded player. "tick" is called by the
// client once per redraw so the animation never outruns the display.
func (s *Server) handlePlaybackControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return
	}
	var req struct {
		MatchID int64  `json:"matchId"`
		Action  string `json:"action"` // play, pause, tick, jump, seek
		Delta   int    `json:"delta"`
		Frame   int    `json:"frame"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", 400)
		return
	}

	s.playersMu.Lock()
	player, ok := s.players[req.MatchID]
	s.playersMu.Unlock()
	if !ok {
		http.Error(w, fmt.Sprintf("match %d not loaded", req.MatchID), 404)
		return
	}

	switch req.Action {
	case "play":
		player.Play()
	case "pause":
		player.Pause()
	case "tick":
		player.Tick()
	case "jump":
		player.Jump(req.Delta)
	case "seek":
		player.Seek(req.Frame)
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), 400)
		return
	}

	resp := map[string]interface{}{
		"frame":   player.Frame(),
		"frames":  player.Len(),
		"playing": player.Playing(),
	}
	if sample, ok := player.Current(); ok {
		resp["sample"] = sample
	}
	writeJSON(w, resp)
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func matchIDFromBody(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", 405)
		return 0, false
	}
	var req struct {
		MatchID int64 `json:"matchId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchID == 0 {
		http.Error(w, "matchId required", 400)
		return 0, false
	}
	return req.MatchID, true
}

func matchIDFromQuery(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", 405)
		return 0, false
	}
	matchID, err := strconv.ParseInt(r.URL.Query().Get("matchId"), 10, 64)
	if err != nil || matchID == 0 {
		http.Error(w, "matchId required", 400)
		return 0, false
	}
	return matchID, true
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
