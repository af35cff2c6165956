package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fristrack/tracker/internal/recording"
)

// API talks to the remote FrisTrack REST backend. Used when the field
// unit has connectivity; otherwise the embedded SQLite store is the
// collaborator and syncing happens elsewhere.
type API struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewAPI builds a client for the backend at baseURL. token may be empty.
func NewAPI(baseURL, token string, timeout time.Duration) *API {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (a *API) StartRecording(ctx context.Context, matchID int64) (int64, error) {
	var out struct {
		ID int64 `json:"id"`
	}
	body := map[string]int64{"matchId": matchID}
	if err := a.do(ctx, http.MethodPost, "/api/recordings/start", body, &out); err != nil {
		return 0, err
	}
	return out.ID, nil
}

func (a *API) StopRecording(ctx context.Context, matchID int64) error {
	body := map[string]int64{"matchId": matchID}
	return a.do(ctx, http.MethodPost, "/api/recordings/stop", body, nil)
}

func (a *API) SavePositions(ctx context.Context, recordingID int64, positions []recording.Position) error {
	body := map[string]interface{}{"positions": positions}
	path := fmt.Sprintf("/api/recordings/%d/positions", recordingID)
	return a.do(ctx, http.MethodPost, path, body, nil)
}

func (a *API) GetRecordingData(ctx context.Context, matchID int64) ([]recording.Sample, error) {
	var out []recording.Sample
	path := fmt.Sprintf("/api/recordings/match/%d", matchID)
	if err := a.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (a *API) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("store: encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("store: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("store: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("store: %s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("store: decode response: %w", err)
		}
	}
	return nil
}
