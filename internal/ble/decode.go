package ble

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fristrack/tracker/internal/gps"
)

// The peripheral stream is lossy by nature: a notification that fails to
// decode is dropped (logged by the caller), never surfaced to
// subscribers. DecodeTelemetry returns an error only so the transport
// can count/log the drop.

// wireFix is the JSON wire format, with the short and long key variants
// the peripheral firmware has shipped over time.
type wireFix struct {
	Lat       *float64 `json:"lat"`
	Latitude  *float64 `json:"latitude"`
	Lon       *float64 `json:"lon"`
	Longitude *float64 `json:"longitude"`
	Alt       *float64 `json:"alt"`
	Altitude  *float64 `json:"altitude"`
	Spd       *float64 `json:"spd"`
	Speed     *float64 `json:"speed"`
	Sat       *int     `json:"sat"`
	Sats      *int     `json:"satellites"`
	Acc       *float64 `json:"acc"`
	Accuracy  *float64 `json:"accuracy"`
	Ts        *int64   `json:"ts"`
	Timestamp *int64   `json:"timestamp"`
	Valid     *bool    `json:"valid"`
	IsValid   *bool    `json:"isValid"`
}

// DecodeTelemetry parses one raw notification payload into a fix.
// Payloads are base64-encoded bytes carrying either a JSON object
// (preferred) or a comma-separated "lat,lon[,alt,speed,sats,valid]"
// line. Payloads that are not base64 are tried as-is.
func DecodeTelemetry(payload []byte) (*gps.Data, error) {
	raw := payload
	if decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(payload))); err == nil {
		raw = decoded
	}

	if fix, err := decodeJSON(raw); err == nil {
		return fix, nil
	}
	return decodeCSV(raw)
}

func decodeJSON(raw []byte) (*gps.Data, error) {
	var w wireFix
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, err
	}

	d := &gps.Data{
		Source:    gps.SourceBluetooth,
		Timestamp: time.Now().UnixMilli(),
	}
	d.Latitude = pick(w.Lat, w.Latitude)
	d.Longitude = pick(w.Lon, w.Longitude)
	d.Altitude = pick(w.Alt, w.Altitude)
	d.Speed = pick(w.Spd, w.Speed)
	d.Accuracy = pick(w.Acc, w.Accuracy)
	if w.Sat != nil {
		d.Satellites = *w.Sat
	} else if w.Sats != nil {
		d.Satellites = *w.Sats
	}
	if w.Ts != nil {
		d.Timestamp = *w.Ts
	} else if w.Timestamp != nil {
		d.Timestamp = *w.Timestamp
	}

	// Only an explicit flag marks a JSON fix usable. The
	// nonzero-coordinate inference applies to the csv form alone, which
	// has no way to carry a flag in its two-field variant.
	switch {
	case w.Valid != nil:
		d.Valid = *w.Valid
	case w.IsValid != nil:
		d.Valid = *w.IsValid
	}
	return d, nil
}

func decodeCSV(raw []byte) (*gps.Data, error) {
	parts := strings.Split(strings.TrimSpace(string(raw)), ",")
	if len(parts) < 2 {
		return nil, fmt.Errorf("ble: telemetry payload not JSON and too short for csv form")
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return nil, fmt.Errorf("ble: bad latitude %q: %w", parts[0], err)
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("ble: bad longitude %q: %w", parts[1], err)
	}

	d := &gps.Data{
		Latitude:  lat,
		Longitude: lon,
		Source:    gps.SourceBluetooth,
		Timestamp: time.Now().UnixMilli(),
	}
	if len(parts) > 2 {
		d.Altitude, _ = strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	}
	if len(parts) > 3 {
		d.Speed, _ = strconv.ParseFloat(strings.TrimSpace(parts[3]), 64)
	}
	if len(parts) > 4 {
		d.Satellites, _ = strconv.Atoi(strings.TrimSpace(parts[4]))
	}
	if len(parts) > 5 {
		v := strings.TrimSpace(parts[5])
		d.Valid = v == "1" || strings.EqualFold(v, "true") || strings.EqualFold(v, "a")
	} else {
		d.Valid = lat != 0 || lon != 0
	}
	return d, nil
}

func pick(vals ...*float64) float64 {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return 0
}
