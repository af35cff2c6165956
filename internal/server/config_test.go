package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.GPS.Type != "demo" {
		t.Errorf("GPS.Type = %q, want demo", cfg.GPS.Type)
	}
	if cfg.BLE.DeviceFilter != "FrisTrack" || cfg.BLE.ScanTimeoutMs != 10000 {
		t.Errorf("unexpected BLE defaults: %+v", cfg.BLE)
	}
	if cfg.Location.Source != "phone" || cfg.Location.MaxAgeMs != 10000 {
		t.Errorf("unexpected location defaults: %+v", cfg.Location)
	}
	if cfg.Recording.IntervalMs != 1000 {
		t.Errorf("Recording.IntervalMs = %d, want 1000", cfg.Recording.IntervalMs)
	}
	if cfg.Field.LengthM != 100 || cfg.Field.WidthM != 37 {
		t.Errorf("unexpected field defaults: %+v", cfg.Field)
	}
	if cfg.Server.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.Server.ListenAddr)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.GPS.Type != "demo" || cfg.Server.ListenAddr != ":8080" {
		t.Errorf("missing file should yield defaults, got %+v", cfg)
	}
}

func TestLoadConfigFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
gps:
  type: nmea
  port_path: /dev/ttyUSB0
  baud_rate: 115200
location:
  source: bluetooth
field:
  origin_lat: 45.5019
  origin_lon: -73.5674
  length_m: 110
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg := LoadConfig(path)
	if cfg.GPS.Type != "nmea" || cfg.GPS.PortPath != "/dev/ttyUSB0" || cfg.GPS.BaudRate != 115200 {
		t.Errorf("unexpected gps config: %+v", cfg.GPS)
	}
	if cfg.Location.Source != "bluetooth" {
		t.Errorf("Location.Source = %q, want bluetooth", cfg.Location.Source)
	}
	if cfg.Field.OriginLat != 45.5019 || cfg.Field.LengthM != 110 {
		t.Errorf("unexpected field config: %+v", cfg.Field)
	}
	// Untouched sections keep defaults.
	if cfg.Recording.IntervalMs != 1000 {
		t.Errorf("Recording.IntervalMs = %d, want default 1000", cfg.Recording.IntervalMs)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GPS_TYPE", "disabled")
	t.Setenv("BLE_FILTER", "MyPod")
	t.Setenv("RECORD_INTERVAL_MS", "250")
	t.Setenv("LISTEN_ADDR", ":9090")

	cfg := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if cfg.GPS.Type != "disabled" {
		t.Errorf("GPS.Type = %q, want disabled", cfg.GPS.Type)
	}
	if cfg.BLE.DeviceFilter != "MyPod" {
		t.Errorf("BLE.DeviceFilter = %q, want MyPod", cfg.BLE.DeviceFilter)
	}
	if cfg.Recording.IntervalMs != 250 {
		t.Errorf("Recording.IntervalMs = %d, want 250", cfg.Recording.IntervalMs)
	}
	if cfg.Server.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.Server.ListenAddr)
	}
}

func TestEnvFileLowerPrecedenceThanEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("GPS_BAUD=4800\nGPS_TYPE=\"nmea\"\n"), 0o644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Setenv("GPS_BAUD", "115200")
	t.Setenv("GPS_TYPE", "") // unset so the .env value applies

	cfg := LoadConfig(path)
	if cfg.GPS.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, real env should win over .env", cfg.GPS.BaudRate)
	}
	if cfg.GPS.Type != "nmea" {
		t.Errorf("GPS.Type = %q, want nmea from .env (quotes stripped)", cfg.GPS.Type)
	}
}

func TestUpdateFromJSONDeepMerges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Recording.APIToken = "keep-me"

	patch := `{"location":{"source":"bluetooth"},"recording":{"intervalMs":500}}`
	if err := cfg.UpdateFromJSON([]byte(patch)); err != nil {
		t.Fatalf("UpdateFromJSON: %v", err)
	}

	if cfg.Location.Source != "bluetooth" {
		t.Errorf("Location.Source = %q, want bluetooth", cfg.Location.Source)
	}
	if cfg.Recording.IntervalMs != 500 {
		t.Errorf("Recording.IntervalMs = %d, want 500", cfg.Recording.IntervalMs)
	}
	// Fields absent from the patch survive the merge.
	if cfg.Recording.APIToken != "keep-me" {
		t.Errorf("APIToken = %q, patch must not clobber unrelated fields", cfg.Recording.APIToken)
	}
	if cfg.Location.MaxAgeMs != 10000 {
		t.Errorf("Location.MaxAgeMs = %d, want untouched default", cfg.Location.MaxAgeMs)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	cfg := DefaultConfig()
	cfg.path = path
	cfg.Location.Source = "bluetooth"
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := LoadConfig(path)
	if loaded.Location.Source != "bluetooth" {
		t.Errorf("Location.Source = %q after reload, want bluetooth", loaded.Location.Source)
	}
}
