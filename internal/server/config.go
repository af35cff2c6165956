package server

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fristrack/tracker/internal/recording"
	"gopkg.in/yaml.v3"
)

// Config holds all tracker configuration.
type Config struct {
	mu sync.RWMutex

	// GPS sources
	GPS GPSConfig `yaml:"gps" json:"gps"`
	BLE BLEConfig `yaml:"ble" json:"ble"`

	// Unified location
	Location LocationConfig `yaml:"location" json:"location"`

	// Recording pipeline
	Recording RecordingConfig `yaml:"recording" json:"recording"`

	// Field anchoring
	Field recording.Field `yaml:"field" json:"field"`

	// Server
	Server ServerConfig `yaml:"server" json:"server"`

	path string // file path for save/load
}

type GPSConfig struct {
	Type     string `yaml:"type" json:"type"`          // "nmea", "demo" or "disabled"
	PortPath string `yaml:"port_path" json:"portPath"` // e.g. /dev/ttyGPS
	BaudRate int    `yaml:"baud_rate" json:"baudRate"`
}

type BLEConfig struct {
	DeviceFilter       string `yaml:"device_filter" json:"deviceFilter"` // advertised-name substring
	ScanTimeoutMs      int    `yaml:"scan_timeout_ms" json:"scanTimeoutMs"`
	ConnectTimeoutMs   int    `yaml:"connect_timeout_ms" json:"connectTimeoutMs"`
	ServiceUUID        string `yaml:"service_uuid" json:"serviceUUID"`
	CharacteristicUUID string `yaml:"characteristic_uuid" json:"characteristicUUID"`
}

type LocationConfig struct {
	Source   string `yaml:"source" json:"source"` // "phone" or "bluetooth"
	MaxAgeMs int    `yaml:"max_age_ms" json:"maxAgeMs"`
	PollMs   int    `yaml:"poll_ms" json:"pollMs"`
}

type RecordingConfig struct {
	IntervalMs   int    `yaml:"interval_ms" json:"intervalMs"`
	BackupPath   string `yaml:"backup_path" json:"backupPath"`
	DatabasePath string `yaml:"database_path" json:"databasePath"`
	APIURL       string `yaml:"api_url" json:"apiUrl"`     // remote store; empty = embedded sqlite
	APIToken     string `yaml:"api_token" json:"apiToken"` // bearer token for the remote store
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		GPS: GPSConfig{
			Type:     "demo",
			PortPath: "/dev/ttyGPS",
			BaudRate: 9600,
		},
		BLE: BLEConfig{
			DeviceFilter:     "FrisTrack",
			ScanTimeoutMs:    10000,
			ConnectTimeoutMs: 10000,
		},
		Location: LocationConfig{
			Source:   "phone",
			MaxAgeMs: 10000,
			PollMs:   500,
		},
		Recording: RecordingConfig{
			IntervalMs:   1000,
			BackupPath:   "/var/lib/fristrack/backups",
			DatabasePath: "/var/lib/fristrack/fristrack.db",
		},
		Field: recording.DefaultField(),
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// LoadConfig reads config from a YAML file, then applies .env and
// environment variable overrides. Falls back to defaults if YAML not
// found.
func LoadConfig(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env file from the same directory as the config, or from CWD
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		// Strip surrounding quotes
		val = strings.Trim(val, `"'`)
		// Only set if not already set in real env (real env takes precedence)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: GPS_TYPE, GPS_PORT, GPS_BAUD, BLE_FILTER,
// BLE_SERVICE_UUID, BLE_CHAR_UUID, LOCATION_SOURCE, RECORD_INTERVAL_MS,
// BACKUP_PATH, DATABASE_PATH, API_URL, API_TOKEN, LISTEN_ADDR.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("GPS_TYPE"); v != "" {
		c.GPS.Type = v
	}
	if v := os.Getenv("GPS_PORT"); v != "" {
		c.GPS.PortPath = v
	}
	if v := os.Getenv("GPS_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.GPS.BaudRate = n
		}
	}
	if v := os.Getenv("BLE_FILTER"); v != "" {
		c.BLE.DeviceFilter = v
	}
	if v := os.Getenv("BLE_SERVICE_UUID"); v != "" {
		c.BLE.ServiceUUID = v
	}
	if v := os.Getenv("BLE_CHAR_UUID"); v != "" {
		c.BLE.CharacteristicUUID = v
	}
	if v := os.Getenv("LOCATION_SOURCE"); v != "" {
		c.Location.Source = v
	}
	if v := os.Getenv("RECORD_INTERVAL_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Recording.IntervalMs = n
		}
	}
	if v := os.Getenv("BACKUP_PATH"); v != "" {
		c.Recording.BackupPath = v
	}
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		c.Recording.DatabasePath = v
	}
	if v := os.Getenv("API_URL"); v != "" {
		c.Recording.APIURL = v
	}
	if v := os.Getenv("API_TOKEN"); v != "" {
		c.Recording.APIToken = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
}

// Save writes the config to its YAML file.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		c.path = "/etc/fristrack/config.yaml"
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON config update by deep-merging
// incoming fields into the existing config. Fields not present in the
// incoming JSON are preserved (e.g. port paths, backup dirs, tokens).
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Marshal current config to a generic map
	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	// Unmarshal incoming partial update to a map
	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	// Deep merge patch into base
	deepMerge(base, patch)

	// Marshal merged result and unmarshal back into the config struct
	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. For nested maps, values
// are merged rather than replaced. For all other types, src overwrites
// dst.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
