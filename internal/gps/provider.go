package gps

// Source identifies which hardware produced a fix.
type Source string

const (
	// SourcePhone is the device's own receiver (serial NMEA on this build).
	SourcePhone Source = "phone"
	// SourceBluetooth is the external BLE GPS peripheral.
	SourceBluetooth Source = "bluetooth"
)

// Provider is the interface for GPS data sources.
type Provider interface {
	Name() string
	Connect() error
	Close() error
	// Read returns the latest GPS fix. May block briefly.
	Read() (*Data, error)
}

// Data holds a single unified position sample. Whichever source is
// active produces a fresh Data on every tick; samples are never mutated,
// only superseded by the next one.
type Data struct {
	Valid      bool    `json:"valid"`      // Fix is usable
	Latitude   float64 `json:"latitude"`   // Decimal degrees
	Longitude  float64 `json:"longitude"`  // Decimal degrees
	Altitude   float64 `json:"altitude"`   // Meters
	Accuracy   float64 `json:"accuracy"`   // Meters, radius of uncertainty
	Speed      float64 `json:"speed"`      // m/s
	Satellites int     `json:"satellites"` // Sats in use
	Source     Source  `json:"source"`     // phone or bluetooth
	Timestamp  int64   `json:"timestamp"`  // Unix ms
}
