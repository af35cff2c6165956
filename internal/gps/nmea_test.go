package gps

import (
	"math"
	"testing"
)

const (
	rmcFix  = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	ggaFix  = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	rmcVoid = "$GPRMC,123519,V,,,,,,,230394,,*14"
)

func TestValidateNMEAChecksum(t *testing.T) {
	tests := []struct {
		line string
		ok   bool
	}{
		{rmcFix, true},
		{ggaFix, true},
		{"$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*00", false},
		{"$GPRMC,123519,A", false}, // no checksum
		{"$GPRMC,123519,A*6", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := validateNMEAChecksum(tt.line); got != tt.ok {
			t.Errorf("validateNMEAChecksum(%q) = %v, want %v", tt.line, got, tt.ok)
		}
	}
}

func TestParseNMEACoord(t *testing.T) {
	tests := []struct {
		raw, dir string
		want     float64
	}{
		{"4807.038", "N", 48.1173},
		{"01131.000", "E", 11.5166667},
		{"4807.038", "S", -48.1173},
		{"01131.000", "W", -11.5166667},
		{"", "N", 0},
		{"bogus", "N", 0},
	}
	for _, tt := range tests {
		if got := parseNMEACoord(tt.raw, tt.dir); math.Abs(got-tt.want) > 1e-6 {
			t.Errorf("parseNMEACoord(%q, %q) = %v, want %v", tt.raw, tt.dir, got, tt.want)
		}
	}
}

func TestParseRMC(t *testing.T) {
	p := NewNMEA(NMEAConfig{})
	p.parseRMC(rmcFix)

	if !p.last.Valid {
		t.Fatal("active fix should be valid")
	}
	if math.Abs(p.last.Latitude-48.1173) > 1e-6 {
		t.Errorf("Latitude = %v, want 48.1173", p.last.Latitude)
	}
	if math.Abs(p.last.Longitude-11.5166667) > 1e-6 {
		t.Errorf("Longitude = %v, want 11.5166667", p.last.Longitude)
	}
	if math.Abs(p.last.Speed-22.4*knots) > 1e-9 {
		t.Errorf("Speed = %v, want %v m/s", p.last.Speed, 22.4*knots)
	}
}

func TestParseRMCVoidFix(t *testing.T) {
	p := NewNMEA(NMEAConfig{})
	p.parseRMC(rmcFix)
	p.parseRMC(rmcVoid)

	if p.last.Valid {
		t.Error("void status should mark the fix invalid")
	}
	// Coordinates from the last good fix are retained, only validity flips.
	if p.last.Latitude == 0 {
		t.Error("void sentence should not wipe the last coordinates")
	}
}

func TestParseGGA(t *testing.T) {
	p := NewNMEA(NMEAConfig{})
	p.parseGGA(ggaFix)

	if p.last.Satellites != 8 {
		t.Errorf("Satellites = %d, want 8", p.last.Satellites)
	}
	if math.Abs(p.last.Accuracy-4.5) > 1e-9 {
		t.Errorf("Accuracy = %v, want 4.5 (HDOP 0.9)", p.last.Accuracy)
	}
	if math.Abs(p.last.Altitude-545.4) > 1e-9 {
		t.Errorf("Altitude = %v, want 545.4", p.last.Altitude)
	}
}

func TestSplitNMEA(t *testing.T) {
	parts := splitNMEA(rmcFix)
	if parts[0] != "GPRMC" {
		t.Errorf("parts[0] = %q, want GPRMC", parts[0])
	}
	if last := parts[len(parts)-1]; last != "W" {
		t.Errorf("checksum not stripped, last part = %q", last)
	}
}
