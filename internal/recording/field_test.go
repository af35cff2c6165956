package recording

import (
	"math"
	"strings"
	"testing"

	"github.com/fristrack/tracker/internal/gps"
)

func TestProjectAnchoredField(t *testing.T) {
	f := Field{OriginLat: 45.5, OriginLon: -73.5, LengthM: 100, WidthM: 37}

	// Due north of the origin, half a field length away.
	d := &gps.Data{
		Valid:     true,
		Latitude:  45.5 + 50/metersPerDegree,
		Longitude: -73.5,
	}
	p := f.Project(d)
	if math.Abs(p.X-50) > 0.01 {
		t.Errorf("X = %v, want 50", p.X)
	}
	if math.Abs(p.Y) > 0.01 {
		t.Errorf("Y = %v, want 0", p.Y)
	}
}

func TestProjectRotatedField(t *testing.T) {
	// Long axis pointing due east.
	f := Field{OriginLat: 45.5, OriginLon: -73.5, HeadingDeg: 90, LengthM: 100, WidthM: 37}

	east := 50 / (metersPerDegree * math.Cos(45.5*math.Pi/180))
	p := f.Project(&gps.Data{Valid: true, Latitude: 45.5, Longitude: -73.5 + east})
	if math.Abs(p.X-50) > 0.1 {
		t.Errorf("X = %v, want 50 along the rotated axis", p.X)
	}
}

func TestProjectClampsOutOfBounds(t *testing.T) {
	f := Field{OriginLat: 45.5, OriginLon: -73.5, LengthM: 100, WidthM: 37}

	p := f.Project(&gps.Data{Valid: true, Latitude: 46.0, Longitude: -73.5})
	if p.X != 100 {
		t.Errorf("X = %v, want clamped to 100", p.X)
	}
	p = f.Project(&gps.Data{Valid: true, Latitude: 45.0, Longitude: -73.5})
	if p.X != 0 {
		t.Errorf("X = %v, want clamped to 0", p.X)
	}
}

func TestProjectAltitudeOffset(t *testing.T) {
	f := Field{OriginLat: 45.5, OriginLon: -73.5, OriginAlt: 20, LengthM: 100, WidthM: 37}
	p := f.Project(&gps.Data{Valid: true, Latitude: 45.5, Longitude: -73.5, Altitude: 23.5})
	if math.Abs(p.Z-3.5) > 1e-9 {
		t.Errorf("Z = %v, want 3.5", p.Z)
	}
}

func TestProjectZeroDimensionsFallBack(t *testing.T) {
	var f Field // no dimensions configured
	p := f.Project(&gps.Data{Valid: true, Latitude: 50 / metersPerDegree})
	if math.Abs(p.X-50) > 0.01 {
		t.Errorf("X = %v, want 50 with default length", p.X)
	}
}

func TestWriteCSV(t *testing.T) {
	var sb strings.Builder
	if err := WriteCSV(&sb, sampleFixture()); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header + 2 rows:\n%s", len(lines), sb.String())
	}
	if lines[0] != "timestamp,recording_id,player_id,x,y,z" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "10.500") {
		t.Errorf("row 1 missing coordinate: %q", lines[1])
	}
	if !strings.HasSuffix(lines[2], ",3,11.000,21.000,1.500") {
		t.Errorf("row 2 = %q", lines[2])
	}
}
