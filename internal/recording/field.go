package recording

import (
	"math"

	"github.com/fristrack/tracker/internal/gps"
)

// Field anchors GPS fixes to a playing field so samples persist as
// normalized coordinates instead of raw degrees. Origin is the corner
// where the long axis starts; heading is the bearing of that axis.
type Field struct {
	OriginLat  float64 `yaml:"origin_lat" json:"originLat"`
	OriginLon  float64 `yaml:"origin_lon" json:"originLon"`
	OriginAlt  float64 `yaml:"origin_alt_m" json:"originAltM"`
	HeadingDeg float64 `yaml:"heading_deg" json:"headingDeg"`
	LengthM    float64 `yaml:"length_m" json:"lengthM"`
	WidthM     float64 `yaml:"width_m" json:"widthM"`
}

// Meters per degree of latitude; longitude is scaled by cos(lat).
const metersPerDegree = 111320.0

// DefaultField returns regulation ultimate dimensions with no anchor.
func DefaultField() Field {
	return Field{LengthM: 100, WidthM: 37}
}

// Project maps a fix onto the field as a 0-100 normalized position.
// Equirectangular approximation is fine at field scale (<1 km).
func (f Field) Project(d *gps.Data) Position {
	length := f.LengthM
	if length <= 0 {
		length = 100
	}
	width := f.WidthM
	if width <= 0 {
		width = 37
	}

	north := (d.Latitude - f.OriginLat) * metersPerDegree
	east := (d.Longitude - f.OriginLon) * metersPerDegree * math.Cos(f.OriginLat*math.Pi/180)

	h := f.HeadingDeg * math.Pi / 180
	along := north*math.Cos(h) + east*math.Sin(h)
	across := east*math.Cos(h) - north*math.Sin(h)

	return Position{
		X: clamp(along/length*100, 0, 100),
		Y: clamp(across/width*100, 0, 100),
		Z: d.Altitude - f.OriginAlt,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
