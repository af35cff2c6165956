package gps

import (
	"math"
	"math/rand"
	"sync"
	"time"
)

// DemoProvider generates simulated GPS data for development and testing.
// It traces a slow loop around a point, roughly the footprint of an
// ultimate field, so recordings made without hardware still replay.
type DemoProvider struct {
	mu sync.Mutex
	t  float64
}

func NewDemo() *DemoProvider { return &DemoProvider{} }

func (d *DemoProvider) Name() string   { return "Demo GPS (Simulated)" }
func (d *DemoProvider) Connect() error { return nil }
func (d *DemoProvider) Close() error   { return nil }

func (d *DemoProvider) Read() (*Data, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.t += 0.1

	// ~100 m x 37 m loop around midfield
	centerLat := 45.5019 // Montreal
	centerLon := -73.5674
	dLat := 0.00045 // ~50 m
	dLon := 0.00025 // ~18 m

	return &Data{
		Valid:      true,
		Latitude:   centerLat + dLat*math.Sin(d.t*0.1),
		Longitude:  centerLon + dLon*math.Cos(d.t*0.1),
		Altitude:   32,
		Accuracy:   3 + rand.Float64()*2,
		Speed:      2 + 3*math.Abs(math.Sin(d.t*0.3)),
		Satellites: 11,
		Source:     SourcePhone,
		Timestamp:  time.Now().UnixMilli(),
	}, nil
}
