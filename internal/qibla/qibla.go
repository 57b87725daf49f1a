package qibla

import (
	"errors"
	"math"
	"sync"

	"github.com/i474232898/prayer-times-engine/internal/geo"
)

// ErrInvalidHeading is returned for a non-finite device heading.
var ErrInvalidHeading = errors.New("invalid device heading")

// View is what a compass display needs.
type View struct {
	Coordinate  geo.Coordinate `json:"coordinate"`
	Bearing     float64        `json:"bearing"`
	Rounded     int            `json:"rounded"`
	Compass     string         `json:"compass"`
	DistanceKm  float64        `json:"distanceKm"`
	Heading     *float64       `json:"heading,omitempty"`
	Compensated *float64       `json:"compensated,omitempty"`
}

// Engine holds the qibla bearing for the latest coordinate and, when the
// device reports its heading, the display angle bearing-heading.
type Engine struct {
	mu         sync.RWMutex
	coord      geo.Coordinate
	bearing    float64
	hasBearing bool
	heading    float64
	hasHeading bool
}

func NewEngine() *Engine { return &Engine{} }

// SetCoordinate recomputes the bearing. On error the previous bearing is kept.
func (e *Engine) SetCoordinate(c geo.Coordinate) error {
	b, err := geo.QiblaBearing(c)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.coord = c
	e.bearing = b
	e.hasBearing = true
	e.mu.Unlock()
	return nil
}

// SetDeviceHeading updates the orientation compensation. The bearing itself
// is left untouched.
func (e *Engine) SetDeviceHeading(deg float64) error {
	if math.IsNaN(deg) || math.IsInf(deg, 0) {
		return ErrInvalidHeading
	}

	e.mu.Lock()
	e.heading = geo.Normalize(deg)
	e.hasHeading = true
	e.mu.Unlock()
	return nil
}

// ClearHeading drops orientation compensation.
func (e *Engine) ClearHeading() {
	e.mu.Lock()
	e.hasHeading = false
	e.mu.Unlock()
}

// Bearing returns the qibla bearing, false before any coordinate was set.
func (e *Engine) Bearing() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.bearing, e.hasBearing
}

// Compensated returns bearing-heading normalized into [0,360). It needs both
// a coordinate and a heading.
func (e *Engine) Compensated() (float64, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasBearing || !e.hasHeading {
		return 0, false
	}
	return geo.Normalize(e.bearing - e.heading), true
}

// View returns the current display state, false before any coordinate.
func (e *Engine) View() (View, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.hasBearing {
		return View{}, false
	}

	v := View{
		Coordinate: e.coord,
		Bearing:    e.bearing,
		Rounded:    geo.Round(e.bearing),
		Compass:    geo.CompassPoint(e.bearing),
		DistanceKm: geo.DistanceKm(e.coord, geo.Kaaba),
	}
	if e.hasHeading {
		h := e.heading
		c := geo.Normalize(e.bearing - e.heading)
		v.Heading = &h
		v.Compensated = &c
	}
	return v, true
}
