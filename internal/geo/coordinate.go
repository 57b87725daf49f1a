package geo

import (
	"errors"
	"fmt"
	"math"

	"github.com/mmcloughlin/geohash"
)

// ErrInvalidCoordinate is returned for latitude/longitude values that are out
// of range or not finite.
var ErrInvalidCoordinate = errors.New("invalid coordinate")

// Kaaba is the fixed qibla target.
var Kaaba = Coordinate{Latitude: 21.4225, Longitude: 39.8262}

// Coordinate is a point on the earth's surface in decimal degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// NewCoordinate builds a validated Coordinate.
func NewCoordinate(lat, lon float64) (Coordinate, error) {
	c := Coordinate{Latitude: lat, Longitude: lon}
	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// Validate reports ErrInvalidCoordinate when either component is non-finite
// or outside [-90,90] / [-180,180].
func (c Coordinate) Validate() error {
	if !finite(c.Latitude) || c.Latitude < -90 || c.Latitude > 90 {
		return fmt.Errorf("%w: latitude %v", ErrInvalidCoordinate, c.Latitude)
	}
	if !finite(c.Longitude) || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("%w: longitude %v", ErrInvalidCoordinate, c.Longitude)
	}
	return nil
}

// String renders the coordinate with six decimals, the precision used in
// outbound queries.
func (c Coordinate) String() string {
	return fmt.Sprintf("%.6f,%.6f", c.Latitude, c.Longitude)
}

// Geohash precision bounds. Cell clamps to MaxCellPrecision and treats 0
// as DefaultCellPrecision.
const (
	DefaultCellPrecision uint = 6
	MaxCellPrecision     uint = 12
)

// Cell returns the geohash of c at the given precision. Nearby coordinates
// share a cell, which makes it a stable cache key.
func Cell(c Coordinate, precision uint) string {
	switch {
	case precision == 0:
		precision = DefaultCellPrecision
	case precision > MaxCellPrecision:
		precision = MaxCellPrecision
	}
	return geohash.EncodeWithPrecision(c.Latitude, c.Longitude, precision)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
