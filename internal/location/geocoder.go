package location

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/prayer-times-engine/internal/common"
	"github.com/i474232898/prayer-times-engine/internal/geo"
)

type geocodeFunc func(geocoder.Address) (geocoder.Location, error)

// GeocoderProvider resolves a configured city/country through the Google
// geocoding API. The result is remembered since the address never moves.
type GeocoderProvider struct {
	address geocoder.Address
	geocode geocodeFunc

	mu       sync.Mutex
	resolved *geo.Coordinate
}

// NewGeocoderProvider sets the geocoder API key and returns a provider for
// city, country.
func NewGeocoderProvider(apiKey, city, country string) *GeocoderProvider {
	geocoder.ApiKey = apiKey
	return &GeocoderProvider{
		address: geocoder.Address{City: city, Country: country},
		geocode: geocoder.Geocoding,
	}
}

func (p *GeocoderProvider) Name() string { return "geocoder" }

func (p *GeocoderProvider) Locate(ctx context.Context, _ Options) (geo.Coordinate, error) {
	p.mu.Lock()
	if p.resolved != nil {
		c := *p.resolved
		p.mu.Unlock()
		return c, nil
	}
	p.mu.Unlock()

	type result struct {
		loc geocoder.Location
		err error
	}
	done := make(chan result, 1)
	go func() {
		loc, err := p.geocode(p.address)
		done <- result{loc, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		return geo.Coordinate{}, ctx.Err()
	case res = <-done:
	}
	if res.err != nil {
		return geo.Coordinate{}, classifyGeocodeError(res.err)
	}

	c, err := geo.NewCoordinate(res.loc.Latitude, res.loc.Longitude)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
	}

	p.mu.Lock()
	p.resolved = &c
	p.mu.Unlock()
	return c, nil
}

func classifyGeocodeError(err error) error {
	if common.HasAnyFold(err.Error(), "request_denied", "api key", "over_query_limit") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("%w: %v", ErrLocationUnavailable, err)
}
