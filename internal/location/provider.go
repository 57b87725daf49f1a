package location

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/i474232898/prayer-times-engine/internal/geo"
)

var (
	ErrLocationUnavailable = errors.New("location unavailable")
	ErrPermissionDenied    = errors.New("location permission denied")
	ErrTimeout             = errors.New("location request timed out")
)

// Options mirrors the knobs of a one-shot position request.
type Options struct {
	// HighAccuracy asks for a precise fix; providers that cannot vary
	// accuracy ignore it.
	HighAccuracy bool
	// Timeout bounds a single acquisition. Zero means no bound beyond ctx.
	Timeout time.Duration
	// MaxCachedAge is how old a previously obtained fix may be and still be
	// returned without waiting for a new one.
	MaxCachedAge time.Duration
}

// DefaultOptions matches what browsers are usually asked for.
func DefaultOptions() Options {
	return Options{HighAccuracy: true, Timeout: 10 * time.Second, MaxCachedAge: 5 * time.Minute}
}

// Provider acquires the current position.
type Provider interface {
	Name() string
	Locate(ctx context.Context, opts Options) (geo.Coordinate, error)
}

// Acquire runs p under opts.Timeout. A deadline hit by the timeout is
// reported as ErrTimeout; a returned coordinate that fails validation is
// reported as ErrLocationUnavailable.
func Acquire(ctx context.Context, p Provider, opts Options) (geo.Coordinate, error) {
	if p == nil {
		return geo.Coordinate{}, fmt.Errorf("%w: no provider configured", ErrLocationUnavailable)
	}

	lctx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		lctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	c, err := p.Locate(lctx, opts)
	if err != nil {
		if ctx.Err() == nil && errors.Is(lctx.Err(), context.DeadlineExceeded) {
			return geo.Coordinate{}, fmt.Errorf("%w: %s after %s", ErrTimeout, p.Name(), opts.Timeout)
		}
		return geo.Coordinate{}, err
	}
	if err := c.Validate(); err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: %s: %v", ErrLocationUnavailable, p.Name(), err)
	}
	return c, nil
}

// StaticProvider always reports a configured coordinate.
type StaticProvider struct {
	coord geo.Coordinate
}

// NewStaticProvider returns a provider that always reports c.
func NewStaticProvider(c geo.Coordinate) *StaticProvider {
	return &StaticProvider{coord: c}
}

func (p *StaticProvider) Name() string { return "static" }

func (p *StaticProvider) Locate(ctx context.Context, _ Options) (geo.Coordinate, error) {
	if err := ctx.Err(); err != nil {
		return geo.Coordinate{}, err
	}
	return p.coord, nil
}

// Chain tries each provider in order and returns the first fix. When ctx has
// a deadline, every provider but the last gets an equal share of the time
// left, so a provider that waits for a fix cannot starve the ones after it.
type Chain []Provider

func (c Chain) Name() string { return "chain" }

func (c Chain) Locate(ctx context.Context, opts Options) (geo.Coordinate, error) {
	providers := make([]Provider, 0, len(c))
	for _, p := range c {
		if p != nil {
			providers = append(providers, p)
		}
	}

	lastErr := fmt.Errorf("%w: no providers in chain", ErrLocationUnavailable)
	for i, p := range providers {
		coord, err := locateShare(ctx, p, opts, len(providers)-i)
		if err == nil {
			return coord, nil
		}
		if ctx.Err() != nil {
			return geo.Coordinate{}, ctx.Err()
		}
		lastErr = fmt.Errorf("%s: %w", p.Name(), err)
	}
	return geo.Coordinate{}, lastErr
}

// locateShare runs p with 1/left of the time remaining before ctx's deadline.
func locateShare(ctx context.Context, p Provider, opts Options, left int) (geo.Coordinate, error) {
	deadline, ok := ctx.Deadline()
	if !ok || left <= 1 {
		return p.Locate(ctx, opts)
	}

	sctx, cancel := context.WithTimeout(ctx, time.Until(deadline)/time.Duration(left))
	defer cancel()
	coord, err := p.Locate(sctx, opts)
	if err != nil && ctx.Err() == nil && errors.Is(sctx.Err(), context.DeadlineExceeded) {
		return geo.Coordinate{}, fmt.Errorf("%w: %s gave up for the next provider", ErrTimeout, p.Name())
	}
	return coord, err
}
