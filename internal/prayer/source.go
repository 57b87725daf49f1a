package prayer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/i474232898/prayer-times-engine/internal/geo"
)

// ErrPrayerServiceFailure wraps every network, status or parse failure of a
// Fetcher.
var ErrPrayerServiceFailure = errors.New("prayer service failure")

// DefaultMethod is the calculation method selector used when none is
// configured (Umm al-Qura).
const DefaultMethod = 4

// Fetcher is a raw prayer-time service. It surfaces its errors.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context, c geo.Coordinate, method int) (TimeSet, error)
}

// Cache stores fetched sets by key. Implementations live in internal/store.
type Cache interface {
	Get(ctx context.Context, key string) (TimeSet, bool, error)
	Put(ctx context.Context, key string, set TimeSet, ttl time.Duration) error
}

// Origin records where a set handed out by TimeSource came from.
type Origin string

const (
	OriginService Origin = "service"
	OriginCache   Origin = "cache"
	OriginDefault Origin = "default"
)

// TimeSource resolves a coordinate to a complete TimeSet. It never fails:
// any fetcher error is logged and replaced by DefaultTimeSet.
type TimeSource struct {
	fetcher   Fetcher
	cache     Cache
	cacheTTL  time.Duration
	precision uint
	now       func() time.Time
}

// SourceOption configures a TimeSource.
type SourceOption func(*TimeSource)

// WithCache consults c before the fetcher and records successful fetches in it.
func WithCache(c Cache, ttl time.Duration, precision uint) SourceOption {
	return func(s *TimeSource) {
		s.cache = c
		s.cacheTTL = ttl
		s.precision = precision
	}
}

// WithSourceClock overrides the clock used to date cache keys.
func WithSourceClock(now func() time.Time) SourceOption {
	return func(s *TimeSource) { s.now = now }
}

// NewTimeSource creates a TimeSource around f. f may be nil, in which case
// every lookup yields the default set.
func NewTimeSource(f Fetcher, opts ...SourceOption) *TimeSource {
	s := &TimeSource{
		fetcher:   f,
		precision: 6,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchPrayerTimes returns the set for c under the given calculation method.
// The returned set is always complete.
func (s *TimeSource) FetchPrayerTimes(ctx context.Context, c geo.Coordinate, method int) (set TimeSet, origin Origin) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("coordinate", c.String()).Msg("prayer source: fetcher panicked; using default times")
			set, origin = DefaultTimeSet(), OriginDefault
		}
	}()

	if err := c.Validate(); err != nil {
		log.Warn().Err(err).Msg("prayer source: invalid coordinate; using default times")
		return DefaultTimeSet(), OriginDefault
	}

	key := s.cacheKey(c, method)
	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx, key)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("key", key).Msg("prayer source: cache read failed")
		case ok && cached.Valid():
			return cached, OriginCache
		}
	}

	if s.fetcher == nil {
		log.Warn().Msg("prayer source: no fetcher configured; using default times")
		return DefaultTimeSet(), OriginDefault
	}

	fetched, err := s.fetcher.Fetch(ctx, c, method)
	if err == nil && !fetched.Valid() {
		err = fmt.Errorf("%w: %s returned %w", ErrPrayerServiceFailure, s.fetcher.Name(), ErrIncompleteSet)
	}
	if err != nil {
		log.Warn().Err(err).
			Str("fetcher", s.fetcher.Name()).
			Str("coordinate", c.String()).
			Int("method", method).
			Msg("prayer source: fetch failed; using default times")
		return DefaultTimeSet(), OriginDefault
	}

	if s.cache != nil {
		if err := s.cache.Put(ctx, key, fetched, s.cacheTTL); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("prayer source: cache write failed")
		}
	}
	return fetched, OriginService
}

// cacheKey is "cell|date|method"; the date keeps yesterday's times from
// being served after midnight.
func (s *TimeSource) cacheKey(c geo.Coordinate, method int) string {
	return fmt.Sprintf("%s|%s|%d", geo.Cell(c, s.precision), s.now().Format("2006-01-02"), method)
}
