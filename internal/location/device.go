package location

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/prayer-times-engine/internal/geo"
)

// HighAccuracyMeters is the worst accuracy accepted when Options.HighAccuracy
// is set.
const HighAccuracyMeters = 100.0

// Fix is a position reported by a client device.
type Fix struct {
	Coordinate geo.Coordinate
	AccuracyM  float64
	At         time.Time
}

// DeviceProvider hands out positions reported by the client, the way a
// browser's geolocation API would. Locate returns a recent enough fix or
// waits for the next report.
type DeviceProvider struct {
	now func() time.Time

	mu      sync.Mutex
	last    *Fix
	seq     uint64
	denied  bool
	waiters []chan struct{}
}

func NewDeviceProvider(now func() time.Time) *DeviceProvider {
	if now == nil {
		now = time.Now
	}
	return &DeviceProvider{now: now}
}

func (p *DeviceProvider) Name() string { return "device" }

// Report records a new fix and wakes pending Locate calls. It clears any
// earlier permission denial.
func (p *DeviceProvider) Report(c geo.Coordinate, accuracyM float64) (Fix, error) {
	if err := c.Validate(); err != nil {
		return Fix{}, err
	}
	fix := Fix{Coordinate: c, AccuracyM: accuracyM, At: p.now()}

	p.mu.Lock()
	p.last = &fix
	p.seq++
	p.denied = false
	p.wakeLocked()
	p.mu.Unlock()
	return fix, nil
}

// Deny records that the user refused location access.
func (p *DeviceProvider) Deny() {
	p.mu.Lock()
	p.denied = true
	p.wakeLocked()
	p.mu.Unlock()
}

// Last returns the most recent fix, if any.
func (p *DeviceProvider) Last() (Fix, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Fix{}, false
	}
	return *p.last, true
}

func (p *DeviceProvider) Locate(ctx context.Context, opts Options) (geo.Coordinate, error) {
	p.mu.Lock()
	seen := p.seq
	p.mu.Unlock()

	for {
		p.mu.Lock()
		if p.denied {
			p.mu.Unlock()
			return geo.Coordinate{}, ErrPermissionDenied
		}
		// A fix reported while we waited is fresh regardless of MaxCachedAge.
		if p.last != nil && p.usable(*p.last, opts, p.seq != seen) {
			c := p.last.Coordinate
			p.mu.Unlock()
			return c, nil
		}
		wake := make(chan struct{})
		p.waiters = append(p.waiters, wake)
		p.mu.Unlock()

		select {
		case <-ctx.Done():
			p.dropWaiter(wake)
			if _, hasDeadline := ctx.Deadline(); hasDeadline && ctx.Err() == context.DeadlineExceeded {
				return geo.Coordinate{}, fmt.Errorf("%w: no fix reported", ErrTimeout)
			}
			return geo.Coordinate{}, ctx.Err()
		case <-wake:
		}
	}
}

func (p *DeviceProvider) usable(f Fix, opts Options, fresh bool) bool {
	if opts.HighAccuracy && f.AccuracyM > HighAccuracyMeters {
		return false
	}
	return fresh || p.now().Sub(f.At) <= opts.MaxCachedAge
}

func (p *DeviceProvider) wakeLocked() {
	for _, w := range p.waiters {
		close(w)
	}
	p.waiters = nil
}

func (p *DeviceProvider) dropWaiter(w chan struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, x := range p.waiters {
		if x == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}
