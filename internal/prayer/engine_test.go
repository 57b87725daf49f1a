package prayer

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/i474232898/prayer-times-engine/internal/geo"
	"github.com/i474232898/prayer-times-engine/internal/location"
	"github.com/i474232898/prayer-times-engine/internal/notify"
)

// fakeClock fires timers only when advanced.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// Advance moves time forward, firing due timers in order.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		var due *fakeTimer
		for _, t := range c.timers {
			if t.stopped || t.fired || t.at.After(target) {
				continue
			}
			if due == nil || t.at.Before(due.at) {
				due = t
			}
		}
		if due == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		due.fired = true
		c.now = due.at
		c.mu.Unlock()
		due.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu    sync.Mutex
	notes []notify.Notification
}

func (s *recordingSink) Send(_ context.Context, n notify.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes = append(s.notes, n)
	return nil
}

func (s *recordingSink) prayers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.notes))
	for _, n := range s.notes {
		out = append(out, n.Prayer)
	}
	return out
}

type sourceFunc func(ctx context.Context, c geo.Coordinate, method int) (TimeSet, Origin)

func (f sourceFunc) FetchPrayerTimes(ctx context.Context, c geo.Coordinate, method int) (TimeSet, Origin) {
	return f(ctx, c, method)
}

func staticSource(set TimeSet) Source {
	return sourceFunc(func(context.Context, geo.Coordinate, int) (TimeSet, Origin) { return set, OriginService })
}

type memHistory struct {
	mu   sync.Mutex
	keys []string
}

func (h *memHistory) SaveSnapshot(key string, _ Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.keys = append(h.keys, key)
}

func TestEngineStartsWithDefaults(t *testing.T) {
	e := NewEngine(nil, nil, nil)
	snap := e.Current()
	assert.Equal(t, StateIdle, snap.State)
	assert.Equal(t, DefaultTimeSet(), snap.Times)
	assert.Equal(t, StateIdle, e.State())
}

func TestEngineRefreshCommitsFetchedTimes(t *testing.T) {
	clock := newFakeClock(at(12, 0))
	hist := &memHistory{}
	var hooked []Snapshot
	e := NewEngine(staticSource(meccaTimes()), location.NewStaticProvider(mecca), &recordingSink{},
		WithClock(clock),
		WithMethod(2),
		WithHistory(hist, 6),
		WithCommitHook(func(s Snapshot) { hooked = append(hooked, s) }),
	)
	defer e.Close()

	snap, err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, OriginService, snap.Origin)
	assert.Equal(t, 2, snap.Method)
	require.NotNil(t, snap.Coordinate)
	assert.Equal(t, mecca, *snap.Coordinate)
	assert.Equal(t, meccaTimes(), e.Current().Times)
	assert.Equal(t, StateReady, e.State())
	assert.Equal(t, at(12, 0), snap.CommittedAt)

	assert.Equal(t, []string{geo.Cell(mecca, 6)}, hist.keys)
	require.Len(t, hooked, 1)
	assert.Equal(t, snap.Generation, hooked[0].Generation)

	next := e.NextPrayer(at(12, 0))
	assert.Equal(t, Dhuhr, next.Name)
	assert.Equal(t, 35, next.MinutesRemaining)
}

func TestEngineLocationFailureFallsBack(t *testing.T) {
	clock := newFakeClock(at(20, 0))
	hist := &memHistory{}
	denied := location.NewDeviceProvider(clock.Now)
	denied.Deny()

	called := false
	src := sourceFunc(func(context.Context, geo.Coordinate, int) (TimeSet, Origin) {
		called = true
		return meccaTimes(), OriginService
	})
	e := NewEngine(src, denied, nil, WithClock(clock), WithHistory(hist, 6))
	defer e.Close()

	snap, err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReadyFallback, snap.State)
	assert.True(t, snap.Fallback())
	assert.Nil(t, snap.Coordinate)
	assert.Equal(t, DefaultTimeSet(), snap.Times)
	assert.Contains(t, snap.Reason, "permission denied")
	assert.False(t, called)
	assert.Equal(t, []string{DefaultLocationKey}, hist.keys)

	// Next prayer and notifications still work from the default set.
	next := e.NextPrayer(at(20, 0))
	assert.Equal(t, Fajr, next.Name)
	assert.True(t, next.Tomorrow)
	assert.Len(t, e.Pending(), len(Names))
}

func TestEngineNoLocatorFallsBack(t *testing.T) {
	e := NewEngine(staticSource(meccaTimes()), nil, nil, WithClock(newFakeClock(at(8, 0))))
	defer e.Close()

	snap, err := e.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateReadyFallback, snap.State)
}

func TestEngineServiceFailureFallsBack(t *testing.T) {
	src := sourceFunc(func(context.Context, geo.Coordinate, int) (TimeSet, Origin) {
		return DefaultTimeSet(), OriginDefault
	})
	e := NewEngine(src, nil, nil, WithClock(newFakeClock(at(8, 0))))
	defer e.Close()

	snap, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)
	assert.Equal(t, StateReadyFallback, snap.State)
	require.NotNil(t, snap.Coordinate)
	assert.Equal(t, DefaultTimeSet(), snap.Times)
}

func TestEngineUpdateInvalidCoordinateFallsBack(t *testing.T) {
	e := NewEngine(staticSource(meccaTimes()), nil, nil, WithClock(newFakeClock(at(8, 0))))
	defer e.Close()

	snap, err := e.Update(context.Background(), geo.Coordinate{Latitude: 123})
	require.NoError(t, err)
	assert.Equal(t, StateReadyFallback, snap.State)
	assert.Contains(t, snap.Reason, "invalid coordinate")
}

func TestEngineLaterUpdateWins(t *testing.T) {
	clock := newFakeClock(at(9, 0))
	londonTimes := DefaultTimeSet()

	firstStarted := make(chan struct{})
	releaseFirst := make(chan struct{})
	src := sourceFunc(func(ctx context.Context, c geo.Coordinate, _ int) (TimeSet, Origin) {
		if c == mecca {
			close(firstStarted)
			<-releaseFirst
			// Resolves after the second update, ignoring cancellation.
			return meccaTimes(), OriginService
		}
		return londonTimes, OriginService
	})

	var commits int
	e := NewEngine(src, nil, &recordingSink{}, WithClock(clock), WithCommitHook(func(Snapshot) { commits++ }))
	defer e.Close()

	firstErr := make(chan error, 1)
	go func() {
		_, err := e.Update(context.Background(), mecca)
		firstErr <- err
	}()
	<-firstStarted

	second, err := e.Update(context.Background(), london)
	require.NoError(t, err)
	close(releaseFirst)

	assert.ErrorIs(t, <-firstErr, ErrSuperseded)
	assert.Equal(t, 1, commits)

	cur := e.Current()
	assert.Equal(t, second.Generation, cur.Generation)
	require.NotNil(t, cur.Coordinate)
	assert.Equal(t, london, *cur.Coordinate)
	assert.Equal(t, londonTimes, cur.Times)

	assert.Equal(t, len(Names), clock.active(), "exactly one set of timers")
	pending := e.Pending()
	require.Len(t, pending, len(Names))
	for _, p := range pending {
		assert.Equal(t, NextOccurrence(londonTimes.Get(p.Name), at(9, 0)), p.At)
	}
}

func TestEngineUpdateCancelsInFlightCycle(t *testing.T) {
	cancelled := make(chan struct{})
	started := make(chan struct{})
	src := sourceFunc(func(ctx context.Context, c geo.Coordinate, _ int) (TimeSet, Origin) {
		if c == mecca {
			close(started)
			<-ctx.Done()
			close(cancelled)
			return DefaultTimeSet(), OriginDefault
		}
		return meccaTimes(), OriginService
	})
	e := NewEngine(src, nil, nil, WithClock(newFakeClock(at(9, 0))))
	defer e.Close()

	done := make(chan error, 1)
	go func() {
		_, err := e.Update(context.Background(), mecca)
		done <- err
	}()
	<-started

	_, err := e.Update(context.Background(), london)
	require.NoError(t, err)
	<-cancelled
	assert.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, StateReady, e.Current().State)
}

func TestEngineNotificationsFireAndRearm(t *testing.T) {
	clock := newFakeClock(at(12, 0))
	sink := &recordingSink{}
	e := NewEngine(staticSource(DefaultTimeSet()), nil, sink, WithClock(clock))
	defer e.Close()

	_, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)

	pending := e.Pending()
	require.Len(t, pending, len(Names))
	assert.Equal(t, Dhuhr, pending[0].Name)
	assert.Equal(t, at(12, 30), pending[0].At)
	// Already passed today: rolled to tomorrow.
	assert.Equal(t, Fajr, pending[4].Name)
	assert.Equal(t, at(4, 45).AddDate(0, 0, 1), pending[4].At)

	clock.Advance(8 * time.Hour)
	assert.Equal(t, []string{"dhuhr", "asr", "maghrib", "isha"}, sink.prayers())
	assert.Equal(t, "Time for Dhuhr prayer", sink.notes[0].Title)
	assert.Equal(t, "It is now 12:30", sink.notes[0].Body)
	assert.Equal(t, 30*time.Minute, sink.notes[0].ScheduledDelay)
	assert.NotEmpty(t, sink.notes[0].ID)

	clock.Advance(12 * time.Hour)
	assert.Equal(t, []string{"dhuhr", "asr", "maghrib", "isha", "fajr", "sunrise"}, sink.prayers())
	assert.Equal(t, "Sunrise", sink.notes[5].Title)
	assert.Equal(t, len(Names), clock.active())
}

func TestEngineUpdateReplacesPendingNotifications(t *testing.T) {
	clock := newFakeClock(at(12, 0))
	sink := &recordingSink{}
	e := NewEngine(staticSource(DefaultTimeSet()), nil, sink, WithClock(clock))
	defer e.Close()

	_, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)

	late, err := ParseTimeSet(map[string]string{
		"fajr": "05:00", "sunrise": "06:30", "dhuhr": "13:00",
		"asr": "16:00", "maghrib": "18:00", "isha": "19:30",
	})
	require.NoError(t, err)
	e.source = staticSource(late)
	_, err = e.Update(context.Background(), london)
	require.NoError(t, err)

	clock.Advance(45 * time.Minute)
	assert.Empty(t, sink.prayers(), "old 12:30 dhuhr must not fire")
	clock.Advance(30 * time.Minute)
	assert.Equal(t, []string{"dhuhr"}, sink.prayers())
	assert.Equal(t, "It is now 13:00", sink.notes[0].Body)
}

func TestEngineReschedule(t *testing.T) {
	clock := newFakeClock(at(12, 0))
	e := NewEngine(staticSource(DefaultTimeSet()), nil, &recordingSink{}, WithClock(clock))
	defer e.Close()
	_, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)

	// Simulate a suspended process: wall time jumps without timers firing.
	clock.mu.Lock()
	clock.now = at(16, 0)
	clock.mu.Unlock()

	e.Reschedule()
	assert.Equal(t, len(Names), clock.active())
	pending := e.Pending()
	assert.Equal(t, Maghrib, pending[0].Name)
	assert.Equal(t, at(12, 30).AddDate(0, 0, 1), pendingAt(pending, Dhuhr))
}

func pendingAt(ps []Pending, n Name) time.Time {
	for _, p := range ps {
		if p.Name == n {
			return p.At
		}
	}
	return time.Time{}
}

func TestEngineCloseStopsEverything(t *testing.T) {
	clock := newFakeClock(at(12, 0))
	sink := &recordingSink{}
	e := NewEngine(staticSource(DefaultTimeSet()), nil, sink, WithClock(clock))
	_, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)

	e.Close()
	assert.Zero(t, clock.active())
	clock.Advance(48 * time.Hour)
	assert.Empty(t, sink.prayers())

	_, err = e.Update(context.Background(), mecca)
	assert.ErrorIs(t, err, ErrSuperseded)
}

func TestEngineCloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t)

	e := NewEngine(staticSource(DefaultTimeSet()), location.NewStaticProvider(mecca), &recordingSink{},
		WithClock(SystemClock(time.UTC)))
	_, err := e.Refresh(context.Background())
	require.NoError(t, err)
	require.Len(t, e.Pending(), len(Names))
	e.Close()
	assert.Empty(t, e.Pending())
}

func TestPendingSorted(t *testing.T) {
	e := NewEngine(staticSource(DefaultTimeSet()), nil, nil, WithClock(newFakeClock(at(0, 0))))
	defer e.Close()
	_, err := e.Update(context.Background(), mecca)
	require.NoError(t, err)

	pending := e.Pending()
	assert.True(t, sort.SliceIsSorted(pending, func(i, j int) bool { return pending[i].At.Before(pending[j].At) }))
	names := make([]Name, 0, len(pending))
	for _, p := range pending {
		names = append(names, p.Name)
	}
	assert.Equal(t, Names[:], names)
}
