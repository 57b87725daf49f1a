package prayer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/prayer-times-engine/internal/geo"
	"github.com/i474232898/prayer-times-engine/internal/location"
	"github.com/i474232898/prayer-times-engine/internal/notify"
)

// ErrSuperseded is returned by an update cycle whose result was discarded
// because a newer cycle was started before it committed.
var ErrSuperseded = errors.New("update superseded by a newer one")

// DefaultLocationKey keys history entries committed without a coordinate.
const DefaultLocationKey = "default"

// State is the phase of the most recently issued update cycle.
type State int

const (
	StateIdle State = iota
	StateAcquiring
	StateComputing
	StateReady
	StateReadyFallback
)

var stateNames = [...]string{"idle", "acquiring", "computing", "ready", "ready_fallback"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Source is what the engine needs from a PrayerTimeSource.
type Source interface {
	FetchPrayerTimes(ctx context.Context, c geo.Coordinate, method int) (TimeSet, Origin)
}

// History records committed snapshots.
type History interface {
	SaveSnapshot(key string, snap Snapshot)
}

// Snapshot is one committed update cycle. It is never modified after commit.
type Snapshot struct {
	Generation  uint64          `json:"generation"`
	State       State           `json:"state"`
	Coordinate  *geo.Coordinate `json:"coordinate,omitempty"`
	Times       TimeSet         `json:"times"`
	Origin      Origin          `json:"origin"`
	Method      int             `json:"method"`
	Reason      string          `json:"reason,omitempty"`
	CommittedAt time.Time       `json:"committedAt"`
}

// Fallback reports whether the snapshot carries the default set because
// something failed.
func (s Snapshot) Fallback() bool { return s.State == StateReadyFallback }

// HistoryKey returns the key snap is stored under: its geohash cell, or
// DefaultLocationKey when it has no coordinate.
func HistoryKey(snap Snapshot, precision uint) string {
	if snap.Coordinate == nil {
		return DefaultLocationKey
	}
	return geo.Cell(*snap.Coordinate, precision)
}

// Pending describes an armed notification timer.
type Pending struct {
	Name Name      `json:"name"`
	At   time.Time `json:"at"`
}

type armed struct {
	timer Timer
	at    time.Time
}

// Engine owns the current prayer time set, computes the next prayer and keeps
// one notification timer per entry of the set. Update cycles are ordered by
// issue: starting a cycle cancels any cycle still in flight and the stale
// result is discarded.
type Engine struct {
	source    Source
	locator   location.Provider
	locOpts   location.Options
	sink      notify.Sink
	clock     Clock
	method    int
	history   History
	precision uint
	hooks     []func(Snapshot)

	mu          sync.Mutex
	gen         uint64
	state       State
	cancelCycle context.CancelFunc
	current     Snapshot
	timers      map[Name]*armed
	closed      bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithClock replaces the system clock, mainly for tests.
func WithClock(c Clock) EngineOption { return func(e *Engine) { e.clock = c } }

// WithMethod sets the calculation method passed to the source.
func WithMethod(m int) EngineOption { return func(e *Engine) { e.method = m } }

// WithLocationOptions sets the options used by Refresh to acquire a location.
func WithLocationOptions(o location.Options) EngineOption {
	return func(e *Engine) { e.locOpts = o }
}

// WithHistory saves every committed snapshot to h under its geohash cell.
func WithHistory(h History, precision uint) EngineOption {
	return func(e *Engine) {
		e.history = h
		e.precision = precision
	}
}

// WithCommitHook registers f to run on every commit, in commit order. Hooks
// run with the engine locked and must not call back into it.
func WithCommitHook(f func(Snapshot)) EngineOption {
	return func(e *Engine) { e.hooks = append(e.hooks, f) }
}

// NewEngine creates an engine. Until the first cycle commits, readers see the
// default set in StateIdle.
func NewEngine(source Source, locator location.Provider, sink notify.Sink, opts ...EngineOption) *Engine {
	e := &Engine{
		source:    source,
		locator:   locator,
		locOpts:   location.DefaultOptions(),
		sink:      sink,
		clock:     SystemClock(nil),
		method:    DefaultMethod,
		precision: 6,
		timers:    make(map[Name]*armed),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.sink == nil {
		e.sink = notify.LogSink{}
	}
	e.current = Snapshot{
		State:  StateIdle,
		Times:  DefaultTimeSet(),
		Origin: OriginDefault,
		Method: e.method,
		Reason: "no update yet",
	}
	return e
}

// Refresh runs a full cycle: acquire the location, fetch the times, commit.
// Any failure commits the default set in StateReadyFallback. The only error
// is ErrSuperseded.
func (e *Engine) Refresh(ctx context.Context) (Snapshot, error) {
	gen, cctx, cancel := e.begin(ctx, StateAcquiring)
	defer cancel()

	coord, err := location.Acquire(cctx, e.locator, e.locOpts)
	if err != nil {
		if e.superseded(gen) {
			return e.Current(), ErrSuperseded
		}
		log.Warn().Err(err).Uint64("generation", gen).Msg("prayer engine: location unavailable; using default times")
		return e.commit(gen, Snapshot{
			State:  StateReadyFallback,
			Times:  DefaultTimeSet(),
			Origin: OriginDefault,
			Reason: err.Error(),
		})
	}
	return e.compute(cctx, gen, coord)
}

// Update runs a cycle for a known coordinate, skipping acquisition.
func (e *Engine) Update(ctx context.Context, c geo.Coordinate) (Snapshot, error) {
	gen, cctx, cancel := e.begin(ctx, StateComputing)
	defer cancel()

	if err := c.Validate(); err != nil {
		log.Warn().Err(err).Uint64("generation", gen).Msg("prayer engine: rejected coordinate; using default times")
		return e.commit(gen, Snapshot{
			State:  StateReadyFallback,
			Times:  DefaultTimeSet(),
			Origin: OriginDefault,
			Reason: err.Error(),
		})
	}
	return e.compute(cctx, gen, c)
}

func (e *Engine) compute(ctx context.Context, gen uint64, c geo.Coordinate) (Snapshot, error) {
	if !e.transition(gen, StateComputing) {
		return e.Current(), ErrSuperseded
	}

	var (
		set    = DefaultTimeSet()
		origin = OriginDefault
	)
	if e.source != nil {
		set, origin = e.source.FetchPrayerTimes(ctx, c, e.method)
	}

	snap := Snapshot{
		State:      StateReady,
		Coordinate: &c,
		Times:      set,
		Origin:     origin,
	}
	if origin == OriginDefault || !set.Valid() {
		snap.State = StateReadyFallback
		snap.Times = DefaultTimeSet()
		snap.Origin = OriginDefault
		snap.Reason = "prayer service unavailable"
	}
	return e.commit(gen, snap)
}

func (e *Engine) begin(parent context.Context, st State) (uint64, context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.gen++
	e.cancelCycle = cancel
	e.state = st
	log.Debug().Uint64("generation", e.gen).Stringer("state", st).Msg("prayer engine: cycle started")
	return e.gen, ctx, cancel
}

func (e *Engine) transition(gen uint64, st State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if gen != e.gen || e.closed {
		return false
	}
	e.state = st
	return true
}

func (e *Engine) superseded(gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return gen != e.gen || e.closed
}

func (e *Engine) commit(gen uint64, snap Snapshot) (Snapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if gen != e.gen || e.closed {
		log.Debug().Uint64("generation", gen).Uint64("latest", e.gen).Msg("prayer engine: discarding stale cycle")
		return e.current, ErrSuperseded
	}

	snap.Generation = gen
	snap.Method = e.method
	snap.CommittedAt = e.clock.Now()
	e.current = snap
	e.state = snap.State
	e.rescheduleLocked()

	if e.history != nil {
		e.history.SaveSnapshot(HistoryKey(snap, e.precision), snap)
	}
	for _, h := range e.hooks {
		h(snap)
	}

	log.Info().
		Uint64("generation", gen).
		Stringer("state", snap.State).
		Str("origin", string(snap.Origin)).
		Msg("prayer engine: committed prayer times")
	return snap, nil
}

// Current returns the latest committed snapshot.
func (e *Engine) Current() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

// State returns the phase of the latest issued cycle.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// NextPrayer projects the committed set onto now.
func (e *Engine) NextPrayer(now time.Time) NextPrayerInfo {
	return e.Current().Times.NextPrayer(now)
}

// Reschedule cancels every pending notification and arms them again from the
// current set and the current time. Used after the process was suspended.
func (e *Engine) Reschedule() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.rescheduleLocked()
}

// Pending lists armed notification timers in firing order.
func (e *Engine) Pending() []Pending {
	e.mu.Lock()
	out := make([]Pending, 0, len(e.timers))
	for n, a := range e.timers {
		out = append(out, Pending{Name: n, At: a.at})
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out
}

// Close cancels the in-flight cycle and every pending notification.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.stopTimersLocked()
}

func (e *Engine) stopTimersLocked() {
	for n, a := range e.timers {
		a.timer.Stop()
		delete(e.timers, n)
	}
}

func (e *Engine) rescheduleLocked() {
	e.stopTimersLocked()
	now := e.clock.Now()
	for _, n := range Names {
		e.armLocked(n, now)
	}
}

func (e *Engine) armLocked(n Name, now time.Time) {
	at := NextOccurrence(e.current.Times.Get(n), now)
	delay := at.Sub(now)

	a := &armed{at: at}
	a.timer = e.clock.AfterFunc(delay, func() { e.fire(n, a, delay) })
	e.timers[n] = a
}

func (e *Engine) fire(n Name, a *armed, delay time.Duration) {
	e.mu.Lock()
	if e.closed || e.timers[n] != a {
		// Replaced or cancelled after the timer had already started.
		e.mu.Unlock()
		return
	}
	t := e.current.Times.Get(n)
	note := buildNotification(n, t, delay)
	e.armLocked(n, e.clock.Now())
	sink := e.sink
	e.mu.Unlock()

	if err := sink.Send(context.Background(), note); err != nil {
		log.Warn().Err(err).Str("prayer", n.String()).Msg("prayer engine: notification delivery failed")
	}
}

func buildNotification(n Name, t TimeOfDay, delay time.Duration) notify.Notification {
	note := notify.Notification{
		ID:             uuid.NewString(),
		Prayer:         n.String(),
		Title:          fmt.Sprintf("Time for %s prayer", n.Title()),
		Body:           fmt.Sprintf("It is now %s", t),
		ScheduledDelay: delay,
	}
	if n == Sunrise {
		note.Title = "Sunrise"
		note.Body = fmt.Sprintf("The sun rises at %s; the time for Fajr has ended", t)
	}
	return note
}
