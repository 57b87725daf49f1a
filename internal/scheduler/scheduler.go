package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

// Engine is the part of the prayer engine the jobs drive.
type Engine interface {
	Refresh(ctx context.Context) (prayer.Snapshot, error)
	Reschedule()
	NextPrayer(now time.Time) prayer.NextPrayerInfo
}

// Scheduler runs the periodic jobs around the prayer engine: a tick that
// recomputes the countdown and notices suspended processes, and a daily refresh.
type Scheduler struct {
	scheduler *gocron.Scheduler
	engine    Engine
	interval  time.Duration
	dailyAt   string
	now       func() time.Time

	mu       sync.Mutex
	lastTick time.Time
}

// New creates a Scheduler ticking every interval and refreshing daily at
// dailyAt ("HH:MM") in loc.
func New(engine Engine, interval time.Duration, dailyAt string, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	s := gocron.NewScheduler(loc)
	return &Scheduler{
		scheduler: s,
		engine:    engine,
		interval:  interval,
		dailyAt:   dailyAt,
		now:       func() time.Time { return time.Now().In(loc) },
	}
}

// Start schedules the jobs and starts the underlying scheduler. It also runs
// an initial refresh in the background.
func (s *Scheduler) Start() error {
	seconds := int(s.interval.Seconds())
	if seconds <= 0 {
		seconds = 60
	}

	if _, err := s.scheduler.Every(seconds).Seconds().Do(s.tick); err != nil {
		return err
	}
	if _, err := s.scheduler.Every(1).Day().At(s.dailyAt).Do(s.refresh); err != nil {
		return err
	}

	s.scheduler.StartAsync()
	go s.refresh()
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) tick() {
	now := s.now()

	s.mu.Lock()
	last := s.lastTick
	s.lastTick = now
	s.mu.Unlock()

	if resumed(last, now, s.interval) {
		log.Warn().
			Time("last_tick", last).
			Dur("gap", now.Sub(last)).
			Msg("scheduler: clock jumped; rescheduling notifications")
		s.engine.Reschedule()
	}

	next := s.engine.NextPrayer(now)
	log.Debug().
		Str("prayer", next.Name.String()).
		Str("at", next.Time.String()).
		Str("remaining", next.Countdown()).
		Msg("scheduler: next prayer")
}

func (s *Scheduler) refresh() {
	log.Info().Msg("scheduler: refreshing prayer times")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	snap, err := s.engine.Refresh(ctx)
	if err != nil {
		log.Info().Err(err).Msg("scheduler: refresh superseded")
		return
	}
	log.Info().Stringer("state", snap.State).Str("origin", string(snap.Origin)).Msg("scheduler: refresh completed")
}

// resumed reports whether the gap since the last tick is more than twice the
// tick interval, or negative, which means the process was suspended or the
// wall clock was changed.
func resumed(last, now time.Time, interval time.Duration) bool {
	if last.IsZero() {
		return false
	}
	if interval <= 0 {
		interval = time.Minute
	}
	gap := now.Sub(last)
	return gap > 2*interval || gap < 0
}
