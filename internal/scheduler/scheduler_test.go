package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

type fakeEngine struct {
	mu          sync.Mutex
	refreshes   int
	reschedules int
}

func (f *fakeEngine) Refresh(context.Context) (prayer.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	return prayer.Snapshot{State: prayer.StateReady}, nil
}

func (f *fakeEngine) Reschedule() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reschedules++
}

func (f *fakeEngine) NextPrayer(now time.Time) prayer.NextPrayerInfo {
	return prayer.DefaultTimeSet().NextPrayer(now)
}

func (f *fakeEngine) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refreshes, f.reschedules
}

func TestResumed(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	assert.False(t, resumed(time.Time{}, base, time.Minute))
	assert.False(t, resumed(base, base.Add(time.Minute), time.Minute))
	assert.False(t, resumed(base, base.Add(2*time.Minute), time.Minute))
	assert.True(t, resumed(base, base.Add(2*time.Minute+time.Second), time.Minute))
	assert.True(t, resumed(base, base.Add(-time.Minute), time.Minute))
}

func TestTickReschedulesAfterGap(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, time.Minute, "00:05", time.UTC)

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	s.tick()
	now = now.Add(time.Minute)
	s.tick()
	_, reschedules := eng.counts()
	assert.Equal(t, 0, reschedules)

	now = now.Add(3 * time.Hour)
	s.tick()
	_, reschedules = eng.counts()
	assert.Equal(t, 1, reschedules)
}

func TestStartRunsInitialRefresh(t *testing.T) {
	eng := &fakeEngine{}
	s := New(eng, time.Minute, "00:05", time.UTC)
	assert.NoError(t, s.Start())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		refreshes, _ := eng.counts()
		return refreshes >= 1
	}, time.Second, 10*time.Millisecond)
}

func TestStartRejectsBadDailyTime(t *testing.T) {
	s := New(&fakeEngine{}, time.Minute, "25:99", time.UTC)
	assert.Error(t, s.Start())
	s.Stop()
}
