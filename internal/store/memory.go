package store

import (
	"errors"
	"sync"
	"time"

	"github.com/i474232898/prayer-times-engine/internal/prayer"
)

var (
	// ErrNotFound is returned when no snapshot is stored for a key.
	ErrNotFound = errors.New("no prayer snapshot for location")
)

// SnapshotHistory holds the committed snapshots of one location key, oldest first.
type SnapshotHistory struct {
	Snapshots []prayer.Snapshot
}

// MemoryStore is a concurrency-safe in-memory history of committed snapshots.
type MemoryStore struct {
	mu sync.RWMutex

	// key: geohash cell or prayer.DefaultLocationKey
	data map[string]*SnapshotHistory

	maxHistory int           // max snapshots per key
	maxAge     time.Duration // max age by CommittedAt
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore. Non-positive limits mean unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string]*SnapshotHistory),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// SaveSnapshot appends snap under key and enforces retention.
func (s *MemoryStore) SaveSnapshot(key string, snap prayer.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, ok := s.data[key]
	if !ok {
		history = &SnapshotHistory{}
		s.data[key] = history
	}

	history.Snapshots = append(history.Snapshots, snap)

	if s.maxHistory > 0 && len(history.Snapshots) > s.maxHistory {
		over := len(history.Snapshots) - s.maxHistory
		history.Snapshots = history.Snapshots[over:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history.Snapshots); i++ {
			if !history.Snapshots[i].CommittedAt.Before(cutoff) {
				break
			}
		}
		// The newest snapshot is always kept.
		if i >= len(history.Snapshots) {
			i = len(history.Snapshots) - 1
		}
		history.Snapshots = history.Snapshots[i:]
	}
}

// GetLatest returns the most recent snapshot for key.
func (s *MemoryStore) GetLatest(key string) (prayer.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Snapshots) == 0 {
		return prayer.Snapshot{}, ErrNotFound
	}
	return history.Snapshots[len(history.Snapshots)-1], nil
}

// GetRange returns snapshots for key committed between from and to, inclusive.
func (s *MemoryStore) GetRange(key string, from, to time.Time) ([]prayer.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.data[key]
	if !ok || len(history.Snapshots) == 0 {
		return nil, ErrNotFound
	}

	var result []prayer.Snapshot
	for _, snap := range history.Snapshots {
		if !snap.CommittedAt.Before(from) && !snap.CommittedAt.After(to) {
			result = append(result, snap)
		}
	}

	if len(result) == 0 {
		return nil, ErrNotFound
	}

	return result, nil
}
