package history

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore keeps history in process memory. It is lost on restart.
type MemStore struct {
	mu      sync.Mutex
	entries map[string][]time.Time
}

func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string][]time.Time)}
}

func (s *MemStore) Append(_ context.Context, key string, ts time.Time, retain time.Duration) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := append(s.entries[key], ts)
	sort.SliceStable(list, func(i, j int) bool { return list[i].Before(list[j]) })
	list = keepFrom(list, ts.Add(-retain))
	s.entries[key] = list

	out := make([]time.Time, len(list))
	copy(out, list)
	return out, nil
}

func (s *MemStore) PruneBefore(_ context.Context, key string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, ok := s.entries[key]
	if !ok {
		return nil
	}
	list = keepFrom(list, cutoff)
	if len(list) == 0 {
		delete(s.entries, key)
		return nil
	}
	s.entries[key] = list
	return nil
}

// Sweep removes keys whose newest entry is older than now-retain and returns
// how many keys were removed.
func (s *MemStore) Sweep(now time.Time, retain time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := now.Add(-retain)
	removed := 0
	for key, list := range s.entries {
		if len(list) == 0 || list[len(list)-1].Before(cutoff) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Reset clears all history. Intended for tests.
func (s *MemStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string][]time.Time)
}

// keepFrom returns the suffix of the sorted list at or after cutoff.
func keepFrom(list []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(list), func(i int) bool { return !list[i].Before(cutoff) })
	if i == 0 {
		return list
	}
	return append([]time.Time(nil), list[i:]...)
}
