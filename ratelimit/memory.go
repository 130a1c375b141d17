package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a single-process Store. Use store/redis when the API
// runs as more than one instance.
type MemoryStore struct {
	mu    sync.Mutex
	logs  map[string]*window
	takes int
}

type window struct {
	hits   []time.Time
	length time.Duration
}

// compact every this many Take calls.
const compactEvery = 1024

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{logs: make(map[string]*window)}
}

// Take implements Store.
func (s *MemoryStore) Take(_ context.Context, key string, limit int, length time.Duration, now time.Time) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.takes++
	if s.takes%compactEvery == 0 {
		s.compact(now)
	}

	w, ok := s.logs[key]
	if !ok {
		w = &window{}
		s.logs[key] = w
	}
	w.length = length
	w.prune(now)

	d := Decision{Limit: limit}
	if len(w.hits) < limit {
		w.hits = append(w.hits, now)
		d.Allowed = true
	}
	d.Remaining = max(limit-len(w.hits), 0)
	if len(w.hits) > 0 {
		d.Reset = w.hits[0].Add(length)
	} else {
		d.Reset = now.Add(length)
	}
	return d, nil
}

// Reset clears the window for key.
func (s *MemoryStore) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, key)
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

// prune drops hits at or before now−length.
func (w *window) prune(now time.Time) {
	cutoff := now.Add(-w.length)
	i := 0
	for i < len(w.hits) && !w.hits[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.hits = append(w.hits[:0], w.hits[i:]...)
	}
}

func (s *MemoryStore) compact(now time.Time) {
	for key, w := range s.logs {
		w.prune(now)
		if len(w.hits) == 0 {
			delete(s.logs, key)
		}
	}
}
