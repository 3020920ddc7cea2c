package ratelimit

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps windows in process memory. Each identifier has its own
// lock, so concurrent calls for different clients never contend on a
// counter. State is lost on restart.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	now     func() time.Time
}

type memoryEntry struct {
	mu   sync.Mutex
	win  Window
	dead bool // removed by Sweep; callers must look the key up again
}

// NewMemoryStore creates a MemoryStore. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{entries: make(map[string]*memoryEntry), now: now}
}

// Take implements Store.
func (s *MemoryStore) Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Window{}, false, err
		}
		e := s.entry(key)

		e.mu.Lock()
		if e.dead {
			e.mu.Unlock()
			continue
		}
		now := s.now()
		if e.win.Count == 0 || !now.Before(e.win.ResetAt) {
			e.win = Window{ResetAt: now.Add(window)}
		}
		if e.win.Count >= limit {
			win := e.win
			e.mu.Unlock()
			return win, false, nil
		}
		e.win.Count++
		win := e.win
		e.mu.Unlock()
		return win, true, nil
	}
}

func (s *MemoryStore) entry(key string) *memoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		e = &memoryEntry{}
		s.entries[key] = e
	}
	return e
}

// Peek returns the current window for key without counting a call.
func (s *MemoryStore) Peek(key string) (Window, bool) {
	s.mu.Lock()
	e, ok := s.entries[key]
	s.mu.Unlock()
	if !ok {
		return Window{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead || !s.now().Before(e.win.ResetAt) {
		return Window{}, false
	}
	return e.win, true
}

// Sweep drops expired windows and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, e := range s.entries {
		e.mu.Lock()
		if !now.Before(e.win.ResetAt) {
			e.dead = true
			delete(s.entries, key)
			removed++
		}
		e.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked identifiers.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// StartSweeper calls Sweep every interval until ctx is cancelled.
func (s *MemoryStore) StartSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
