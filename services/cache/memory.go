package cache

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/gobwas/glob"
)

// memoryEntry represents a single cache entry with its expiry
type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time     // zero means no expiry
	element   *list.Element // For LRU tracking
}

func (e *memoryEntry) isExpired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore is an in-process LRU store with per-key TTL.
// It backs the cache when Redis is not configured or unreachable.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
	lruList *list.List
	maxSize int
	now     func() time.Time
}

// NewMemoryStore creates a MemoryStore holding at most maxSize keys
func NewMemoryStore(maxSize int) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		lruList: list.New(),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Name implements Store
func (s *MemoryStore) Name() string {
	return "memory"
}

// Get implements Store
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok {
		return nil, false, nil
	}
	if entry.isExpired(s.now()) {
		s.removeEntry(key)
		return nil, false, nil
	}

	s.lruList.MoveToFront(entry.element)
	return append([]byte(nil), entry.value...), true, nil
}

// Set implements Store
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.now().Add(ttl)
	}
	value = append([]byte(nil), value...)

	if entry, ok := s.entries[key]; ok {
		entry.value = value
		entry.expiresAt = expiresAt
		s.lruList.MoveToFront(entry.element)
		return nil
	}

	if s.lruList.Len() >= s.maxSize {
		s.evictLRU()
	}

	entry := &memoryEntry{key: key, value: value, expiresAt: expiresAt}
	entry.element = s.lruList.PushFront(key)
	s.entries[key] = entry
	return nil
}

// Delete implements Store
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.removeEntry(key)
	return nil
}

// DeletePattern implements Store with Redis glob semantics: * and ? match any
// character, separators included.
func (s *MemoryStore) DeletePattern(_ context.Context, pattern string) (int, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.entries {
		if g.Match(key) {
			s.removeEntry(key)
			removed++
		}
	}
	return removed, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(context.Context) error {
	return nil
}

// Len returns the number of stored keys, expired ones included
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lruList.Len()
}

// removeEntry removes an entry (must be called with lock held)
func (s *MemoryStore) removeEntry(key string) {
	if entry, ok := s.entries[key]; ok {
		s.lruList.Remove(entry.element)
		delete(s.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (s *MemoryStore) evictLRU() {
	back := s.lruList.Back()
	if back == nil {
		return
	}
	s.removeEntry(back.Value.(string))
}

// CleanupExpired removes all expired entries
func (s *MemoryStore) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, entry := range s.entries {
		if entry.isExpired(now) {
			s.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically drops expired entries until ctx is done
func (s *MemoryStore) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.CleanupExpired()
		case <-ctx.Done():
			return
		}
	}
}
