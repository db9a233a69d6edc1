package store

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a thread-safe in-process Store. It serves as the fallback
// when no shared backend is configured or the backend is unreachable, and as
// the default store in tests. Expired entries are dropped lazily on access.
type MemoryStore struct {
	mu     sync.Mutex
	values map[string]*memoryEntry
	sets   map[string]*memorySet
	now    func() time.Time
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

type memorySet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

// Ensure MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		values: make(map[string]*memoryEntry),
		sets:   make(map[string]*memorySet),
		now:    time.Now,
	}
}

func (s *MemoryStore) expired(at time.Time) bool {
	return !at.IsZero() && !s.now().Before(at)
}

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// live returns the entry for key if it exists and has not expired.
// Caller must hold the lock.
func (s *MemoryStore) live(key string) (*memoryEntry, bool) {
	e, ok := s.values[key]
	if !ok {
		return nil, false
	}
	if s.expired(e.expiresAt) {
		delete(s.values, key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.live(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = &memoryEntry{value: v, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.live(key); ok {
		return false, nil
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.values[key] = &memoryEntry{value: v, expiresAt: s.deadline(ttl)}
	return true, nil
}

// Incr stores counters as decimal strings so Get on a counter key behaves the
// same as it does against Redis.
func (s *MemoryStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	expiresAt := s.deadline(ttl)
	if e, ok := s.live(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, err
		}
		n = parsed
		expiresAt = e.expiresAt // first increment set the deadline
	}
	n++
	s.values[key] = &memoryEntry{value: []byte(strconv.FormatInt(n, 10)), expiresAt: expiresAt}
	return n, nil
}

func (s *MemoryStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, ok := s.sets[key]
	if ok && s.expired(set.expiresAt) {
		delete(s.sets, key)
		ok = false
	}
	if !ok {
		set = &memorySet{members: make(map[string]struct{})}
		s.sets[key] = set
	}
	set.members[member] = struct{}{}
	set.expiresAt = s.deadline(ttl)
	return int64(len(set.members)), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	delete(s.sets, key)
	return nil
}

func (s *MemoryStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.values {
		if strings.HasPrefix(key, prefix) {
			delete(s.values, key)
			removed++
		}
	}
	for key := range s.sets {
		if strings.HasPrefix(key, prefix) {
			delete(s.sets, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
