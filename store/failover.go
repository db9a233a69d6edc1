package store

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"
)

// FailoverStore serves from a primary backend and falls back to an in-process
// MemoryStore while the primary is unreachable. The degrade decision lives
// here so the components above it never branch on backend availability
// themselves: an outage of the shared store must never take the product down.
//
// Fallback state is per-instance, so enforcement is coarser while degraded.
// That trade-off is deliberate: availability over strict accounting.
type FailoverStore struct {
	primary  Store
	fallback *MemoryStore

	mu          sync.Mutex
	degraded    bool
	lastFailure time.Time
	retryAfter  time.Duration
	now         func() time.Time
}

// Ensure FailoverStore implements Store.
var _ Store = (*FailoverStore)(nil)

// NewFailoverStore wraps primary with an in-memory fallback. After a primary
// failure the store serves from memory for retryAfter before probing the
// primary again.
func NewFailoverStore(primary Store) *FailoverStore {
	return &FailoverStore{
		primary:    primary,
		fallback:   NewMemoryStore(),
		retryAfter: 30 * time.Second,
		now:        time.Now,
	}
}

// Degraded reports whether the store is currently serving from the in-memory
// fallback. Callers use it to attach warnings, never to reject requests.
func (s *FailoverStore) Degraded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.degraded
}

// usePrimary decides whether this operation should try the primary backend.
func (s *FailoverStore) usePrimary() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		return true
	}
	// probe the primary once the retry window has passed
	return s.now().Sub(s.lastFailure) >= s.retryAfter
}

func (s *FailoverStore) markFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.degraded {
		log.Printf("store: primary unavailable, serving from in-memory fallback: %v", err)
	}
	s.degraded = true
	s.lastFailure = s.now()
}

func (s *FailoverStore) markSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.degraded {
		log.Printf("store: primary recovered, leaving in-memory fallback")
	}
	s.degraded = false
}

// backendOK distinguishes backend failures from semantic results. ErrNotFound
// is a valid answer, not an outage.
func backendOK(err error) bool {
	return err == nil || errors.Is(err, ErrNotFound)
}

func (s *FailoverStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.usePrimary() {
		val, err := s.primary.Get(ctx, key)
		if backendOK(err) {
			s.markSuccess()
			return val, err
		}
		s.markFailure(err)
	}
	return s.fallback.Get(ctx, key)
}

func (s *FailoverStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if s.usePrimary() {
		err := s.primary.Set(ctx, key, value, ttl)
		if backendOK(err) {
			s.markSuccess()
			return err
		}
		s.markFailure(err)
	}
	return s.fallback.Set(ctx, key, value, ttl)
}

func (s *FailoverStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if s.usePrimary() {
		ok, err := s.primary.SetNX(ctx, key, value, ttl)
		if backendOK(err) {
			s.markSuccess()
			return ok, err
		}
		s.markFailure(err)
	}
	return s.fallback.SetNX(ctx, key, value, ttl)
}

func (s *FailoverStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if s.usePrimary() {
		n, err := s.primary.Incr(ctx, key, ttl)
		if backendOK(err) {
			s.markSuccess()
			return n, err
		}
		s.markFailure(err)
	}
	return s.fallback.Incr(ctx, key, ttl)
}

func (s *FailoverStore) AddToSet(ctx context.Context, key, member string, ttl time.Duration) (int64, error) {
	if s.usePrimary() {
		n, err := s.primary.AddToSet(ctx, key, member, ttl)
		if backendOK(err) {
			s.markSuccess()
			return n, err
		}
		s.markFailure(err)
	}
	return s.fallback.AddToSet(ctx, key, member, ttl)
}

func (s *FailoverStore) Delete(ctx context.Context, key string) error {
	if s.usePrimary() {
		err := s.primary.Delete(ctx, key)
		if backendOK(err) {
			s.markSuccess()
			return err
		}
		s.markFailure(err)
	}
	return s.fallback.Delete(ctx, key)
}

func (s *FailoverStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if s.usePrimary() {
		n, err := s.primary.DeletePrefix(ctx, prefix)
		if backendOK(err) {
			s.markSuccess()
			// purge the fallback too so stale entries cannot resurface
			s.fallback.DeletePrefix(ctx, prefix)
			return n, err
		}
		s.markFailure(err)
	}
	return s.fallback.DeletePrefix(ctx, prefix)
}

func (s *FailoverStore) Ping(ctx context.Context) error {
	return s.primary.Ping(ctx)
}

func (s *FailoverStore) Close() error {
	return s.primary.Close()
}
