package memory

import (
	"context"
	"sync"
	"time"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

type lockoutEntry struct {
	state     ports.LockoutState
	windowEnd time.Time
}

// LockoutStore mirrors the Redis lockout semantics for single-process runs.
type LockoutStore struct {
	mu      sync.Mutex
	entries map[string]lockoutEntry
	nowFn   func() time.Time
}

func NewLockoutStore(clock func() time.Time) *LockoutStore {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &LockoutStore{entries: make(map[string]lockoutEntry), nowFn: clock}
}

func (s *LockoutStore) Get(_ context.Context, key string) (ports.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveLocked(key)
	if !ok {
		return ports.LockoutState{}, nil
	}
	return entry.state, nil
}

func (s *LockoutStore) RecordFailure(_ context.Context, key string, now time.Time, threshold int, lockoutWindow time.Duration) (ports.LockoutState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveLocked(key)
	if !ok {
		entry = lockoutEntry{windowEnd: now.Add(lockoutWindow)}
	}
	entry.state.FailedCount++
	if entry.state.FailedCount >= threshold {
		lockedUntil := now.Add(lockoutWindow).UTC()
		entry.state.LockedUntil = &lockedUntil
		entry.windowEnd = lockedUntil
	}
	s.entries[key] = entry
	return entry.state, nil
}

func (s *LockoutStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

func (s *LockoutStore) liveLocked(key string) (lockoutEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return lockoutEntry{}, false
	}
	if !entry.windowEnd.After(s.nowFn()) {
		delete(s.entries, key)
		return lockoutEntry{}, false
	}
	return entry, true
}
