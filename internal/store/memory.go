package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/eldtechnologies/rankvote/internal/models"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStore is an in-process PollStore used when no Redis URL is
// configured. Documents are kept serialized so callers never share state.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
	stop    chan struct{}
	once    sync.Once
}

// NewMemoryStore creates an empty store that sweeps expired polls every
// sweepInterval. A non-positive interval disables the sweeper; expired
// entries are still hidden on read.
func NewMemoryStore(sweepInterval time.Duration) *MemoryStore {
	return NewMemoryStoreWithClock(sweepInterval, time.Now)
}

// NewMemoryStoreWithClock is NewMemoryStore with a custom time source.
func NewMemoryStoreWithClock(sweepInterval time.Duration, now func() time.Time) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     now,
		stop:    make(chan struct{}),
	}
	if sweepInterval > 0 {
		go s.sweepLoop(sweepInterval)
	}
	return s
}

func (s *MemoryStore) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

// Sweep removes expired entries and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for key, e := range s.entries {
		if !now.Before(e.expiresAt) {
			delete(s.entries, key)
			count++
		}
	}
	return count
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// live returns the entry for key if it exists and has not expired.
// Caller must hold s.mu.
func (s *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok || !s.now().Before(e.expiresAt) {
		return memoryEntry{}, false
	}
	return e, true
}

// Create stores a new poll with an absolute expiry.
func (s *MemoryStore) Create(ctx context.Context, poll *models.Poll, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("create poll %s: ttl must be positive", poll.ID)
	}

	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pollKey(poll.ID)
	if _, exists := s.live(key); exists {
		return ErrAlreadyExists
	}

	s.entries[key] = memoryEntry{data: data, expiresAt: s.now().Add(ttl)}
	return nil
}

// Get returns a copy of the stored poll.
func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Poll, error) {
	s.mu.RLock()
	e, ok := s.live(pollKey(id))
	s.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	var poll models.Poll
	if err := json.Unmarshal(e.data, &poll); err != nil {
		return nil, fmt.Errorf("decode poll %s: %w", id, err)
	}
	poll.Normalize()

	return &poll, nil
}

// Replace overwrites an existing poll, keeping its expiry.
func (s *MemoryStore) Replace(ctx context.Context, poll *models.Poll) error {
	data, err := json.Marshal(poll)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := pollKey(poll.ID)
	e, ok := s.live(key)
	if !ok {
		return ErrNotFound
	}

	s.entries[key] = memoryEntry{data: data, expiresAt: e.expiresAt}
	return nil
}

// Delete removes a poll if present.
func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, pollKey(id))
	return nil
}
