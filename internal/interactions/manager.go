package interactions

import (
	"fmt"
	"sync"
	"time"
)

// InteractionStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type InteractionStore interface {
	AddInteraction(tweetID string) error
	RemoveInteraction(tweetID string) error
	ClearInteractions() error
	AllInteractions() ([]string, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Manager provides cached membership checks over the interactions table.
// The decision loop asks "did I already engage with this tweet" for every
// candidate it scores, so the id set is cached with a short TTL instead of
// hitting SQLite once per check.
type Manager struct {
	store InteractionStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   map[string]struct{}
	cachedAt time.Time
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store InteractionStore) *Manager {
	return &Manager{
		store: store,
		clock: realClock{},
		ttl:   60 * time.Second,
	}
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store InteractionStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
	}
}

// Has reports whether the tweet has been marked as interacted with.
func (m *Manager) Has(tweetID string) (bool, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		_, ok := m.cached[tweetID]
		m.mu.RUnlock()
		return ok, nil
	}
	m.mu.RUnlock()

	// Slow path: write lock for cache miss.
	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if m.cached != nil && m.clock.Now().Before(m.cachedAt.Add(m.ttl)) {
		_, ok := m.cached[tweetID]
		return ok, nil
	}

	ids, err := m.store.AllInteractions()
	if err != nil {
		return false, fmt.Errorf("loading interactions: %w", err)
	}
	// Build a fresh map rather than mutating the published one, so the
	// read path stays safe under RLock.
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	m.cached = set
	m.cachedAt = m.clock.Now()

	_, ok := set[tweetID]
	return ok, nil
}

// Mark records an interaction with the tweet and invalidates the cache.
// Marking twice refreshes the timestamp.
func (m *Manager) Mark(tweetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.AddInteraction(tweetID); err != nil {
		return fmt.Errorf("marking interaction %s: %w", tweetID, err)
	}
	m.cached = nil
	return nil
}

// Unmark removes the interaction record. Returns storage.ErrNotFound when
// the tweet was never marked.
func (m *Manager) Unmark(tweetID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.RemoveInteraction(tweetID); err != nil {
		return err
	}
	m.cached = nil
	return nil
}

// Clear wipes every interaction record and the cache.
func (m *Manager) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.ClearInteractions(); err != nil {
		return fmt.Errorf("clearing interactions: %w", err)
	}
	m.cached = nil
	return nil
}

// All returns every interacted tweet id, most recent first. Reads straight
// from storage since the cache is an unordered set.
func (m *Manager) All() ([]string, error) {
	ids, err := m.store.AllInteractions()
	if err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	return ids, nil
}
