// Package cache holds computed results keyed by request fingerprint.
//
// It is the only shared mutable state in the process. Entries are a
// performance optimization, not a source of truth: they may be evicted or
// lost on restart without affecting the report version store.
package cache

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/tally-lab/project-tally/internal/aggregate"
	"github.com/tally-lab/project-tally/internal/fingerprint"
)

// DefaultCapacity bounds the store when the configured capacity is invalid.
const DefaultCapacity = 256

// ErrCorruptEntry marks a stored entry that failed its integrity check on
// read. Handled locally: the entry is evicted and the lookup is a miss.
// Never surfaced to callers of Lookup.
var ErrCorruptEntry = errors.New("cache entry failed integrity check")

// Entry is one cached computation. Result is immutable; only the access
// metadata mutates.
type Entry struct {
	Fingerprint  fingerprint.Fingerprint      `json:"fingerprint"`
	Result       *aggregate.ComputationResult `json:"result"`
	CreatedAt    time.Time                    `json:"created_at"`
	LastAccessAt time.Time                    `json:"last_access_at"`
	HitCount     int64                        `json:"hit_count"`
}

// Stats is the read-only observability snapshot for the dashboard boundary.
type Stats struct {
	Entries     int   `json:"entries"`
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	Expirations int64 `json:"expirations"`
	Corruptions int64 `json:"corruptions"`
}

// Store is a bounded, thread-safe LRU result cache with optional per-entry
// TTL and singleflight computation dedup.
type Store struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration // 0 disables expiry
	entries  map[fingerprint.Fingerprint]*list.Element
	order    *list.List // front = most recently used

	flight singleflight.Group

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
	corruptions int64

	nowFn func() time.Time
}

// New creates a Store with the given capacity and TTL. ttl == 0 keeps
// entries until evicted by LRU pressure or invalidation.
func New(capacity int, ttl time.Duration) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Store{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[fingerprint.Fingerprint]*list.Element),
		order:    list.New(),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// Lookup returns the cached entry for fp, or false on a miss. Expired and
// corrupt entries are evicted and reported as misses.
func (s *Store) Lookup(fp fingerprint.Fingerprint) (*Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.entries[fp]
	if !exists {
		s.misses++
		return nil, false
	}

	entry := elem.Value.(*Entry)
	now := s.nowFn()

	if s.ttl > 0 && now.Sub(entry.CreatedAt) > s.ttl {
		s.removeLocked(elem, entry)
		s.expirations++
		s.misses++
		return nil, false
	}

	if err := s.checkIntegrity(fp, entry); err != nil {
		s.removeLocked(elem, entry)
		s.corruptions++
		s.misses++
		return nil, false
	}

	s.order.MoveToFront(elem)
	entry.LastAccessAt = now
	entry.HitCount++
	s.hits++

	// Return a copy; the stored result pointer is shared but never mutated.
	copy := *entry
	return &copy, true
}

// Put stores a result for fp, evicting the least recently used entry when
// at capacity. An existing entry for fp is replaced in place.
func (s *Store) Put(fp fingerprint.Fingerprint, result *aggregate.ComputationResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()

	if elem, exists := s.entries[fp]; exists {
		s.order.MoveToFront(elem)
		entry := elem.Value.(*Entry)
		entry.Result = result
		entry.CreatedAt = now
		entry.LastAccessAt = now
		return
	}

	if s.order.Len() >= s.capacity {
		oldest := s.order.Back()
		if oldest != nil {
			entry := oldest.Value.(*Entry)
			s.removeLocked(oldest, entry)
			s.evictions++
		}
	}

	entry := &Entry{
		Fingerprint:  fp,
		Result:       result,
		CreatedAt:    now,
		LastAccessAt: now,
	}
	s.entries[fp] = s.order.PushFront(entry)
}

// Invalidate removes the entry for fp so the next lookup is a forced miss.
// Used when underlying data is known to have changed. Returns whether an
// entry was present.
func (s *Store) Invalidate(fp fingerprint.Fingerprint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, exists := s.entries[fp]
	if !exists {
		return false
	}
	s.removeLocked(elem, elem.Value.(*Entry))
	return true
}

// WithSingleflight runs fn at most once concurrently per fingerprint.
// Callers with the same fingerprint while a flight is active wait for its
// outcome and receive the same result or the same error. A waiter whose own
// context is cancelled detaches without aborting the flight; cancellation of
// the flight owner's context makes fn return, which releases the flight and
// propagates the error to every remaining waiter. Flight outcomes are not
// retained across requests; only Put writes survive the flight.
func (s *Store) WithSingleflight(ctx context.Context, fp fingerprint.Fingerprint, fn func() (any, error)) (any, bool, error) {
	ch := s.flight.DoChan(string(fp), fn)

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val, res.Shared, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// Stats returns a snapshot of cache counters.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Entries:     s.order.Len(),
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		Corruptions: s.corruptions,
	}
}

// StartJanitor sweeps expired entries on a fixed interval until ctx is
// cancelled. A no-op when TTL is disabled.
func (s *Store) StartJanitor(ctx context.Context, interval time.Duration) {
	if s.ttl <= 0 || interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweepExpired()
		case <-ctx.Done():
			return
		}
	}
}

func (s *Store) sweepExpired() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn()
	for elem := s.order.Back(); elem != nil; {
		prev := elem.Prev()
		entry := elem.Value.(*Entry)
		if now.Sub(entry.CreatedAt) > s.ttl {
			s.removeLocked(elem, entry)
			s.expirations++
		}
		elem = prev
	}
}

// checkIntegrity verifies a stored entry still has the structural shape it
// was accepted with.
func (s *Store) checkIntegrity(fp fingerprint.Fingerprint, entry *Entry) error {
	if entry.Fingerprint != fp {
		return ErrCorruptEntry
	}
	if err := entry.Result.CheckShape(); err != nil {
		return ErrCorruptEntry
	}
	return nil
}

func (s *Store) removeLocked(elem *list.Element, entry *Entry) {
	delete(s.entries, entry.Fingerprint)
	s.order.Remove(elem)
}
