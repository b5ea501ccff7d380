// Package memstore implements taskstore.Store in process memory with TTL
// and size-bounded eviction.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/task"
)

// Store keeps tasks in a map. The map lock guards membership; each entry
// has its own lock so one writer and many pollers of a task never contend
// with other tasks.
type Store struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time // for testing
}

type entry struct {
	mu sync.RWMutex
	t  *task.Task
}

// New creates a Store. Entries idle for longer than ttl are evicted; at
// most maxEntries are kept.
func New(ttl time.Duration, maxEntries int) *Store {
	return &Store{
		entries:    make(map[string]*entry),
		ttl:        ttl,
		maxEntries: max(1, maxEntries),
		now:        time.Now,
	}
}

// Create stores a new task. When the store is full the oldest terminal
// task is evicted; if every task is still running, domain.ErrCapacity is
// returned.
func (s *Store) Create(_ context.Context, t *task.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[t.ID]; exists {
		return fmt.Errorf("%w: task %s exists", domain.ErrConflict, t.ID)
	}
	if len(s.entries) >= s.maxEntries && !s.evictOldestTerminalLocked() {
		return fmt.Errorf("%w: %d tasks in flight", domain.ErrCapacity, len(s.entries))
	}
	s.entries[t.ID] = &entry{t: t.Clone()}
	return nil
}

// Get returns a copy of the task.
func (s *Store) Get(_ context.Context, id string) (*task.Task, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s.expired(e.t) {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	return e.t.Clone(), nil
}

// Update applies fn to a working copy and commits it only when fn succeeds.
func (s *Store) Update(_ context.Context, id string, fn func(*task.Task) error) (*task.Task, error) {
	e, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	work := e.t.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	e.t = work
	return work.Clone(), nil
}

// Sweep removes every task idle for longer than the TTL.
func (s *Store) Sweep(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, e := range s.entries {
		e.mu.RLock()
		stale := now.Sub(e.t.UpdatedAt) > s.ttl
		e.mu.RUnlock()
		if stale {
			delete(s.entries, id)
			evicted++
		}
	}
	return evicted, nil
}

// Len returns the number of stored tasks.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RunJanitor sweeps every interval until ctx is done.
func (s *Store) RunJanitor(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n, _ := s.Sweep(ctx, s.now()); n > 0 {
				slog.Debug("task janitor evicted entries", "count", n, "remaining", s.Len())
			}
		}
	}
}

func (s *Store) lookup(id string) (*entry, error) {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	return e, nil
}

func (s *Store) expired(t *task.Task) bool {
	return s.now().Sub(t.UpdatedAt) > s.ttl
}

// evictOldestTerminalLocked must be called with s.mu held.
func (s *Store) evictOldestTerminalLocked() bool {
	type candidate struct {
		id      string
		updated time.Time
	}
	var terminal []candidate
	for id, e := range s.entries {
		e.mu.RLock()
		if e.t.Status.Terminal() {
			terminal = append(terminal, candidate{id: id, updated: e.t.UpdatedAt})
		}
		e.mu.RUnlock()
	}
	if len(terminal) == 0 {
		return false
	}
	sort.Slice(terminal, func(i, j int) bool { return terminal[i].updated.Before(terminal[j].updated) })
	delete(s.entries, terminal[0].id)
	return true
}
