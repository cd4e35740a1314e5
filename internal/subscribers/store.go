// Package subscribers owns the durable set of broadcast recipients.
//
// Every mutation is persisted before it becomes visible: the next set is
// built on a copy, saved, and only then swapped in. A failed save leaves
// memory and disk unchanged.
package subscribers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"songbot/internal/storage"
	logx "songbot/pkg/logx"
)

// ErrClosed is returned once the store has been closed.
var ErrClosed = fmt.Errorf("%w: subscriber store closed", storage.ErrUnavailable)

// Backend is the slice of storage.Store the subscriber set needs.
type Backend interface {
	LoadSubscribers(ctx context.Context) ([]int64, error)
	SaveSubscribers(ctx context.Context, ids []int64) error
}

// Hooks observe committed changes.
type Hooks struct {
	// OnChange runs after a successful save, outside the lock. Optional.
	OnChange func(added, removed []int64, size int)
}

type Store struct {
	backend Backend
	log     logx.Logger
	hooks   Hooks

	mu     sync.RWMutex
	set    Set
	closed bool
}

// Open loads the persisted set. The first run yields an empty set; an
// unreadable medium is an error wrapping storage.ErrUnavailable.
func Open(ctx context.Context, backend Backend, log logx.Logger, hooks Hooks) (*Store, error) {
	if backend == nil {
		return nil, errors.New("subscribers: nil backend")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{backend: backend, log: log, hooks: hooks}
	if err := s.Load(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Load replaces the in-memory set with the persisted one.
func (s *Store) Load(ctx context.Context) error {
	ids, err := s.backend.LoadSubscribers(ctx)
	if err != nil {
		return fmt.Errorf("load subscribers: %w", err)
	}
	set := NewSet(ids...)
	s.mu.Lock()
	s.set = set
	s.mu.Unlock()
	if len(ids) != set.Len() {
		s.log.Warn("duplicate subscriber ids in storage collapsed", logx.Int("stored", len(ids)), logx.Int("unique", set.Len()))
	}
	s.log.Info("subscribers loaded", logx.Int("count", set.Len()))
	return nil
}

// Subscribe adds id and persists the set. It reports whether id was new;
// an existing member is a no-op without a write.
func (s *Store) Subscribe(ctx context.Context, id int64) (bool, error) {
	added, err := s.mutate(ctx, func(next Set) []int64 {
		if next.Add(id) {
			return []int64{id}
		}
		return nil
	})
	if err != nil || len(added) == 0 {
		return false, err
	}
	s.notify([]int64{id}, nil)
	return true, nil
}

// Unsubscribe removes id and persists the set. It reports whether id was a
// member.
func (s *Store) Unsubscribe(ctx context.Context, id int64) (bool, error) {
	removed, err := s.mutate(ctx, func(next Set) []int64 {
		if next.Remove(id) {
			return []int64{id}
		}
		return nil
	})
	if err != nil || len(removed) == 0 {
		return false, err
	}
	s.notify(nil, removed)
	return true, nil
}

// Prune removes every id in ids that is still a member, in one save. Ids
// that left in the meantime are ignored. It returns the number removed.
func (s *Store) Prune(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	removed, err := s.mutate(ctx, func(next Set) []int64 {
		var out []int64
		for _, id := range ids {
			if next.Remove(id) {
				out = append(out, id)
			}
		}
		return out
	})
	if err != nil {
		return 0, err
	}
	if len(removed) > 0 {
		s.notify(nil, removed)
	}
	return len(removed), nil
}

// mutate applies fn to a copy of the set, saves it when fn changed
// something, and swaps it in after a successful save. The write lock is
// held across the save so mutations commit in order.
func (s *Store) mutate(ctx context.Context, fn func(next Set) []int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	next := s.set.Clone()
	changed := fn(next)
	if len(changed) == 0 {
		return nil, nil
	}
	if err := s.backend.SaveSubscribers(ctx, next.Sorted()); err != nil {
		return nil, fmt.Errorf("save subscribers: %w", err)
	}
	s.set = next
	return changed, nil
}

// Snapshot returns the members in ascending order. The slice is a copy.
func (s *Store) Snapshot() ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.set.Sorted(), nil
}

func (s *Store) Contains(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Contains(id)
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Len()
}

// Close makes later calls fail with ErrClosed. The backend is owned by the
// caller and stays open.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Store) notify(added, removed []int64) {
	if s.hooks.OnChange == nil {
		return
	}
	s.hooks.OnChange(added, removed, s.Len())
}
