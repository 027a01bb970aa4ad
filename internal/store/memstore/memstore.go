// Package memstore keeps users and the system config in process memory. It is
// used by tests and by `serve --memory` when no database is wanted.
package memstore

import (
	"context"
	"iter"
	"slices"
	"sync"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user"
	userentity "github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

type Store struct {
	mu    sync.RWMutex
	users map[int64]*userentity.User
	locks *user.KeyedMutex

	cfgMu sync.Mutex
	cfg   entity.SystemConfig
}

func New() *Store {
	s := &Store{
		users: make(map[int64]*userentity.User),
		locks: user.NewKeyedMutex(),
	}
	s.cfg.Defaults()
	return s
}

func (s *Store) Get(_ context.Context, id int64) (*userentity.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, user.ErrNotFound
	}
	return u.Clone(), nil
}

func (s *Store) Add(_ context.Context, u *userentity.User) error {
	release := s.locks.Lock(u.ID)
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return user.ErrExists
	}
	s.users[u.ID] = u.Clone()
	return nil
}

// WithLock hands fn a private copy and stores it only if fn succeeds.
func (s *Store) WithLock(_ context.Context, id int64, fn func(*userentity.User) error) error {
	release := s.locks.Lock(id)
	defer release()

	s.mu.RLock()
	cur, ok := s.users[id]
	s.mu.RUnlock()
	if !ok {
		return user.ErrNotFound
	}
	work := cur.Clone()
	if err := fn(work); err != nil {
		return err
	}
	work.ID = id

	s.mu.Lock()
	s.users[id] = work
	s.mu.Unlock()
	return nil
}

// Iterate yields copies in id order. The id list is taken when iteration
// starts; users added afterwards are not visited.
func (s *Store) Iterate(_ context.Context) iter.Seq2[*userentity.User, error] {
	return func(yield func(*userentity.User, error) bool) {
		s.mu.RLock()
		ids := make([]int64, 0, len(s.users))
		for id := range s.users {
			ids = append(ids, id)
		}
		s.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			s.mu.RLock()
			u, ok := s.users[id]
			var c *userentity.User
			if ok {
				c = u.Clone()
			}
			s.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (s *Store) SystemConfig(_ context.Context) (*entity.SystemConfig, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	c := s.cfg
	return &c, nil
}

func (s *Store) WithSystemConfigLock(_ context.Context, fn func(*entity.SystemConfig) error) error {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	work := s.cfg
	if err := fn(&work); err != nil {
		return err
	}
	s.cfg = work
	return nil
}
