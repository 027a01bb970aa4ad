package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-lounge/internal/user/repo"
)

var (
	ErrNotFound = errors.New("user not found")
	ErrExists   = errors.New("user already exists")
)

// pageSize bounds how many rows Iterate holds in memory at a time.
const pageSize = 256

// Service is the user directory backed by the users table. Every mutation goes
// through WithLock, which serializes per id in-process and row-locks in the db.
type Service struct {
	repo  *userrepo.UserRepo
	locks *KeyedMutex
}

func NewService(db *sqlx.DB, r *userrepo.UserRepo) *Service {
	if r == nil {
		r = userrepo.NewUserRepo(db)
	}
	return &Service{repo: r, locks: NewKeyedMutex()}
}

// EnsureSchema creates the backing table.
func (s *Service) EnsureSchema(ctx context.Context) error {
	return s.repo.EnsureTable(ctx)
}

// Get returns a fresh copy of the user or ErrNotFound.
func (s *Service) Get(ctx context.Context, id int64) (*entity.User, error) {
	u, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

// Add inserts a new record; the id must not exist yet.
func (s *Service) Add(ctx context.Context, u *entity.User) error {
	release := s.locks.Lock(u.ID)
	defer release()

	if _, err := s.repo.GetByID(ctx, u.ID); err == nil {
		return ErrExists
	} else if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("add user %d: %w", u.ID, err)
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return fmt.Errorf("add user %d: %w", u.ID, err)
	}
	return nil
}

// WithLock runs fn against the current record for id and persists the result.
// Mutating an unknown id fails with ErrNotFound; it never creates a record.
func (s *Service) WithLock(ctx context.Context, id int64, fn func(*entity.User) error) error {
	release := s.locks.Lock(id)
	defer release()

	err := s.repo.WithLock(ctx, id, fn)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Iterate walks every record in id order. Rows are fetched a page at a time and
// no result set is held open while the caller runs, so the loop body may call
// WithLock. Each call starts a new walk.
func (s *Service) Iterate(ctx context.Context) iter.Seq2[*entity.User, error] {
	return func(yield func(*entity.User, error) bool) {
		after := int64(math.MinInt64)
		for {
			page, err := s.repo.ListAfter(ctx, after, pageSize)
			if err != nil {
				yield(nil, fmt.Errorf("iterate users: %w", err))
				return
			}
			for _, u := range page {
				if !yield(u, nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}
