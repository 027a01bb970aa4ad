package setting

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/ovaphlow/pitchfork/service-lounge/internal/setting/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/setting/repo"
)

// category under which lounge settings are filed
const category = "lounge"

// Service encapsulates business logic for settings and depends on a repo.
type Service struct {
	repo *repo.Repo
	mu   sync.Mutex
}

// NewService constructs a Service with the provided repository.
func NewService(r *repo.Repo) *Service {
	return &Service{repo: r}
}

// sentinel errors for common failure modes
var (
	ErrNotFound = errors.New("not found")
)

// EnsureSchema creates the table and seeds the system config with defaults on
// first boot.
func (s *Service) EnsureSchema(ctx context.Context) error {
	if err := s.repo.EnsureTable(ctx); err != nil {
		return err
	}
	_, err := s.SystemConfig(ctx)
	return err
}

// Get returns a setting by id.
func (s *Service) Get(ctx context.Context, id string) (*entity.Setting, error) {
	st, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return st, nil
}

// SystemConfig returns the singleton config, creating it with defaults if absent.
func (s *Service) SystemConfig(ctx context.Context) (*entity.SystemConfig, error) {
	st, err := s.Get(ctx, entity.SystemConfigID)
	if errors.Is(err, ErrNotFound) {
		return s.createDefault(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("load system config: %w", err)
	}
	return decode(st)
}

// WithSystemConfigLock mutates the singleton config atomically.
func (s *Service) WithSystemConfigLock(ctx context.Context, fn func(*entity.SystemConfig) error) error {
	if _, err := s.SystemConfig(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.repo.WithLock(ctx, entity.SystemConfigID, func(st *entity.Setting) error {
		c, err := decode(st)
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
		raw, err := json.Marshal(c)
		if err != nil {
			return err
		}
		st.Metadata = raw
		return nil
	})
}

func (s *Service) createDefault(ctx context.Context) (*entity.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// another caller may have won the race
	if st, err := s.repo.GetByID(ctx, entity.SystemConfigID); err == nil {
		return decode(st)
	}
	c := &entity.SystemConfig{}
	c.Defaults()
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, entity.NewSetting(entity.SystemConfigID, category, raw)); err != nil {
		return nil, fmt.Errorf("create system config: %w", err)
	}
	return c, nil
}

func decode(st *entity.Setting) (*entity.SystemConfig, error) {
	c := &entity.SystemConfig{}
	c.Defaults()
	if len(st.Metadata) == 0 {
		return c, nil
	}
	if err := json.Unmarshal(st.Metadata, c); err != nil {
		return nil, fmt.Errorf("decode system config: %w", err)
	}
	return c, nil
}
