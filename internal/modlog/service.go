package modlog

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/repo"
	"github.com/ovaphlow/pitchfork/service-lounge/pkg/utilities"
)

// Service records moderation actions.
type Service struct {
	repo *repo.ModLogRepo
}

func NewService(db *sqlx.DB) *Service {
	return &Service{repo: repo.NewModLogRepo(db)}
}

func (s *Service) EnsureSchema(ctx context.Context) error {
	return s.repo.EnsureTable(ctx)
}

// Record stores e, assigning an id when it has none.
func (s *Service) Record(ctx context.Context, e entity.Entry) error {
	if e.ID == "" {
		e.ID = utilities.NewKSUID()
	}
	if err := s.repo.Insert(ctx, &e); err != nil {
		return fmt.Errorf("record %s: %w", e.Action, err)
	}
	return nil
}

// History returns the newest entries about a user.
func (s *Service) History(ctx context.Context, targetID int64, limit int) ([]*entity.Entry, error) {
	return s.repo.ListByTarget(ctx, targetID, limit)
}
