package repo

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/modlog/entity"
)

type ModLogRepo struct {
	db *sqlx.DB
}

func NewModLogRepo(db *sqlx.DB) *ModLogRepo {
	return &ModLogRepo{db: db}
}

// EnsureTable creates the moderation_log table if it does not already exist.
func (r *ModLogRepo) EnsureTable(ctx context.Context) error {
	const tbl = `
	CREATE TABLE IF NOT EXISTS moderation_log (
		id varchar(32) PRIMARY KEY,
		action varchar(16) NOT NULL,
		actor_id BIGINT NOT NULL,
		target_id BIGINT NOT NULL DEFAULT 0,
		message_id BIGINT NOT NULL DEFAULT 0,
		reason TEXT NOT NULL DEFAULT '',
		created_at BIGINT NOT NULL
	)`
	if _, err := r.db.ExecContext(ctx, tbl); err != nil {
		return err
	}

	const idx = `CREATE INDEX IF NOT EXISTS idx_moderation_log_target ON moderation_log (target_id)`
	if _, err := r.db.ExecContext(ctx, idx); err != nil {
		return err
	}
	return nil
}

// Insert appends an entry.
func (r *ModLogRepo) Insert(ctx context.Context, e *entity.Entry) error {
	const q = `INSERT INTO moderation_log (id, action, actor_id, target_id, message_id, reason, created_at)
		VALUES (:id, :action, :actor_id, :target_id, :message_id, :reason, :created_at)`
	_, err := r.db.NamedExecContext(ctx, q, map[string]any{
		"id":         e.ID,
		"action":     string(e.Action),
		"actor_id":   e.ActorID,
		"target_id":  e.TargetID,
		"message_id": e.MessageID,
		"reason":     e.Reason,
		"created_at": e.CreatedAt.UnixNano(),
	})
	return err
}

// ListByTarget returns the newest entries concerning a user, newest first.
func (r *ModLogRepo) ListByTarget(ctx context.Context, targetID int64, limit int) ([]*entity.Entry, error) {
	var rows []struct {
		ID        string `db:"id"`
		Action    string `db:"action"`
		ActorID   int64  `db:"actor_id"`
		TargetID  int64  `db:"target_id"`
		MessageID int64  `db:"message_id"`
		Reason    string `db:"reason"`
		CreatedAt int64  `db:"created_at"`
	}
	q := r.db.Rebind(`SELECT id, action, actor_id, target_id, message_id, reason, created_at
		FROM moderation_log WHERE target_id=? ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := r.db.SelectContext(ctx, &rows, q, targetID, limit); err != nil {
		return nil, err
	}
	out := make([]*entity.Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, &entity.Entry{
			ID:        row.ID,
			Action:    entity.Action(row.Action),
			ActorID:   row.ActorID,
			TargetID:  row.TargetID,
			MessageID: row.MessageID,
			Reason:    row.Reason,
			CreatedAt: time.Unix(0, row.CreatedAt),
		})
	}
	return out, nil
}
