package repo

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/user/entity"
)

// UserRepo provides data access for the users table using sqlx.
// Timestamps are stored as unix nanoseconds so the same schema works on
// postgres and sqlite.
type UserRepo struct {
	db *sqlx.DB
}

func NewUserRepo(db *sqlx.DB) *UserRepo { return &UserRepo{db: db} }

const userColumns = `id, username, realname, user_rank, joined, left_at, last_active, inactive,
	cooldown_until, blacklisted, blacklist_reason, warnings, warn_expiry, karma,
	hide_karma, debug_enabled, tripcode`

// EnsureTable creates the users table if not exists (idempotent).
func (r *UserRepo) EnsureTable(ctx context.Context) error {
	ddl := []string{`
CREATE TABLE IF NOT EXISTS users (
  id BIGINT PRIMARY KEY,
  username TEXT,
  realname TEXT NOT NULL DEFAULT '',
  user_rank INTEGER NOT NULL DEFAULT 0,
  joined BIGINT NOT NULL,
  left_at BIGINT,
  last_active BIGINT NOT NULL,
  inactive BOOLEAN NOT NULL DEFAULT false,
  cooldown_until BIGINT,
  blacklisted BOOLEAN NOT NULL DEFAULT false,
  blacklist_reason TEXT,
  warnings INTEGER NOT NULL DEFAULT 0,
  warn_expiry BIGINT,
  karma INTEGER NOT NULL DEFAULT 0,
  hide_karma BOOLEAN NOT NULL DEFAULT false,
  debug_enabled BOOLEAN NOT NULL DEFAULT false,
  tripcode TEXT
)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)`,
	}
	for _, q := range ddl {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

type userRow struct {
	ID              int64          `db:"id"`
	Username        *string        `db:"username"`
	Realname        string         `db:"realname"`
	Rank            int            `db:"user_rank"`
	Joined          int64          `db:"joined"`
	LeftAt          sql.NullInt64  `db:"left_at"`
	LastActive      int64          `db:"last_active"`
	Inactive        bool           `db:"inactive"`
	CooldownUntil   sql.NullInt64  `db:"cooldown_until"`
	Blacklisted     bool           `db:"blacklisted"`
	BlacklistReason sql.NullString `db:"blacklist_reason"`
	Warnings        int            `db:"warnings"`
	WarnExpiry      sql.NullInt64  `db:"warn_expiry"`
	Karma           int            `db:"karma"`
	HideKarma       bool           `db:"hide_karma"`
	DebugEnabled    bool           `db:"debug_enabled"`
	Tripcode        sql.NullString `db:"tripcode"`
}

func (row *userRow) toEntity() *entity.User {
	return &entity.User{
		ID:              row.ID,
		Username:        row.Username,
		Realname:        row.Realname,
		Rank:            entity.Rank(row.Rank),
		Joined:          time.Unix(0, row.Joined),
		Left:            fromNullTime(row.LeftAt),
		LastActive:      time.Unix(0, row.LastActive),
		Inactive:        row.Inactive,
		CooldownUntil:   fromNullTime(row.CooldownUntil),
		Blacklisted:     row.Blacklisted,
		BlacklistReason: fromNullString(row.BlacklistReason),
		Warnings:        row.Warnings,
		WarnExpiry:      fromNullTime(row.WarnExpiry),
		Karma:           row.Karma,
		HideKarma:       row.HideKarma,
		DebugEnabled:    row.DebugEnabled,
		Tripcode:        fromNullString(row.Tripcode),
	}
}

func params(u *entity.User) map[string]any {
	return map[string]any{
		"id":               u.ID,
		"username":         u.Username,
		"realname":         u.Realname,
		"user_rank":        int(u.Rank),
		"joined":           u.Joined.UnixNano(),
		"left_at":          toNullTime(u.Left),
		"last_active":      u.LastActive.UnixNano(),
		"inactive":         u.Inactive,
		"cooldown_until":   toNullTime(u.CooldownUntil),
		"blacklisted":      u.Blacklisted,
		"blacklist_reason": toNullString(u.BlacklistReason),
		"warnings":         u.Warnings,
		"warn_expiry":      toNullTime(u.WarnExpiry),
		"karma":            u.Karma,
		"hide_karma":       u.HideKarma,
		"debug_enabled":    u.DebugEnabled,
		"tripcode":         toNullString(u.Tripcode),
	}
}

// Create inserts a new user row. The id is platform-assigned, never generated here.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	const q = `INSERT INTO users (` + userColumns + `)
		VALUES (:id,:username,:realname,:user_rank,:joined,:left_at,:last_active,:inactive,
		:cooldown_until,:blacklisted,:blacklist_reason,:warnings,:warn_expiry,:karma,
		:hide_karma,:debug_enabled,:tripcode)`
	_, err := r.db.NamedExecContext(ctx, q, params(u))
	return err
}

// GetByID fetches a full user row or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id int64) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id=?`)
	var row userRow
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return row.toEntity(), nil
}

// ListAfter returns up to limit users with id greater than afterID, ordered by id.
func (r *UserRepo) ListAfter(ctx context.Context, afterID int64, limit int) ([]*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users WHERE id>? ORDER BY id LIMIT ?`)
	var rows []userRow
	if err := r.db.SelectContext(ctx, &rows, q, afterID, limit); err != nil {
		return nil, err
	}
	out := make([]*entity.User, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toEntity())
	}
	return out, nil
}

// WithLock loads the row inside a transaction (row-locked on postgres), hands it
// to fn and writes the result back. An error from fn rolls back without writing.
// fn must not touch the database: sqlite runs on a single connection.
func (r *UserRepo) WithLock(ctx context.Context, id int64, fn func(*entity.User) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `SELECT ` + userColumns + ` FROM users WHERE id=?`
	if r.db.DriverName() == "postgres" {
		q += ` FOR UPDATE`
	}
	var row userRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(q), id); err != nil {
		return err
	}
	u := row.toEntity()
	if err := fn(u); err != nil {
		return err
	}
	u.ID = row.ID // the id is immutable

	const upd = `UPDATE users SET username=:username, realname=:realname, user_rank=:user_rank,
		joined=:joined, left_at=:left_at, last_active=:last_active, inactive=:inactive,
		cooldown_until=:cooldown_until, blacklisted=:blacklisted, blacklist_reason=:blacklist_reason,
		warnings=:warnings, warn_expiry=:warn_expiry, karma=:karma, hide_karma=:hide_karma,
		debug_enabled=:debug_enabled, tripcode=:tripcode
		WHERE id=:id`
	if _, err := tx.NamedExecContext(ctx, upd, params(u)); err != nil {
		return err
	}
	return tx.Commit()
}

func toNullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(0, v.Int64)
	return &t
}

func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func fromNullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
