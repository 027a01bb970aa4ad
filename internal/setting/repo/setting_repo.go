package repo

import (
	"context"

	"github.com/jmoiron/sqlx"
	"github.com/ovaphlow/pitchfork/service-lounge/internal/setting/entity"
)

// Repo is the repository implementation for settings.
type Repo struct {
	db *sqlx.DB
}

// NewRepo constructs a new Repo with an existing connection.
func NewRepo(db *sqlx.DB) *Repo {
	return &Repo{db: db}
}

// EnsureTable ensures the settings table and its index exist.
// Fields:
// - id varchar(32) PRIMARY KEY
// - category varchar(32) (indexed)
// - metadata text holding a JSON document
func (r *Repo) EnsureTable(ctx context.Context) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			id varchar(32) PRIMARY KEY,
			category varchar(32) NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_category ON settings (category)`,
	}
	for _, q := range ddl {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

type settingRow struct {
	ID       string `db:"id"`
	Category string `db:"category"`
	Metadata string `db:"metadata"`
}

// GetByID returns a setting or sql.ErrNoRows.
func (r *Repo) GetByID(ctx context.Context, id string) (*entity.Setting, error) {
	var row settingRow
	q := r.db.Rebind(`SELECT id, category, metadata FROM settings WHERE id=?`)
	if err := r.db.GetContext(ctx, &row, q, id); err != nil {
		return nil, err
	}
	return entity.NewSetting(row.ID, row.Category, []byte(row.Metadata)), nil
}

// Create inserts a new setting row.
func (r *Repo) Create(ctx context.Context, s *entity.Setting) error {
	q := r.db.Rebind(`INSERT INTO settings (id, category, metadata) VALUES (?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, s.ID, s.Category, string(s.Metadata))
	return err
}

// WithLock loads the row inside a transaction, hands it to fn and writes the
// metadata back. An error from fn rolls back without writing.
func (r *Repo) WithLock(ctx context.Context, id string, fn func(*entity.Setting) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	q := `SELECT id, category, metadata FROM settings WHERE id=?`
	if r.db.DriverName() == "postgres" {
		q += ` FOR UPDATE`
	}
	var row settingRow
	if err := tx.GetContext(ctx, &row, tx.Rebind(q), id); err != nil {
		return err
	}
	s := entity.NewSetting(row.ID, row.Category, []byte(row.Metadata))
	if err := fn(s); err != nil {
		return err
	}
	upd := tx.Rebind(`UPDATE settings SET category=?, metadata=? WHERE id=?`)
	if _, err := tx.ExecContext(ctx, upd, s.Category, string(s.Metadata), row.ID); err != nil {
		return err
	}
	return tx.Commit()
}
