package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/a-essam23/setlist-sync/internal/sqlitedb"
	"github.com/a-essam23/setlist-sync/pkg/state"
)

// SQLite answers directory lookups from the tables maintained by the
// CRUD side of the application. It never writes to them.
type SQLite struct {
	db *sql.DB
}

var _ state.Directory = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	// The CRUD side owns these tables; create them so a fresh file is usable.
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id       TEXT PRIMARY KEY,
			role     TEXT NOT NULL DEFAULT 'member',
			group_id TEXT
		);
		CREATE TABLE IF NOT EXISTS groups (
			id       TEXT PRIMARY KEY,
			admin_id TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS songs (
			id TEXT PRIMARY KEY
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create directory tables: %w", err)
	}
	return &SQLite{db: db}, nil
}

// DB exposes the handle for seeding and tooling.
func (s *SQLite) DB() *sql.DB {
	return s.db
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) LookupUser(ctx context.Context, id string) (*state.User, error) {
	var (
		u       state.User
		role    string
		groupID sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, role, group_id FROM users WHERE id = ?`, id).Scan(&u.ID, &role, &groupID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user %q: %w", id, err)
	}
	u.Role = state.Role(role)
	u.GroupID = groupID.String
	return &u, nil
}

func (s *SQLite) LookupGroup(ctx context.Context, id string) (*state.Group, error) {
	var g state.Group
	err := s.db.QueryRowContext(ctx, `SELECT id, admin_id FROM groups WHERE id = ?`, id).Scan(&g.ID, &g.AdminID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrGroupNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup group %q: %w", id, err)
	}
	return &g, nil
}

func (s *SQLite) SongExists(ctx context.Context, id string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM songs WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup song %q: %w", id, err)
	}
	return true, nil
}
