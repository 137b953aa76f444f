package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/a-essam23/setlist-sync/internal/sqlitedb"
	"github.com/a-essam23/setlist-sync/pkg/state"
)

type SQLite struct {
	db *sql.DB
}

var _ state.SnapshotStore = (*SQLite)(nil)

func OpenSQLite(path string) (*SQLite, error) {
	db, err := sqlitedb.Open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS active_songs (
			group_id TEXT PRIMARY KEY,
			song_id  TEXT NOT NULL
		);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create active_songs table: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) LoadActiveSongs(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT group_id, song_id FROM active_songs`)
	if err != nil {
		return nil, fmt.Errorf("query active songs: %w", err)
	}
	defer rows.Close()

	entries := map[string]string{}
	for rows.Next() {
		var groupID, songID string
		if err := rows.Scan(&groupID, &songID); err != nil {
			return nil, fmt.Errorf("scan active song: %w", err)
		}
		entries[groupID] = songID
	}
	return entries, rows.Err()
}

// FlushActiveSongs replaces the table contents in a single transaction.
func (s *SQLite) FlushActiveSongs(ctx context.Context, entries map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin flush: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM active_songs`); err != nil {
		return fmt.Errorf("clear active songs: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO active_songs (group_id, song_id) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for groupID, songID := range entries {
		if _, err := stmt.ExecContext(ctx, groupID, songID); err != nil {
			return fmt.Errorf("insert active song for %q: %w", groupID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit flush: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
