package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/okian/casve/internal/domain/worksheet"
	"github.com/okian/casve/pkg/errs"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	data       TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const sqliteUpsert = `INSERT INTO sessions (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT(id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`

// SQLiteStore keeps sessions in a single-table SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	const op = "repository.sqlite.Open"
	if path == "" {
		return nil, errs.Wrap(op, ErrStore, errors.New("empty database path"))
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errs.Wrap(op, ErrStore, err)
	}
	// SQLite serialises writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, errs.Wrap(op, ErrStore, fmt.Errorf("create schema: %w", err))
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, sess *worksheet.Session) error {
	const op = "repository.sqlite.Save"
	if err := validateForSave(op, sess); err != nil {
		return err
	}
	data, err := worksheet.Marshal(sess)
	if err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	if _, err := s.db.ExecContext(ctx, sqliteUpsert, sess.SessionID, string(data), time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*worksheet.Session, error) {
	const op = "repository.sqlite.Load"
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.New(op, ErrNotFound)
	}
	if err != nil {
		return nil, errs.Wrap(op, ErrStore, err)
	}
	return worksheet.Unmarshal([]byte(data))
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	const op = "repository.sqlite.Delete"
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(op, ErrStore, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(op, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n); err != nil {
		return 0, errs.Wrap("repository.sqlite.Count", ErrStore, err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
