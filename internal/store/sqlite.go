package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/lexisync/lexisync/pkg/vocab"
)

const schema = `
CREATE TABLE IF NOT EXISTS entries (
	id         TEXT PRIMARY KEY,
	updated_at INTEGER NOT NULL,
	data       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const (
	metaLastSync = "last_sync"
	metaProfile  = "profile"
)

// SQLite is a Store persisted in a local SQLite database. Entries are
// stored as JSON rows; sync bookkeeping lives in a meta table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (and if needed initializes) a store at the given path.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// GetAll implements Store.
func (s *SQLite) GetAll(ctx context.Context) ([]vocab.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM entries ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var out []vocab.Entry
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		var e vocab.Entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			return nil, fmt.Errorf("decode entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Clear implements Store.
func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM entries`)
	return err
}

// BulkInsert implements Store.
func (s *SQLite) BulkInsert(ctx context.Context, entries []vocab.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

// ReplaceAll implements Store. The swap is a single transaction so a
// failed commit leaves the previous set intact.
func (s *SQLite) ReplaceAll(ctx context.Context, entries []vocab.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	if err := insertEntries(ctx, tx, entries); err != nil {
		return err
	}
	return tx.Commit()
}

func insertEntries(ctx context.Context, tx *sql.Tx, entries []vocab.Entry) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO entries (id, updated_at, data) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode entry %s: %w", e.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.UpdatedAt, string(data)); err != nil {
			return fmt.Errorf("insert entry %s: %w", e.ID, err)
		}
	}
	return nil
}

// LastSync implements Store.
func (s *SQLite) LastSync(ctx context.Context) (int64, error) {
	val, err := s.getMeta(ctx, metaLastSync)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(val, 10, 64)
}

// SetLastSync implements Store; the value only moves forward.
func (s *SQLite) SetLastSync(ctx context.Context, ts int64) error {
	current, err := s.LastSync(ctx)
	if err != nil {
		return err
	}
	if ts <= current {
		return nil
	}
	return s.setMeta(ctx, metaLastSync, strconv.FormatInt(ts, 10))
}

// Profile implements Store.
func (s *SQLite) Profile(ctx context.Context) (vocab.Profile, error) {
	val, err := s.getMeta(ctx, metaProfile)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return vocab.Profile{}, ErrNoProfile
		}
		return vocab.Profile{}, err
	}
	var p vocab.Profile
	if err := json.Unmarshal([]byte(val), &p); err != nil {
		return vocab.Profile{}, fmt.Errorf("decode profile: %w", err)
	}
	return p, nil
}

// SetProfile implements Store.
func (s *SQLite) SetProfile(ctx context.Context, p vocab.Profile) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return s.setMeta(ctx, metaProfile, string(data))
}

func (s *SQLite) getMeta(ctx context.Context, key string) (string, error) {
	var val string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&val)
	return val, err
}

func (s *SQLite) setMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, value)
	return err
}
