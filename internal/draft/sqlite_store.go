package draft

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"tutorslots/internal/domain"
)

// SQLiteStore keeps drafts in a local SQLite file. It backs the failover
// store when Redis is unreachable and serves single-node deployments.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS draft_selections (
		draft_key TEXT PRIMARY KEY,
		slots TEXT NOT NULL,
		updated_at DATETIME NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create draft_selections: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Get(ctx context.Context, key string) ([]domain.Slot, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT slots FROM draft_selections WHERE draft_key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("select draft %s: %w", key, err)
	}
	var out []domain.Slot
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, false, fmt.Errorf("decode draft %s: %w", key, err)
	}
	return out, true, nil
}

func (s *SQLiteStore) Set(ctx context.Context, key string, selection []domain.Slot) error {
	if selection == nil {
		selection = []domain.Slot{}
	}
	data, err := json.Marshal(selection)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO draft_selections (draft_key, slots, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(draft_key) DO UPDATE SET
			slots = excluded.slots,
			updated_at = excluded.updated_at`,
		key, string(data), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("upsert draft %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM draft_selections WHERE draft_key = ?`, key); err != nil {
		return fmt.Errorf("delete draft %s: %w", key, err)
	}
	return nil
}

// PurgeOlderThan deletes drafts not touched within age and returns how many
// rows were removed.
func (s *SQLiteStore) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM draft_selections WHERE updated_at < ?`, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks the database, used by readiness probes.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
