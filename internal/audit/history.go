// Package audit keeps the history of offer submissions and exports it for
// tutors and support staff.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"tutorslots/internal/offer"
)

// History stores offer.Attempt rows in SQLite.
type History struct {
	db *sql.DB
}

var _ offer.Recorder = (*History)(nil)

// NewHistory opens (or creates) the history database at path.
func NewHistory(path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect db: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS offer_attempts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at DATETIME NOT NULL,
			session TEXT NOT NULL,
			learner_id INTEGER NOT NULL,
			week TEXT NOT NULL,
			lesson_id INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			offer_id INTEGER NOT NULL DEFAULT 0,
			slots INTEGER NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			stale INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offer_attempts_created ON offer_attempts(created_at)`,
	}
	for _, q := range schema {
		if _, err := db.Exec(q); err != nil {
			db.Close()
			return nil, fmt.Errorf("create offer_attempts: %w", err)
		}
	}
	return &History{db: db}, nil
}

// Record appends a.
func (h *History) Record(ctx context.Context, a offer.Attempt) error {
	if a.At.IsZero() {
		a.At = time.Now().UTC()
	}
	_, err := h.db.ExecContext(ctx, `
		INSERT INTO offer_attempts
			(created_at, session, learner_id, week, lesson_id, outcome, offer_id, slots, message, stale)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.At.UTC(), a.Session, a.LearnerID, a.Week, a.LessonID, a.Outcome, a.OfferID, a.Slots, a.Message, a.Stale)
	if err != nil {
		return fmt.Errorf("insert offer attempt: %w", err)
	}
	return nil
}

// List returns attempts recorded in [from, to), oldest first.
func (h *History) List(ctx context.Context, from, to time.Time) ([]offer.Attempt, error) {
	rows, err := h.db.QueryContext(ctx, `
		SELECT created_at, session, learner_id, week, lesson_id, outcome, offer_id, slots, message, stale
		FROM offer_attempts
		WHERE created_at >= ? AND created_at < ?
		ORDER BY created_at, id`, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("select offer attempts: %w", err)
	}
	defer rows.Close()

	var out []offer.Attempt
	for rows.Next() {
		var a offer.Attempt
		if err := rows.Scan(&a.At, &a.Session, &a.LearnerID, &a.Week, &a.LessonID,
			&a.Outcome, &a.OfferID, &a.Slots, &a.Message, &a.Stale); err != nil {
			return nil, fmt.Errorf("scan offer attempt: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// PurgeOlderThan drops attempts older than age.
func (h *History) PurgeOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	res, err := h.db.ExecContext(ctx, `DELETE FROM offer_attempts WHERE created_at < ?`, time.Now().UTC().Add(-age))
	if err != nil {
		return 0, fmt.Errorf("purge offer attempts: %w", err)
	}
	return res.RowsAffected()
}

// RunRetention purges attempts older than retention once a day until ctx
// is done.
func (h *History) RunRetention(ctx context.Context, retention time.Duration, logger *zerolog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.PurgeOlderThan(ctx, retention)
			if err != nil {
				logger.Error().Err(err).Msg("offer history cleanup failed")
			} else if n > 0 {
				logger.Info().Int64("deleted", n).Msg("purged old offer history")
			}
		}
	}
}

// Ping checks the database, used by readiness probes.
func (h *History) Ping(ctx context.Context) error {
	return h.db.PingContext(ctx)
}

func (h *History) Close() error {
	return h.db.Close()
}
