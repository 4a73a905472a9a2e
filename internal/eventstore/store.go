// Package eventstore keeps a SQLite-backed history of synthesis requests for
// diagnostics. With ephemeral retention nothing touches disk and every call
// is a no-op.
package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mitrokun/wyoming-supertonic/internal/config"
	"github.com/mitrokun/wyoming-supertonic/internal/server"
)

// Request is one recorded synthesis request, as served by the history
// endpoint.
type Request struct {
	ID             int64     `json:"id"`
	SessionID      string    `json:"session_id"`
	Voice          string    `json:"voice"`
	Language       string    `json:"language"`
	Chars          int       `json:"chars"`
	Units          int       `json:"units"`
	AudioMS        int64     `json:"audio_ms"`
	StreamingInput bool      `json:"streaming_input"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store wraps the SQLite synthesis history.
type Store struct {
	db    *sql.DB
	cfg   config.EventStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.EventStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("history vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("history prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    voice TEXT,
    language TEXT,
    chars INTEGER NOT NULL,
    units INTEGER NOT NULL,
    audio_ms INTEGER NOT NULL,
    streaming_input INTEGER NOT NULL,
    error TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_requests_session_created ON requests(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record implements the server's journal. Write failures are logged, not
// returned; history must never fail a synthesis request.
func (s *Store) Record(ctx context.Context, entry server.JournalEntry) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(session_id, voice, language, chars, units, audio_ms, streaming_input, error, created_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.SessionID, entry.Voice, entry.Language, entry.Chars, entry.Units,
		entry.AudioDuration.Milliseconds(), entry.StreamingInput, entry.Error, s.clock().UTC())
	if err != nil {
		s.log.Warn("failed to record request", slog.String("error", err.Error()))
	}
}

// ListSession retrieves up to limit requests for a session ordered ascending
// by time.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Request, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, voice, language, chars, units, audio_ms, streaming_input, error, created_at
		 FROM requests WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

// ListRecent retrieves the newest requests across all sessions, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]Request, error) {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, voice, language, chars, units, audio_ms, streaming_input, error, created_at
		 FROM requests ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRequests(rows)
}

func scanRequests(rows *sql.Rows) ([]Request, error) {
	var requests []Request
	for rows.Next() {
		var r Request
		var created string
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Voice, &r.Language, &r.Chars, &r.Units,
			&r.AudioMS, &r.StreamingInput, &r.Error, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			r.CreatedAt = ts
		}
		requests = append(requests, r)
	}
	return requests, rows.Err()
}

// Prune applies configured retention, called on startup.
func (s *Store) Prune(ctx context.Context) error {
	if s.cfg.RetentionMode == "ephemeral" || s.db == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE session_id IN (
			SELECT session_id FROM requests GROUP BY session_id
			ORDER BY MAX(id) DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// Ensure guards the ephemeral invariant.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
