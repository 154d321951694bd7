// ABOUTME: Relational persistence over sqlite for lobbies, queues, playback, chat, playlists
// ABOUTME: Optional capability; every caller degrades to memory-only when absent
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// Store wraps the sqlite handle. A nil *Store reports unavailable from
// every method, which is the degraded memory-only path.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

// Open connects to the sqlite database at path (a DSN is accepted as-is).
// Returns nil,nil when path is empty: persistence disabled.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if path == "" {
		return nil, nil
	}

	if !strings.Contains(path, ":memory:") {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// modernc sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY between the writer goroutine and read paths.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &Store{db: db, log: logger.With().Str("component", "store").Logger()}, nil
}

// Available reports whether persistence is usable.
func (s *Store) Available() bool {
	return s != nil && s.db != nil
}

// Close closes the database.
func (s *Store) Close() error {
	if !s.Available() {
		return nil
	}
	return s.db.Close()
}

// Init creates the schema. Idempotent.
func (s *Store) Init(ctx context.Context) error {
	if !s.Available() {
		return nil
	}

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS lobbies (
			id TEXT PRIMARY KEY,
			host_id TEXT,
			name TEXT,
			listening_mode TEXT NOT NULL DEFAULT 'synchronized',
			created_at INTEGER NOT NULL,
			last_activity INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS playback_state (
			lobby_id TEXT PRIMARY KEY REFERENCES lobbies(id) ON DELETE CASCADE,
			current_track TEXT,
			position REAL NOT NULL DEFAULT 0,
			is_playing INTEGER NOT NULL DEFAULT 0,
			started_at INTEGER,
			shuffle_enabled INTEGER NOT NULL DEFAULT 0,
			shuffled_indices TEXT,
			shuffle_index INTEGER NOT NULL DEFAULT 0,
			repeat_mode TEXT NOT NULL DEFAULT 'off'
		)`,
		`CREATE TABLE IF NOT EXISTS queue_songs (
			id TEXT PRIMARY KEY,
			lobby_id TEXT NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			duration REAL NOT NULL DEFAULT 0,
			added_by TEXT,
			thumbnail TEXT,
			added_at INTEGER NOT NULL,
			sort_order INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_queue_songs_lobby_order
			ON queue_songs(lobby_id, sort_order)`,
		`CREATE TABLE IF NOT EXISTS songs (
			id TEXT PRIMARY KEY,
			url TEXT NOT NULL UNIQUE,
			title TEXT,
			duration REAL NOT NULL DEFAULT 0,
			file_path TEXT,
			thumbnail_url TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			error_message TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_songs_url ON songs(url)`,
		`CREATE INDEX IF NOT EXISTS idx_songs_status ON songs(status)`,
		`CREATE TABLE IF NOT EXISTS chat_messages (
			id TEXT PRIMARY KEY,
			lobby_id TEXT NOT NULL REFERENCES lobbies(id) ON DELETE CASCADE,
			user_id TEXT NOT NULL,
			username TEXT NOT NULL,
			emoji TEXT,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_messages_lobby
			ON chat_messages(lobby_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS playlists (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			name TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS playlist_songs (
			id TEXT PRIMARY KEY,
			playlist_id TEXT NOT NULL REFERENCES playlists(id) ON DELETE CASCADE,
			url TEXT NOT NULL,
			title TEXT NOT NULL,
			duration REAL NOT NULL DEFAULT 0,
			thumbnail TEXT,
			sort_order INTEGER NOT NULL,
			added_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playlist_songs_order
			ON playlist_songs(playlist_id, sort_order)`,
	}

	if _, err := s.db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// Tx runs fn inside a transaction.
func (s *Store) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if !s.Available() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}
