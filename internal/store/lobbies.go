// ABOUTME: Lobby rows: upsert, lookup, activity touch, cascade delete
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Lobby is a persisted lobby row.
type Lobby struct {
	ID            string
	HostID        string
	Name          string
	ListeningMode string
	CreatedAt     time.Time
	LastActivity  time.Time
}

// SaveLobby upserts a lobby row.
func (s *Store) SaveLobby(ctx context.Context, l Lobby) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO lobbies (id, host_id, name, listening_mode, created_at, last_activity)
		VALUES (?, ?, NULLIF(?, ''), ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host_id = excluded.host_id,
			name = excluded.name,
			listening_mode = excluded.listening_mode,
			last_activity = excluded.last_activity`,
		l.ID, l.HostID, l.Name, l.ListeningMode,
		l.CreatedAt.UnixMilli(), l.LastActivity.UnixMilli())
	return err
}

// GetLobby returns nil,nil when the lobby does not exist.
func (s *Store) GetLobby(ctx context.Context, id string) (*Lobby, error) {
	if !s.Available() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, COALESCE(host_id, ''), COALESCE(name, ''), listening_mode, created_at, last_activity
		FROM lobbies WHERE id = ?`, id)
	return scanLobby(row)
}

// GetAllLobbies returns every persisted lobby, used on cold start.
func (s *Store) GetAllLobbies(ctx context.Context) ([]Lobby, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(host_id, ''), COALESCE(name, ''), listening_mode, created_at, last_activity
		FROM lobbies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Lobby
	for rows.Next() {
		l, err := scanLobby(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *l)
	}
	return out, rows.Err()
}

// TouchLobby bumps last_activity.
func (s *Store) TouchLobby(ctx context.Context, id string, at time.Time) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE lobbies SET last_activity = ? WHERE id = ?`, at.UnixMilli(), id)
	return err
}

// DeleteLobby removes the lobby; queue, playback state, and chat cascade.
func (s *Store) DeleteLobby(ctx context.Context, id string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM lobbies WHERE id = ?`, id)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanLobby(r rowScanner) (*Lobby, error) {
	var l Lobby
	var created, activity int64
	err := r.Scan(&l.ID, &l.HostID, &l.Name, &l.ListeningMode, &created, &activity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.CreatedAt = time.UnixMilli(created)
	l.LastActivity = time.UnixMilli(activity)
	return &l, nil
}
