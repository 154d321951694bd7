// ABOUTME: Per-user playlist rows and their ordered songs
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Playlist is a user-owned named collection.
type Playlist struct {
	ID        string
	UserID    string
	Name      string
	CreatedAt time.Time
}

// PlaylistSong is one ordered entry of a playlist.
type PlaylistSong struct {
	ID         string
	PlaylistID string
	URL        string
	Title      string
	Duration   float64
	Thumbnail  string
	SortOrder  int
	AddedAt    time.Time
}

// CreatePlaylist inserts a playlist row.
func (s *Store) CreatePlaylist(ctx context.Context, p Playlist) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlists (id, user_id, name, created_at) VALUES (?, ?, ?, ?)`,
		p.ID, p.UserID, p.Name, p.CreatedAt.UnixMilli())
	return err
}

// GetPlaylist returns nil,nil on miss.
func (s *Store) GetPlaylist(ctx context.Context, id string) (*Playlist, error) {
	if !s.Available() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, name, created_at FROM playlists WHERE id = ?`, id)
	var p Playlist
	var created int64
	err := row.Scan(&p.ID, &p.UserID, &p.Name, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = time.UnixMilli(created)
	return &p, nil
}

// GetPlaylistsByUser lists a user's playlists, newest first.
func (s *Store) GetPlaylistsByUser(ctx context.Context, userID string) ([]Playlist, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, created_at FROM playlists
		WHERE user_id = ? ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Playlist
	for rows.Next() {
		var p Playlist
		var created int64
		if err := rows.Scan(&p.ID, &p.UserID, &p.Name, &created); err != nil {
			return nil, err
		}
		p.CreatedAt = time.UnixMilli(created)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RenamePlaylist updates the display name.
func (s *Store) RenamePlaylist(ctx context.Context, id, name string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `UPDATE playlists SET name = ? WHERE id = ?`, name, id)
	return err
}

// DeletePlaylist removes the playlist; songs cascade.
func (s *Store) DeletePlaylist(ctx context.Context, id string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM playlists WHERE id = ?`, id)
	return err
}

// AddPlaylistSong appends a song at the given sort order.
func (s *Store) AddPlaylistSong(ctx context.Context, song PlaylistSong) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playlist_songs (id, playlist_id, url, title, duration, thumbnail, sort_order, added_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.PlaylistID, song.URL, song.Title, song.Duration,
		song.Thumbnail, song.SortOrder, song.AddedAt.UnixMilli())
	return err
}

// GetPlaylistSongs returns a playlist's songs in order.
func (s *Store) GetPlaylistSongs(ctx context.Context, playlistID string) ([]PlaylistSong, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, playlist_id, url, title, duration, COALESCE(thumbnail, ''), sort_order, added_at
		FROM playlist_songs WHERE playlist_id = ? ORDER BY sort_order`, playlistID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PlaylistSong
	for rows.Next() {
		var song PlaylistSong
		var added int64
		if err := rows.Scan(&song.ID, &song.PlaylistID, &song.URL, &song.Title,
			&song.Duration, &song.Thumbnail, &song.SortOrder, &added); err != nil {
			return nil, err
		}
		song.AddedAt = time.UnixMilli(added)
		out = append(out, song)
	}
	return out, rows.Err()
}

// DeletePlaylistSong removes one entry.
func (s *Store) DeletePlaylistSong(ctx context.Context, songID string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM playlist_songs WHERE id = ?`, songID)
	return err
}

// ReorderPlaylistSongs rewrites sort orders inside one transaction so the
// dense 0..n-1 ordering holds even if the process dies mid-reorder.
func (s *Store) ReorderPlaylistSongs(ctx context.Context, playlistID string, orderedIDs []string) error {
	if !s.Available() {
		return nil
	}
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for i, id := range orderedIDs {
			if _, err := tx.ExecContext(ctx, `
				UPDATE playlist_songs SET sort_order = ?
				WHERE id = ? AND playlist_id = ?`, i, id, playlistID); err != nil {
				return err
			}
		}
		return nil
	})
}
