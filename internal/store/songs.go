// ABOUTME: Cached song registry, one row per source url with a status FSM
package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Cached song statuses.
const (
	SongPending     = "pending"
	SongDownloading = "downloading"
	SongReady       = "ready"
	SongError       = "error"
)

// CachedSong is one row of the global download registry.
type CachedSong struct {
	ID           string
	URL          string
	Title        string
	Duration     float64
	FilePath     string
	ThumbnailURL string
	Status       string
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// InsertCachedSong creates a pending row. The UNIQUE url constraint is the
// dedup backstop: a concurrent insert for the same url fails here.
func (s *Store) InsertCachedSong(ctx context.Context, song CachedSong) error {
	if !s.Available() {
		return nil
	}
	now := nowMillis()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO songs (id, url, title, duration, thumbnail_url, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		song.ID, song.URL, song.Title, song.Duration, song.ThumbnailURL,
		SongPending, now, now)
	return err
}

// GetCachedSong looks up by url. nil,nil on miss.
func (s *Store) GetCachedSong(ctx context.Context, url string) (*CachedSong, error) {
	if !s.Available() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, COALESCE(title, ''), duration, COALESCE(file_path, ''),
		       COALESCE(thumbnail_url, ''), status, COALESCE(error_message, ''),
		       created_at, updated_at
		FROM songs WHERE url = ?`, url)
	return scanCachedSong(row)
}

// GetCachedSongByID looks up by id. nil,nil on miss.
func (s *Store) GetCachedSongByID(ctx context.Context, id string) (*CachedSong, error) {
	if !s.Available() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT id, url, COALESCE(title, ''), duration, COALESCE(file_path, ''),
		       COALESCE(thumbnail_url, ''), status, COALESCE(error_message, ''),
		       created_at, updated_at
		FROM songs WHERE id = ?`, id)
	return scanCachedSong(row)
}

// UpdateCachedSongStatus moves a row through the FSM, recording metadata
// collected along the way.
func (s *Store) UpdateCachedSongStatus(ctx context.Context, id, status string, update CachedSong) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE songs SET
			status = ?,
			title = CASE WHEN ? != '' THEN ? ELSE title END,
			duration = CASE WHEN ? > 0 THEN ? ELSE duration END,
			file_path = CASE WHEN ? != '' THEN ? ELSE file_path END,
			thumbnail_url = CASE WHEN ? != '' THEN ? ELSE thumbnail_url END,
			error_message = ?,
			updated_at = ?
		WHERE id = ?`,
		status,
		update.Title, update.Title,
		update.Duration, update.Duration,
		update.FilePath, update.FilePath,
		update.ThumbnailURL, update.ThumbnailURL,
		update.ErrorMessage, nowMillis(), id)
	return err
}

// ResetCachedSong puts an errored or stale row back to pending for a
// fresh download attempt.
func (s *Store) ResetCachedSong(ctx context.Context, id string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE songs SET status = ?, error_message = NULL, file_path = NULL, updated_at = ?
		WHERE id = ?`, SongPending, nowMillis(), id)
	return err
}

// DeleteCachedSong removes one registry row.
func (s *Store) DeleteCachedSong(ctx context.Context, id string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM songs WHERE id = ?`, id)
	return err
}

// GetAllCachedSongs returns every registry row, newest first.
func (s *Store) GetAllCachedSongs(ctx context.Context) ([]CachedSong, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, COALESCE(title, ''), duration, COALESCE(file_path, ''),
		       COALESCE(thumbnail_url, ''), status, COALESCE(error_message, ''),
		       created_at, updated_at
		FROM songs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCachedSongs(rows)
}

// GetCachedSongsOlderThan returns rows last touched before cutoff.
func (s *Store) GetCachedSongsOlderThan(ctx context.Context, cutoff time.Time) ([]CachedSong, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, COALESCE(title, ''), duration, COALESCE(file_path, ''),
		       COALESCE(thumbnail_url, ''), status, COALESCE(error_message, ''),
		       created_at, updated_at
		FROM songs WHERE updated_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCachedSongs(rows)
}

func collectCachedSongs(rows *sql.Rows) ([]CachedSong, error) {
	var out []CachedSong
	for rows.Next() {
		song, err := scanCachedSong(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *song)
	}
	return out, rows.Err()
}

func scanCachedSong(r rowScanner) (*CachedSong, error) {
	var c CachedSong
	var created, updated int64
	err := r.Scan(&c.ID, &c.URL, &c.Title, &c.Duration, &c.FilePath,
		&c.ThumbnailURL, &c.Status, &c.ErrorMessage, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.CreatedAt = time.UnixMilli(created)
	c.UpdatedAt = time.UnixMilli(updated)
	return &c, nil
}
