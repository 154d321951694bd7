// ABOUTME: Queue song rows keyed by (lobby_id, sort_order)
package store

import (
	"context"
	"database/sql"

	"github.com/chorus-fm/chorus/internal/protocol"
)

// SaveQueueSong inserts or replaces one queue entry.
func (s *Store) SaveQueueSong(ctx context.Context, lobbyID string, song protocol.Song, sortOrder int) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO queue_songs (id, lobby_id, url, title, duration, added_by, thumbnail, added_at, sort_order)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET sort_order = excluded.sort_order`,
		song.ID, lobbyID, song.URL, song.Title, song.Duration,
		song.AddedBy, song.Thumbnail, song.AddedAt, sortOrder)
	return err
}

// DeleteQueueSong removes one queue entry.
func (s *Store) DeleteQueueSong(ctx context.Context, songID string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_songs WHERE id = ?`, songID)
	return err
}

// ReplaceQueueOrder rewrites every sort_order for a lobby in one
// transaction, keeping the dense 0..n-1 invariant on disk.
func (s *Store) ReplaceQueueOrder(ctx context.Context, lobbyID string, songs []protocol.Song) error {
	if !s.Available() {
		return nil
	}
	return s.Tx(ctx, func(tx *sql.Tx) error {
		for i, song := range songs {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO queue_songs (id, lobby_id, url, title, duration, added_by, thumbnail, added_at, sort_order)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET sort_order = excluded.sort_order`,
				song.ID, lobbyID, song.URL, song.Title, song.Duration,
				song.AddedBy, song.Thumbnail, song.AddedAt, i); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetQueueSongs returns the lobby queue ordered by sort_order.
func (s *Store) GetQueueSongs(ctx context.Context, lobbyID string) ([]protocol.Song, error) {
	if !s.Available() {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, url, title, duration, COALESCE(added_by, ''), COALESCE(thumbnail, ''), added_at
		FROM queue_songs WHERE lobby_id = ? ORDER BY sort_order`, lobbyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []protocol.Song
	for rows.Next() {
		var song protocol.Song
		if err := rows.Scan(&song.ID, &song.URL, &song.Title, &song.Duration,
			&song.AddedBy, &song.Thumbnail, &song.AddedAt); err != nil {
			return nil, err
		}
		out = append(out, song)
	}
	return out, rows.Err()
}

// DeleteQueueForLobby clears a lobby's queue.
func (s *Store) DeleteQueueForLobby(ctx context.Context, lobbyID string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_songs WHERE lobby_id = ?`, lobbyID)
	return err
}

// PruneQueueOrphans deletes queue rows whose lobby is not in keep.
func (s *Store) PruneQueueOrphans(ctx context.Context, keep []string) error {
	if !s.Available() {
		return nil
	}
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT lobby_id FROM queue_songs`)
	if err != nil {
		return err
	}
	var orphans []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		if _, ok := set[id]; !ok {
			orphans = append(orphans, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	for _, id := range orphans {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM queue_songs WHERE lobby_id = ?`, id); err != nil {
			return err
		}
	}
	return nil
}
