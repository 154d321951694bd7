// ABOUTME: Playback state rows, one per lobby, upserted on each transition
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chorus-fm/chorus/internal/protocol"
)

// PlaybackState is the persisted form of a lobby's playback singleton.
type PlaybackState struct {
	LobbyID         string
	CurrentTrack    *protocol.Song
	Position        float64
	IsPlaying       bool
	StartedAt       *time.Time
	ShuffleEnabled  bool
	ShuffledIndices []int
	ShuffleIndex    int
	RepeatMode      string
}

// SavePlaybackState upserts the row. The lobby row must exist first or the
// foreign key rejects the write; callers persist the lobby before playback.
func (s *Store) SavePlaybackState(ctx context.Context, ps PlaybackState) error {
	if !s.Available() {
		return nil
	}

	var trackJSON any
	if ps.CurrentTrack != nil {
		raw, err := json.Marshal(ps.CurrentTrack)
		if err != nil {
			return err
		}
		trackJSON = string(raw)
	}

	var indicesJSON any
	if ps.ShuffledIndices != nil {
		raw, err := json.Marshal(ps.ShuffledIndices)
		if err != nil {
			return err
		}
		indicesJSON = string(raw)
	}

	var startedAt any
	if ps.StartedAt != nil {
		startedAt = ps.StartedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO playback_state
			(lobby_id, current_track, position, is_playing, started_at,
			 shuffle_enabled, shuffled_indices, shuffle_index, repeat_mode)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lobby_id) DO UPDATE SET
			current_track = excluded.current_track,
			position = excluded.position,
			is_playing = excluded.is_playing,
			started_at = excluded.started_at,
			shuffle_enabled = excluded.shuffle_enabled,
			shuffled_indices = excluded.shuffled_indices,
			shuffle_index = excluded.shuffle_index,
			repeat_mode = excluded.repeat_mode`,
		ps.LobbyID, trackJSON, ps.Position, ps.IsPlaying, startedAt,
		ps.ShuffleEnabled, indicesJSON, ps.ShuffleIndex, ps.RepeatMode)
	return err
}

// GetPlaybackState returns nil,nil when no row exists.
func (s *Store) GetPlaybackState(ctx context.Context, lobbyID string) (*PlaybackState, error) {
	if !s.Available() {
		return nil, nil
	}
	row := s.db.QueryRowContext(ctx, `
		SELECT lobby_id, current_track, position, is_playing, started_at,
		       shuffle_enabled, shuffled_indices, shuffle_index, repeat_mode
		FROM playback_state WHERE lobby_id = ?`, lobbyID)

	var ps PlaybackState
	var trackJSON, indicesJSON sql.NullString
	var startedAt sql.NullInt64
	err := row.Scan(&ps.LobbyID, &trackJSON, &ps.Position, &ps.IsPlaying, &startedAt,
		&ps.ShuffleEnabled, &indicesJSON, &ps.ShuffleIndex, &ps.RepeatMode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if trackJSON.Valid && trackJSON.String != "" {
		var track protocol.Song
		if err := json.Unmarshal([]byte(trackJSON.String), &track); err == nil {
			ps.CurrentTrack = &track
		}
	}
	if indicesJSON.Valid && indicesJSON.String != "" {
		_ = json.Unmarshal([]byte(indicesJSON.String), &ps.ShuffledIndices)
	}
	if startedAt.Valid {
		t := time.UnixMilli(startedAt.Int64)
		ps.StartedAt = &t
	}
	return &ps, nil
}

// DeletePlaybackState removes the row.
func (s *Store) DeletePlaybackState(ctx context.Context, lobbyID string) error {
	if !s.Available() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM playback_state WHERE lobby_id = ?`, lobbyID)
	return err
}

// PrunePlaybackOrphans deletes playback rows whose lobby is not in keep.
func (s *Store) PrunePlaybackOrphans(ctx context.Context, keep []string) error {
	if !s.Available() {
		return nil
	}
	set := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		set[id] = struct{}{}
	}
	rows, err := s.db.QueryContext(ctx, `SELECT lobby_id FROM playback_state`)
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
		if err := s.DeletePlaybackState(ctx, id); err != nil {
			return err
		}
	}
	return nil
}
