// ABOUTME: Persistent per-user playlists with CRUD and dense reordering
// ABOUTME: Every operation degrades to zero values when the store is absent
package playlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/store"
)

var (
	ErrUnavailable = errors.New("playlist store unavailable")
	ErrNotFound    = errors.New("playlist not found")
	ErrInvalid     = errors.New("invalid playlist input")
)

// Song is one playlist entry as callers see it.
type Song struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	SortOrder int     `json:"sortOrder"`
}

// Playlist is a named collection with its songs.
type Playlist struct {
	ID        string `json:"id"`
	UserID    string `json:"userId"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"createdAt"`
	Songs     []Song `json:"songs,omitempty"`
}

// Service wraps the store's playlist tables.
type Service struct {
	store *store.Store
	log   zerolog.Logger
}

// NewService builds the playlist service.
func NewService(st *store.Store, logger zerolog.Logger) *Service {
	return &Service{store: st, log: logger.With().Str("component", "playlist").Logger()}
}

// Available reports whether playlist operations can work at all.
func (s *Service) Available() bool { return s.store.Available() }

// Create makes an empty playlist for userID.
func (s *Service) Create(ctx context.Context, userID, name string) (*Playlist, error) {
	if !s.store.Available() {
		return nil, ErrUnavailable
	}
	name = strings.TrimSpace(name)
	if userID == "" || name == "" {
		return nil, ErrInvalid
	}
	p := store.Playlist{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreatePlaylist(ctx, p); err != nil {
		return nil, err
	}
	return &Playlist{ID: p.ID, UserID: p.UserID, Name: p.Name, CreatedAt: p.CreatedAt.UnixMilli()}, nil
}

// List returns a user's playlists without songs.
func (s *Service) List(ctx context.Context, userID string) ([]Playlist, error) {
	if !s.store.Available() {
		return nil, ErrUnavailable
	}
	rows, err := s.store.GetPlaylistsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]Playlist, 0, len(rows))
	for _, row := range rows {
		out = append(out, Playlist{
			ID: row.ID, UserID: row.UserID, Name: row.Name,
			CreatedAt: row.CreatedAt.UnixMilli(),
		})
	}
	return out, nil
}

// Get returns one playlist with songs in order.
func (s *Service) Get(ctx context.Context, id string) (*Playlist, error) {
	if !s.store.Available() {
		return nil, ErrUnavailable
	}
	row, err := s.store.GetPlaylist(ctx, id)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	songs, err := s.store.GetPlaylistSongs(ctx, id)
	if err != nil {
		return nil, err
	}
	p := &Playlist{ID: row.ID, UserID: row.UserID, Name: row.Name, CreatedAt: row.CreatedAt.UnixMilli()}
	for _, song := range songs {
		p.Songs = append(p.Songs, Song{
			ID: song.ID, URL: song.URL, Title: song.Title,
			Duration: song.Duration, Thumbnail: song.Thumbnail, SortOrder: song.SortOrder,
		})
	}
	return p, nil
}

// Rename changes the display name.
func (s *Service) Rename(ctx context.Context, id, name string) error {
	if !s.store.Available() {
		return ErrUnavailable
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return ErrInvalid
	}
	row, err := s.store.GetPlaylist(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}
	return s.store.RenamePlaylist(ctx, id, name)
}

// Delete removes a playlist and its songs.
func (s *Service) Delete(ctx context.Context, id string) error {
	if !s.store.Available() {
		return ErrUnavailable
	}
	row, err := s.store.GetPlaylist(ctx, id)
	if err != nil {
		return err
	}
	if row == nil {
		return ErrNotFound
	}
	return s.store.DeletePlaylist(ctx, id)
}

// AddSong appends a song with the next sort order.
func (s *Service) AddSong(ctx context.Context, playlistID string, song Song) (*Song, error) {
	if !s.store.Available() {
		return nil, ErrUnavailable
	}
	if song.URL == "" {
		return nil, ErrInvalid
	}
	row, err := s.store.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, ErrNotFound
	}
	existing, err := s.store.GetPlaylistSongs(ctx, playlistID)
	if err != nil {
		return nil, err
	}
	entry := store.PlaylistSong{
		ID:         uuid.NewString(),
		PlaylistID: playlistID,
		URL:        song.URL,
		Title:      song.Title,
		Duration:   song.Duration,
		Thumbnail:  song.Thumbnail,
		SortOrder:  len(existing),
		AddedAt:    time.Now(),
	}
	if err := s.store.AddPlaylistSong(ctx, entry); err != nil {
		return nil, err
	}
	song.ID = entry.ID
	song.SortOrder = entry.SortOrder
	return &song, nil
}

// RemoveSong deletes one entry and recompacts sort orders.
func (s *Service) RemoveSong(ctx context.Context, playlistID, songID string) error {
	if !s.store.Available() {
		return ErrUnavailable
	}
	songs, err := s.store.GetPlaylistSongs(ctx, playlistID)
	if err != nil {
		return err
	}
	found := false
	remaining := make([]string, 0, len(songs))
	for _, song := range songs {
		if song.ID == songID {
			found = true
			continue
		}
		remaining = append(remaining, song.ID)
	}
	if !found {
		return ErrNotFound
	}
	if err := s.store.DeletePlaylistSong(ctx, songID); err != nil {
		return err
	}
	return s.store.ReorderPlaylistSongs(ctx, playlistID, remaining)
}

// ReorderSong moves a song to newIndex, keeping sort orders dense.
func (s *Service) ReorderSong(ctx context.Context, playlistID, songID string, newIndex int) error {
	if !s.store.Available() {
		return ErrUnavailable
	}
	songs, err := s.store.GetPlaylistSongs(ctx, playlistID)
	if err != nil {
		return err
	}
	if newIndex < 0 || newIndex >= len(songs) {
		return ErrInvalid
	}
	idx := -1
	ids := make([]string, len(songs))
	for i, song := range songs {
		ids[i] = song.ID
		if song.ID == songID {
			idx = i
		}
	}
	if idx < 0 {
		return ErrNotFound
	}
	if idx == newIndex {
		return nil
	}
	moved := ids[idx]
	ids = append(ids[:idx], ids[idx+1:]...)
	ids = append(ids[:newIndex], append([]string{moved}, ids[newIndex:]...)...)
	return s.store.ReorderPlaylistSongs(ctx, playlistID, ids)
}
