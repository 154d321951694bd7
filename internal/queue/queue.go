// ABOUTME: Per-lobby ordered song queue with independent-mode user cursors
// ABOUTME: Mutations persist fire-and-forget through the store writer
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/store"
)

// Manager holds every lobby's queue. All methods are safe for concurrent
// use; compound queue+playback sequences are serialized by the gateway.
type Manager struct {
	mu     sync.RWMutex
	queues map[string]*lobbyQueue

	store  *store.Store
	writer *store.Writer
	log    zerolog.Logger
}

type lobbyQueue struct {
	songs   []protocol.Song
	cursors map[string]int // connection id → index into songs
}

// NewManager builds the queue manager. store and writer may be nil.
func NewManager(st *store.Store, writer *store.Writer, logger zerolog.Logger) *Manager {
	return &Manager{
		queues: make(map[string]*lobbyQueue),
		store:  st,
		writer: writer,
		log:    logger.With().Str("component", "queue").Logger(),
	}
}

func (m *Manager) lobby(lobbyID string) *lobbyQueue {
	q, ok := m.queues[lobbyID]
	if !ok {
		q = &lobbyQueue{cursors: make(map[string]int)}
		m.queues[lobbyID] = q
	}
	return q
}

// AddSong appends a song with the next sort order. Missing id and
// timestamp are filled in.
func (m *Manager) AddSong(lobbyID string, song protocol.Song) protocol.Song {
	if song.ID == "" {
		song.ID = uuid.NewString()
	}
	if song.AddedAt == 0 {
		song.AddedAt = time.Now().UnixMilli()
	}

	m.mu.Lock()
	q := m.lobby(lobbyID)
	q.songs = append(q.songs, song)
	order := len(q.songs) - 1
	m.mu.Unlock()

	m.persistSong(lobbyID, song, order)
	return song
}

// RemoveSong deletes by id and compacts sort orders. Returns the removed
// song or nil. Cursors past the removed index shift back with the songs.
func (m *Manager) RemoveSong(lobbyID, songID string) *protocol.Song {
	m.mu.Lock()
	q := m.lobby(lobbyID)
	idx := -1
	for i, song := range q.songs {
		if song.ID == songID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return nil
	}
	removed := q.songs[idx]
	q.songs = append(q.songs[:idx], q.songs[idx+1:]...)
	for conn, cur := range q.cursors {
		if cur > idx {
			q.cursors[conn] = cur - 1
		} else if cur >= len(q.songs) && cur > 0 {
			q.cursors[conn] = len(q.songs) - 1
		}
	}
	snapshot := append([]protocol.Song(nil), q.songs...)
	m.mu.Unlock()

	m.persistRemoval(lobbyID, songID, snapshot)
	return &removed
}

// ReorderSong moves a song to newIndex. Out-of-range targets and unknown
// ids return false; moving to the current position is a no-op true.
func (m *Manager) ReorderSong(lobbyID, songID string, newIndex int) bool {
	m.mu.Lock()
	q := m.lobby(lobbyID)
	if newIndex < 0 || newIndex >= len(q.songs) {
		m.mu.Unlock()
		return false
	}
	idx := -1
	for i, song := range q.songs {
		if song.ID == songID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.mu.Unlock()
		return false
	}
	if idx == newIndex {
		m.mu.Unlock()
		return true
	}
	song := q.songs[idx]
	q.songs = append(q.songs[:idx], q.songs[idx+1:]...)
	q.songs = append(q.songs[:newIndex], append([]protocol.Song{song}, q.songs[newIndex:]...)...)
	snapshot := append([]protocol.Song(nil), q.songs...)
	m.mu.Unlock()

	m.persistOrder(lobbyID, snapshot)
	return true
}

// GetSongs returns a copy of the lobby queue.
func (m *Manager) GetSongs(lobbyID string) []protocol.Song {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[lobbyID]
	if !ok {
		return []protocol.Song{}
	}
	return append([]protocol.Song{}, q.songs...)
}

// Len returns the queue length.
func (m *Manager) Len(lobbyID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[lobbyID]
	if !ok {
		return 0
	}
	return len(q.songs)
}

// GetCurrentSong returns the queue head or nil.
func (m *Manager) GetCurrentSong(lobbyID string) *protocol.Song {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[lobbyID]
	if !ok || len(q.songs) == 0 {
		return nil
	}
	head := q.songs[0]
	return &head
}

// AdvanceQueue removes and returns the head.
func (m *Manager) AdvanceQueue(lobbyID string) *protocol.Song {
	m.mu.Lock()
	q := m.lobby(lobbyID)
	if len(q.songs) == 0 {
		m.mu.Unlock()
		return nil
	}
	head := q.songs[0]
	q.songs = q.songs[1:]
	for conn, cur := range q.cursors {
		if cur > 0 {
			q.cursors[conn] = cur - 1
		}
	}
	snapshot := append([]protocol.Song(nil), q.songs...)
	m.mu.Unlock()

	m.persistRemoval(lobbyID, head.ID, snapshot)
	return &head
}

// MoveCurrentToEnd rotates the head to the back (repeat-all carousel).
func (m *Manager) MoveCurrentToEnd(lobbyID string) {
	m.mu.Lock()
	q := m.lobby(lobbyID)
	if len(q.songs) < 2 {
		m.mu.Unlock()
		return
	}
	head := q.songs[0]
	q.songs = append(q.songs[1:], head)
	snapshot := append([]protocol.Song(nil), q.songs...)
	m.mu.Unlock()

	m.persistOrder(lobbyID, snapshot)
}

// GetSongAtIndex returns the song at i or nil.
func (m *Manager) GetSongAtIndex(lobbyID string, i int) *protocol.Song {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[lobbyID]
	if !ok || i < 0 || i >= len(q.songs) {
		return nil
	}
	song := q.songs[i]
	return &song
}

// GetUserPosition returns the cursor for a connection, defaulting to 0.
func (m *Manager) GetUserPosition(lobbyID, connID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q, ok := m.queues[lobbyID]
	if !ok {
		return 0
	}
	return q.cursors[connID]
}

// SetUserPosition pins a connection's cursor. Out-of-range is clamped.
func (m *Manager) SetUserPosition(lobbyID, connID string, i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.lobby(lobbyID)
	if i < 0 {
		i = 0
	}
	if n := len(q.songs); n > 0 && i >= n {
		i = n - 1
	}
	q.cursors[connID] = i
}

// AdvanceUserPosition moves a connection's cursor forward, wrapping to the
// start, and returns the song now under the cursor.
func (m *Manager) AdvanceUserPosition(lobbyID, connID string) *protocol.Song {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.lobby(lobbyID)
	if len(q.songs) == 0 {
		return nil
	}
	next := (q.cursors[connID] + 1) % len(q.songs)
	q.cursors[connID] = next
	song := q.songs[next]
	return &song
}

// RemoveUserPosition drops the cursor when a connection leaves.
func (m *Manager) RemoveUserPosition(lobbyID, connID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.queues[lobbyID]; ok {
		delete(q.cursors, connID)
	}
}

// LoadFromDB restores a lobby queue ordered by sort_order.
func (m *Manager) LoadFromDB(ctx context.Context, lobbyID string) error {
	songs, err := m.store.GetQueueSongs(ctx, lobbyID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	q := m.lobby(lobbyID)
	q.songs = songs
	m.mu.Unlock()
	return nil
}

// DeleteQueue drops a lobby's queue from memory and disk.
func (m *Manager) DeleteQueue(lobbyID string) {
	m.mu.Lock()
	delete(m.queues, lobbyID)
	m.mu.Unlock()

	if m.writer != nil {
		m.writer.Enqueue(func(ctx context.Context) error {
			return m.store.DeleteQueueForLobby(ctx, lobbyID)
		})
	}
}

// CleanupOrphaned drops in-memory queues whose lobby no longer exists.
func (m *Manager) CleanupOrphaned(validIDs map[string]struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.queues {
		if _, ok := validIDs[id]; !ok {
			delete(m.queues, id)
		}
	}
}

func (m *Manager) persistSong(lobbyID string, song protocol.Song, order int) {
	if m.writer == nil {
		return
	}
	m.writer.Enqueue(func(ctx context.Context) error {
		return m.store.SaveQueueSong(ctx, lobbyID, song, order)
	})
}

func (m *Manager) persistRemoval(lobbyID, songID string, snapshot []protocol.Song) {
	if m.writer == nil {
		return
	}
	m.writer.Enqueue(func(ctx context.Context) error {
		if err := m.store.DeleteQueueSong(ctx, songID); err != nil {
			return err
		}
		return m.store.ReplaceQueueOrder(ctx, lobbyID, snapshot)
	})
}

func (m *Manager) persistOrder(lobbyID string, snapshot []protocol.Song) {
	if m.writer == nil {
		return
	}
	m.writer.Enqueue(func(ctx context.Context) error {
		return m.store.ReplaceQueueOrder(ctx, lobbyID, snapshot)
	})
}
