// ABOUTME: Lobby and membership registry with naming, modes, and expiry
// ABOUTME: In-memory maps are authoritative; rows mirror to the store
package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/store"
)

const (
	// MaxIdle is how long an empty lobby may linger before eviction.
	MaxIdle = 24 * time.Hour

	maxNameLen     = 50
	maxUsernameLen = 30
	idLen          = 8
	idAlphabet     = "abcdefghijklmnopqrstuvwxyz0123456789"
)

// User modes.
const (
	UserModeListening = "listening"
	UserModeLobby     = "lobby"
)

var (
	ErrNameTaken   = errors.New("lobby name already taken")
	ErrNameInvalid = errors.New("lobby name must be 1-50 characters")
	ErrNotFound    = errors.New("lobby not found")
	ErrBadMode     = errors.New("invalid mode")
)

// Lobby is one live room.
type Lobby struct {
	ID            string
	Name          string
	HostID        string
	ListeningMode string
	CreatedAt     time.Time
	LastActivity  time.Time
}

// User is a transient membership record; it lives only while the
// connection is open and is never persisted.
type User struct {
	ConnID   string
	Username string
	Emoji    string
	Mode     string
	JoinedAt time.Time
}

// Registry holds every live lobby and its members.
type Registry struct {
	mu     sync.RWMutex
	lobbies map[string]*Lobby
	users   map[string]map[string]*User // lobby id → conn id → user

	clk    clock.Clock
	store  *store.Store
	writer *store.Writer
	log    zerolog.Logger
}

// NewRegistry builds the registry. store and writer may be nil.
func NewRegistry(clk clock.Clock, st *store.Store, writer *store.Writer, logger zerolog.Logger) *Registry {
	return &Registry{
		lobbies: make(map[string]*Lobby),
		users:   make(map[string]map[string]*User),
		clk:     clk,
		store:   st,
		writer:  writer,
		log:     logger.With().Str("component", "lobby").Logger(),
	}
}

// NewID generates an 8-character opaque lobby id.
func NewID() string {
	var sb strings.Builder
	for i := 0; i < idLen; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(idAlphabet))))
		if err != nil {
			// crypto/rand only fails on a broken entropy source
			n = big.NewInt(int64(i % len(idAlphabet)))
		}
		sb.WriteByte(idAlphabet[n.Int64()])
	}
	return sb.String()
}

// ValidID reports whether id looks like something NewID produced.
func ValidID(id string) bool {
	if len(id) != idLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		if !strings.ContainsRune(idAlphabet, rune(id[i])) {
			return false
		}
	}
	return true
}

// CreateLobby registers a lobby. Empty customID generates one; empty mode
// defaults to synchronized; a non-empty name must be unique.
func (r *Registry) CreateLobby(hostID, customID, mode, name string) (*Lobby, error) {
	switch mode {
	case "":
		mode = protocol.ModeSynchronized
	case protocol.ModeSynchronized, protocol.ModeIndependent:
	default:
		return nil, ErrBadMode
	}

	name = strings.TrimSpace(name)
	if name != "" && len(name) > maxNameLen {
		return nil, ErrNameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if name != "" && r.nameTakenLocked(name, "") {
		return nil, ErrNameTaken
	}

	id := customID
	if id == "" {
		id = NewID()
		for _, exists := r.lobbies[id]; exists; _, exists = r.lobbies[id] {
			id = NewID()
		}
	} else if existing, ok := r.lobbies[id]; ok {
		return existing, nil
	}

	now := r.clk.Now()
	l := &Lobby{
		ID:            id,
		Name:          name,
		HostID:        hostID,
		ListeningMode: mode,
		CreatedAt:     now,
		LastActivity:  now,
	}
	r.lobbies[id] = l
	r.users[id] = make(map[string]*User)

	r.persistLobbyLocked(l)
	r.log.Info().Str("lobby", id).Str("mode", mode).Msg("lobby created")
	snapshot := *l
	return &snapshot, nil
}

// GetLobby returns a lobby, falling back to the store on a memory miss.
func (r *Registry) GetLobby(id string) *Lobby {
	r.mu.RLock()
	if l, ok := r.lobbies[id]; ok {
		snapshot := *l
		r.mu.RUnlock()
		return &snapshot
	}
	r.mu.RUnlock()

	if !r.store.Available() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	row, err := r.store.GetLobby(ctx, id)
	if err != nil || row == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.lobbies[id]; ok {
		snapshot := *l
		return &snapshot
	}
	l := &Lobby{
		ID:            row.ID,
		Name:          row.Name,
		HostID:        row.HostID,
		ListeningMode: row.ListeningMode,
		CreatedAt:     row.CreatedAt,
		LastActivity:  row.LastActivity,
	}
	r.lobbies[id] = l
	r.users[id] = make(map[string]*User)
	snapshot := *l
	return &snapshot
}

// JoinLobby adds a connection to a lobby.
func (r *Registry) JoinLobby(lobbyID, connID, username, emoji string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		username = "anonymous"
	}
	if len(username) > maxUsernameLen {
		username = username[:maxUsernameLen]
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.lobbies[lobbyID]; !ok {
		return nil, ErrNotFound
	}
	u := &User{
		ConnID:   connID,
		Username: username,
		Emoji:    emoji,
		Mode:     UserModeListening,
		JoinedAt: r.clk.Now(),
	}
	r.users[lobbyID][connID] = u
	r.touchLocked(lobbyID)
	return u, nil
}

// LeaveLobby removes a connection. Returns the user, or nil if absent.
func (r *Registry) LeaveLobby(lobbyID, connID string) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.users[lobbyID]
	if !ok {
		return nil
	}
	u, ok := members[connID]
	if !ok {
		return nil
	}
	delete(members, connID)
	r.touchLocked(lobbyID)
	return u
}

// RenameLobby validates and applies a new display name.
func (r *Registry) RenameLobby(lobbyID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxNameLen {
		return ErrNameInvalid
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return ErrNotFound
	}
	if r.nameTakenLocked(name, lobbyID) {
		return ErrNameTaken
	}
	l.Name = name
	r.touchLocked(lobbyID)
	r.persistLobbyLocked(l)
	return nil
}

// IsNameTaken checks case-insensitive name uniqueness across live lobbies.
func (r *Registry) IsNameTaken(name, excludeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nameTakenLocked(name, excludeID)
}

func (r *Registry) nameTakenLocked(name, excludeID string) bool {
	lower := strings.ToLower(name)
	for id, l := range r.lobbies {
		if id == excludeID || l.Name == "" {
			continue
		}
		if strings.ToLower(l.Name) == lower {
			return true
		}
	}
	return false
}

// SetUserMode switches a member between listening and lobby mode.
func (r *Registry) SetUserMode(lobbyID, connID, mode string) error {
	if mode != UserModeListening && mode != UserModeLobby {
		return ErrBadMode
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.users[lobbyID]
	if !ok {
		return ErrNotFound
	}
	u, ok := members[connID]
	if !ok {
		return ErrNotFound
	}
	u.Mode = mode
	return nil
}

// UpdateUser patches a member's display fields.
func (r *Registry) UpdateUser(lobbyID, connID, username, emoji string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	members, ok := r.users[lobbyID]
	if !ok {
		return ErrNotFound
	}
	u, ok := members[connID]
	if !ok {
		return ErrNotFound
	}
	if username = strings.TrimSpace(username); username != "" {
		if len(username) > maxUsernameLen {
			username = username[:maxUsernameLen]
		}
		u.Username = username
	}
	if emoji != "" {
		u.Emoji = emoji
	}
	return nil
}

// Users returns a lobby's members as wire-shaped records.
func (r *Registry) Users(lobbyID string) []protocol.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.users[lobbyID]
	out := make([]protocol.User, 0, len(members))
	for _, u := range members {
		out = append(out, protocol.User{
			ID:       u.ConnID,
			Username: u.Username,
			Emoji:    u.Emoji,
			Mode:     u.Mode,
		})
	}
	return out
}

// UserCount returns the live member count.
func (r *Registry) UserCount(lobbyID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.users[lobbyID])
}

// GetAllLobbies snapshots every live lobby.
func (r *Registry) GetAllLobbies() []Lobby {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Lobby, 0, len(r.lobbies))
	for _, l := range r.lobbies {
		out = append(out, *l)
	}
	return out
}

// IDs returns the live lobby id set.
func (r *Registry) IDs() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.lobbies))
	for id := range r.lobbies {
		out[id] = struct{}{}
	}
	return out
}

// IsIndependent implements playback.ModeSource.
func (r *Registry) IsIndependent(lobbyID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.lobbies[lobbyID]
	return ok && l.ListeningMode == protocol.ModeIndependent
}

// Touch bumps last-activity on any state-mutating operation.
func (r *Registry) Touch(lobbyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touchLocked(lobbyID)
}

func (r *Registry) touchLocked(lobbyID string) {
	l, ok := r.lobbies[lobbyID]
	if !ok {
		return
	}
	l.LastActivity = r.clk.Now()
	if r.writer != nil {
		id, at := l.ID, l.LastActivity
		r.writer.Enqueue(func(ctx context.Context) error {
			return r.store.TouchLobby(ctx, id, at)
		})
	}
}

// DeleteLobby removes a lobby and its members from the registry.
func (r *Registry) DeleteLobby(lobbyID string) {
	r.mu.Lock()
	delete(r.lobbies, lobbyID)
	delete(r.users, lobbyID)
	r.mu.Unlock()

	if r.writer != nil {
		r.writer.Enqueue(func(ctx context.Context) error {
			return r.store.DeleteLobby(ctx, lobbyID)
		})
	}
	r.log.Info().Str("lobby", lobbyID).Msg("lobby deleted")
}

// CleanupEmptyLobbies evicts lobbies that are empty and idle past MaxIdle.
// Returns the evicted ids so the caller can clear queue and playback.
func (r *Registry) CleanupEmptyLobbies() []string {
	now := r.clk.Now()

	r.mu.Lock()
	var evicted []string
	for id, l := range r.lobbies {
		if len(r.users[id]) == 0 && now.Sub(l.LastActivity) > MaxIdle {
			evicted = append(evicted, id)
		}
	}
	for _, id := range evicted {
		delete(r.lobbies, id)
		delete(r.users, id)
	}
	r.mu.Unlock()

	for _, id := range evicted {
		if r.writer != nil {
			lobbyID := id
			r.writer.Enqueue(func(ctx context.Context) error {
				return r.store.DeleteLobby(ctx, lobbyID)
			})
		}
		r.log.Info().Str("lobby", id).Msg("idle lobby evicted")
	}
	return evicted
}

// LoadFromDB restores lobbies on cold start.
func (r *Registry) LoadFromDB(ctx context.Context) error {
	rows, err := r.store.GetAllLobbies(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.lobbies[row.ID]; ok {
			continue
		}
		r.lobbies[row.ID] = &Lobby{
			ID:            row.ID,
			Name:          row.Name,
			HostID:        row.HostID,
			ListeningMode: row.ListeningMode,
			CreatedAt:     row.CreatedAt,
			LastActivity:  row.LastActivity,
		}
		r.users[row.ID] = make(map[string]*User)
	}
	r.log.Info().Int("lobbies", len(rows)).Msg("restored lobbies from store")
	return nil
}

func (r *Registry) persistLobbyLocked(l *Lobby) {
	if r.writer == nil {
		return
	}
	row := store.Lobby{
		ID:            l.ID,
		HostID:        l.HostID,
		Name:          l.Name,
		ListeningMode: l.ListeningMode,
		CreatedAt:     l.CreatedAt,
		LastActivity:  l.LastActivity,
	}
	r.writer.Enqueue(func(ctx context.Context) error {
		return r.store.SaveLobby(ctx, row)
	})
}

// Describe formats a lobby for logs and the dashboard.
func (l *Lobby) Describe() string {
	name := l.Name
	if name == "" {
		name = "(unnamed)"
	}
	return fmt.Sprintf("%s %s [%s]", l.ID, name, l.ListeningMode)
}
