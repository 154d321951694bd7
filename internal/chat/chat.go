// ABOUTME: Per-lobby bounded chat history with a per-connection throttle
// ABOUTME: Memory ring is authoritative; durable log is best-effort
package chat

import (
	"context"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/store"
)

const (
	ringCap       = 100
	maxContentLen = 500

	// 5 messages per 10 seconds: burst of 5, one token every 2s.
	throttleBurst = 5
)

var throttleRate = rate.Every(2 * time.Second)

// Service holds chat rings and throttle state.
type Service struct {
	mu       sync.Mutex
	rings    map[string][]protocol.ChatMessage // lobby id → ring
	limiters map[string]*rate.Limiter          // conn id → limiter

	store  *store.Store
	writer *store.Writer
	log    zerolog.Logger
}

// NewService builds the chat service. store and writer may be nil.
func NewService(st *store.Store, writer *store.Writer, logger zerolog.Logger) *Service {
	return &Service{
		rings:    make(map[string][]protocol.ChatMessage),
		limiters: make(map[string]*rate.Limiter),
		store:    st,
		writer:   writer,
		log:      logger.With().Str("component", "chat").Logger(),
	}
}

// IsThrottled consumes one token for connID; the sixth message inside a
// ten-second window reports true and is not delivered.
func (s *Service) IsThrottled(connID string) bool {
	s.mu.Lock()
	lim, ok := s.limiters[connID]
	if !ok {
		lim = rate.NewLimiter(throttleRate, throttleBurst)
		s.limiters[connID] = lim
	}
	s.mu.Unlock()
	return !lim.Allow()
}

// AddMessage truncates, appends to the ring, and persists fire-and-forget.
func (s *Service) AddMessage(lobbyID, userID, username, emoji, content string) protocol.ChatMessage {
	if len(content) > maxContentLen {
		cut := maxContentLen
		// Back off to a rune boundary so the cut never splits a sequence.
		for cut > 0 && !utf8.RuneStart(content[cut]) {
			cut--
		}
		content = content[:cut]
	}
	msg := protocol.ChatMessage{
		ID:        uuid.NewString(),
		LobbyID:   lobbyID,
		UserID:    userID,
		Username:  username,
		Emoji:     emoji,
		Content:   content,
		Timestamp: time.Now().UnixMilli(),
	}

	s.mu.Lock()
	ring := append(s.rings[lobbyID], msg)
	if len(ring) > ringCap {
		ring = ring[len(ring)-ringCap:]
	}
	s.rings[lobbyID] = ring
	s.mu.Unlock()

	if s.writer != nil {
		s.writer.Enqueue(func(ctx context.Context) error {
			return s.store.SaveChatMessage(ctx, msg)
		})
	}
	return msg
}

// GetHistory returns up to limit recent messages, memory first, falling
// back to the durable log when the ring is cold.
func (s *Service) GetHistory(lobbyID string, limit int) []protocol.ChatMessage {
	if limit <= 0 {
		limit = 50
	}

	s.mu.Lock()
	ring := s.rings[lobbyID]
	if len(ring) > 0 {
		start := len(ring) - limit
		if start < 0 {
			start = 0
		}
		out := append([]protocol.ChatMessage{}, ring[start:]...)
		s.mu.Unlock()
		return out
	}
	s.mu.Unlock()

	if !s.store.Available() {
		return []protocol.ChatMessage{}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	msgs, err := s.store.GetChatHistory(ctx, lobbyID, limit)
	if err != nil {
		s.log.Warn().Err(err).Str("lobby", lobbyID).Msg("chat history read failed")
		return []protocol.ChatMessage{}
	}

	if len(msgs) > 0 {
		s.mu.Lock()
		if len(s.rings[lobbyID]) == 0 {
			s.rings[lobbyID] = append([]protocol.ChatMessage{}, msgs...)
		}
		s.mu.Unlock()
	}
	return msgs
}

// DropConnection forgets a connection's throttle state.
func (s *Service) DropConnection(connID string) {
	s.mu.Lock()
	delete(s.limiters, connID)
	s.mu.Unlock()
}

// DropLobby forgets a lobby's ring.
func (s *Service) DropLobby(lobbyID string) {
	s.mu.Lock()
	delete(s.rings, lobbyID)
	s.mu.Unlock()
}
