// ABOUTME: WebSocket hub: connections, lobby rooms, and ordered fan-out
// ABOUTME: One writer goroutine per connection feeds off a buffered channel
package gateway

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/protocol"
)

const (
	sendBuffer   = 100
	writeTimeout = 10 * time.Second
)

// conn is one live websocket connection.
type conn struct {
	id     string
	sock   *websocket.Conn
	send   chan protocol.Message
	closed sync.Once
}

func (c *conn) close() {
	c.closed.Do(func() {
		close(c.send)
	})
}

// enqueue drops the frame when the client cannot keep up; a slow reader
// must not stall the lobby's broadcast order for everyone else.
func (c *conn) enqueue(msg protocol.Message) {
	defer func() { recover() }() // send on closed channel during teardown
	select {
	case c.send <- msg:
	default:
	}
}

// Hub owns the connection and room maps.
type Hub struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger

	mu        sync.RWMutex
	conns     map[string]*conn
	rooms     map[string]map[string]*conn // lobby id → conn id → conn
	connLobby map[string]string           // conn id → lobby id

	dispatch   func(connID string, msg protocol.Message)
	disconnect func(connID string)

	shutdownMu sync.RWMutex
	isShutdown bool
	wg         sync.WaitGroup
}

// NewHub builds the hub. frontendURL, when non-empty, is the only browser
// origin accepted.
func NewHub(frontendURL string, logger zerolog.Logger) *Hub {
	h := &Hub{
		log:       logger.With().Str("component", "gateway").Logger(),
		conns:     make(map[string]*conn),
		rooms:     make(map[string]map[string]*conn),
		connLobby: make(map[string]string),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			if frontendURL == "" {
				return true
			}
			return origin == frontendURL
		},
	}
	return h
}

// OnMessage registers the event dispatcher.
func (h *Hub) OnMessage(fn func(connID string, msg protocol.Message)) { h.dispatch = fn }

// OnDisconnect registers the teardown hook.
func (h *Hub) OnDisconnect(fn func(connID string)) { h.disconnect = fn }

// HandleWS upgrades and services one connection until it closes.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	h.shutdownMu.RLock()
	if h.isShutdown {
		h.shutdownMu.RUnlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.shutdownMu.RUnlock()

	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{
		id:   uuid.NewString(),
		sock: sock,
		send: make(chan protocol.Message, sendBuffer),
	}

	h.mu.Lock()
	h.conns[c.id] = c
	h.mu.Unlock()

	h.log.Debug().Str("conn", c.id).Str("remote", r.RemoteAddr).Msg("connection opened")

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.writePump(c)
	}()

	h.readPump(c)
}

func (h *Hub) readPump(c *conn) {
	defer func() {
		h.drop(c)
		if h.disconnect != nil {
			h.disconnect(c.id)
		}
	}()

	for {
		var msg protocol.Message
		if err := c.sock.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Str("conn", c.id).Msg("read error")
			}
			return
		}
		if h.dispatch != nil {
			h.dispatch(c.id, msg)
		}
	}
}

func (h *Hub) writePump(c *conn) {
	for msg := range c.send {
		_ = c.sock.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.sock.WriteJSON(msg); err != nil {
			h.log.Debug().Err(err).Str("conn", c.id).Msg("write error")
			break
		}
	}
	_ = c.sock.Close()
}

func (h *Hub) drop(c *conn) {
	h.mu.Lock()
	delete(h.conns, c.id)
	if lobbyID, ok := h.connLobby[c.id]; ok {
		if room, ok := h.rooms[lobbyID]; ok {
			delete(room, c.id)
			if len(room) == 0 {
				delete(h.rooms, lobbyID)
			}
		}
		delete(h.connLobby, c.id)
	}
	h.mu.Unlock()
	c.close()
}

// JoinRoom maps a connection into a lobby room, leaving any previous one.
func (h *Hub) JoinRoom(connID, lobbyID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.conns[connID]
	if !ok {
		return
	}
	if prev, ok := h.connLobby[connID]; ok && prev != lobbyID {
		if room, ok := h.rooms[prev]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, prev)
			}
		}
	}
	room, ok := h.rooms[lobbyID]
	if !ok {
		room = make(map[string]*conn)
		h.rooms[lobbyID] = room
	}
	room[connID] = c
	h.connLobby[connID] = lobbyID
}

// LeaveRoom removes a connection from its room.
func (h *Hub) LeaveRoom(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if lobbyID, ok := h.connLobby[connID]; ok {
		if room, ok := h.rooms[lobbyID]; ok {
			delete(room, connID)
			if len(room) == 0 {
				delete(h.rooms, lobbyID)
			}
		}
		delete(h.connLobby, connID)
	}
}

// RoomOf returns the lobby a connection is in, if any.
func (h *Hub) RoomOf(connID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	lobbyID, ok := h.connLobby[connID]
	return lobbyID, ok
}

// Unicast sends one event to one connection.
func (h *Hub) Unicast(connID, event string, payload any) {
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

// Ack answers a request that carried an ackId.
func (h *Hub) Ack(connID string, ackID int64, payload any) {
	msg, err := protocol.Encode(protocol.EvAck, payload)
	if err != nil {
		return
	}
	msg.AckID = ackID
	h.mu.RLock()
	c, ok := h.conns[connID]
	h.mu.RUnlock()
	if ok {
		c.enqueue(msg)
	}
}

// Broadcast fans an event out to every member of a lobby room. Frames are
// enqueued under one lock pass, so any two members observe the same order.
func (h *Hub) Broadcast(lobbyID, event string, payload any, except ...string) {
	msg, err := protocol.Encode(event, payload)
	if err != nil {
		h.log.Error().Err(err).Str("event", event).Msg("encode failed")
		return
	}
	skip := make(map[string]struct{}, len(except))
	for _, id := range except {
		skip[id] = struct{}{}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, c := range h.rooms[lobbyID] {
		if _, ok := skip[id]; ok {
			continue
		}
		c.enqueue(msg)
	}
}

// BroadcastSync implements playback.Broadcaster.
func (h *Hub) BroadcastSync(lobbyID string, state protocol.SyncState) {
	h.Broadcast(lobbyID, protocol.EvPlaybackSync, state)
}

// ConnCount reports live connections.
func (h *Hub) ConnCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Shutdown notifies and closes every connection.
func (h *Hub) Shutdown(message string) {
	h.shutdownMu.Lock()
	h.isShutdown = true
	h.shutdownMu.Unlock()

	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		if msg, err := protocol.Encode(protocol.EvLobbyClosed, protocol.ErrorReply{Message: message}); err == nil {
			c.enqueue(msg)
		}
		c.close()
	}
	h.wg.Wait()
}
