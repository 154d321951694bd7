// ABOUTME: Tests for the websocket hub: rooms, fan-out order, shutdown
package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-fm/chorus/internal/protocol"
)

type hubFixture struct {
	hub *Hub
	srv *httptest.Server
	ids chan string
}

func newHubFixture(t *testing.T, frontendURL string) *hubFixture {
	t.Helper()
	f := &hubFixture{
		hub: NewHub(frontendURL, zerolog.Nop()),
		ids: make(chan string, 16),
	}
	f.hub.OnMessage(func(connID string, msg protocol.Message) {
		f.ids <- connID
	})
	f.srv = httptest.NewServer(http.HandlerFunc(f.hub.HandleWS))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *hubFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// connect dials and sends one frame so the dispatch hook reveals the
// server-side connection id.
func (f *hubFixture) connect(t *testing.T) (*websocket.Conn, string) {
	t.Helper()
	sock, _, err := websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })

	require.NoError(t, sock.WriteJSON(protocol.Message{Event: "hello"}))
	select {
	case id := <-f.ids:
		return sock, id
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never saw the hello frame")
		return nil, ""
	}
}

func readFrame(t *testing.T, sock *websocket.Conn) protocol.Message {
	t.Helper()
	_ = sock.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg protocol.Message
	require.NoError(t, sock.ReadJSON(&msg))
	return msg
}

func assertNoFrame(t *testing.T, sock *websocket.Conn) {
	t.Helper()
	_ = sock.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	var msg protocol.Message
	if err := sock.ReadJSON(&msg); err == nil {
		t.Fatalf("unexpected frame %q", msg.Event)
	}
}

func TestBroadcastReachesRoom(t *testing.T) {
	f := newHubFixture(t, "")
	sockA, idA := f.connect(t)
	sockB, idB := f.connect(t)
	sockC, _ := f.connect(t)

	f.hub.JoinRoom(idA, "l1")
	f.hub.JoinRoom(idB, "l1")
	// C never joins.

	f.hub.Broadcast("l1", protocol.EvChatMessage, protocol.ChatMessage{Content: "hi"})

	for _, sock := range []*websocket.Conn{sockA, sockB} {
		msg := readFrame(t, sock)
		assert.Equal(t, protocol.EvChatMessage, msg.Event)
	}
	assertNoFrame(t, sockC)
}

func TestBroadcastExcept(t *testing.T) {
	f := newHubFixture(t, "")
	sockA, idA := f.connect(t)
	sockB, idB := f.connect(t)

	f.hub.JoinRoom(idA, "l1")
	f.hub.JoinRoom(idB, "l1")

	f.hub.Broadcast("l1", protocol.EvChatMessage, protocol.ChatMessage{Content: "hi"}, idA)
	readFrame(t, sockB)
	assertNoFrame(t, sockA)
}

func TestBroadcastOrderConsistent(t *testing.T) {
	f := newHubFixture(t, "")
	sockA, idA := f.connect(t)
	sockB, idB := f.connect(t)

	f.hub.JoinRoom(idA, "l1")
	f.hub.JoinRoom(idB, "l1")

	for i := 0; i < 10; i++ {
		f.hub.Broadcast("l1", protocol.EvChatMessage, protocol.ChatMessage{Content: fmt.Sprintf("%d", i)})
	}

	for _, sock := range []*websocket.Conn{sockA, sockB} {
		for i := 0; i < 10; i++ {
			msg := readFrame(t, sock)
			var cm protocol.ChatMessage
			require.NoError(t, json.Unmarshal(msg.Payload, &cm))
			assert.Equal(t, fmt.Sprintf("%d", i), cm.Content)
		}
	}
}

func TestUnicast(t *testing.T) {
	f := newHubFixture(t, "")
	sockA, idA := f.connect(t)
	sockB, _ := f.connect(t)

	f.hub.Unicast(idA, protocol.EvChatMessage, protocol.ChatMessage{Content: "just you"})
	msg := readFrame(t, sockA)
	assert.Equal(t, protocol.EvChatMessage, msg.Event)
	assertNoFrame(t, sockB)
}

func TestAckCarriesID(t *testing.T) {
	f := newHubFixture(t, "")
	sock, id := f.connect(t)

	f.hub.Ack(id, 42, protocol.ErrorReply{Message: "ok"})
	msg := readFrame(t, sock)
	assert.Equal(t, protocol.EvAck, msg.Event)
	assert.Equal(t, int64(42), msg.AckID)
}

func TestJoinRoomSwitches(t *testing.T) {
	f := newHubFixture(t, "")
	sock, id := f.connect(t)

	f.hub.JoinRoom(id, "l1")
	f.hub.JoinRoom(id, "l2")

	room, ok := f.hub.RoomOf(id)
	require.True(t, ok)
	assert.Equal(t, "l2", room)

	f.hub.Broadcast("l1", protocol.EvChatMessage, protocol.ChatMessage{Content: "old room"})
	assertNoFrame(t, sock)

	f.hub.LeaveRoom(id)
	_, ok = f.hub.RoomOf(id)
	assert.False(t, ok)
}

func TestConnCount(t *testing.T) {
	f := newHubFixture(t, "")
	assert.Zero(t, f.hub.ConnCount())
	f.connect(t)
	f.connect(t)
	assert.Equal(t, 2, f.hub.ConnCount())
}

func TestShutdownNotifiesAndRefuses(t *testing.T) {
	f := newHubFixture(t, "")
	sock, _ := f.connect(t)

	done := make(chan struct{})
	go func() {
		f.hub.Shutdown("server restarting")
		close(done)
	}()

	msg := readFrame(t, sock)
	assert.Equal(t, protocol.EvLobbyClosed, msg.Event)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete")
	}

	resp, err := http.Get(f.srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestOriginEnforcement(t *testing.T) {
	f := newHubFixture(t, "https://app.example")

	// Mismatched browser origin is refused at the handshake.
	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.Error(t, err)
	if resp != nil {
		resp.Body.Close()
	}

	// The configured origin and non-browser clients pass.
	header = http.Header{"Origin": []string{"https://app.example"}}
	sock, _, err := websocket.DefaultDialer.Dial(f.wsURL(), header)
	require.NoError(t, err)
	sock.Close()

	sock, _, err = websocket.DefaultDialer.Dial(f.wsURL(), nil)
	require.NoError(t, err)
	sock.Close()
}

func TestPlaylistCacheRoundTrip(t *testing.T) {
	c := newPlaylistCache()
	c.put("https://x/p1", nil)
	if _, ok := c.get("https://x/p1"); !ok {
		t.Error("cached url should hit")
	}
	if _, ok := c.get("https://x/p2"); ok {
		t.Error("unknown url should miss")
	}
}

func TestPlaylistCacheExpiry(t *testing.T) {
	c := newPlaylistCache()
	c.put("https://x/p1", nil)

	c.mu.Lock()
	c.byURL["https://x/p1"].Value.(*playlistEntry).expires = time.Now().Add(-time.Second)
	c.mu.Unlock()

	if _, ok := c.get("https://x/p1"); ok {
		t.Error("expired entry should miss")
	}
	if c.order.Len() != 0 {
		t.Error("expired entry should be dropped")
	}
}

func TestPlaylistCacheEviction(t *testing.T) {
	c := newPlaylistCache()
	for i := 0; i < playlistCacheCap+1; i++ {
		c.put(fmt.Sprintf("https://x/p%d", i), nil)
	}
	if c.order.Len() != playlistCacheCap {
		t.Errorf("cache length = %d, want %d", c.order.Len(), playlistCacheCap)
	}
	if _, ok := c.get("https://x/p0"); ok {
		t.Error("eldest entry should be evicted")
	}
	if _, ok := c.get(fmt.Sprintf("https://x/p%d", playlistCacheCap)); !ok {
		t.Error("newest entry should remain")
	}
}
