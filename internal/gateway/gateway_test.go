// ABOUTME: End-to-end tests driving the gateway over real websockets
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-fm/chorus/internal/chat"
	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/playback"
	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/queue"
)

type fakeFetcher struct {
	metadata *media.Metadata
	metaErr  error
	playlist []media.PlaylistItem
}

func (f *fakeFetcher) GetMetadata(ctx context.Context, query string) (*media.Metadata, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	if f.metadata != nil {
		return f.metadata, nil
	}
	return &media.Metadata{URL: query, Title: "untitled"}, nil
}

func (f *fakeFetcher) CreateStream(ctx context.Context, url string) (media.Stream, error) {
	return nil, nil
}

func (f *fakeFetcher) DownloadTo(ctx context.Context, url, destPath string, progress func(float64)) error {
	return nil
}

func (f *fakeFetcher) GetPlaylistItems(ctx context.Context, url string) ([]media.PlaylistItem, error) {
	return f.playlist, nil
}

func (f *fakeFetcher) CheckAvailable(ctx context.Context) bool { return true }

type gwFixture struct {
	hub      *Hub
	registry *lobby.Registry
	queues   *queue.Manager
	engine   *playback.Engine
	fetcher  *fakeFetcher
	clk      *clock.Fake
	srv      *httptest.Server
}

func newGatewayFixture(t *testing.T) *gwFixture {
	t.Helper()
	clk := clock.NewFake()
	f := &gwFixture{
		hub:      NewHub("", zerolog.Nop()),
		registry: lobby.NewRegistry(clk, nil, nil, zerolog.Nop()),
		queues:   queue.NewManager(nil, nil, zerolog.Nop()),
		engine:   playback.NewEngine(clk, nil, nil, zerolog.Nop()),
		fetcher:  &fakeFetcher{},
		clk:      clk,
	}
	chatSvc := chat.NewService(nil, nil, zerolog.Nop())
	New(f.hub, f.registry, f.queues, f.engine, chatSvc, nil, nil, f.fetcher, clk, "", zerolog.Nop())
	f.srv = httptest.NewServer(http.HandlerFunc(f.hub.HandleWS))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *gwFixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + f.srv.URL[len("http"):]
	sock, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sock.Close() })
	return sock
}

func send(t *testing.T, sock *websocket.Conn, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	require.NoError(t, sock.WriteJSON(protocol.Message{Event: event, Payload: raw}))
}

// readUntil skips frames until the wanted event arrives.
func readUntil(t *testing.T, sock *websocket.Conn, event string) protocol.Message {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		_ = sock.SetReadDeadline(deadline)
		var msg protocol.Message
		if err := sock.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %q: %v", event, err)
		}
		if msg.Event == event {
			return msg
		}
	}
	t.Fatalf("no %q frame", event)
	return protocol.Message{}
}

func createLobby(t *testing.T, sock *websocket.Conn, username string) protocol.LobbyState {
	t.Helper()
	send(t, sock, protocol.EvLobbyCreate, protocol.LobbyCreate{Username: username})
	msg := readUntil(t, sock, protocol.EvLobbyCreated)
	var state protocol.LobbyState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	return state
}

func TestCreateAndJoinLobby(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)

	state := createLobby(t, a, "alice")
	require.NotEmpty(t, state.LobbyID)
	assert.Equal(t, protocol.ModeSynchronized, state.ListeningMode)
	assert.Equal(t, "/lobby/"+state.LobbyID, state.Link)
	require.Len(t, state.Users, 1)
	assert.Equal(t, "alice", state.Users[0].Username)

	b := f.dial(t)
	send(t, b, protocol.EvLobbyJoin, protocol.LobbyJoin{LobbyID: state.LobbyID, Username: "bob"})

	msg := readUntil(t, b, protocol.EvLobbyJoined)
	var joined protocol.LobbyState
	require.NoError(t, json.Unmarshal(msg.Payload, &joined))
	assert.Equal(t, state.LobbyID, joined.LobbyID)
	assert.Len(t, joined.Users, 2)

	// The joiner is caught up on queue and shuffle state.
	readUntil(t, b, protocol.EvQueueUpdate)
	readUntil(t, b, protocol.EvPlaybackShuffle)

	// The room hears about the new member.
	msg = readUntil(t, a, protocol.EvLobbyUserJoined)
	var roomUpdate protocol.LobbyState
	require.NoError(t, json.Unmarshal(msg.Payload, &roomUpdate))
	assert.Len(t, roomUpdate.Users, 2)
}

func TestJoinRejectsMalformedID(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	send(t, a, protocol.EvLobbyJoin, protocol.LobbyJoin{LobbyID: "NOT-AN-ID", Username: "x"})
	msg := readUntil(t, a, protocol.EvLobbyError)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(msg.Payload, &reply))
	assert.Equal(t, "lobby not found", reply.Message)
}

func TestQueueAddStartsIdleLobbyPlaying(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")

	send(t, a, protocol.EvQueueAdd, protocol.QueueAdd{
		LobbyID:  state.LobbyID,
		URL:      "https://x/a",
		Title:    "a",
		Duration: 180,
	})

	msg := readUntil(t, a, protocol.EvQueueUpdate)
	var update protocol.QueueUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	require.Len(t, update.Songs, 1)
	assert.Equal(t, "a", update.Songs[0].Title)
	assert.NotEmpty(t, update.Songs[0].ID)

	track := f.engine.CurrentTrack(state.LobbyID)
	require.NotNil(t, track)
	assert.Equal(t, "a", track.Title)
	assert.True(t, f.engine.IsPlaying(state.LobbyID))
}

func TestQueueAddResolvesMetadata(t *testing.T) {
	f := newGatewayFixture(t)
	f.fetcher.metadata = &media.Metadata{URL: "https://x/resolved", Title: "Resolved", Duration: 90}

	a := f.dial(t)
	state := createLobby(t, a, "alice")

	send(t, a, protocol.EvQueueAdd, protocol.QueueAdd{LobbyID: state.LobbyID, Query: "some song"})
	readUntil(t, a, protocol.EvQueueAdding)

	msg := readUntil(t, a, protocol.EvQueueUpdate)
	var update protocol.QueueUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	require.Len(t, update.Songs, 1)
	assert.Equal(t, "Resolved", update.Songs[0].Title)
	assert.Equal(t, "https://x/resolved", update.Songs[0].URL)
}

func TestQueueAddUpstreamError(t *testing.T) {
	f := newGatewayFixture(t)
	f.fetcher.metaErr = &media.UpstreamError{Code: media.CodeVideoUnavailable, Message: "video unavailable"}

	a := f.dial(t)
	state := createLobby(t, a, "alice")

	send(t, a, protocol.EvQueueAdd, protocol.QueueAdd{LobbyID: state.LobbyID, URL: "https://x/gone"})
	msg := readUntil(t, a, protocol.EvQueueError)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(msg.Payload, &reply))
	assert.Equal(t, media.CodeVideoUnavailable, reply.Code)
}

func TestQueueRemoveUnknownSong(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")

	send(t, a, protocol.EvQueueRemove, protocol.QueueRemove{LobbyID: state.LobbyID, SongID: "ghost"})
	msg := readUntil(t, a, protocol.EvQueueError)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(msg.Payload, &reply))
	assert.Equal(t, "song not found", reply.Message)
}

func TestPlaylistConfirmThenAddAll(t *testing.T) {
	f := newGatewayFixture(t)
	f.fetcher.playlist = []media.PlaylistItem{
		{URL: "https://x/1", Title: "one"},
		{URL: "https://x/2", Title: "two"},
		{URL: "https://x/3", Title: "three"},
	}

	a := f.dial(t)
	state := createLobby(t, a, "alice")
	playlistURL := "https://www.youtube.com/playlist?list=PL123"

	send(t, a, protocol.EvQueueAdd, protocol.QueueAdd{LobbyID: state.LobbyID, URL: playlistURL})
	msg := readUntil(t, a, protocol.EvQueuePlaylistConfirm)
	var confirm protocol.PlaylistConfirm
	require.NoError(t, json.Unmarshal(msg.Payload, &confirm))
	assert.Equal(t, 3, confirm.TotalCount)
	assert.Equal(t, "one", confirm.FirstItem.Title)

	send(t, a, protocol.EvQueuePlaylistAdd, protocol.QueuePlaylistAdd{
		LobbyID: state.LobbyID, URL: playlistURL, Mode: "all",
	})
	msg = readUntil(t, a, protocol.EvQueuePlaylistComplete)
	var complete protocol.PlaylistComplete
	require.NoError(t, json.Unmarshal(msg.Payload, &complete))
	assert.Equal(t, 3, complete.Added)
	assert.Equal(t, 3, f.queues.Len(state.LobbyID))
}

func addSong(t *testing.T, sock *websocket.Conn, lobbyID, title string, duration float64) {
	t.Helper()
	send(t, sock, protocol.EvQueueAdd, protocol.QueueAdd{
		LobbyID:  lobbyID,
		URL:      "https://x/" + title,
		Title:    title,
		Duration: duration,
	})
	readUntil(t, sock, protocol.EvQueueUpdate)
}

func TestQueueAddAutoplaysAfterQueueDrains(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")
	addSong(t, a, state.LobbyID, "a", 60)

	// Repeat off, single song: the natural end drains the queue.
	send(t, a, protocol.EvPlaybackEnded, protocol.LobbyRef{LobbyID: state.LobbyID})
	readUntil(t, a, protocol.EvPlaybackTrackEnded)
	msg := readUntil(t, a, protocol.EvQueueUpdate)
	var update protocol.QueueUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	assert.Empty(t, update.Songs)
	assert.Nil(t, f.engine.CurrentTrack(state.LobbyID))

	// The next add lands in an idle empty lobby and starts playing.
	addSong(t, a, state.LobbyID, "b", 60)
	track := f.engine.CurrentTrack(state.LobbyID)
	require.NotNil(t, track)
	assert.Equal(t, "b", track.Title)
	assert.True(t, f.engine.IsPlaying(state.LobbyID))
}

func TestTrackEndedRepeatAllRotatesQueue(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")
	addSong(t, a, state.LobbyID, "a", 60)
	addSong(t, a, state.LobbyID, "b", 60)
	send(t, a, protocol.EvPlaybackSetRepeat, protocol.PlaybackSetRepeat{
		LobbyID: state.LobbyID, Mode: protocol.RepeatAll,
	})

	send(t, a, protocol.EvPlaybackEnded, protocol.LobbyRef{LobbyID: state.LobbyID})
	msg := readUntil(t, a, protocol.EvPlaybackTrackEnded)
	var ended protocol.TrackEnded
	require.NoError(t, json.Unmarshal(msg.Payload, &ended))
	require.NotNil(t, ended.EndedTrack)
	assert.Equal(t, "a", ended.EndedTrack.Title)
	assert.Equal(t, protocol.RepeatAll, ended.RepeatMode)

	// The finished head rotates to the tail instead of being consumed.
	msg = readUntil(t, a, protocol.EvQueueUpdate)
	var update protocol.QueueUpdate
	require.NoError(t, json.Unmarshal(msg.Payload, &update))
	require.Len(t, update.Songs, 2)
	assert.Equal(t, "b", update.Songs[0].Title)
	assert.Equal(t, "a", update.Songs[1].Title)

	track := f.engine.CurrentTrack(state.LobbyID)
	require.NotNil(t, track)
	assert.Equal(t, "b", track.Title)
	assert.True(t, f.engine.IsPlaying(state.LobbyID))
}

func TestIndependentAdvanceUnicastsForceSync(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	send(t, a, protocol.EvLobbyCreate, protocol.LobbyCreate{
		Username: "alice", ListeningMode: protocol.ModeIndependent,
	})
	msg := readUntil(t, a, protocol.EvLobbyCreated)
	var state protocol.LobbyState
	require.NoError(t, json.Unmarshal(msg.Payload, &state))
	require.Equal(t, protocol.ModeIndependent, state.ListeningMode)

	addSong(t, a, state.LobbyID, "a", 60)
	addSong(t, a, state.LobbyID, "b", 60)

	// Only this listener's cursor moves, and only they hear about it.
	send(t, a, protocol.EvPlaybackEnded, protocol.LobbyRef{LobbyID: state.LobbyID})
	msg = readUntil(t, a, protocol.EvPlaybackForceSync)
	var sync protocol.SyncState
	require.NoError(t, json.Unmarshal(msg.Payload, &sync))
	require.NotNil(t, sync.Track)
	assert.Equal(t, "b", sync.Track.Title)
	assert.True(t, sync.IsPlaying)
	assert.Zero(t, sync.Position)
	assert.Equal(t, f.clk.Now().UnixMilli(), sync.ServerTime)

	assert.Len(t, f.queues.GetSongs(state.LobbyID), 2)
}

func TestDriftReportForcesResync(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")
	addSong(t, a, state.LobbyID, "a", 300)

	f.clk.Advance(30 * time.Second)
	send(t, a, protocol.EvPlaybackReportPos, protocol.PlaybackReportPosition{
		LobbyID: state.LobbyID, ClientPosition: 20,
	})

	msg := readUntil(t, a, protocol.EvPlaybackForceSync)
	var sync protocol.SyncState
	require.NoError(t, json.Unmarshal(msg.Payload, &sync))
	require.NotNil(t, sync.Track)
	assert.Equal(t, "a", sync.Track.Title)
	assert.InDelta(t, 30, sync.Position, 0.5)
}

func TestChatBroadcast(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")

	b := f.dial(t)
	send(t, b, protocol.EvLobbyJoin, protocol.LobbyJoin{LobbyID: state.LobbyID, Username: "bob"})
	readUntil(t, b, protocol.EvLobbyJoined)

	send(t, b, protocol.EvChatSend, protocol.ChatSend{LobbyID: state.LobbyID, Content: "hello"})

	for _, sock := range []*websocket.Conn{a, b} {
		msg := readUntil(t, sock, protocol.EvChatMessage)
		var cm protocol.ChatMessage
		require.NoError(t, json.Unmarshal(msg.Payload, &cm))
		assert.Equal(t, "hello", cm.Content)
		assert.Equal(t, "bob", cm.Username)
	}
}

func TestChatRequiresMembership(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")

	outsider := f.dial(t)
	send(t, outsider, protocol.EvChatSend, protocol.ChatSend{LobbyID: state.LobbyID, Content: "hi"})
	msg := readUntil(t, outsider, protocol.EvLobbyError)
	var reply protocol.ErrorReply
	require.NoError(t, json.Unmarshal(msg.Payload, &reply))
	assert.Equal(t, "join the lobby before chatting", reply.Message)
}

func TestLeaveNotifiesRoom(t *testing.T) {
	f := newGatewayFixture(t)
	a := f.dial(t)
	state := createLobby(t, a, "alice")

	b := f.dial(t)
	send(t, b, protocol.EvLobbyJoin, protocol.LobbyJoin{LobbyID: state.LobbyID, Username: "bob"})
	readUntil(t, b, protocol.EvLobbyJoined)
	readUntil(t, a, protocol.EvLobbyUserJoined)

	send(t, b, protocol.EvLobbyLeave, nil)

	msg := readUntil(t, a, protocol.EvUserLeft)
	var left protocol.User
	require.NoError(t, json.Unmarshal(msg.Payload, &left))
	assert.Equal(t, "bob", left.Username)
}
