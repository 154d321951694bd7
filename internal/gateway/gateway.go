// ABOUTME: Event router mapping realtime messages onto the engines
// ABOUTME: Per-lobby mutexes serialize compound queue+playback sequences
package gateway

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/chat"
	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/cover"
	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/playback"
	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/queue"
	"github.com/chorus-fm/chorus/internal/songcache"
)

// Gateway routes client events to the engines and fans state back out.
type Gateway struct {
	hub      *Hub
	registry *lobby.Registry
	queues   *queue.Manager
	engine   *playback.Engine
	chat     *chat.Service
	pipeline *songcache.Pipeline
	covers   *cover.Cache
	fetcher  media.Fetcher
	clk      clock.Clock
	log      zerolog.Logger

	frontendURL string

	// Per-lobby locks keep queue:add and playback:ended from racing on
	// the same queue head. Cross-lobby operations stay independent.
	opMu       sync.Mutex
	lobbyLocks map[string]*sync.Mutex

	playlists *playlistCache
}

// New wires the gateway into the hub and engines.
func New(hub *Hub, registry *lobby.Registry, queues *queue.Manager, engine *playback.Engine,
	chatSvc *chat.Service, pipeline *songcache.Pipeline, covers *cover.Cache,
	fetcher media.Fetcher, clk clock.Clock, frontendURL string, logger zerolog.Logger) *Gateway {

	g := &Gateway{
		hub:         hub,
		registry:    registry,
		queues:      queues,
		engine:      engine,
		chat:        chatSvc,
		pipeline:    pipeline,
		covers:      covers,
		fetcher:     fetcher,
		clk:         clk,
		log:         logger.With().Str("component", "router").Logger(),
		frontendURL: frontendURL,
		lobbyLocks:  make(map[string]*sync.Mutex),
		playlists:   newPlaylistCache(),
	}

	hub.OnMessage(g.dispatch)
	hub.OnDisconnect(g.handleDisconnect)
	engine.SetBroadcaster(hub)
	engine.SetModeSource(registry)
	engine.OnTrackEnded(g.handleTrackEnded)
	if pipeline != nil {
		pipeline.OnEvent(g.handleDownloadEvent)
	}
	return g
}

// withLobby serializes compound operations within one lobby.
func (g *Gateway) withLobby(lobbyID string, fn func()) {
	g.opMu.Lock()
	l, ok := g.lobbyLocks[lobbyID]
	if !ok {
		l = &sync.Mutex{}
		g.lobbyLocks[lobbyID] = l
	}
	g.opMu.Unlock()

	l.Lock()
	defer l.Unlock()
	fn()
}

// ForgetLobby drops the per-lobby lock after eviction.
func (g *Gateway) ForgetLobby(lobbyID string) {
	g.opMu.Lock()
	delete(g.lobbyLocks, lobbyID)
	g.opMu.Unlock()
}

func (g *Gateway) sendError(connID, message string) {
	g.hub.Unicast(connID, protocol.EvLobbyError, protocol.ErrorReply{Message: message})
}

func decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 {
		return v, fmt.Errorf("missing payload")
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func (g *Gateway) dispatch(connID string, msg protocol.Message) {
	switch msg.Event {
	case protocol.EvLobbyCreate:
		if p, err := decode[protocol.LobbyCreate](msg.Payload); err == nil {
			g.handleLobbyCreate(connID, p)
		} else {
			g.sendError(connID, "invalid lobby:create payload")
		}
	case protocol.EvLobbyJoin:
		if p, err := decode[protocol.LobbyJoin](msg.Payload); err == nil {
			g.handleLobbyJoin(connID, p)
		} else {
			g.sendError(connID, "invalid lobby:join payload")
		}
	case protocol.EvLobbyLeave:
		g.handleLobbyLeave(connID)
	case protocol.EvLobbyRename:
		if p, err := decode[protocol.LobbyRename](msg.Payload); err == nil {
			g.handleLobbyRename(connID, p)
		}
	case protocol.EvModeSet:
		if p, err := decode[protocol.ModeSet](msg.Payload); err == nil {
			g.handleModeSet(connID, p)
		}
	case protocol.EvUserUpdate:
		if p, err := decode[protocol.UserUpdate](msg.Payload); err == nil {
			g.handleUserUpdate(connID, p)
		}
	case protocol.EvQueueAdd:
		if p, err := decode[protocol.QueueAdd](msg.Payload); err == nil {
			g.handleQueueAdd(connID, p)
		} else {
			g.sendError(connID, "invalid queue:add payload")
		}
	case protocol.EvQueuePlaylistAdd:
		if p, err := decode[protocol.QueuePlaylistAdd](msg.Payload); err == nil {
			g.handlePlaylistAdd(connID, p)
		}
	case protocol.EvQueueRemove:
		if p, err := decode[protocol.QueueRemove](msg.Payload); err == nil {
			g.handleQueueRemove(connID, p)
		}
	case protocol.EvQueueReorder:
		if p, err := decode[protocol.QueueReorder](msg.Payload); err == nil {
			g.handleQueueReorder(connID, p)
		}
	case protocol.EvQueueGet:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.hub.Unicast(connID, protocol.EvQueueUpdate, protocol.QueueUpdate{
				LobbyID: p.LobbyID,
				Songs:   g.queues.GetSongs(p.LobbyID),
			})
		}
	case protocol.EvQueueNext:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.handleNext(connID, p.LobbyID, false)
		}
	case protocol.EvPlaybackToggle:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.handlePlaybackToggle(connID, p.LobbyID)
		}
	case protocol.EvPlaybackNext:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.handleNext(connID, p.LobbyID, true)
		}
	case protocol.EvPlaybackPrevious:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.handlePlaybackPrevious(connID, p.LobbyID)
		}
	case protocol.EvPlaybackEnded:
		p, err := decode[protocol.LobbyRef](msg.Payload)
		if err != nil || p.LobbyID == "" {
			if room, ok := g.hub.RoomOf(connID); ok {
				p.LobbyID = room
			} else {
				return
			}
		}
		g.handlePlaybackEnded(connID, p.LobbyID)
	case protocol.EvPlaybackPlay:
		if p, err := decode[protocol.PlaybackPlay](msg.Payload); err == nil {
			g.registry.Touch(p.LobbyID)
			g.engine.Play(p.LobbyID, p.Track)
		}
	case protocol.EvPlaybackPause:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.registry.Touch(p.LobbyID)
			g.engine.Pause(p.LobbyID)
		}
	case protocol.EvPlaybackResume:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.registry.Touch(p.LobbyID)
			g.engine.Resume(p.LobbyID)
		}
	case protocol.EvPlaybackSeek:
		if p, err := decode[protocol.PlaybackSeek](msg.Payload); err == nil {
			g.registry.Touch(p.LobbyID)
			g.engine.Seek(p.LobbyID, p.Position)
		}
	case protocol.EvPlaybackSetRepeat:
		if p, err := decode[protocol.PlaybackSetRepeat](msg.Payload); err == nil {
			if !g.engine.SetRepeatMode(p.LobbyID, p.Mode) {
				g.sendError(connID, "invalid repeat mode")
			}
		}
	case protocol.EvPlaybackShuffle:
		if p, err := decode[protocol.PlaybackShuffleSet](msg.Payload); err == nil {
			g.handleShuffle(connID, p)
		}
	case protocol.EvPlaybackReportPos:
		if p, err := decode[protocol.PlaybackReportPosition](msg.Payload); err == nil {
			g.handleReportPosition(connID, p)
		}
	case protocol.EvPlaybackGetState:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.hub.Ack(connID, msg.AckID, g.engine.GetState(p.LobbyID))
		}
	case protocol.EvPlaybackGetShuffle:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.hub.Ack(connID, msg.AckID, g.engine.GetShuffleState(p.LobbyID))
		}
	case protocol.EvChatSend:
		if p, err := decode[protocol.ChatSend](msg.Payload); err == nil {
			g.handleChatSend(connID, p)
		}
	case protocol.EvChatHistory:
		if p, err := decode[protocol.LobbyRef](msg.Payload); err == nil {
			g.hub.Unicast(connID, protocol.EvChatHistory, g.chat.GetHistory(p.LobbyID, 50))
		}
	default:
		g.log.Debug().Str("event", msg.Event).Msg("unknown event")
	}
}

// handleDownloadEvent routes pipeline transitions into the lobby room
// that asked for the download.
func (g *Gateway) handleDownloadEvent(ev songcache.Event) {
	if ev.LobbyID == "" {
		return
	}
	if ev.Status == "downloading" && ev.Percent > 0 && ev.Error == "" {
		g.hub.Broadcast(ev.LobbyID, protocol.EvDownloadProgress, protocol.DownloadProgress{
			URL:     ev.URL,
			SongID:  ev.SongID,
			Percent: ev.Percent,
		})
		return
	}
	g.hub.Broadcast(ev.LobbyID, protocol.EvDownloadStatus, protocol.DownloadStatus{
		URL:     ev.URL,
		SongID:  ev.SongID,
		Status:  ev.Status,
		Percent: ev.Percent,
		Error:   ev.Error,
	})
}
