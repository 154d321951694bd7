// ABOUTME: Lobby membership, naming, mode, and chat event handlers
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/protocol"
)

func (g *Gateway) handleLobbyCreate(connID string, p protocol.LobbyCreate) {
	l, err := g.registry.CreateLobby(connID, "", p.ListeningMode, p.Name)
	if err != nil {
		g.sendError(connID, lobbyErrMessage(err))
		return
	}

	if _, joinErr := g.registry.JoinLobby(l.ID, connID, p.Username, p.Emoji); joinErr != nil {
		g.sendError(connID, "failed to join lobby")
		return
	}
	g.hub.JoinRoom(connID, l.ID)

	g.hub.Unicast(connID, protocol.EvLobbyCreated, protocol.LobbyState{
		LobbyID:       l.ID,
		Name:          l.Name,
		ListeningMode: l.ListeningMode,
		Users:         g.registry.Users(l.ID),
		Link:          "/lobby/" + l.ID,
	})
}

func (g *Gateway) handleLobbyJoin(connID string, p protocol.LobbyJoin) {
	if p.LobbyID == "" {
		g.sendError(connID, "lobbyId is required")
		return
	}

	l := g.registry.GetLobby(p.LobbyID)
	if l == nil {
		// Unknown id: create the lobby under the supplied id, but only
		// when it looks like one of ours (blunts bulk id scanning).
		if !lobby.ValidID(p.LobbyID) {
			g.sendError(connID, "lobby not found")
			return
		}
		var err error
		l, err = g.registry.CreateLobby(connID, p.LobbyID, "", "")
		if err != nil {
			g.sendError(connID, lobbyErrMessage(err))
			return
		}
		g.restoreLobbyState(l.ID)
	}

	// Already in another lobby: leave it first.
	if prev, ok := g.hub.RoomOf(connID); ok && prev != l.ID {
		g.leaveLobby(connID, prev)
	}

	if _, err := g.registry.JoinLobby(l.ID, connID, p.Username, p.Emoji); err != nil {
		g.sendError(connID, "failed to join lobby")
		return
	}
	g.hub.JoinRoom(connID, l.ID)

	g.hub.Unicast(connID, protocol.EvLobbyJoined, protocol.LobbyState{
		LobbyID:       l.ID,
		Name:          l.Name,
		ListeningMode: l.ListeningMode,
		Users:         g.registry.Users(l.ID),
	})

	if l.ListeningMode == protocol.ModeSynchronized {
		g.hub.Unicast(connID, protocol.EvPlaybackSync, g.engine.GetState(l.ID))
	}
	g.hub.Unicast(connID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: l.ID,
		Songs:   g.queues.GetSongs(l.ID),
	})
	g.hub.Unicast(connID, protocol.EvPlaybackShuffle, g.engine.GetShuffleState(l.ID))

	g.hub.Broadcast(l.ID, protocol.EvLobbyUserJoined, protocol.LobbyState{
		LobbyID: l.ID,
		Users:   g.registry.Users(l.ID),
	}, connID)
}

// restoreLobbyState reloads queue and playback for a lobby pulled back
// from the store.
func (g *Gateway) restoreLobbyState(lobbyID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := g.queues.LoadFromDB(ctx, lobbyID); err != nil {
		g.log.Warn().Err(err).Str("lobby", lobbyID).Msg("queue restore failed")
	}
	if err := g.engine.InitLobbyFromDB(ctx, lobbyID); err != nil {
		g.log.Warn().Err(err).Str("lobby", lobbyID).Msg("playback restore failed")
	}
}

func (g *Gateway) handleLobbyLeave(connID string) {
	if lobbyID, ok := g.hub.RoomOf(connID); ok {
		g.leaveLobby(connID, lobbyID)
	}
}

func (g *Gateway) leaveLobby(connID, lobbyID string) {
	user := g.registry.LeaveLobby(lobbyID, connID)
	g.queues.RemoveUserPosition(lobbyID, connID)
	g.hub.LeaveRoom(connID)

	if user != nil {
		g.hub.Broadcast(lobbyID, protocol.EvUserLeft, protocol.User{
			ID:       connID,
			Username: user.Username,
			Emoji:    user.Emoji,
			Mode:     user.Mode,
		})
		g.hub.Broadcast(lobbyID, protocol.EvUsersUpdated, protocol.LobbyState{
			LobbyID: lobbyID,
			Users:   g.registry.Users(lobbyID),
		})
	}
}

func (g *Gateway) handleDisconnect(connID string) {
	if lobbyID, ok := g.hub.RoomOf(connID); ok {
		g.leaveLobby(connID, lobbyID)
	}
	g.chat.DropConnection(connID)
}

func (g *Gateway) handleLobbyRename(connID string, p protocol.LobbyRename) {
	if err := g.registry.RenameLobby(p.LobbyID, p.Name); err != nil {
		g.sendError(connID, lobbyErrMessage(err))
		return
	}
	g.hub.Broadcast(p.LobbyID, protocol.EvLobbyRenamed, protocol.LobbyState{
		LobbyID: p.LobbyID,
		Name:    p.Name,
		Users:   g.registry.Users(p.LobbyID),
	})
}

func (g *Gateway) handleModeSet(connID string, p protocol.ModeSet) {
	lobbyID := p.LobbyID
	if lobbyID == "" {
		room, ok := g.hub.RoomOf(connID)
		if !ok {
			return
		}
		lobbyID = room
	}
	if err := g.registry.SetUserMode(lobbyID, connID, p.Mode); err != nil {
		g.sendError(connID, lobbyErrMessage(err))
		return
	}
	g.hub.Broadcast(lobbyID, protocol.EvModeChanged, protocol.User{ID: connID, Mode: p.Mode})
	g.hub.Broadcast(lobbyID, protocol.EvUsersUpdated, protocol.LobbyState{
		LobbyID: lobbyID,
		Users:   g.registry.Users(lobbyID),
	})
}

func (g *Gateway) handleUserUpdate(connID string, p protocol.UserUpdate) {
	lobbyID := p.LobbyID
	if lobbyID == "" {
		room, ok := g.hub.RoomOf(connID)
		if !ok {
			return
		}
		lobbyID = room
	}
	if err := g.registry.UpdateUser(lobbyID, connID, p.Username, p.Emoji); err != nil {
		return
	}
	g.hub.Broadcast(lobbyID, protocol.EvUsersUpdated, protocol.LobbyState{
		LobbyID: lobbyID,
		Users:   g.registry.Users(lobbyID),
	})
}

func (g *Gateway) handleChatSend(connID string, p protocol.ChatSend) {
	if p.LobbyID == "" || p.Content == "" {
		return
	}
	if g.chat.IsThrottled(connID) {
		// Only the offender hears about it.
		g.sendError(connID, "you are sending messages too quickly")
		return
	}

	var username, emoji string
	for _, u := range g.registry.Users(p.LobbyID) {
		if u.ID == connID {
			username, emoji = u.Username, u.Emoji
			break
		}
	}
	if username == "" {
		g.sendError(connID, "join the lobby before chatting")
		return
	}

	msg := g.chat.AddMessage(p.LobbyID, connID, username, emoji, p.Content)
	g.registry.Touch(p.LobbyID)
	g.hub.Broadcast(p.LobbyID, protocol.EvChatMessage, msg)
}

func lobbyErrMessage(err error) string {
	switch {
	case errors.Is(err, lobby.ErrNameTaken):
		return "lobby name already taken"
	case errors.Is(err, lobby.ErrNameInvalid):
		return "lobby name must be 1-50 characters"
	case errors.Is(err, lobby.ErrNotFound):
		return "lobby not found"
	case errors.Is(err, lobby.ErrBadMode):
		return "invalid mode"
	default:
		return fmt.Sprintf("lobby operation failed: %v", err)
	}
}
