// ABOUTME: Playback control handlers: next/toggle/previous/ended/shuffle
// ABOUTME: Track advancement rules live here; the engine only tracks time
package gateway

import (
	"github.com/chorus-fm/chorus/internal/protocol"
)

// handleNext advances to the next track. queue:next always consumes the
// head; playback:next rotates instead when repeat-all is on, so the queue
// keeps cycling.
func (g *Gateway) handleNext(connID, lobbyID string, isPlaybackNext bool) {
	if lobbyID == "" {
		return
	}
	g.registry.Touch(lobbyID)

	if g.registry.IsIndependent(lobbyID) {
		g.advanceIndependent(connID, lobbyID)
		return
	}

	g.withLobby(lobbyID, func() {
		qlen := g.queues.Len(lobbyID)

		// Shuffle picks by permutation and leaves the queue intact.
		if g.engine.GetShuffleState(lobbyID).ShuffleEnabled && qlen >= 2 {
			idx := g.engine.GetNextShuffleIndex(lobbyID, qlen)
			if song := g.queues.GetSongAtIndex(lobbyID, idx); song != nil {
				g.engine.SetTrack(lobbyID, song, true)
			}
			return
		}

		if isPlaybackNext && g.engine.RepeatMode(lobbyID) == protocol.RepeatAll && qlen >= 2 {
			g.queues.MoveCurrentToEnd(lobbyID)
		} else {
			g.queues.AdvanceQueue(lobbyID)
			g.engine.UpdateShuffleForQueueChange(lobbyID, g.queues.Len(lobbyID))
		}

		if next := g.queues.GetCurrentSong(lobbyID); next != nil {
			g.engine.SetTrack(lobbyID, next, true)
		} else {
			g.engine.SetTrack(lobbyID, nil, false)
		}
	})

	g.hub.Broadcast(lobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: lobbyID,
		Songs:   g.queues.GetSongs(lobbyID),
	})
}

// advanceIndependent moves only this listener's cursor and tells only this
// listener what to play. The lobby broadcast channel stays silent.
func (g *Gateway) advanceIndependent(connID, lobbyID string) {
	next := g.queues.AdvanceUserPosition(lobbyID, connID)
	if next == nil {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "queue is empty"})
		return
	}
	g.hub.Unicast(connID, protocol.EvPlaybackForceSync, protocol.SyncState{
		Type:       "sync",
		LobbyID:    lobbyID,
		Track:      next,
		Position:   0,
		IsPlaying:  true,
		RepeatMode: g.engine.RepeatMode(lobbyID),
		ServerTime: g.clk.Now().UnixMilli(),
	})
}

func (g *Gateway) handlePlaybackToggle(connID, lobbyID string) {
	if lobbyID == "" {
		return
	}
	g.registry.Touch(lobbyID)

	var empty bool
	g.withLobby(lobbyID, func() {
		switch {
		case g.engine.IsPlaying(lobbyID):
			g.engine.Pause(lobbyID)
		case g.engine.CurrentTrack(lobbyID) != nil:
			g.engine.Resume(lobbyID)
		default:
			// Nothing loaded yet: start from the queue head.
			if first := g.queues.GetCurrentSong(lobbyID); first != nil {
				g.engine.SetTrack(lobbyID, first, true)
			} else {
				empty = true
			}
		}
	})
	if empty {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "queue is empty"})
	}
}

// handlePlaybackPrevious restarts the current track from zero. There is no
// played-history stack; previous means "from the top".
func (g *Gateway) handlePlaybackPrevious(connID, lobbyID string) {
	if lobbyID == "" {
		return
	}
	g.registry.Touch(lobbyID)
	g.withLobby(lobbyID, func() {
		if g.engine.CurrentTrack(lobbyID) == nil {
			return
		}
		g.engine.Seek(lobbyID, 0)
		if !g.engine.IsPlaying(lobbyID) {
			g.engine.Resume(lobbyID)
		}
	})
}

func (g *Gateway) handlePlaybackEnded(connID, lobbyID string) {
	if g.registry.IsIndependent(lobbyID) {
		g.advanceIndependent(connID, lobbyID)
		return
	}
	// Not under the lobby lock: the engine's ended hook takes it itself.
	g.engine.TrackEnded(lobbyID)
}

// handleTrackEnded is the engine's hook for a naturally finished track in
// every mode except repeat-one, which the engine restarts on its own.
func (g *Gateway) handleTrackEnded(lobbyID string, ended *protocol.Song, repeatMode string) {
	g.hub.Broadcast(lobbyID, protocol.EvPlaybackTrackEnded, protocol.TrackEnded{
		LobbyID:    lobbyID,
		EndedTrack: ended,
		RepeatMode: repeatMode,
	})

	g.withLobby(lobbyID, func() {
		qlen := g.queues.Len(lobbyID)

		if g.engine.GetShuffleState(lobbyID).ShuffleEnabled && qlen > 0 {
			idx := g.engine.GetNextShuffleIndex(lobbyID, qlen)
			if song := g.queues.GetSongAtIndex(lobbyID, idx); song != nil {
				g.engine.SetTrack(lobbyID, song, true)
			}
			return
		}

		if repeatMode == protocol.RepeatAll && qlen > 0 {
			g.queues.MoveCurrentToEnd(lobbyID)
		} else {
			g.queues.AdvanceQueue(lobbyID)
			g.engine.UpdateShuffleForQueueChange(lobbyID, g.queues.Len(lobbyID))
		}

		if next := g.queues.GetCurrentSong(lobbyID); next != nil {
			g.engine.SetTrack(lobbyID, next, true)
		} else {
			// Queue drained: clear the finished track so the next
			// queue:add autoplays into the empty lobby.
			g.engine.SetTrack(lobbyID, nil, false)
		}
	})

	g.hub.Broadcast(lobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: lobbyID,
		Songs:   g.queues.GetSongs(lobbyID),
	})
}

func (g *Gateway) handleShuffle(connID string, p protocol.PlaybackShuffleSet) {
	if p.LobbyID == "" {
		return
	}
	g.registry.Touch(p.LobbyID)
	g.withLobby(p.LobbyID, func() {
		g.engine.ToggleShuffle(p.LobbyID, p.Enabled, g.queues.Len(p.LobbyID))
	})
	g.hub.Broadcast(p.LobbyID, protocol.EvPlaybackShuffle, g.engine.GetShuffleState(p.LobbyID))
}

// handleReportPosition resyncs one client whose playhead drifted past the
// threshold. Independent listeners are never corrected.
func (g *Gateway) handleReportPosition(connID string, p protocol.PlaybackReportPosition) {
	if p.LobbyID == "" || g.registry.IsIndependent(p.LobbyID) {
		return
	}
	if g.engine.Drifted(p.LobbyID, p.ClientPosition) {
		g.hub.Unicast(connID, protocol.EvPlaybackForceSync, g.engine.GetState(p.LobbyID))
	}
}
