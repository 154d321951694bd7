// ABOUTME: Queue event handlers: add, playlist resolution, remove, reorder
// ABOUTME: Metadata and playlist fetches run outside the lobby lock
package gateway

import (
	"context"
	"time"

	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/songcache"
)

const fetchTimeout = 30 * time.Second

func (g *Gateway) handleQueueAdd(connID string, p protocol.QueueAdd) {
	if p.LobbyID == "" {
		g.sendError(connID, "lobbyId is required")
		return
	}
	input := p.URL
	if input == "" {
		input = p.Query
	}
	if input == "" {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "url or query is required"})
		return
	}

	if media.IsPlaylistURL(input) {
		go g.resolvePlaylist(connID, p.LobbyID, input)
		return
	}

	if p.Title != "" {
		g.addResolvedSong(connID, p.LobbyID, protocol.Song{
			URL:       input,
			Title:     p.Title,
			Duration:  p.Duration,
			AddedBy:   p.AddedBy,
			Thumbnail: p.Thumbnail,
		})
		return
	}

	// No title supplied: resolve metadata first, off the read loop.
	g.hub.Unicast(connID, protocol.EvQueueAdding, protocol.ErrorReply{Message: "fetching metadata"})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		meta, err := g.fetcher.GetMetadata(ctx, input)
		if err != nil {
			g.hub.Unicast(connID, protocol.EvQueueError, upstreamReply(err))
			return
		}
		g.addResolvedSong(connID, p.LobbyID, protocol.Song{
			URL:       meta.URL,
			Title:     meta.Title,
			Duration:  meta.Duration,
			AddedBy:   p.AddedBy,
			Thumbnail: meta.Thumbnail,
		})
	}()
}

// addResolvedSong appends under the lobby lock, starts playback when the
// queue was idle, then kicks off the background download and cover fetch.
func (g *Gateway) addResolvedSong(connID, lobbyID string, song protocol.Song) {
	var added protocol.Song
	g.withLobby(lobbyID, func() {
		added = g.queues.AddSong(lobbyID, song)
		g.registry.Touch(lobbyID)
		g.engine.UpdateShuffleForQueueChange(lobbyID, g.queues.Len(lobbyID))

		if g.engine.CurrentTrack(lobbyID) == nil && !g.registry.IsIndependent(lobbyID) {
			g.engine.SetTrack(lobbyID, &added, true)
		}
	})

	g.hub.Broadcast(lobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: lobbyID,
		Songs:   g.queues.GetSongs(lobbyID),
	})

	g.startBackgroundCache(lobbyID, added)
}

func (g *Gateway) startBackgroundCache(lobbyID string, song protocol.Song) {
	if g.pipeline != nil {
		g.pipeline.StartDownload(context.Background(), song.URL, songcache.Hint{
			Title:     song.Title,
			Duration:  song.Duration,
			Thumbnail: song.Thumbnail,
		}, lobbyID)
	}
	if g.covers != nil && song.Thumbnail != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if _, err := g.covers.Fetch(ctx, song.ID, song.Thumbnail); err != nil {
				g.log.Debug().Err(err).Str("song", song.ID).Msg("cover fetch failed")
			}
		}()
	}
}

// resolvePlaylist answers queue:add for playlist urls with a confirm
// prompt carrying the first item and aggregate info.
func (g *Gateway) resolvePlaylist(connID, lobbyID, url string) {
	items, ok := g.playlists.get(url)
	if !ok {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		fetched, err := g.fetcher.GetPlaylistItems(ctx, url)
		if err != nil {
			g.hub.Unicast(connID, protocol.EvQueueError, upstreamReply(err))
			return
		}
		items = fetched
		g.playlists.put(url, items)
	}
	if len(items) == 0 {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "playlist is empty"})
		return
	}

	first := items[0]
	g.hub.Unicast(connID, protocol.EvQueuePlaylistConfirm, protocol.PlaylistConfirm{
		LobbyID: lobbyID,
		URL:     url,
		FirstItem: protocol.Song{
			URL:       first.URL,
			Title:     first.Title,
			Duration:  first.Duration,
			Thumbnail: first.Thumbnail,
		},
		TotalCount: len(items),
	})
}

func (g *Gateway) handlePlaylistAdd(connID string, p protocol.QueuePlaylistAdd) {
	if p.LobbyID == "" || p.URL == "" {
		g.sendError(connID, "lobbyId and url are required")
		return
	}
	items, ok := g.playlists.get(p.URL)
	if !ok {
		// Confirm window expired; resolve again.
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		fetched, err := g.fetcher.GetPlaylistItems(ctx, p.URL)
		if err != nil {
			g.hub.Unicast(connID, protocol.EvQueueError, upstreamReply(err))
			return
		}
		items = fetched
		g.playlists.put(p.URL, items)
	}

	if len(items) == 0 {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "playlist is empty"})
		return
	}

	first := protocol.Song{
		URL:       items[0].URL,
		Title:     items[0].Title,
		Duration:  items[0].Duration,
		AddedBy:   p.AddedBy,
		Thumbnail: items[0].Thumbnail,
	}
	g.addResolvedSong(connID, p.LobbyID, first)

	if p.Mode != "all" {
		g.hub.Broadcast(p.LobbyID, protocol.EvQueuePlaylistComplete, protocol.PlaylistComplete{
			LobbyID: p.LobbyID, Added: 1, Total: len(items),
		})
		return
	}

	rest := items[1:]
	g.hub.Broadcast(p.LobbyID, protocol.EvQueuePlaylistInfo, protocol.PlaylistProgress{
		Current: 1, Total: len(items), Title: first.Title,
	})

	// The remainder lands progressively so the room sees the queue grow.
	go func() {
		added := 1
		for i, item := range rest {
			song := protocol.Song{
				URL:       item.URL,
				Title:     item.Title,
				Duration:  item.Duration,
				AddedBy:   p.AddedBy,
				Thumbnail: item.Thumbnail,
			}
			g.withLobby(p.LobbyID, func() {
				g.queues.AddSong(p.LobbyID, song)
				g.engine.UpdateShuffleForQueueChange(p.LobbyID, g.queues.Len(p.LobbyID))
			})
			added++
			g.hub.Broadcast(p.LobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
				LobbyID: p.LobbyID,
				Songs:   g.queues.GetSongs(p.LobbyID),
			})
			g.hub.Broadcast(p.LobbyID, protocol.EvQueuePlaylistProgress, protocol.PlaylistProgress{
				Current: i + 2, Total: len(items), Title: song.Title,
			})
		}
		g.registry.Touch(p.LobbyID)
		g.hub.Broadcast(p.LobbyID, protocol.EvQueuePlaylistComplete, protocol.PlaylistComplete{
			LobbyID: p.LobbyID, Added: added, Total: len(items),
		})
	}()
}

func (g *Gateway) handleQueueRemove(connID string, p protocol.QueueRemove) {
	var removed bool
	g.withLobby(p.LobbyID, func() {
		removed = g.queues.RemoveSong(p.LobbyID, p.SongID) != nil
		if removed {
			g.registry.Touch(p.LobbyID)
			g.engine.UpdateShuffleForQueueChange(p.LobbyID, g.queues.Len(p.LobbyID))
		}
	})
	if !removed {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "song not found"})
		return
	}
	g.hub.Broadcast(p.LobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: p.LobbyID,
		Songs:   g.queues.GetSongs(p.LobbyID),
	})
}

func (g *Gateway) handleQueueReorder(connID string, p protocol.QueueReorder) {
	var ok bool
	g.withLobby(p.LobbyID, func() {
		ok = g.queues.ReorderSong(p.LobbyID, p.SongID, p.NewIndex)
		if ok {
			g.registry.Touch(p.LobbyID)
		}
	})
	if !ok {
		g.hub.Unicast(connID, protocol.EvQueueError, protocol.ErrorReply{Message: "invalid reorder"})
		return
	}
	g.hub.Broadcast(p.LobbyID, protocol.EvQueueUpdate, protocol.QueueUpdate{
		LobbyID: p.LobbyID,
		Songs:   g.queues.GetSongs(p.LobbyID),
	})
}

func upstreamReply(err error) protocol.ErrorReply {
	if ue, ok := media.AsUpstream(err); ok {
		return protocol.ErrorReply{Message: ue.Message, Code: ue.Code}
	}
	return protocol.ErrorReply{Message: err.Error()}
}
