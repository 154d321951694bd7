// ABOUTME: Wire types for the lobby realtime protocol
// ABOUTME: Event names plus typed JSON payloads for both directions
package protocol

import "encoding/json"

// Message is the top-level wrapper for every realtime event.
type Message struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	// AckID, when set, asks the server to answer with an ack frame
	// carrying the same id instead of a broadcast.
	AckID int64 `json:"ackId,omitempty"`
}

// Client → server event names.
const (
	EvLobbyCreate        = "lobby:create"
	EvLobbyJoin          = "lobby:join"
	EvLobbyLeave         = "lobby:leave"
	EvLobbyRename        = "lobby:rename"
	EvModeSet            = "mode:set"
	EvUserUpdate         = "user:update"
	EvQueueAdd           = "queue:add"
	EvQueuePlaylistAdd   = "queue:playlist-add"
	EvQueueRemove        = "queue:remove"
	EvQueueReorder       = "queue:reorder"
	EvQueueGet           = "queue:get"
	EvQueueNext          = "queue:next"
	EvPlaybackToggle     = "playback:toggle"
	EvPlaybackNext       = "playback:next"
	EvPlaybackPrevious   = "playback:previous"
	EvPlaybackEnded      = "playback:ended"
	EvPlaybackPlay       = "playback:play"
	EvPlaybackPause      = "playback:pause"
	EvPlaybackResume     = "playback:resume"
	EvPlaybackSeek       = "playback:seek"
	EvPlaybackSetRepeat  = "playback:setRepeat"
	EvPlaybackShuffle    = "playback:shuffle"
	EvPlaybackReportPos  = "playback:reportPosition"
	EvPlaybackGetState   = "playback:getState"
	EvPlaybackGetShuffle = "playback:getShuffleState"
	EvChatSend           = "chat:send"
	EvChatHistory        = "chat:history"
)

// Server → client event names.
const (
	EvLobbyCreated          = "lobby:created"
	EvLobbyJoined           = "lobby:joined"
	EvLobbyRenamed          = "lobby:renamed"
	EvLobbyUserJoined       = "lobby:user-joined"
	EvUserLeft              = "user-left"
	EvUsersUpdated          = "users:updated"
	EvModeChanged           = "mode:changed"
	EvLobbyError            = "lobby:error"
	EvLobbyClosed           = "lobby:closed"
	EvQueueUpdate           = "queue:update"
	EvQueueAdding           = "queue:adding"
	EvQueueError            = "queue:error"
	EvQueuePlaylistConfirm  = "queue:playlist-confirm"
	EvQueuePlaylistInfo     = "queue:playlist-info"
	EvQueuePlaylistProgress = "queue:playlist-progress"
	EvQueuePlaylistComplete = "queue:playlist-complete"
	EvPlaybackSync          = "playback:sync"
	EvPlaybackForceSync     = "playback:forceSync"
	EvPlaybackTrackEnded    = "playback:trackEnded"
	EvDownloadStatus        = "download:status"
	EvDownloadProgress      = "download:progress"
	EvChatMessage           = "chat:message"
	EvAck                   = "ack"
)

// Listening modes.
const (
	ModeSynchronized = "synchronized"
	ModeIndependent  = "independent"
)

// Repeat modes.
const (
	RepeatOff = "off"
	RepeatAll = "all"
	RepeatOne = "one"
)

// Song is a queue entry. The same shape travels on the wire and lives in
// the queue and playback engines.
type Song struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	AddedBy   string  `json:"addedBy,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	AddedAt   int64   `json:"addedAt,omitempty"`
}

// User is a lobby membership record as seen by clients.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Emoji    string `json:"emoji,omitempty"`
	Mode     string `json:"mode"`
}

// --- client → server payloads ---

type LobbyCreate struct {
	Username      string `json:"username"`
	Emoji         string `json:"emoji,omitempty"`
	ListeningMode string `json:"listeningMode,omitempty"`
	Name          string `json:"name,omitempty"`
}

type LobbyJoin struct {
	LobbyID  string `json:"lobbyId"`
	Username string `json:"username"`
	Emoji    string `json:"emoji,omitempty"`
}

type LobbyLeave struct {
	LobbyID string `json:"lobbyId"`
}

type LobbyRename struct {
	LobbyID string `json:"lobbyId"`
	Name    string `json:"name"`
}

type ModeSet struct {
	LobbyID string `json:"lobbyId,omitempty"`
	Mode    string `json:"mode"`
}

type UserUpdate struct {
	LobbyID  string `json:"lobbyId,omitempty"`
	Username string `json:"username,omitempty"`
	Emoji    string `json:"emoji,omitempty"`
}

type QueueAdd struct {
	LobbyID   string  `json:"lobbyId"`
	Query     string  `json:"query,omitempty"`
	URL       string  `json:"url,omitempty"`
	Title     string  `json:"title,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	AddedBy   string  `json:"addedBy,omitempty"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

type QueuePlaylistAdd struct {
	LobbyID string `json:"lobbyId"`
	URL     string `json:"url"`
	Mode    string `json:"mode"` // "single" or "all"
	AddedBy string `json:"addedBy,omitempty"`
}

type QueueRemove struct {
	LobbyID string `json:"lobbyId"`
	SongID  string `json:"songId"`
}

type QueueReorder struct {
	LobbyID  string `json:"lobbyId"`
	SongID   string `json:"songId"`
	NewIndex int    `json:"newIndex"`
}

type LobbyRef struct {
	LobbyID string `json:"lobbyId"`
}

type PlaybackPlay struct {
	LobbyID string `json:"lobbyId"`
	Track   *Song  `json:"track,omitempty"`
}

type PlaybackSeek struct {
	LobbyID  string  `json:"lobbyId"`
	Position float64 `json:"position"`
}

type PlaybackSetRepeat struct {
	LobbyID string `json:"lobbyId"`
	Mode    string `json:"mode"`
}

type PlaybackShuffleSet struct {
	LobbyID     string `json:"lobbyId"`
	Enabled     bool   `json:"enabled"`
	QueueLength int    `json:"queueLength"`
}

type PlaybackReportPosition struct {
	LobbyID        string  `json:"lobbyId"`
	ClientPosition float64 `json:"clientPosition"`
}

type ChatSend struct {
	LobbyID string `json:"lobbyId"`
	Content string `json:"content"`
}

// --- server → client payloads ---

type LobbyState struct {
	LobbyID       string `json:"lobbyId"`
	Name          string `json:"name,omitempty"`
	ListeningMode string `json:"listeningMode"`
	Users         []User `json:"users"`
	Link          string `json:"link,omitempty"`
}

type ErrorReply struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type QueueUpdate struct {
	LobbyID string `json:"lobbyId"`
	Songs   []Song `json:"songs"`
}

// SyncState is the payload of playback:sync and playback:forceSync.
type SyncState struct {
	Type       string  `json:"type"` // always "sync"
	LobbyID    string  `json:"lobbyId"`
	Track      *Song   `json:"track"`
	Position   float64 `json:"position"`
	IsPlaying  bool    `json:"isPlaying"`
	RepeatMode string  `json:"repeatMode"`
	ServerTime int64   `json:"serverTime"` // unix milliseconds
}

type TrackEnded struct {
	LobbyID    string `json:"lobbyId"`
	EndedTrack *Song  `json:"endedTrack"`
	RepeatMode string `json:"repeatMode,omitempty"`
}

type ShuffleState struct {
	LobbyID         string `json:"lobbyId"`
	ShuffleEnabled  bool   `json:"shuffleEnabled"`
	ShuffledIndices []int  `json:"shuffledIndices,omitempty"`
	ShuffleIndex    int    `json:"shuffleIndex,omitempty"`
}

type DownloadStatus struct {
	URL     string  `json:"url"`
	SongID  string  `json:"songId"`
	Status  string  `json:"status"`
	Percent float64 `json:"percent,omitempty"`
	Error   string  `json:"error,omitempty"`
}

type DownloadProgress struct {
	URL     string  `json:"url"`
	SongID  string  `json:"songId"`
	Percent float64 `json:"percent"`
}

type PlaylistConfirm struct {
	LobbyID    string `json:"lobbyId"`
	URL        string `json:"url"`
	FirstItem  Song   `json:"firstItem"`
	TotalCount int    `json:"totalCount"`
	Title      string `json:"title,omitempty"`
}

type PlaylistProgress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Title   string `json:"title"`
}

type PlaylistComplete struct {
	LobbyID string `json:"lobbyId"`
	Added   int    `json:"added"`
	Total   int    `json:"total"`
}

type ChatMessage struct {
	ID        string `json:"id"`
	LobbyID   string `json:"lobbyId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	Emoji     string `json:"emoji,omitempty"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Encode wraps a payload into a Message frame.
func Encode(event string, payload any) (Message, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, err
	}
	return Message{Event: event, Payload: raw}, nil
}
