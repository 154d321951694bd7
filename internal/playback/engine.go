// ABOUTME: Per-lobby playback state machine with a 1s sync broadcast loop
// ABOUTME: Positions are virtual: position + (now - startedAt) while playing
package playback

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/protocol"
	"github.com/chorus-fm/chorus/internal/store"
)

// DriftThreshold is how far a client may lag before a force-sync.
const DriftThreshold = 2.0 // seconds

// Broadcaster fans sync payloads out to a lobby room.
type Broadcaster interface {
	BroadcastSync(lobbyID string, state protocol.SyncState)
}

// ModeSource answers whether a lobby is independent-mode. The lobby
// registry implements this; playback never imports it directly.
type ModeSource interface {
	IsIndependent(lobbyID string) bool
}

// Engine owns every lobby's playback singleton.
type Engine struct {
	mu     sync.Mutex
	states map[string]*state

	clk    clock.Clock
	store  *store.Store
	writer *store.Writer
	log    zerolog.Logger

	broadcaster Broadcaster
	modes       ModeSource

	// onTrackEnded lets the gateway coordinate queue advancement.
	onTrackEnded func(lobbyID string, ended *protocol.Song, repeatMode string)

	tick time.Duration
}

type state struct {
	track           *protocol.Song
	position        float64
	isPlaying       bool
	startedAt       *time.Time
	repeatMode      string
	shuffleEnabled  bool
	shuffledIndices []int
	shuffleIndex    int

	stopLoop chan struct{} // non-nil while the sync loop runs
}

// NewEngine builds the engine. Wire Broadcaster/ModeSource/OnTrackEnded
// before the first playback event.
func NewEngine(clk clock.Clock, st *store.Store, writer *store.Writer, logger zerolog.Logger) *Engine {
	return &Engine{
		states: make(map[string]*state),
		clk:    clk,
		store:  st,
		writer: writer,
		log:    logger.With().Str("component", "playback").Logger(),
		tick:   time.Second,
	}
}

// SetBroadcaster wires the sync fan-out.
func (e *Engine) SetBroadcaster(b Broadcaster) { e.broadcaster = b }

// SetModeSource wires the lobby-mode lookup.
func (e *Engine) SetModeSource(m ModeSource) { e.modes = m }

// OnTrackEnded registers the gateway's end-of-track hook.
func (e *Engine) OnTrackEnded(fn func(lobbyID string, ended *protocol.Song, repeatMode string)) {
	e.onTrackEnded = fn
}

func (e *Engine) get(lobbyID string) *state {
	st, ok := e.states[lobbyID]
	if !ok {
		st = &state{repeatMode: protocol.RepeatOff}
		e.states[lobbyID] = st
	}
	return st
}

func (e *Engine) effectivePosition(st *state) float64 {
	if st.isPlaying && st.startedAt != nil {
		return st.position + e.clk.Now().Sub(*st.startedAt).Seconds()
	}
	return st.position
}

// Play starts the given track, or unpauses when the same track is already
// current.
func (e *Engine) Play(lobbyID string, track *protocol.Song) {
	e.mu.Lock()
	st := e.get(lobbyID)
	now := e.clk.Now()
	if track != nil && (st.track == nil || st.track.ID != track.ID) {
		st.track = track
		st.position = 0
	} else if st.isPlaying {
		// Same track, already playing: fold the elapsed time in before
		// startedAt is rebased, or the playhead rewinds.
		st.position = e.effectivePosition(st)
	}
	if st.track == nil {
		e.mu.Unlock()
		return
	}
	st.isPlaying = true
	st.startedAt = &now
	e.startLoopLocked(lobbyID, st)
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
}

// Pause snapshots the effective position and stops the clock.
func (e *Engine) Pause(lobbyID string) {
	e.mu.Lock()
	st := e.get(lobbyID)
	st.position = e.effectivePosition(st)
	st.isPlaying = false
	st.startedAt = nil
	e.stopLoopLocked(st)
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
}

// Resume restarts the clock from the stored position. No-op without a
// current track.
func (e *Engine) Resume(lobbyID string) {
	e.mu.Lock()
	st := e.get(lobbyID)
	if st.track == nil {
		e.mu.Unlock()
		return
	}
	now := e.clk.Now()
	st.isPlaying = true
	st.startedAt = &now
	e.startLoopLocked(lobbyID, st)
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
}

// Seek clamps to zero and rebases the clock when playing.
func (e *Engine) Seek(lobbyID string, pos float64) {
	if pos < 0 {
		pos = 0
	}
	e.mu.Lock()
	st := e.get(lobbyID)
	st.position = pos
	if st.isPlaying {
		now := e.clk.Now()
		st.startedAt = &now
	}
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
}

// SetTrack replaces the current track at position zero.
func (e *Engine) SetTrack(lobbyID string, track *protocol.Song, autoPlay bool) {
	e.mu.Lock()
	st := e.get(lobbyID)
	st.track = track
	st.position = 0
	if autoPlay && track != nil {
		now := e.clk.Now()
		st.isPlaying = true
		st.startedAt = &now
		e.startLoopLocked(lobbyID, st)
	} else {
		st.isPlaying = false
		st.startedAt = nil
		e.stopLoopLocked(st)
	}
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
}

// TrackEnded handles natural end of the current track. Repeat-one restarts
// in place; every other mode resets and defers to the gateway hook.
func (e *Engine) TrackEnded(lobbyID string) {
	e.mu.Lock()
	st := e.get(lobbyID)
	ended := st.track
	repeatMode := st.repeatMode

	if repeatMode == protocol.RepeatOne && ended != nil {
		now := e.clk.Now()
		st.position = 0
		st.isPlaying = true
		st.startedAt = &now
		e.mu.Unlock()

		e.persist(lobbyID)
		e.broadcast(lobbyID)
		return
	}

	st.isPlaying = false
	st.position = 0
	st.startedAt = nil
	e.stopLoopLocked(st)
	e.mu.Unlock()

	e.persist(lobbyID)
	if e.onTrackEnded != nil {
		e.onTrackEnded(lobbyID, ended, repeatMode)
	}
}

// SetRepeatMode validates and applies the repeat mode.
func (e *Engine) SetRepeatMode(lobbyID, mode string) bool {
	switch mode {
	case protocol.RepeatOff, protocol.RepeatAll, protocol.RepeatOne:
	default:
		return false
	}
	e.mu.Lock()
	e.get(lobbyID).repeatMode = mode
	e.mu.Unlock()

	e.persist(lobbyID)
	e.broadcast(lobbyID)
	return true
}

// ToggleShuffle builds a fresh permutation when enabling and clears it
// when disabling.
func (e *Engine) ToggleShuffle(lobbyID string, enabled bool, queueLen int) {
	e.mu.Lock()
	st := e.get(lobbyID)
	st.shuffleEnabled = enabled
	if enabled {
		st.shuffledIndices = permutation(queueLen)
		st.shuffleIndex = 0
	} else {
		st.shuffledIndices = nil
		st.shuffleIndex = 0
	}
	e.mu.Unlock()

	e.persist(lobbyID)
}

// GetNextShuffleIndex advances the shuffle cursor, reshuffling on wrap.
// Returns -1 when shuffle is off or the queue is empty.
func (e *Engine) GetNextShuffleIndex(lobbyID string, queueLen int) int {
	e.mu.Lock()
	defer func() {
		e.mu.Unlock()
		e.persist(lobbyID)
	}()

	st := e.get(lobbyID)
	if !st.shuffleEnabled || queueLen == 0 {
		return -1
	}
	if len(st.shuffledIndices) != queueLen {
		st.shuffledIndices = permutation(queueLen)
		st.shuffleIndex = 0
	}
	if st.shuffleIndex >= len(st.shuffledIndices) {
		st.shuffledIndices = permutation(queueLen)
		st.shuffleIndex = 0
	}
	idx := st.shuffledIndices[st.shuffleIndex]
	st.shuffleIndex++
	return idx
}

// UpdateShuffleForQueueChange regenerates the permutation when the queue
// length changed materially.
func (e *Engine) UpdateShuffleForQueueChange(lobbyID string, queueLen int) {
	e.mu.Lock()
	st := e.get(lobbyID)
	if st.shuffleEnabled && len(st.shuffledIndices) != queueLen {
		st.shuffledIndices = permutation(queueLen)
		st.shuffleIndex = 0
	}
	e.mu.Unlock()

	e.persist(lobbyID)
}

// GetState snapshots the lobby's sync payload.
func (e *Engine) GetState(lobbyID string) protocol.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.get(lobbyID)
	return protocol.SyncState{
		Type:       "sync",
		LobbyID:    lobbyID,
		Track:      st.track,
		Position:   e.effectivePosition(st),
		IsPlaying:  st.isPlaying,
		RepeatMode: st.repeatMode,
		ServerTime: e.clk.Now().UnixMilli(),
	}
}

// GetShuffleState snapshots the shuffle fields.
func (e *Engine) GetShuffleState(lobbyID string) protocol.ShuffleState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.get(lobbyID)
	return protocol.ShuffleState{
		LobbyID:         lobbyID,
		ShuffleEnabled:  st.shuffleEnabled,
		ShuffledIndices: append([]int(nil), st.shuffledIndices...),
		ShuffleIndex:    st.shuffleIndex,
	}
}

// CurrentTrack returns the current track or nil.
func (e *Engine) CurrentTrack(lobbyID string) *protocol.Song {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.get(lobbyID).track
}

// IsPlaying reports the play flag.
func (e *Engine) IsPlaying(lobbyID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.get(lobbyID).isPlaying
}

// RepeatMode returns the active repeat mode.
func (e *Engine) RepeatMode(lobbyID string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.get(lobbyID).repeatMode
}

// Drifted reports whether a client position is out of tolerance.
func (e *Engine) Drifted(lobbyID string, clientPos float64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := e.get(lobbyID)
	if st.track == nil {
		return false
	}
	diff := e.effectivePosition(st) - clientPos
	if diff < 0 {
		diff = -diff
	}
	return diff > DriftThreshold
}

// InitLobbyFromDB restores a lobby's playback row, forcing isPlaying off
// so a restart never resumes a phantom playhead.
func (e *Engine) InitLobbyFromDB(ctx context.Context, lobbyID string) error {
	row, err := e.store.GetPlaybackState(ctx, lobbyID)
	if err != nil || row == nil {
		return err
	}
	e.mu.Lock()
	st := e.get(lobbyID)
	st.track = row.CurrentTrack
	st.position = row.Position
	st.isPlaying = false
	st.startedAt = nil
	st.repeatMode = row.RepeatMode
	st.shuffleEnabled = row.ShuffleEnabled
	st.shuffledIndices = row.ShuffledIndices
	st.shuffleIndex = row.ShuffleIndex
	e.mu.Unlock()
	return nil
}

// Delete drops a lobby's playback state from memory and disk.
func (e *Engine) Delete(lobbyID string) {
	e.mu.Lock()
	if st, ok := e.states[lobbyID]; ok {
		e.stopLoopLocked(st)
		delete(e.states, lobbyID)
	}
	e.mu.Unlock()

	if e.writer != nil {
		e.writer.Enqueue(func(ctx context.Context) error {
			return e.store.DeletePlaybackState(ctx, lobbyID)
		})
	}
}

// CleanupOrphaned drops states for lobbies not in validIDs.
func (e *Engine) CleanupOrphaned(validIDs map[string]struct{}) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, st := range e.states {
		if _, ok := validIDs[id]; !ok {
			e.stopLoopLocked(st)
			delete(e.states, id)
		}
	}
}

// StopAll halts every sync loop; used at shutdown.
func (e *Engine) StopAll() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, st := range e.states {
		e.stopLoopLocked(st)
	}
}

// --- sync loop ---

func (e *Engine) startLoopLocked(lobbyID string, st *state) {
	if st.stopLoop != nil {
		return
	}
	if e.modes != nil && e.modes.IsIndependent(lobbyID) {
		return
	}
	stop := make(chan struct{})
	st.stopLoop = stop
	go e.loop(lobbyID, stop)
}

func (e *Engine) stopLoopLocked(st *state) {
	if st.stopLoop != nil {
		close(st.stopLoop)
		st.stopLoop = nil
	}
}

func (e *Engine) loop(lobbyID string, stop chan struct{}) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			st, ok := e.states[lobbyID]
			if !ok || !st.isPlaying || st.track == nil {
				e.mu.Unlock()
				continue
			}
			pos := e.effectivePosition(st)
			duration := st.track.Duration
			e.mu.Unlock()

			e.broadcast(lobbyID)
			// Keep the persisted position within one tick of the
			// playhead so a restart resumes close to where it was.
			e.persist(lobbyID)

			if duration > 0 && pos >= duration {
				e.TrackEnded(lobbyID)
			}
		}
	}
}

// broadcast pushes the current state to the lobby room unless the lobby
// is independent-mode.
func (e *Engine) broadcast(lobbyID string) {
	if e.broadcaster == nil {
		return
	}
	if e.modes != nil && e.modes.IsIndependent(lobbyID) {
		return
	}
	e.broadcaster.BroadcastSync(lobbyID, e.GetState(lobbyID))
}

func (e *Engine) persist(lobbyID string) {
	if e.writer == nil {
		return
	}
	e.mu.Lock()
	st := e.get(lobbyID)
	row := store.PlaybackState{
		LobbyID:         lobbyID,
		CurrentTrack:    st.track,
		Position:        e.effectivePosition(st),
		IsPlaying:       st.isPlaying,
		ShuffleEnabled:  st.shuffleEnabled,
		ShuffledIndices: append([]int(nil), st.shuffledIndices...),
		ShuffleIndex:    st.shuffleIndex,
		RepeatMode:      st.repeatMode,
	}
	if st.startedAt != nil {
		t := *st.startedAt
		row.StartedAt = &t
	}
	e.mu.Unlock()

	e.writer.Enqueue(func(ctx context.Context) error {
		return e.store.SavePlaybackState(ctx, row)
	})
}

func permutation(n int) []int {
	if n <= 0 {
		return nil
	}
	p := rand.Perm(n)
	return p
}
