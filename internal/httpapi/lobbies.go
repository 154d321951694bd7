// ABOUTME: Lobby listing, creation, and detail over REST
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/protocol"
)

type lobbySummary struct {
	ID            string `json:"id"`
	Name          string `json:"name,omitempty"`
	ListeningMode string `json:"listeningMode"`
	UserCount     int    `json:"userCount"`
	SongCount     int    `json:"songCount"`
	CreatedAt     int64  `json:"createdAt"`
	LastActivity  int64  `json:"lastActivity"`
}

type lobbyDetail struct {
	lobbySummary
	Users      []protocol.User `json:"users"`
	Queue      []protocol.Song `json:"queue"`
	NowPlaying *protocol.Song  `json:"nowPlaying,omitempty"`
	IsPlaying  bool            `json:"isPlaying"`
}

func (a *API) summarize(l lobby.Lobby) lobbySummary {
	return lobbySummary{
		ID:            l.ID,
		Name:          l.Name,
		ListeningMode: l.ListeningMode,
		UserCount:     a.registry.UserCount(l.ID),
		SongCount:     a.queues.Len(l.ID),
		CreatedAt:     l.CreatedAt.UnixMilli(),
		LastActivity:  l.LastActivity.UnixMilli(),
	}
}

func (a *API) handleListLobbies(w http.ResponseWriter, r *http.Request) {
	all := a.registry.GetAllLobbies()
	out := make([]lobbySummary, 0, len(all))
	for _, l := range all {
		out = append(out, a.summarize(l))
	}
	respondJSON(w, http.StatusOK, map[string]any{"lobbies": out})
}

func (a *API) handleCreateLobby(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name          string `json:"name"`
		ListeningMode string `json:"listeningMode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	l, err := a.registry.CreateLobby("", "", body.ListeningMode, body.Name)
	if err != nil {
		switch {
		case errors.Is(err, lobby.ErrNameTaken):
			respondError(w, http.StatusConflict, "lobby name already taken")
		case errors.Is(err, lobby.ErrNameInvalid), errors.Is(err, lobby.ErrBadMode):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, "lobby creation failed")
		}
		return
	}
	respondJSON(w, http.StatusCreated, struct {
		lobbySummary
		Link string `json:"link"`
	}{a.summarize(*l), "/lobby/" + l.ID})
}

func (a *API) handleGetLobby(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "lobbyID")
	l := a.registry.GetLobby(id)
	if l == nil {
		respondError(w, http.StatusNotFound, "lobby not found")
		return
	}
	respondJSON(w, http.StatusOK, lobbyDetail{
		lobbySummary: a.summarize(*l),
		Users:        a.registry.Users(id),
		Queue:        a.queues.GetSongs(id),
		NowPlaying:   a.engine.CurrentTrack(id),
		IsPlaying:    a.engine.IsPlaying(id),
	})
}
