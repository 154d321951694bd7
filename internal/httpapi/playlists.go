// ABOUTME: REST CRUD for persistent playlists
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/chorus-fm/chorus/internal/playlist"
)

func playlistStatus(err error) (int, string) {
	switch {
	case errors.Is(err, playlist.ErrNotFound):
		return http.StatusNotFound, "playlist not found"
	case errors.Is(err, playlist.ErrInvalid):
		return http.StatusBadRequest, "invalid input"
	case errors.Is(err, playlist.ErrUnavailable):
		return http.StatusServiceUnavailable, "persistence is disabled"
	default:
		return http.StatusInternalServerError, "playlist operation failed"
	}
}

func (a *API) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		respondError(w, http.StatusBadRequest, "userId parameter is required")
		return
	}
	lists, err := a.playlists.List(r.Context(), userID)
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, lists)
}

func (a *API) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
		Name   string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	p, err := a.playlists.Create(r.Context(), body.UserID, body.Name)
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (a *API) handleGetPlaylist(w http.ResponseWriter, r *http.Request) {
	p, err := a.playlists.Get(r.Context(), chi.URLParam(r, "playlistID"))
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, p)
}

func (a *API) handleRenamePlaylist(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := a.playlists.Rename(r.Context(), chi.URLParam(r, "playlistID"), body.Name); err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeletePlaylist(w http.ResponseWriter, r *http.Request) {
	if err := a.playlists.Delete(r.Context(), chi.URLParam(r, "playlistID")); err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleAddPlaylistSong(w http.ResponseWriter, r *http.Request) {
	var body playlist.Song
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	song, err := a.playlists.AddSong(r.Context(), chi.URLParam(r, "playlistID"), body)
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusCreated, song)
}

func (a *API) handleRemovePlaylistSong(w http.ResponseWriter, r *http.Request) {
	err := a.playlists.RemoveSong(r.Context(),
		chi.URLParam(r, "playlistID"), chi.URLParam(r, "songID"))
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReorderPlaylistSong(w http.ResponseWriter, r *http.Request) {
	var body struct {
		NewIndex int `json:"newIndex"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	err := a.playlists.ReorderSong(r.Context(),
		chi.URLParam(r, "playlistID"), chi.URLParam(r, "songID"), body.NewIndex)
	if err != nil {
		status, msg := playlistStatus(err)
		respondError(w, status, msg)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
