// ABOUTME: Operator dashboard: cache registry management and server stats
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	lobbies := a.registry.GetAllLobbies()
	users := 0
	for _, l := range lobbies {
		users += a.registry.UserCount(l.ID)
	}

	stats := map[string]any{
		"lobbies": len(lobbies),
		"users":   users,
	}
	if a.connCount != nil {
		stats["connections"] = a.connCount()
	}
	if a.pipeline != nil {
		if songs, err := a.pipeline.GetAllSongs(r.Context()); err == nil {
			stats["cachedSongs"] = len(songs)
		}
	}
	respondJSON(w, http.StatusOK, stats)
}

func (a *API) handleListSongs(w http.ResponseWriter, r *http.Request) {
	if a.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}
	songs, err := a.pipeline.GetAllSongs(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "registry query failed")
		return
	}
	respondJSON(w, http.StatusOK, songs)
}

func (a *API) handleDeleteSong(w http.ResponseWriter, r *http.Request) {
	if a.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}
	if err := a.pipeline.DeleteSong(r.Context(), chi.URLParam(r, "songID")); err != nil {
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteAllSongs(w http.ResponseWriter, r *http.Request) {
	if a.pipeline == nil {
		respondError(w, http.StatusServiceUnavailable, "cache is disabled")
		return
	}
	if err := a.pipeline.DeleteAllSongs(r.Context()); err != nil {
		respondError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
