// ABOUTME: Cover art endpoint backed by the LRU disk cache
package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// handleCover serves cached artwork for a song. A fallback query parameter
// names the upstream image to fetch on a cache miss.
func (a *API) handleCover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "songID")
	if a.covers == nil {
		respondError(w, http.StatusNotFound, "covers are disabled")
		return
	}

	entry, ok := a.covers.Get(id)
	if !ok {
		fallback := r.URL.Query().Get("fallback")
		if fallback == "" {
			respondError(w, http.StatusNotFound, "cover not cached")
			return
		}
		fetched, err := a.covers.Fetch(r.Context(), id, fallback)
		if err != nil {
			// The original url still works for the client directly.
			http.Redirect(w, r, fallback, http.StatusTemporaryRedirect)
			return
		}
		entry = fetched
	}

	w.Header().Set("Content-Type", entry.ContentType)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	http.ServeFile(w, r, entry.Path)
}
