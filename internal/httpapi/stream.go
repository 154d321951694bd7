// ABOUTME: Metadata and audio streaming endpoints
// ABOUTME: Cached files get Range-capable serving; misses stream live
package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/chorus-fm/chorus/internal/songcache"
	"github.com/chorus-fm/chorus/internal/store"
)

func (a *API) handleMetadata(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("url")
	if query == "" {
		query = r.URL.Query().Get("q")
	}
	if query == "" {
		respondError(w, http.StatusBadRequest, "url or q parameter is required")
		return
	}

	meta, err := a.fetcher.GetMetadata(r.Context(), query)
	if err != nil {
		status, msg := upstreamStatus(err)
		respondError(w, status, msg)
		return
	}
	respondJSON(w, http.StatusOK, meta)
}

// handleStream serves audio for a source url. A completed cache entry is
// served from disk with seek support; anything else transcodes live and
// schedules a background download for next time.
func (a *API) handleStream(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		url = r.URL.Query().Get("q")
	}
	if url == "" {
		respondError(w, http.StatusBadRequest, "url or q parameter is required")
		return
	}

	if a.pipeline != nil {
		cached, err := a.pipeline.GetCachedSong(r.Context(), url)
		if err == nil && cached != nil && cached.Status == store.SongReady {
			if a.serveCached(w, r, cached) {
				return
			}
		}
	}
	a.serveLive(w, r, url)
}

func (a *API) serveCached(w http.ResponseWriter, r *http.Request, cached *store.CachedSong) bool {
	f, _, err := a.pipeline.CreateCachedStream(cached.FilePath)
	if err != nil {
		// File vanished under us; fall back to a live stream.
		a.log.Warn().Err(err).Str("song", cached.ID).Msg("cached file unreadable")
		return false
	}
	defer f.Close()

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	// ServeContent handles Range and Accept-Ranges.
	http.ServeContent(w, r, cached.ID+".mp3", cached.UpdatedAt, f)
	return true
}

func (a *API) serveLive(w http.ResponseWriter, r *http.Request, url string) {
	stream, err := a.fetcher.CreateStream(r.Context(), url)
	if err != nil {
		status, msg := upstreamStatus(err)
		respondError(w, status, msg)
		return
	}
	defer stream.Close()

	if a.pipeline != nil {
		a.pipeline.StartDownload(r.Context(), url, songcache.Hint{}, "")
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	// Client disconnect cancels r.Context(), which kills the transcode
	// subprocesses behind the stream.
	start := time.Now()
	n, err := io.Copy(w, stream)
	if err != nil {
		a.log.Debug().Err(err).Str("url", url).Msg("live stream ended")
	}
	a.log.Debug().Int64("bytes", n).Dur("elapsed", time.Since(start)).Msg("live stream done")
}
