// ABOUTME: HTTP surface: REST endpoints, audio streaming, and the ws mount
// ABOUTME: chi router with request logging, rate limiting, and CORS
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/cover"
	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/playback"
	"github.com/chorus-fm/chorus/internal/playlist"
	"github.com/chorus-fm/chorus/internal/queue"
	"github.com/chorus-fm/chorus/internal/songcache"
	"github.com/chorus-fm/chorus/internal/version"
)

// API bundles everything the HTTP handlers reach into.
type API struct {
	registry  *lobby.Registry
	queues    *queue.Manager
	engine    *playback.Engine
	pipeline  *songcache.Pipeline
	covers    *cover.Cache
	fetcher   media.Fetcher
	playlists *playlist.Service
	ws        http.HandlerFunc
	connCount func() int
	dbCheck   func() bool
	started   time.Time
	log       zerolog.Logger

	frontendURL string
	dashUser    string
	dashPass    string
}

// Config carries the handler dependencies.
type Config struct {
	Registry    *lobby.Registry
	Queues      *queue.Manager
	Engine      *playback.Engine
	Pipeline    *songcache.Pipeline
	Covers      *cover.Cache
	Fetcher     media.Fetcher
	Playlists   *playlist.Service
	WSHandler   http.HandlerFunc
	ConnCount   func() int
	DBAvailable func() bool
	FrontendURL string
	DashUser    string
	DashPass    string
	Logger      zerolog.Logger
}

// New builds the API.
func New(cfg Config) *API {
	return &API{
		registry:    cfg.Registry,
		queues:      cfg.Queues,
		engine:      cfg.Engine,
		pipeline:    cfg.Pipeline,
		covers:      cfg.Covers,
		fetcher:     cfg.Fetcher,
		playlists:   cfg.Playlists,
		ws:          cfg.WSHandler,
		connCount:   cfg.ConnCount,
		dbCheck:     cfg.DBAvailable,
		started:     time.Now(),
		frontendURL: cfg.FrontendURL,
		dashUser:    cfg.DashUser,
		dashPass:    cfg.DashPass,
		log:         cfg.Logger.With().Str("component", "http").Logger(),
	}
}

// Router assembles the full route tree.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(a.requestLogger)
	r.Use(a.corsHeaders)

	r.Get("/health", a.handleHealth)
	if a.ws != nil {
		r.Get("/ws", a.ws)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(240, time.Minute))

		r.Get("/version", a.handleVersion)
		r.Get("/metadata", a.handleMetadata)
		r.Get("/stream", a.handleStream)
		r.Get("/covers/{songID}", a.handleCover)

		r.Route("/lobbies", func(r chi.Router) {
			r.Get("/", a.handleListLobbies)
			r.Post("/", a.handleCreateLobby)
			r.Get("/{lobbyID}", a.handleGetLobby)
		})

		r.Route("/playlists", func(r chi.Router) {
			r.Use(a.requirePlaylists)
			r.Get("/", a.handleListPlaylists)
			r.Post("/", a.handleCreatePlaylist)
			r.Get("/{playlistID}", a.handleGetPlaylist)
			r.Patch("/{playlistID}", a.handleRenamePlaylist)
			r.Delete("/{playlistID}", a.handleDeletePlaylist)
			r.Post("/{playlistID}/songs", a.handleAddPlaylistSong)
			r.Delete("/{playlistID}/songs/{songID}", a.handleRemovePlaylistSong)
			r.Post("/{playlistID}/songs/{songID}/reorder", a.handleReorderPlaylistSong)
		})

		r.Route("/dashboard", func(r chi.Router) {
			r.Use(a.basicAuth)
			r.Get("/stats", a.handleStats)
			r.Get("/songs", a.handleListSongs)
			r.Delete("/songs", a.handleDeleteAllSongs)
			r.Delete("/songs/{songID}", a.handleDeleteSong)
		})
	})

	return r
}

func (a *API) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func (a *API) corsHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := a.frontendURL
		if origin == "" {
			origin = "*"
		}
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) basicAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok ||
			subtle.ConstantTimeCompare([]byte(user), []byte(a.dashUser)) != 1 ||
			subtle.ConstantTimeCompare([]byte(pass), []byte(a.dashPass)) != 1 {
			w.Header().Set("WWW-Authenticate", `Basic realm="dashboard"`)
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) requirePlaylists(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.playlists == nil || !a.playlists.Available() {
			respondError(w, http.StatusServiceUnavailable, "persistence is disabled")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	body := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
		"uptime":    int64(time.Since(a.started).Seconds()),
		"ytdlp":     a.fetcher.CheckAvailable(ctx),
		"database":  a.dbCheck != nil && a.dbCheck(),
		"songCache": 0,
	}
	if a.pipeline != nil {
		if songs, err := a.pipeline.GetAllSongs(ctx); err == nil {
			body["songCache"] = len(songs)
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func (a *API) handleVersion(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{
		"name":    version.Product,
		"version": version.Version,
	}
	if version.Commit != "" {
		body["commit"] = version.Commit
	}
	respondJSON(w, http.StatusOK, body)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// upstreamStatus maps fetcher error codes onto HTTP statuses.
func upstreamStatus(err error) (int, string) {
	ue, ok := media.AsUpstream(err)
	if !ok {
		return http.StatusBadGateway, err.Error()
	}
	switch ue.Code {
	case media.CodeNotFound, media.CodeVideoUnavailable:
		return http.StatusNotFound, ue.Message
	case media.CodeVideoPrivate, media.CodeVideoRestricted, media.CodeVideoBlocked:
		return http.StatusForbidden, ue.Message
	default:
		return http.StatusBadGateway, ue.Message
	}
}
