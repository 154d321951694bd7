// ABOUTME: Composition root: wires the store, engines, gateway, and HTTP
// ABOUTME: Owns startup order, maintenance timers, and graceful shutdown
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/chat"
	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/config"
	"github.com/chorus-fm/chorus/internal/cover"
	"github.com/chorus-fm/chorus/internal/discovery"
	"github.com/chorus-fm/chorus/internal/gateway"
	"github.com/chorus-fm/chorus/internal/httpapi"
	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/playback"
	"github.com/chorus-fm/chorus/internal/playlist"
	"github.com/chorus-fm/chorus/internal/queue"
	"github.com/chorus-fm/chorus/internal/songcache"
	"github.com/chorus-fm/chorus/internal/store"
	"github.com/chorus-fm/chorus/internal/tui"
	"github.com/chorus-fm/chorus/internal/version"
)

const (
	lobbySweepInterval = 60 * time.Second
	cacheSweepInterval = 6 * time.Hour
	shutdownTimeout    = 10 * time.Second
)

// Options tweak server behavior beyond the environment config.
type Options struct {
	UseTUI bool
}

// Server owns every long-lived component.
type Server struct {
	cfg  config.Config
	opts Options
	log  zerolog.Logger

	st       *store.Store
	writer   *store.Writer
	registry *lobby.Registry
	queues   *queue.Manager
	engine   *playback.Engine
	chat     *chat.Service
	fetcher  media.Fetcher
	pipeline *songcache.Pipeline
	covers   *cover.Cache
	hub      *gateway.Hub
	gw       *gateway.Gateway

	httpServer *http.Server
	mdns       *discovery.Manager
	tui        *tui.TUI

	stopChan chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// New builds and wires the full server. Nothing is listening yet.
func New(cfg config.Config, opts Options, logger zerolog.Logger) (*Server, error) {
	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	writer := store.NewWriter(logger)
	clk := clock.System{}

	registry := lobby.NewRegistry(clk, st, writer, logger)
	if st.Available() {
		if err := registry.LoadFromDB(ctx); err != nil {
			logger.Warn().Err(err).Msg("lobby restore failed")
		}
	}

	queues := queue.NewManager(st, writer, logger)
	engine := playback.NewEngine(clk, st, writer, logger)
	chatSvc := chat.NewService(st, writer, logger)

	fetcher := media.NewYTDLP("yt-dlp", "ffmpeg", logger)

	pipeline, err := songcache.New(st, fetcher, cfg.SongsPath, logger)
	if err != nil {
		return nil, fmt.Errorf("song cache: %w", err)
	}

	covers, err := cover.New(cfg.CoversDir, logger)
	if err != nil {
		return nil, fmt.Errorf("cover cache: %w", err)
	}

	hub := gateway.NewHub(cfg.FrontendURL, logger)
	gw := gateway.New(hub, registry, queues, engine, chatSvc, pipeline, covers,
		fetcher, clk, cfg.FrontendURL, logger)

	api := httpapi.New(httpapi.Config{
		Registry:    registry,
		Queues:      queues,
		Engine:      engine,
		Pipeline:    pipeline,
		Covers:      covers,
		Fetcher:     fetcher,
		Playlists:   playlist.NewService(st, logger),
		WSHandler:   hub.HandleWS,
		ConnCount:   hub.ConnCount,
		DBAvailable: st.Available,
		FrontendURL: cfg.FrontendURL,
		DashUser:    cfg.DashboardUser,
		DashPass:    cfg.DashboardPass,
		Logger:      logger,
	})

	s := &Server{
		cfg:      cfg,
		opts:     opts,
		log:      logger.With().Str("component", "server").Logger(),
		st:       st,
		writer:   writer,
		registry: registry,
		queues:   queues,
		engine:   engine,
		chat:     chatSvc,
		fetcher:  fetcher,
		pipeline: pipeline,
		covers:   covers,
		hub:      hub,
		gw:       gw,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Port),
			Handler: api.Router(),
		},
		stopChan: make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	return s, nil
}

// Start runs the server until Stop is called or the listener fails.
func (s *Server) Start() error {
	serverName := s.cfg.ServerName
	if serverName == "" {
		serverName = version.Product
	}

	if s.opts.UseTUI {
		s.tui = tui.New()
		go func() {
			if err := s.tui.Start(serverName, s.cfg.Port); err != nil {
				s.log.Warn().Err(err).Msg("tui exited")
			}
		}()
	}

	s.log.Info().
		Str("name", serverName).
		Str("version", version.Version).
		Int("port", s.cfg.Port).
		Bool("persistence", s.st.Available()).
		Msg("server starting")

	if s.cfg.DashboardPassGenerated {
		s.log.Info().
			Str("user", s.cfg.DashboardUser).
			Str("pass", s.cfg.DashboardPass).
			Msg("generated dashboard credentials")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if !s.fetcher.CheckAvailable(ctx) {
		s.log.Warn().Msg("yt-dlp not found on PATH; metadata and downloads will fail")
	}
	cancel()

	if s.cfg.EnableMDNS {
		s.mdns = discovery.NewManager(discovery.Config{
			ServiceName: serverName,
			Port:        s.cfg.Port,
		}, s.log)
		if err := s.mdns.Advertise(); err != nil {
			s.log.Warn().Err(err).Msg("mdns advertisement failed")
		}
	}

	maintDone := make(chan struct{})
	go s.maintenanceLoop(maintDone)

	errChan := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
			errChan <- err
		}
	}()
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("listening")

	var tuiQuit <-chan struct{}
	if s.tui != nil {
		tuiQuit = s.tui.QuitChan()
	}

	var serverErr error
	select {
	case <-s.stopChan:
		s.log.Info().Msg("shutdown requested")
	case <-tuiQuit:
		s.log.Info().Msg("tui quit requested")
	case err := <-errChan:
		s.log.Error().Err(err).Msg("http server failed")
		serverErr = err
	}

	close(maintDone)

	if s.tui != nil {
		s.tui.Stop()
	}

	s.hub.Shutdown("server shutting down")
	s.engine.StopAll()

	if s.mdns != nil {
		s.mdns.Stop()
	}

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	if err := s.httpServer.Shutdown(shutCtx); err != nil {
		s.log.Warn().Err(err).Msg("http shutdown error")
	}

	// Drain pending persistence writes before closing the database.
	s.writer.Close()
	if err := s.st.Close(); err != nil {
		s.log.Warn().Err(err).Msg("store close error")
	}

	close(s.stopped)
	s.log.Info().Msg("server stopped")
	return serverErr
}

// Stop asks the server to shut down and waits for it to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	<-s.stopped
}

// maintenanceLoop runs the periodic sweeps: idle lobby eviction with
// orphan cleanup, the cache age sweep, and TUI refresh.
func (s *Server) maintenanceLoop(done <-chan struct{}) {
	lobbyTicker := time.NewTicker(lobbySweepInterval)
	defer lobbyTicker.Stop()
	cacheTicker := time.NewTicker(cacheSweepInterval)
	defer cacheTicker.Stop()
	tuiTicker := time.NewTicker(time.Second)
	defer tuiTicker.Stop()

	for {
		select {
		case <-done:
			return
		case <-lobbyTicker.C:
			s.sweepLobbies()
		case <-cacheTicker.C:
			s.sweepCache()
		case <-tuiTicker.C:
			s.refreshTUI()
		}
	}
}

func (s *Server) sweepLobbies() {
	evicted := s.registry.CleanupEmptyLobbies()
	for _, id := range evicted {
		s.queues.DeleteQueue(id)
		s.engine.Delete(id)
		s.chat.DropLobby(id)
		s.gw.ForgetLobby(id)
		s.log.Info().Str("lobby", id).Msg("idle lobby evicted")
	}

	// Engines can hold state for lobbies that vanished another way.
	valid := s.registry.IDs()
	s.queues.CleanupOrphaned(valid)
	s.engine.CleanupOrphaned(valid)

	// Mirror the sweep in the database, or rows for evicted lobbies come
	// back on restart.
	if s.st.Available() {
		keep := make([]string, 0, len(valid))
		for id := range valid {
			keep = append(keep, id)
		}
		s.writer.Enqueue(func(ctx context.Context) error {
			return s.st.PruneQueueOrphans(ctx, keep)
		})
		s.writer.Enqueue(func(ctx context.Context) error {
			return s.st.PrunePlaybackOrphans(ctx, keep)
		})
	}
}

func (s *Server) sweepCache() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	removed, err := s.pipeline.CleanupOldSongs(ctx, songcache.DefaultMaxAge)
	if err != nil {
		s.log.Warn().Err(err).Msg("cache sweep failed")
		return
	}
	if removed > 0 {
		s.log.Info().Int("removed", removed).Msg("expired cached songs removed")
	}
}

func (s *Server) refreshTUI() {
	if s.tui == nil {
		return
	}

	status := tui.Status{
		Name:        s.cfg.ServerName,
		Port:        s.cfg.Port,
		Connections: s.hub.ConnCount(),
	}
	for _, l := range s.registry.GetAllLobbies() {
		info := tui.LobbyInfo{
			ID:        l.ID,
			Name:      l.Name,
			Mode:      l.ListeningMode,
			UserCount: s.registry.UserCount(l.ID),
		}
		if track := s.engine.CurrentTrack(l.ID); track != nil {
			info.Playing = track.Title
		}
		status.Lobbies = append(status.Lobbies, info)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	if songs, err := s.pipeline.GetAllSongs(ctx); err == nil {
		for _, song := range songs {
			if song.Status == store.SongDownloading || song.Status == store.SongPending {
				status.Downloads = append(status.Downloads, tui.DownloadInfo{
					Title:  song.Title,
					Status: song.Status,
				})
			}
		}
	}
	cancel()

	s.tui.Update(status)
}
