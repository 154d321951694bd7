// ABOUTME: Background fetch+transcode pipeline with a per-url status FSM
// ABOUTME: Dedupes concurrent downloads and sweeps stale files on a TTL
package songcache

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/store"
)

// DefaultMaxAge is the registry TTL.
const DefaultMaxAge = 7 * 24 * time.Hour

// Event reports a pipeline transition or progress tick. The gateway routes
// these to the lobby room that requested the download.
type Event struct {
	URL     string
	SongID  string
	Status  string
	Percent float64
	Error   string
	LobbyID string
}

// Hint carries optional metadata known before the download starts.
type Hint struct {
	Title     string
	Duration  float64
	Thumbnail string
}

// Pipeline owns the on-disk song cache and its registry rows.
type Pipeline struct {
	store   *store.Store
	fetcher media.Fetcher
	dir     string
	log     zerolog.Logger

	mu     sync.Mutex
	active map[string]string // url → songID of an in-flight download

	notify func(Event)
}

// New builds the pipeline. notify may be nil.
func New(st *store.Store, fetcher media.Fetcher, dir string, logger zerolog.Logger) (*Pipeline, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create songs directory: %w", err)
	}
	return &Pipeline{
		store:   st,
		fetcher: fetcher,
		dir:     dir,
		log:     logger.With().Str("component", "songcache").Logger(),
		active:  make(map[string]string),
	}, nil
}

// OnEvent registers the single event sink. Must be called before the
// first StartDownload.
func (p *Pipeline) OnEvent(fn func(Event)) {
	p.notify = fn
}

func (p *Pipeline) emit(ev Event) {
	if p.notify != nil {
		p.notify(ev)
	}
}

// StartDownload ensures a cached file will exist for url. Returns the
// registry id, or "" when the store is unavailable. Concurrent calls for
// one url converge on a single download.
func (p *Pipeline) StartDownload(ctx context.Context, url string, hint Hint, lobbyID string) string {
	if !p.store.Available() {
		return ""
	}

	p.mu.Lock()
	if id, ok := p.active[url]; ok {
		p.mu.Unlock()
		return id
	}

	existing, err := p.store.GetCachedSong(ctx, url)
	if err != nil {
		p.mu.Unlock()
		p.log.Warn().Err(err).Str("url", url).Msg("registry lookup failed")
		return ""
	}

	if existing != nil {
		switch existing.Status {
		case store.SongReady:
			if fileNonEmpty(existing.FilePath) {
				p.mu.Unlock()
				return existing.ID
			}
			// Registry says ready but the file is gone; redo it.
			fallthrough
		case store.SongError:
			if err := p.store.ResetCachedSong(ctx, existing.ID); err != nil {
				p.mu.Unlock()
				p.log.Warn().Err(err).Str("url", url).Msg("registry reset failed")
				return ""
			}
		case store.SongDownloading, store.SongPending:
			// A previous process may have died mid-download; without an
			// active entry we own the restart.
		}
		p.active[url] = existing.ID
		p.mu.Unlock()
		go p.run(existing.ID, url, lobbyID)
		return existing.ID
	}

	id := uuid.NewString()
	if err := p.store.InsertCachedSong(ctx, store.CachedSong{
		ID:           id,
		URL:          url,
		Title:        hint.Title,
		Duration:     hint.Duration,
		ThumbnailURL: hint.Thumbnail,
	}); err != nil {
		p.mu.Unlock()
		// Unique url constraint: someone else inserted first. Reuse theirs.
		if again, lookupErr := p.store.GetCachedSong(ctx, url); lookupErr == nil && again != nil {
			return again.ID
		}
		p.log.Warn().Err(err).Str("url", url).Msg("registry insert failed")
		return ""
	}
	p.active[url] = id
	p.mu.Unlock()

	go p.run(id, url, lobbyID)
	return id
}

// run drives one download through downloading → ready|error.
func (p *Pipeline) run(id, url, lobbyID string) {
	defer func() {
		p.mu.Lock()
		delete(p.active, url)
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
	defer cancel()

	if err := p.store.UpdateCachedSongStatus(ctx, id, store.SongDownloading, store.CachedSong{}); err != nil {
		p.log.Warn().Err(err).Str("id", id).Msg("status update failed")
	}
	p.emit(Event{URL: url, SongID: id, Status: store.SongDownloading, LobbyID: lobbyID})

	dest := filepath.Join(p.dir, id+".mp3")
	err := p.fetcher.DownloadTo(ctx, url, dest, func(pct float64) {
		p.emit(Event{URL: url, SongID: id, Status: store.SongDownloading, Percent: pct, LobbyID: lobbyID})
	})

	if err == nil && !fileNonEmpty(dest) {
		err = fmt.Errorf("transcode produced an empty file")
	}

	if err != nil {
		_ = os.Remove(dest)
		msg := err.Error()
		if len(msg) > 200 {
			msg = msg[:200]
		}
		if uerr := p.store.UpdateCachedSongStatus(ctx, id, store.SongError,
			store.CachedSong{ErrorMessage: msg}); uerr != nil {
			p.log.Warn().Err(uerr).Str("id", id).Msg("status update failed")
		}
		p.log.Warn().Err(err).Str("url", url).Msg("download failed")
		p.emit(Event{URL: url, SongID: id, Status: store.SongError, Error: msg, LobbyID: lobbyID})
		return
	}

	if uerr := p.store.UpdateCachedSongStatus(ctx, id, store.SongReady,
		store.CachedSong{FilePath: dest}); uerr != nil {
		p.log.Warn().Err(uerr).Str("id", id).Msg("status update failed")
	}
	p.log.Info().Str("url", url).Str("path", dest).Msg("song cached")
	p.emit(Event{URL: url, SongID: id, Status: store.SongReady, Percent: 100, LobbyID: lobbyID})
}

// GetCachedSong looks a registry row up by url.
func (p *Pipeline) GetCachedSong(ctx context.Context, url string) (*store.CachedSong, error) {
	return p.store.GetCachedSong(ctx, url)
}

// CreateCachedStream opens a ready file for range-capable serving.
func (p *Pipeline) CreateCachedStream(path string) (io.ReadSeekCloser, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// CleanupOldSongs deletes registry rows untouched for maxAge and unlinks
// their files.
func (p *Pipeline) CleanupOldSongs(ctx context.Context, maxAge time.Duration) (int, error) {
	if !p.store.Available() {
		return 0, nil
	}
	cutoff := time.Now().Add(-maxAge)
	old, err := p.store.GetCachedSongsOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, song := range old {
		if song.FilePath != "" {
			_ = os.Remove(song.FilePath)
		}
		if err := p.store.DeleteCachedSong(ctx, song.ID); err != nil {
			p.log.Warn().Err(err).Str("id", song.ID).Msg("registry delete failed")
			continue
		}
		removed++
	}
	if removed > 0 {
		p.log.Info().Int("removed", removed).Msg("song cache sweep")
	}
	return removed, nil
}

// DeleteSong removes one row and its file.
func (p *Pipeline) DeleteSong(ctx context.Context, id string) error {
	song, err := p.store.GetCachedSongByID(ctx, id)
	if err != nil {
		return err
	}
	if song == nil {
		return nil
	}
	if song.FilePath != "" {
		_ = os.Remove(song.FilePath)
	}
	return p.store.DeleteCachedSong(ctx, id)
}

// DeleteAllSongs clears the registry and the cache directory.
func (p *Pipeline) DeleteAllSongs(ctx context.Context) error {
	songs, err := p.store.GetAllCachedSongs(ctx)
	if err != nil {
		return err
	}
	for _, song := range songs {
		if song.FilePath != "" {
			_ = os.Remove(song.FilePath)
		}
		if err := p.store.DeleteCachedSong(ctx, song.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetAllSongs lists the registry for the dashboard.
func (p *Pipeline) GetAllSongs(ctx context.Context) ([]store.CachedSong, error) {
	return p.store.GetAllCachedSongs(ctx)
}

func fileNonEmpty(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
