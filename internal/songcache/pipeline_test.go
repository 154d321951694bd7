// ABOUTME: Tests for the download pipeline FSM using a stub fetcher
package songcache

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/store"
)

type stubFetcher struct {
	mu        sync.Mutex
	downloads int
	fail      error
	empty     bool
	gate      chan struct{}
}

func (f *stubFetcher) DownloadTo(ctx context.Context, url, destPath string, progress func(float64)) error {
	f.mu.Lock()
	f.downloads++
	fail, empty, gate := f.fail, f.empty, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail != nil {
		return fail
	}
	if progress != nil {
		progress(50)
	}
	if empty {
		return os.WriteFile(destPath, nil, 0o644)
	}
	return os.WriteFile(destPath, []byte("mp3 bytes"), 0o644)
}

func (f *stubFetcher) downloadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads
}

func (f *stubFetcher) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func (f *stubFetcher) GetMetadata(ctx context.Context, query string) (*media.Metadata, error) {
	return nil, errors.New("not implemented")
}

func (f *stubFetcher) CreateStream(ctx context.Context, url string) (media.Stream, error) {
	return nil, errors.New("not implemented")
}

func (f *stubFetcher) GetPlaylistItems(ctx context.Context, url string) ([]media.PlaylistItem, error) {
	return nil, nil
}

func (f *stubFetcher) CheckAvailable(ctx context.Context) bool { return true }

func newTestPipeline(t *testing.T, fetcher *stubFetcher) (*Pipeline, chan Event) {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	p, err := New(st, fetcher, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)

	events := make(chan Event, 64)
	p.OnEvent(func(ev Event) { events <- ev })
	return p, events
}

func waitStatus(t *testing.T, events chan Event, status string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Status == status {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %q event", status)
		}
	}
}

func TestStartDownloadSuccess(t *testing.T) {
	fetcher := &stubFetcher{}
	p, events := newTestPipeline(t, fetcher)
	ctx := context.Background()

	id := p.StartDownload(ctx, "https://x/a", Hint{Title: "a", Duration: 120}, "l1")
	require.NotEmpty(t, id)

	ev := waitStatus(t, events, store.SongReady)
	assert.Equal(t, id, ev.SongID)
	assert.Equal(t, "l1", ev.LobbyID)

	song, err := p.GetCachedSong(ctx, "https://x/a")
	require.NoError(t, err)
	require.NotNil(t, song)
	assert.Equal(t, store.SongReady, song.Status)
	assert.Equal(t, filepath.Join(filepath.Dir(song.FilePath), id+".mp3"), song.FilePath)

	// Ready row with the file on disk short-circuits.
	again := p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	assert.Equal(t, id, again)
	assert.Equal(t, 1, fetcher.downloadCount())
}

func TestStartDownloadDedupesInFlight(t *testing.T) {
	fetcher := &stubFetcher{gate: make(chan struct{})}
	p, events := newTestPipeline(t, fetcher)
	ctx := context.Background()

	first := p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	second := p.StartDownload(ctx, "https://x/a", Hint{}, "l2")
	assert.Equal(t, first, second)

	close(fetcher.gate)
	waitStatus(t, events, store.SongReady)
	assert.Equal(t, 1, fetcher.downloadCount())
}

func TestDownloadErrorThenRetry(t *testing.T) {
	fetcher := &stubFetcher{fail: errors.New("network down")}
	p, events := newTestPipeline(t, fetcher)
	ctx := context.Background()

	id := p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	require.NotEmpty(t, id)

	ev := waitStatus(t, events, store.SongError)
	assert.Contains(t, ev.Error, "network down")

	song, err := p.GetCachedSong(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Equal(t, store.SongError, song.Status)

	// Retry resets the row and redoes the download.
	fetcher.setFail(nil)
	retry := p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	assert.Equal(t, id, retry)

	waitStatus(t, events, store.SongReady)
	assert.Equal(t, 2, fetcher.downloadCount())
}

func TestEmptyOutputIsError(t *testing.T) {
	fetcher := &stubFetcher{empty: true}
	p, events := newTestPipeline(t, fetcher)

	p.StartDownload(context.Background(), "https://x/a", Hint{}, "l1")
	ev := waitStatus(t, events, store.SongError)
	assert.Contains(t, ev.Error, "empty file")
}

func TestProgressEventsCarryPercent(t *testing.T) {
	fetcher := &stubFetcher{}
	p, events := newTestPipeline(t, fetcher)

	p.StartDownload(context.Background(), "https://x/a", Hint{}, "l1")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.Status == store.SongDownloading && ev.Percent == 50 {
				return
			}
			if ev.Status == store.SongReady {
				t.Fatal("no progress event before ready")
			}
		case <-deadline:
			t.Fatal("no progress event")
		}
	}
}

func TestCleanupOldSongs(t *testing.T) {
	fetcher := &stubFetcher{}
	p, events := newTestPipeline(t, fetcher)
	ctx := context.Background()

	p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	waitStatus(t, events, store.SongReady)
	song, err := p.GetCachedSong(ctx, "https://x/a")
	require.NoError(t, err)

	// Nothing is old enough yet.
	removed, err := p.CleanupOldSongs(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)

	// A negative age puts the cutoff in the future, sweeping everything.
	removed, err = p.CleanupOldSongs(ctx, -time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, statErr := os.Stat(song.FilePath)
	assert.True(t, os.IsNotExist(statErr), "swept file should be unlinked")
}

func TestDeleteSong(t *testing.T) {
	fetcher := &stubFetcher{}
	p, events := newTestPipeline(t, fetcher)
	ctx := context.Background()

	id := p.StartDownload(ctx, "https://x/a", Hint{}, "l1")
	waitStatus(t, events, store.SongReady)

	require.NoError(t, p.DeleteSong(ctx, id))
	song, err := p.GetCachedSong(ctx, "https://x/a")
	require.NoError(t, err)
	assert.Nil(t, song)

	// Deleting a missing row is not an error.
	assert.NoError(t, p.DeleteSong(ctx, id))
}
