// ABOUTME: Tests for the REST surface using httptest against the full router
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus-fm/chorus/internal/clock"
	"github.com/chorus-fm/chorus/internal/lobby"
	"github.com/chorus-fm/chorus/internal/media"
	"github.com/chorus-fm/chorus/internal/playback"
	"github.com/chorus-fm/chorus/internal/playlist"
	"github.com/chorus-fm/chorus/internal/queue"
	"github.com/chorus-fm/chorus/internal/store"
)

type stubFetcher struct {
	metadata *media.Metadata
	metaErr  error
}

func (f *stubFetcher) GetMetadata(ctx context.Context, query string) (*media.Metadata, error) {
	if f.metaErr != nil {
		return nil, f.metaErr
	}
	if f.metadata != nil {
		return f.metadata, nil
	}
	return nil, errors.New("no metadata configured")
}

func (f *stubFetcher) CreateStream(ctx context.Context, url string) (media.Stream, error) {
	return nil, errors.New("not implemented")
}

func (f *stubFetcher) DownloadTo(ctx context.Context, url, destPath string, progress func(float64)) error {
	return errors.New("not implemented")
}

func (f *stubFetcher) GetPlaylistItems(ctx context.Context, url string) ([]media.PlaylistItem, error) {
	return nil, nil
}

func (f *stubFetcher) CheckAvailable(ctx context.Context) bool { return true }

type fixture struct {
	api      *API
	srv      *httptest.Server
	registry *lobby.Registry
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	clk := clock.NewFake()
	registry := lobby.NewRegistry(clk, nil, nil, zerolog.Nop())
	cfg := Config{
		Registry:  registry,
		Queues:    queue.NewManager(nil, nil, zerolog.Nop()),
		Engine:    playback.NewEngine(clk, nil, nil, zerolog.Nop()),
		Fetcher:   &stubFetcher{},
		Playlists: playlist.NewService(nil, zerolog.Nop()),
		ConnCount: func() int { return 0 },
		DashUser:  "admin",
		DashPass:  "secret",
		Logger:    zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&cfg)
	}
	api := New(cfg)
	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &fixture{api: api, srv: srv, registry: registry}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.srv.URL+path, &buf)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]any
	decode(t, resp, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["ytdlp"])
	assert.Equal(t, false, body["database"])
	assert.Contains(t, body, "timestamp")
	assert.Contains(t, body, "uptime")
}

func TestVersion(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/version", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]string
	decode(t, resp, &body)
	assert.NotEmpty(t, body["version"])
	assert.NotEmpty(t, body["name"])
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, func(cfg *Config) { cfg.FrontendURL = "https://app.example" })
	resp := f.do(t, http.MethodOptions, "/api/version", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "https://app.example", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestLobbyCreateAndGet(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/lobbies", map[string]string{
		"name":          "Friday Vibes",
		"listeningMode": "independent",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var created struct {
		lobbySummary
		Link string `json:"link"`
	}
	decode(t, resp, &created)
	assert.Equal(t, "Friday Vibes", created.Name)
	assert.Equal(t, "independent", created.ListeningMode)
	assert.Equal(t, "/lobby/"+created.ID, created.Link)

	resp = f.do(t, http.MethodGet, "/api/lobbies/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var detail lobbyDetail
	decode(t, resp, &detail)
	assert.Equal(t, created.ID, detail.ID)
	assert.Empty(t, detail.Queue)
	assert.False(t, detail.IsPlaying)

	resp = f.do(t, http.MethodGet, "/api/lobbies", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all struct {
		Lobbies []lobbySummary `json:"lobbies"`
	}
	decode(t, resp, &all)
	assert.Len(t, all.Lobbies, 1)
}

func TestLobbyCreateConflictAndBadMode(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/api/lobbies", map[string]string{"name": "Taken"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/lobbies", map[string]string{"name": "taken"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = f.do(t, http.MethodPost, "/api/lobbies", map[string]string{"listeningMode": "broadcast"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLobbyNotFound(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/lobbies/ghost123", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestPlaylistsRequirePersistence(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/playlists?userId=u1", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestPlaylistsOverHTTP(t *testing.T) {
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, st.Init(context.Background()))
	t.Cleanup(func() { _ = st.Close() })

	f := newFixture(t, func(cfg *Config) {
		cfg.Playlists = playlist.NewService(st, zerolog.Nop())
	})

	resp := f.do(t, http.MethodPost, "/api/playlists", map[string]string{
		"userId": "u1", "name": "Mix",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created playlist.Playlist
	decode(t, resp, &created)

	resp = f.do(t, http.MethodPost, "/api/playlists/"+created.ID+"/songs", map[string]any{
		"url": "https://x/a", "title": "a",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = f.do(t, http.MethodGet, "/api/playlists/"+created.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got playlist.Playlist
	decode(t, resp, &got)
	require.Len(t, got.Songs, 1)
	assert.Equal(t, "a", got.Songs[0].Title)

	resp = f.do(t, http.MethodGet, "/api/playlists/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDashboardAuth(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/api/dashboard/stats", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("WWW-Authenticate"), "Basic")

	req, _ := http.NewRequest(http.MethodGet, f.srv.URL+"/api/dashboard/stats", nil)
	req.SetBasicAuth("admin", "wrong")
	resp2, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp2.StatusCode)

	req, _ = http.NewRequest(http.MethodGet, f.srv.URL+"/api/dashboard/stats", nil)
	req.SetBasicAuth("admin", "secret")
	resp3, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusOK, resp3.StatusCode)

	var stats map[string]any
	require.NoError(t, json.NewDecoder(resp3.Body).Decode(&stats))
	assert.EqualValues(t, 0, stats["connections"])
}

func TestCoverMissing(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/covers/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMetadataRequiresQuery(t *testing.T) {
	f := newFixture(t, nil)
	resp := f.do(t, http.MethodGet, "/api/metadata", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMetadataUpstreamErrorMapping(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Fetcher = &stubFetcher{metaErr: &media.UpstreamError{
			Code: media.CodeVideoPrivate, Message: "private video",
		}}
	})
	resp := f.do(t, http.MethodGet, "/api/metadata?url=https://x/a", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestMetadataSuccess(t *testing.T) {
	f := newFixture(t, func(cfg *Config) {
		cfg.Fetcher = &stubFetcher{metadata: &media.Metadata{
			ID: "v1", URL: "https://x/a", Title: "a", Duration: 120,
		}}
	})
	resp := f.do(t, http.MethodGet, "/api/metadata?q=some+song", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var meta media.Metadata
	decode(t, resp, &meta)
	assert.Equal(t, "a", meta.Title)
}
