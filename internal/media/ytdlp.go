// ABOUTME: yt-dlp/ffmpeg subprocess implementation of the Fetcher boundary
// ABOUTME: Streams are killable on client disconnect via context cancel
package media

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// YTDLP shells out to yt-dlp (which drives ffmpeg for extraction).
type YTDLP struct {
	binary string
	ffmpeg string
	log    zerolog.Logger
}

// NewYTDLP builds a fetcher using binaries resolved from PATH when the
// given paths are empty.
func NewYTDLP(binary, ffmpeg string, logger zerolog.Logger) *YTDLP {
	if binary == "" {
		binary = "yt-dlp"
	}
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	return &YTDLP{
		binary: binary,
		ffmpeg: ffmpeg,
		log:    logger.With().Str("component", "ytdlp").Logger(),
	}
}

// IsPlaylistURL reports whether the input points at a playlist rather
// than a single item (query string contains a `list` parameter).
func IsPlaylistURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Query().Get("list") != ""
}

// toTarget turns a free-text query into something yt-dlp accepts.
func toTarget(query string) string {
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return query
	}
	return "ytsearch1:" + query
}

type ytdlpJSON struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail"`
	Uploader  string  `json:"uploader"`
	WebpageURL string `json:"webpage_url"`
	URL       string  `json:"url"`
}

// GetMetadata resolves one item without downloading media.
func (y *YTDLP) GetMetadata(ctx context.Context, query string) (*Metadata, error) {
	cmd := exec.CommandContext(ctx, y.binary,
		"--dump-json", "--no-playlist", "--no-warnings", toTarget(query))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, ParseError(stderr.String())
	}

	var info ytdlpJSON
	if err := json.Unmarshal(stdout.Bytes(), &info); err != nil {
		return nil, fmt.Errorf("parse yt-dlp output: %w", err)
	}

	srcURL := info.WebpageURL
	if srcURL == "" {
		srcURL = info.URL
	}
	return &Metadata{
		ID:        info.ID,
		URL:       srcURL,
		Title:     info.Title,
		Duration:  info.Duration,
		Thumbnail: info.Thumbnail,
		Uploader:  info.Uploader,
	}, nil
}

// processStream is an io.ReadCloser over a running subprocess.
type processStream struct {
	out    io.ReadCloser
	cancel context.CancelFunc
	cmd    *exec.Cmd
}

func (p *processStream) Read(b []byte) (int, error) { return p.out.Read(b) }

func (p *processStream) Close() error {
	p.cancel()
	_ = p.out.Close()
	// Reap the process; error is expected after a kill.
	_ = p.cmd.Wait()
	return nil
}

// CreateStream launches a live transcode to mp3 on stdout.
func (y *YTDLP) CreateStream(ctx context.Context, srcURL string) (Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	cmd := exec.CommandContext(ctx, y.binary,
		"-x", "--audio-format", "mp3", "--no-playlist", "--no-warnings",
		"--ffmpeg-location", y.ffmpeg,
		"-o", "-", srcURL)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	y.log.Debug().Str("url", srcURL).Msg("live transcode started")
	return &processStream{out: stdout, cancel: cancel, cmd: cmd}, nil
}

var progressRe = regexp.MustCompile(`\[download\]\s+([0-9.]+)%`)

// DownloadTo runs the pipeline to completion into destPath, reporting
// percent progress parsed from yt-dlp's own progress lines.
func (y *YTDLP) DownloadTo(ctx context.Context, srcURL, destPath string, progress func(percent float64)) error {
	cmd := exec.CommandContext(ctx, y.binary,
		"-x", "--audio-format", "mp3", "--no-playlist", "--no-warnings",
		"--newline", "--ffmpeg-location", y.ffmpeg,
		"-o", destPath, srcURL)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return err
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		if progress == nil {
			continue
		}
		if m := progressRe.FindStringSubmatch(scanner.Text()); m != nil {
			var pct float64
			if _, err := fmt.Sscanf(m[1], "%f", &pct); err == nil {
				progress(pct)
			}
		}
	}

	if err := cmd.Wait(); err != nil {
		return ParseError(stderr.String())
	}
	return nil
}

// GetPlaylistItems resolves a playlist without downloading media.
func (y *YTDLP) GetPlaylistItems(ctx context.Context, playlistURL string) ([]PlaylistItem, error) {
	cmd := exec.CommandContext(ctx, y.binary,
		"--flat-playlist", "--dump-json", "--no-warnings", playlistURL)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var items []PlaylistItem
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var info ytdlpJSON
		if err := json.Unmarshal(scanner.Bytes(), &info); err != nil {
			continue
		}
		itemURL := info.URL
		if itemURL == "" && info.ID != "" {
			itemURL = "https://www.youtube.com/watch?v=" + info.ID
		}
		if itemURL == "" {
			continue
		}
		items = append(items, PlaylistItem{
			URL:       itemURL,
			Title:     info.Title,
			Duration:  info.Duration,
			Thumbnail: info.Thumbnail,
		})
	}

	if err := cmd.Wait(); err != nil {
		return nil, ParseError(stderr.String())
	}
	if len(items) == 0 {
		return nil, &UpstreamError{Code: CodeNotFound, Message: "playlist resolved to zero items"}
	}
	return items, nil
}

// CheckAvailable probes the binary with a short timeout.
func (y *YTDLP) CheckAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return exec.CommandContext(ctx, y.binary, "--version").Run() == nil
}
