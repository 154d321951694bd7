// ABOUTME: Boundary interface for the external video fetcher and transcoder
// ABOUTME: The rest of the server only sees Metadata/Stream/PlaylistItems
package media

import (
	"context"
	"io"
)

// Metadata describes a resolved source url.
type Metadata struct {
	ID        string  `json:"id"`
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
	Uploader  string  `json:"uploader,omitempty"`
}

// PlaylistItem is one entry of a resolved playlist url.
type PlaylistItem struct {
	URL       string  `json:"url"`
	Title     string  `json:"title"`
	Duration  float64 `json:"duration"`
	Thumbnail string  `json:"thumbnail,omitempty"`
}

// Stream is a live transcoded audio stream backed by subprocesses.
// Close kills the processes; it must be called on client disconnect.
type Stream interface {
	io.ReadCloser
}

// Fetcher wraps the external fetch+transcode binaries so engines and
// handlers can be tested against a stub.
type Fetcher interface {
	// GetMetadata resolves a url or search query to track metadata.
	GetMetadata(ctx context.Context, query string) (*Metadata, error)

	// CreateStream starts a fetch+transcode pipeline producing mp3 bytes.
	CreateStream(ctx context.Context, url string) (Stream, error)

	// DownloadTo runs the pipeline to completion, writing the transcoded
	// file to destPath and reporting coarse progress in [0,100].
	DownloadTo(ctx context.Context, url, destPath string, progress func(percent float64)) error

	// GetPlaylistItems resolves a playlist url into its entries.
	GetPlaylistItems(ctx context.Context, url string) ([]PlaylistItem, error)

	// CheckAvailable reports whether the external binaries are callable.
	CheckAvailable(ctx context.Context) bool
}
