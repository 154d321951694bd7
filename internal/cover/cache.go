// ABOUTME: Write-through LRU over the on-disk cover image directory
// ABOUTME: Downloads have a 10s budget and follow one redirect hop
package cover

import (
	"container/list"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const (
	maxEntries      = 500
	downloadTimeout = 10 * time.Second
)

var knownExts = []string{".jpg", ".png", ".webp", ".gif"}

// Entry is a cached cover: file path plus the content type to serve.
type Entry struct {
	Path        string
	ContentType string
}

// Cache maps song id → cover file with eldest eviction over cap.
type Cache struct {
	dir    string
	log    zerolog.Logger
	client *http.Client

	mu    sync.Mutex
	items map[string]*list.Element
	order *list.List // front = most recent

	group singleflight.Group
}

type lruItem struct {
	id    string
	entry Entry
}

// New creates the cache and its directory.
func New(dir string, logger zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create covers directory: %w", err)
	}
	client := &http.Client{
		Timeout: downloadTimeout,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) > 1 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
	return &Cache{
		dir:    dir,
		log:    logger.With().Str("component", "covers").Logger(),
		client: client,
		items:  make(map[string]*list.Element),
		order:  list.New(),
	}, nil
}

// Get returns the cover for id. Falls back to a directory scan when the
// map entry is missing or its file has been removed underneath us.
func (c *Cache) Get(id string) (Entry, bool) {
	c.mu.Lock()
	if el, ok := c.items[id]; ok {
		entry := el.Value.(*lruItem).entry
		if _, err := os.Stat(entry.Path); err == nil {
			c.order.MoveToFront(el)
			c.mu.Unlock()
			return entry, true
		}
		c.order.Remove(el)
		delete(c.items, id)
	}
	c.mu.Unlock()

	for _, ext := range knownExts {
		path := filepath.Join(c.dir, id+ext)
		if info, err := os.Stat(path); err == nil && info.Size() > 0 {
			entry := Entry{Path: path, ContentType: typeForExt(ext)}
			c.put(id, entry)
			return entry, true
		}
	}
	return Entry{}, false
}

// Fetch downloads the cover at url and caches it under id. Concurrent
// calls for the same id share one download.
func (c *Cache) Fetch(ctx context.Context, id, coverURL string) (Entry, error) {
	v, err, _ := c.group.Do(id, func() (any, error) {
		if entry, ok := c.Get(id); ok {
			return entry, nil
		}
		return c.download(ctx, id, coverURL)
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

func (c *Cache) download(ctx context.Context, id, coverURL string) (Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if err != nil {
		return Entry{}, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return Entry{}, fmt.Errorf("cover download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Entry{}, fmt.Errorf("cover download: HTTP %d", resp.StatusCode)
	}

	ext := extFor(resp.Header.Get("Content-Type"), coverURL)
	path := filepath.Join(c.dir, id+ext)

	f, err := os.Create(path)
	if err != nil {
		return Entry{}, err
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		return Entry{}, fmt.Errorf("save cover: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return Entry{}, err
	}

	entry := Entry{Path: path, ContentType: typeForExt(ext)}
	c.put(id, entry)
	c.log.Debug().Str("id", id).Str("path", path).Msg("cover cached")
	return entry, nil
}

func (c *Cache) put(id string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[id]; ok {
		el.Value.(*lruItem).entry = entry
		c.order.MoveToFront(el)
		return
	}
	c.items[id] = c.order.PushFront(&lruItem{id: id, entry: entry})

	for c.order.Len() > maxEntries {
		eldest := c.order.Back()
		if eldest == nil {
			break
		}
		c.order.Remove(eldest)
		delete(c.items, eldest.Value.(*lruItem).id)
	}
}

// Len reports the number of in-memory entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func extFor(contentType, coverURL string) string {
	if contentType != "" {
		if exts, err := mime.ExtensionsByType(contentType); err == nil {
			for _, ext := range exts {
				for _, known := range knownExts {
					if ext == known || (ext == ".jpeg" && known == ".jpg") {
						return known
					}
				}
			}
		}
	}
	clean := strings.Split(coverURL, "?")[0]
	ext := strings.ToLower(filepath.Ext(clean))
	for _, known := range knownExts {
		if ext == known {
			return known
		}
	}
	if ext == ".jpeg" {
		return ".jpg"
	}
	return ".jpg"
}

func typeForExt(ext string) string {
	switch ext {
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}
