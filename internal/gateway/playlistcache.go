// ABOUTME: Short-lived cache of resolved playlist urls
// ABOUTME: Bridges the confirm prompt and the follow-up playlist-add
package gateway

import (
	"container/list"
	"sync"
	"time"

	"github.com/chorus-fm/chorus/internal/media"
)

const (
	playlistCacheTTL = 5 * time.Minute
	playlistCacheCap = 100
)

type playlistEntry struct {
	url     string
	items   []media.PlaylistItem
	expires time.Time
}

// playlistCache keeps resolved playlists around long enough for the user
// to answer the confirm prompt, so the second resolve is free.
type playlistCache struct {
	mu    sync.Mutex
	byURL map[string]*list.Element
	order *list.List // front = most recent
}

func newPlaylistCache() *playlistCache {
	return &playlistCache{
		byURL: make(map[string]*list.Element),
		order: list.New(),
	}
}

func (c *playlistCache) get(url string) ([]media.PlaylistItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.byURL[url]
	if !ok {
		return nil, false
	}
	entry := el.Value.(*playlistEntry)
	if time.Now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.byURL, url)
		return nil, false
	}
	c.order.MoveToFront(el)
	return entry.items, true
}

func (c *playlistCache) put(url string, items []media.PlaylistItem) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.byURL[url]; ok {
		entry := el.Value.(*playlistEntry)
		entry.items = items
		entry.expires = time.Now().Add(playlistCacheTTL)
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&playlistEntry{
		url:     url,
		items:   items,
		expires: time.Now().Add(playlistCacheTTL),
	})
	c.byURL[url] = el
	for c.order.Len() > playlistCacheCap {
		eldest := c.order.Back()
		c.order.Remove(eldest)
		delete(c.byURL, eldest.Value.(*playlistEntry).url)
	}
}
