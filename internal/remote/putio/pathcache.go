package putio

import (
	"path"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const rootID int64 = 0

// folderCache maps absolute remote folder paths to put.io file ids.
// Entries expire so folders changed outside this process are picked up again.
type folderCache struct {
	lru *expirable.LRU[string, int64]
}

func newFolderCache(size int, ttl time.Duration) *folderCache {
	return &folderCache{lru: expirable.NewLRU[string, int64](size, nil, ttl)}
}

func (c *folderCache) Get(dir string) (int64, bool) {
	dir = cleanPath(dir)
	if dir == "/" {
		return rootID, true
	}

	return c.lru.Get(dir)
}

func (c *folderCache) Add(dir string, id int64) {
	c.lru.Add(cleanPath(dir), id)
}

// Forget drops p and everything below it.
func (c *folderCache) Forget(p string) {
	p = cleanPath(p)
	prefix := strings.TrimSuffix(p, "/") + "/"

	for _, key := range c.lru.Keys() {
		if key == p || strings.HasPrefix(key, prefix) {
			c.lru.Remove(key)
		}
	}
}

func cleanPath(p string) string {
	return path.Clean("/" + p)
}
