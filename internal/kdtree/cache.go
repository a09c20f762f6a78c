package kdtree

import (
	"sync"

	"github.com/banshee-data/scandiff/internal/geom"
)

// Cache shares built trees between pipeline stages that query the same
// cloud (for example the reference cloud is the ICP target and the change
// detection reference). Entries are keyed by a content hash supplied by
// the caller, so two distinct clouds never share a tree and an unchanged
// cloud is never rebuilt.
type Cache struct {
	mu    sync.Mutex
	trees map[uint64]*Tree

	hits, builds int
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{trees: make(map[uint64]*Tree)}
}

// Get returns the tree for key, building it from points on first use.
// A cached tree whose point count differs from points is treated as a
// key collision and rebuilt.
func (c *Cache) Get(key uint64, points []geom.Vec3) (*Tree, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if t, ok := c.trees[key]; ok && t.Len() == len(points) {
		c.hits++
		return t, nil
	}

	t, err := Build(points)
	if err != nil {
		return nil, err
	}
	c.trees[key] = t
	c.builds++
	return t, nil
}

// Stats returns the number of cache hits and tree builds so far.
func (c *Cache) Stats() (hits, builds int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.builds
}
