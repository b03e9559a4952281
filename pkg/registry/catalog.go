package registry

import (
	"fmt"
	"sync"
)

// Catalog holds the mirrors of every feature module. Construct one at process
// start and pass it to whatever lists or invalidates keys.
type Catalog struct {
	mu      sync.RWMutex
	mirrors []*Mirror
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{}
}

// Register adds m. It fails when m's prefix is already registered, or when
// a leaf base of m and one already registered are prefixes of each other,
// since their keys could then collide.
func (c *Catalog) Register(m *Mirror) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, existing := range c.mirrors {
		if existing.prefix.Equal(m.prefix) {
			return constructionError(m.prefix, "prefix already registered")
		}
		for _, a := range existing.Leaves() {
			for _, b := range m.Leaves() {
				if a.base.HasPrefix(b.base) || b.base.HasPrefix(a.base) {
					return constructionError(b.base, fmt.Sprintf("key overlaps %s", a.base))
				}
			}
		}
	}
	c.mirrors = append(c.mirrors, m)
	return nil
}

// MustRegister is Register that panics on error.
func (c *Catalog) MustRegister(mirrors ...*Mirror) {
	for _, m := range mirrors {
		if err := c.Register(m); err != nil {
			panic(err)
		}
	}
}

// Mirrors returns the registered mirrors in registration order.
func (c *Catalog) Mirrors() []*Mirror {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*Mirror(nil), c.mirrors...)
}

// Keys lists the base key of every registered leaf.
func (c *Catalog) Keys() []CacheKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []CacheKey
	for _, m := range c.mirrors {
		for _, n := range m.Leaves() {
			out = append(out, n.Base())
		}
	}
	return out
}

// Lookup returns the leaf a key was produced by.
func (c *Catalog) Lookup(key CacheKey) (*Node, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, m := range c.mirrors {
		if !key.HasPrefix(m.prefix) {
			continue
		}
		for _, n := range m.Leaves() {
			if key.HasPrefix(n.base) && len(key) <= len(n.base)+1 {
				return n, true
			}
		}
	}
	return nil, false
}
