package varbridge

import "sync"

// cache is the read-through variable cache. An entry is indexed under both
// the variable's id and its name so either key hits. Entries leave the cache
// only through Invalidate or InvalidateAll; server notifications do not
// evict, which keeps cache behavior predictable for the caller.
type cache struct {
	mu      sync.Mutex
	entries map[string]Variable // id or name -> variable
}

func newCache() *cache {
	return &cache{entries: make(map[string]Variable)}
}

func (c *cache) get(key string) (Variable, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *cache) put(v Variable) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[v.ID] = v
	if v.Name != "" {
		c.entries[v.Name] = v
	}
}

func (c *cache) invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries[key]
	if !ok {
		return
	}
	delete(c.entries, v.ID)
	if v.Name != "" {
		delete(c.entries, v.Name)
	}
}

func (c *cache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Variable)
}

func (c *cache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
