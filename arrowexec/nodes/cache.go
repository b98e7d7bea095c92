package nodes

import (
	"sync"

	"github.com/cube2222/octoframe/arrowexec/execution"
	"github.com/cube2222/octoframe/table"
)

// Cache runs its input once per execution, however many times the cached subplan is referenced.
type Cache struct {
	ID       uint64
	Source   execution.NodeWithMeta
	Registry *CacheRegistry
}

func (c *Cache) Run(ctx execution.Context) (*table.Table, error) {
	return c.Registry.get(c.ID).run(func() (*table.Table, error) {
		return c.Source.Node.Run(ctx)
	})
}

type CacheRegistry struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
}

type cacheEntry struct {
	once  sync.Once
	table *table.Table
	err   error
}

func NewCacheRegistry() *CacheRegistry {
	return &CacheRegistry{
		entries: make(map[uint64]*cacheEntry),
	}
}

func (r *CacheRegistry) get(id uint64) *cacheEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[id]
	if !ok {
		entry = &cacheEntry{}
		r.entries[id] = entry
	}
	return entry
}

func (e *cacheEntry) run(f func() (*table.Table, error)) (*table.Table, error) {
	e.once.Do(func() {
		e.table, e.err = f()
	})
	return e.table, e.err
}
