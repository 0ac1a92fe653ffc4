package sequence

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Cache remembers the last sequence handed out per scope/day key. It is a
// hint only: the unique index on sequence_allocations decides collisions.
type Cache interface {
	Get(key string) (int, bool)
	Set(key string, value int)
	Len() int
}

// LRU is a bounded Cache that evicts the least recently used key.
type LRU struct {
	mu      sync.Mutex
	entries *lru.Cache[string, int]
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 1
	}
	// lru.New only fails for a non-positive size.
	entries, _ := lru.New[string, int](capacity)
	return &LRU{entries: entries}
}

func (c *LRU) Get(key string) (int, bool) {
	return c.entries.Get(key)
}

// Set stores value unless a higher one is already cached; sequences only move
// forward.
func (c *LRU) Set(key string, value int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if current, ok := c.entries.Get(key); ok && current >= value {
		return
	}
	c.entries.Add(key, value)
}

func (c *LRU) Len() int {
	return c.entries.Len()
}
