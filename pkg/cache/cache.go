// Package cache implements the Recursive Resolver's answer cache: a
// capacity-bounded, true LRU with per-entry absolute expiry. Eviction order
// follows true recency (container/list), not an approximation over
// last-access timestamps.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/miekg/dns"
)

// Entry is a cached answer set keyed by (qname, qtype).
type Entry struct {
	Answer    []dns.RR
	ExpiresAt time.Time
}

type node struct {
	key   string
	entry Entry
}

// Cache is a thread-safe, single-mutex true LRU cache.
type Cache struct {
	mu       sync.Mutex
	maxsize  int
	ll       *list.List
	index    map[string]*list.Element

	hits   uint64
	misses uint64
}

// New creates a Cache with the given capacity (default 5000 when <= 0).
func New(maxsize int) *Cache {
	if maxsize <= 0 {
		maxsize = 5000
	}
	return &Cache{
		maxsize: maxsize,
		ll:      list.New(),
		index:   make(map[string]*list.Element, maxsize),
	}
}

// Key builds the cache key for a normalized qname and qtype.
func Key(qname string, qtype uint16) string {
	return qname + "/" + dns.TypeToString[qtype]
}

// Get returns the cached entry for key, moving it to most-recently-used on
// a hit. An expired entry is evicted and reported as a miss.
func (c *Cache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.index[key]
	if !ok {
		c.misses++
		return Entry{}, false
	}

	n := el.Value.(*node)
	if time.Now().After(n.entry.ExpiresAt) {
		c.removeElement(el)
		c.misses++
		return Entry{}, false
	}

	c.ll.MoveToFront(el)
	c.hits++
	return n.entry, true
}

// Put inserts or replaces the entry for key, evicting the least recently
// used entry if the cache is at capacity.
func (c *Cache) Put(key string, entry Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.index[key]; ok {
		el.Value.(*node).entry = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&node{key: key, entry: entry})
	c.index[key] = el

	for c.ll.Len() > c.maxsize {
		c.evictOldest()
	}
}

func (c *Cache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.removeElement(el)
}

func (c *Cache) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.index, el.Value.(*node).key)
}

// Len returns the current number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Size    int
	MaxSize int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Stats returns a snapshot of the cache's counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}

	return Stats{
		Size:    c.ll.Len(),
		MaxSize: c.maxsize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// ClampTTL returns ttl bounded to [min, max].
func ClampTTL(ttl, min, max time.Duration) time.Duration {
	if ttl < min {
		return min
	}
	if ttl > max {
		return max
	}
	return ttl
}
