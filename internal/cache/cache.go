package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

type entry[V any] struct {
	key        string
	value      V
	insertedAt time.Time
	element    *list.Element
}

// Cache is a bounded key-value store with TTL expiry and LRU eviction.
// Both Get and Set count as "use": an entry read just before an
// eviction-triggering insert will not be the one evicted.
type Cache[V any] struct {
	mu      sync.Mutex
	entries map[string]*entry[V]
	lru     *list.List
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
	now     func() time.Time
}

func New[V any](maxSize int, ttl time.Duration) *Cache[V] {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &Cache[V]{
		entries: make(map[string]*entry[V]),
		lru:     list.New(),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the value for key if present and unexpired. An expired
// entry is evicted and counted as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return zero, false
	}
	if c.now().Sub(e.insertedAt) > c.ttl {
		c.remove(e)
		c.misses++
		return zero, false
	}
	c.lru.MoveToFront(e.element)
	c.hits++
	return e.value, true
}

// Set stores value under key. When the cache is full and key is new,
// exactly one least-recently-used entry is evicted first.
func (c *Cache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.insertedAt = c.now()
		c.lru.MoveToFront(e.element)
		return
	}

	if c.lru.Len() >= c.maxSize {
		if back := c.lru.Back(); back != nil {
			c.remove(c.entries[back.Value.(string)])
		}
	}

	e := &entry[V]{key: key, value: value, insertedAt: c.now()}
	e.element = c.lru.PushFront(key)
	c.entries[key] = e
}

func (c *Cache[V]) remove(e *entry[V]) {
	c.lru.Remove(e.element)
	delete(c.entries, e.key)
}

func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*entry[V])
	c.lru.Init()
	c.hits = 0
	c.misses = 0
}

type Stats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{Size: c.lru.Len(), MaxSize: c.maxSize, Hits: c.hits, Misses: c.misses, HitRate: rate}
}

// NormalizeQuery folds equivalent query spellings onto one cache key.
func NormalizeQuery(query string) string {
	return strings.ToLower(strings.TrimSpace(query))
}

// Key hashes the normalized query together with a canonical
// serialization of the filters. json.Marshal sorts map keys, so equal
// filter sets always produce the same key.
func Key(query string, filters map[string]string) string {
	normalized := NormalizeQuery(query)
	if filters == nil {
		filters = map[string]string{}
	}
	filterJSON, _ := json.Marshal(filters)
	sum := sha256.Sum256([]byte(normalized + ":" + string(filterJSON)))
	return hex.EncodeToString(sum[:])
}
