package memory

import (
	"container/list"
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"goa.design/taskflow/clock"
)

// CacheMaxEntries is the LRU trim bound (§4.5: "LRU-trim to 20 entries").
const CacheMaxEntries = 20

// CacheTTL is the entry lifetime (§4.5: "TTL 5 min").
const CacheTTL = 5 * time.Minute

// CacheKey builds the composite retrieval-cache key (§4.5, §9:
// "MemoryCoordinator cache: keyed per (message_prefix, triggers)").
func CacheKey(messagePrefix string, triggers []string) string {
	sorted := append([]string(nil), triggers...)
	sort.Strings(sorted)
	return messagePrefix + "|" + strings.Join(sorted, ",")
}

type cacheEntry struct {
	key     string
	value   SearchResult
	expires time.Time
}

// Cache is a bounded LRU (container/list + map) with TTL expiry, single-
// writer via an internal mutex so readers copy the formatted result out
// before releasing the lock (§9 design note). An optional Redis tier lets
// the cache be shared across processes.
type Cache struct {
	mu    sync.Mutex
	ll    *list.List
	items map[string]*list.Element
	clk   clock.Clock
	redis *redis.Client
	ttl   time.Duration
	max   int
}

// NewCache builds a process-local Cache. rdb may be nil to disable the
// shared Redis tier.
func NewCache(clk clock.Clock, rdb *redis.Client) *Cache {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Cache{
		ll:    list.New(),
		items: make(map[string]*list.Element),
		clk:   clk,
		redis: rdb,
		ttl:   CacheTTL,
		max:   CacheMaxEntries,
	}
}

// Get returns the cached result for key, checking the local LRU first and
// falling back to the Redis tier (when configured) on a local miss.
func (c *Cache) Get(ctx context.Context, key string) (SearchResult, bool) {
	c.mu.Lock()
	if el, ok := c.items[key]; ok {
		entry := el.Value.(*cacheEntry)
		if c.clk.Now().Before(entry.expires) {
			c.ll.MoveToFront(el)
			value := entry.value
			c.mu.Unlock()
			return value, true
		}
		c.removeLocked(el)
	}
	c.mu.Unlock()

	if c.redis == nil {
		return SearchResult{}, false
	}
	raw, err := c.redis.Get(ctx, redisCacheKey(key)).Result()
	if err != nil {
		return SearchResult{}, false
	}
	var result SearchResult
	if json.Unmarshal([]byte(raw), &result) != nil {
		return SearchResult{}, false
	}
	c.Put(ctx, key, result)
	return result, true
}

// Put inserts or refreshes key's entry, trimming the oldest entry past
// CacheMaxEntries and mirroring to the Redis tier when configured.
func (c *Cache) Put(ctx context.Context, key string, value SearchResult) {
	c.mu.Lock()
	expires := c.clk.Now().Add(c.ttl)
	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).expires = expires
		c.ll.MoveToFront(el)
	} else {
		el := c.ll.PushFront(&cacheEntry{key: key, value: value, expires: expires})
		c.items[key] = el
		for c.ll.Len() > c.max {
			c.removeLocked(c.ll.Back())
		}
	}
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.redis.Set(ctx, redisCacheKey(key), raw, c.ttl)
}

func (c *Cache) removeLocked(el *list.Element) {
	if el == nil {
		return
	}
	entry := el.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.ll.Remove(el)
}

func redisCacheKey(key string) string {
	return "taskflow:memory:cache:" + key
}
