// Package cache keeps small in-process lookups, such as city coordinates,
// so repeated control cycles do not hit the network for them.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Stats counts lookups since the cache was created.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// LRU is bounded by entry count. With a positive ttl an entry also lapses
// that long after its last Put; otherwise it stays until evicted.
type LRU[K comparable, V any] struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	index   map[K]*list.Element
	recency *list.List // front is most recently used
	now     func() time.Time
	hits    int64
	misses  int64
}

type slot[K comparable, V any] struct {
	key     K
	value   V
	lapseAt time.Time
}

type Option[K comparable, V any] func(*LRU[K, V])

// WithClock replaces time.Now for lapse checks.
func WithClock[K comparable, V any](now func() time.Time) Option[K, V] {
	return func(c *LRU[K, V]) { c.now = now }
}

func NewLRU[K comparable, V any](limit int, ttl time.Duration, opts ...Option[K, V]) *LRU[K, V] {
	c := &LRU[K, V]{
		limit:   max(1, limit),
		ttl:     ttl,
		index:   make(map[K]*list.Element),
		recency: list.New(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get counts a hit only for a live entry. A lapsed entry is dropped and
// counted as a miss.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.live(key)
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return s.value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	lapseAt := time.Time{}
	if c.ttl > 0 {
		lapseAt = c.now().Add(c.ttl)
	}

	if elem, ok := c.index[key]; ok {
		s := elem.Value.(*slot[K, V])
		s.value, s.lapseAt = value, lapseAt
		c.recency.MoveToFront(elem)
		return
	}
	for c.recency.Len() >= c.limit {
		c.drop(c.recency.Back())
	}
	c.index[key] = c.recency.PushFront(&slot[K, V]{key: key, value: value, lapseAt: lapseAt})
}

// Len counts stored entries, lapsed ones included until they are touched.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: c.recency.Len()}
}

// live requires c.mu. It refreshes recency for a live entry.
func (c *LRU[K, V]) live(key K) (*slot[K, V], bool) {
	elem, ok := c.index[key]
	if !ok {
		return nil, false
	}
	s := elem.Value.(*slot[K, V])
	if !s.lapseAt.IsZero() && c.now().After(s.lapseAt) {
		c.drop(elem)
		return nil, false
	}
	c.recency.MoveToFront(elem)
	return s, true
}

// drop requires c.mu.
func (c *LRU[K, V]) drop(elem *list.Element) {
	if elem == nil {
		return
	}
	c.recency.Remove(elem)
	delete(c.index, elem.Value.(*slot[K, V]).key)
}
