// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"container/list"
	"sync"
)

// resultCache is a bounded LRU cache of validation outcomes keyed by
// cacheKey. Adapted from a generic fetch-on-miss LRU shape into a plain
// result cache: callers compute the value themselves and Put it, there is
// no lazy Fetcher, since a schema validation result is not something to
// lazily source from a backing store.
type resultCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[cacheKey]*list.Element
}

type cacheKey struct {
	schemaID    string
	payloadHash [32]byte
}

type cacheEntry struct {
	key    cacheKey
	result *ValidationError // nil means the payload was valid
}

func newResultCache(capacity int) *resultCache {
	if capacity <= 0 {
		capacity = 1000
	}
	return &resultCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[cacheKey]*list.Element),
	}
}

// Get returns (verdict, found). verdict is nil when the payload was valid.
func (c *resultCache) Get(key cacheKey) (*ValidationError, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return nil, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*cacheEntry).result, true
}

// Put stores a verdict, evicting the least recently used entry if the cache
// is at capacity.
func (c *resultCache) Put(key cacheKey, result *ValidationError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).result = result
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&cacheEntry{key: key, result: result})
	c.items[key] = el

	if c.ll.Len() > c.capacity {
		c.evictOldest()
	}
}

// InvalidateSchema drops every cached entry for a given schema id; LoadAll
// uses it for schema ids whose source content changed or that are no
// longer bound.
func (c *resultCache) InvalidateSchema(schemaID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, el := range c.items {
		if k.schemaID == schemaID {
			c.ll.Remove(el)
			delete(c.items, k)
		}
	}
}

func (c *resultCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	c.ll.Remove(el)
	delete(c.items, el.Value.(*cacheEntry).key)
}

func (c *resultCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Capacity returns the cache's configured maximum entry count.
func (c *resultCache) Capacity() int {
	return c.capacity
}
