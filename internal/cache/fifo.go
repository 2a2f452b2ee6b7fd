// Confatlas - Multi-Tenant Video Conferencing Control Plane
// Copyright 2026 Confatlas Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/confatlas/confatlas

// Package cache provides the small fixed-capacity TTL caches used by the
// tenant matcher and cluster-settings resolution.
//
// The caches are FIFO, not LRU: entries are evicted in insertion order once
// capacity is reached, and every entry expires after its TTL regardless of
// access. That matches the read-mostly, write-invalidated usage pattern of
// match lookups, where recency tracking buys nothing and a hard staleness
// bound matters.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// FIFO is a fixed-capacity cache with per-entry TTL and FIFO eviction.
// Safe for concurrent use. The zero value is not usable; use NewFIFO.
type FIFO[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	entries  map[K]*list.Element
	order    *list.List

	// now is replaceable for tests.
	now func() time.Time
}

type fifoEntry[K comparable, V any] struct {
	key     K
	value   V
	expires time.Time
}

// NewFIFO creates a FIFO cache holding at most capacity entries,
// each valid for ttl after insertion.
func NewFIFO[K comparable, V any](capacity int, ttl time.Duration) *FIFO[K, V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &FIFO[K, V]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[K]*list.Element, capacity),
		order:    list.New(),
		now:      time.Now,
	}
}

// Get returns the cached value for key, if present and not expired.
func (c *FIFO[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	el, ok := c.entries[key]
	if !ok {
		return zero, false
	}
	entry := el.Value.(*fifoEntry[K, V])
	if c.now().After(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return zero, false
	}
	return entry.value, true
}

// Set stores value under key, evicting the oldest entry when full.
// Re-setting an existing key refreshes its value and TTL but keeps
// its position in the eviction order.
func (c *FIFO[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*fifoEntry[K, V])
		entry.value = value
		entry.expires = c.now().Add(c.ttl)
		return
	}

	for c.order.Len() >= c.capacity {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*fifoEntry[K, V]).key)
	}

	entry := &fifoEntry[K, V]{key: key, value: value, expires: c.now().Add(c.ttl)}
	c.entries[key] = c.order.PushBack(entry)
}

// GetOrLoad returns the cached value for key, calling load and caching
// its result on a miss. Errors are not cached.
func (c *FIFO[K, V]) GetOrLoad(key K, load func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		var zero V
		return zero, err
	}
	c.Set(key, v)
	return v, nil
}

// Delete removes key from the cache.
func (c *FIFO[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.order.Remove(el)
		delete(c.entries, key)
	}
}

// Clear removes all entries.
func (c *FIFO[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[K]*list.Element, c.capacity)
	c.order.Init()
}

// Len returns the number of entries, including any not yet expired-swept.
func (c *FIFO[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// SetClock replaces the cache's time source. Tests only.
func (c *FIFO[K, V]) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}
