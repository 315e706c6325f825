// Package cache implements the content-addressed embedding cache.
//
// Entries are keyed by content fingerprint (see artifact.Fingerprint), so
// identical content embedded with the same model shares one entry. The
// cache bounds provider cost two ways: an LRU capacity bound on entries and
// bytes, and single-flight coalescing so concurrent requests for the same
// fingerprint trigger exactly one provider call.
package cache

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrExhausted signals the cache could not evict down to its configured
// capacity because too many entries are pinned by in-flight ingestions.
// It indicates capacity misconfiguration; the cache logs it and keeps
// serving rather than failing the caller.
var ErrExhausted = errors.New("embedding cache capacity exhausted")

// Config bounds cache capacity.
type Config struct {
	// MaxEntries caps the number of cached embeddings. Default 4096.
	MaxEntries int

	// MaxBytes caps the approximate memory held by cached vectors.
	// Default 64 MiB.
	MaxBytes int64
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Entries   int
	Bytes     int64
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

type entry struct {
	fingerprint string
	vector      []float32
	size        int64
	lastAccess  time.Time
}

// Cache is a least-recently-used embedding cache with per-fingerprint
// single-flight computation.
//
// Cache is safe for concurrent use by multiple goroutines. Returned vectors
// are shared; callers must not mutate them.
type Cache struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*list.Element
	order   *list.List // front is most recently used
	bytes   int64
	pins    map[string]int

	hits      uint64
	misses    uint64
	evictions uint64

	group  singleflight.Group
	logger *slog.Logger
}

// New creates a Cache with the given capacity bounds.
func New(cfg Config, logger *slog.Logger) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = 4096
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		cfg:     cfg,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		pins:    make(map[string]int),
		logger:  logger,
	}
}

// Get returns the cached vector for fingerprint, extending its recency.
func (c *Cache) Get(fingerprint string) ([]float32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fingerprint]
	if !ok {
		c.misses++
		return nil, false
	}
	c.hits++
	c.touch(elem)
	return elem.Value.(*entry).vector, true
}

// Put stores the vector under fingerprint. Equal fingerprints imply equal
// vectors by construction, so Put is write-once: a second Put for an
// existing fingerprint only refreshes recency.
func (c *Cache) Put(fingerprint string, vector []float32) {
	if len(vector) == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[fingerprint]; ok {
		c.touch(elem)
		return
	}

	e := &entry{
		fingerprint: fingerprint,
		vector:      vector,
		size:        entrySize(fingerprint, vector),
		lastAccess:  time.Now(),
	}
	c.entries[fingerprint] = c.order.PushFront(e)
	c.bytes += e.size
	c.evict()
}

// GetOrCompute returns the cached vector for fingerprint, or runs compute
// exactly once to produce it. Concurrent callers for the same fingerprint
// wait on the single in-flight computation instead of issuing duplicates.
// Callers that need the vector to stay resident across further work should
// Pin the fingerprint first.
func (c *Cache) GetOrCompute(ctx context.Context, fingerprint string, compute func(context.Context) ([]float32, error)) ([]float32, error) {
	if vec, ok := c.Get(fingerprint); ok {
		return vec, nil
	}

	ch := c.group.DoChan(fingerprint, func() (any, error) {
		// Re-check under single-flight: a concurrent caller may have
		// populated the entry between our miss and this call.
		if vec, ok := c.Get(fingerprint); ok {
			return vec, nil
		}
		// The computation is shared by every coalesced caller, so it is
		// detached from the initiating caller's cancellation. Each waiter
		// honours its own context in the select below.
		vec, err := compute(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.Put(fingerprint, vec)
		return vec, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]float32), nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for embedding computation: %w", ctx.Err())
	}
}

// Pin marks fingerprint as referenced by an in-flight ingestion. Pinned
// entries are never evicted. Pins are counted, so concurrent ingestions of
// the same content stack.
func (c *Cache) Pin(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pins[fingerprint]++
}

// Unpin releases a Pin. Unpinning below zero is a programming error and
// panics.
func (c *Cache) Unpin(fingerprint string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.pins[fingerprint]
	if !ok {
		panic("cache: unpin without matching pin: " + fingerprint)
	}
	if n == 1 {
		delete(c.pins, fingerprint)
	} else {
		c.pins[fingerprint] = n - 1
	}
	c.evict()
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns a snapshot of cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Bytes:     c.bytes,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// touch moves elem to the front of the recency list. Caller holds mu.
func (c *Cache) touch(elem *list.Element) {
	elem.Value.(*entry).lastAccess = time.Now()
	c.order.MoveToFront(elem)
}

// evict removes least-recently-used entries until the cache fits its
// capacity bounds, skipping pinned entries. Caller holds mu.
func (c *Cache) evict() {
	over := func() bool {
		return len(c.entries) > c.cfg.MaxEntries || c.bytes > c.cfg.MaxBytes
	}

	elem := c.order.Back()
	for over() && elem != nil {
		prev := elem.Prev()
		e := elem.Value.(*entry)
		if c.pins[e.fingerprint] == 0 {
			c.order.Remove(elem)
			delete(c.entries, e.fingerprint)
			c.bytes -= e.size
			c.evictions++
		}
		elem = prev
	}

	if over() {
		// Everything left is pinned; nothing more can go.
		c.logger.Warn("cache over capacity",
			"error", ErrExhausted,
			"entries", len(c.entries),
			"bytes", c.bytes,
			"pinned", len(c.pins))
	}
}

// entrySize approximates the memory held by one entry.
func entrySize(fingerprint string, vector []float32) int64 {
	return int64(len(fingerprint)) + int64(len(vector))*4
}
