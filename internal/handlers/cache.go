package handlers

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ReplayLoader fetches stored replay bytes and file name for a match.
type ReplayLoader func(ctx context.Context, id uuid.UUID) ([]byte, string, error)

type cachedReplay struct {
	data     []byte
	name     string
	lastSeen time.Time
}

// ReplayCache keeps recently served replays in memory. Entries idle for
// longer than the TTL are dropped, and the least recently served entries go
// first once the cached bytes exceed the cap.
type ReplayCache struct {
	mu       sync.Mutex
	entries  map[uuid.UUID]*cachedReplay
	size     int64
	ttl      time.Duration
	maxBytes int64
	load     ReplayLoader
}

// NewReplayCache creates a cache holding at most maxBytes of replay data
// (zero or less disables caching) with a cleanup goroutine that stops when
// ctx is done.
func NewReplayCache(ctx context.Context, load ReplayLoader, ttl time.Duration, maxBytes int64) *ReplayCache {
	c := &ReplayCache{entries: make(map[uuid.UUID]*cachedReplay), ttl: ttl, maxBytes: maxBytes, load: load}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Evict(time.Now())
			}
		}
	}()
	return c
}

// Get returns the replay for id, loading it on a miss. Replays larger than
// the cap are served but not kept.
func (c *ReplayCache) Get(ctx context.Context, id uuid.UUID) ([]byte, string, error) {
	c.mu.Lock()
	if e, ok := c.entries[id]; ok {
		e.lastSeen = time.Now()
		c.mu.Unlock()
		return e.data, e.name, nil
	}
	c.mu.Unlock()

	data, name, err := c.load(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > c.maxBytes {
		return data, name, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.entries[id]; ok {
		c.size -= int64(len(old.data))
	}
	c.entries[id] = &cachedReplay{data: data, name: name, lastSeen: time.Now()}
	c.size += int64(len(data))
	for c.size > c.maxBytes {
		c.dropOldest()
	}
	return data, name, nil
}

func (c *ReplayCache) dropOldest() {
	var (
		oldest uuid.UUID
		seen   time.Time
		found  bool
	)
	for id, e := range c.entries {
		if !found || e.lastSeen.Before(seen) {
			oldest, seen, found = id, e.lastSeen, true
		}
	}
	if !found {
		c.size = 0
		return
	}
	c.size -= int64(len(c.entries[oldest].data))
	delete(c.entries, oldest)
}

// Evict removes entries idle for longer than the TTL as of now.
func (c *ReplayCache) Evict(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		if now.Sub(e.lastSeen) > c.ttl {
			c.size -= int64(len(e.data))
			delete(c.entries, id)
		}
	}
}

// Len reports the number of cached replays.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Size reports the cached replay bytes.
func (c *ReplayCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
