// Package cache implements the bounded in-memory room cache (§4.B): a
// roomId -> Room mapping backed by the file store, evicted on idle time
// and on overall size so memory stays bounded regardless of how many
// rooms have ever been created.
package cache

import (
	"sort"
	"sync"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"go.uber.org/zap"
)

// entry pairs a cached room with the last time it was touched.
type entry struct {
	room       *room.Room
	lastAccess int64
}

// Cache is a bounded roomId -> Room cache that reads through to a
// FileStore on miss and writes through to it on every mutation.
type Cache struct {
	fs  *store.FileStore
	idx *store.Index
	log *zap.Logger

	maxSize int
	idleMs  int64

	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs a cache bounded to maxSize rooms, evicting entries idle
// for idleMs or longer (§4.B defaults: ROOM_CACHE_MAX=80, ROOM_CACHE_IDLE_MS=300000).
func New(fs *store.FileStore, idx *store.Index, log *zap.Logger, maxSize int, idleMs int64) *Cache {
	return &Cache{
		fs:      fs,
		idx:     idx,
		log:     log,
		maxSize: maxSize,
		idleMs:  idleMs,
		entries: make(map[string]*entry),
	}
}

// Get returns the room for roomID, reading through to disk on a cache
// miss. The second return value reports whether the room exists at all
// (on disk or in cache); it is false only when no such room was ever
// persisted.
func (c *Cache) Get(roomID string, now int64) (*room.Room, bool, error) {
	c.mu.Lock()
	if e, ok := c.entries[roomID]; ok {
		e.lastAccess = now
		r := e.room
		c.mu.Unlock()
		return r, true, nil
	}
	c.mu.Unlock()

	if !c.fs.RoomExists(roomID) {
		return nil, false, nil
	}

	r, err := c.fs.LoadRoom(roomID)
	if err != nil {
		return nil, false, err
	}

	r.Lock()
	r.SweepLocked(now)
	r.Unlock()

	c.insert(roomID, r, now)
	c.evictIfNeeded(now)
	return r, true, nil
}

// Put inserts a freshly-created room into the cache without touching
// disk (the caller is expected to have already persisted it).
func (c *Cache) Put(roomID string, r *room.Room, now int64) {
	c.insert(roomID, r, now)
	c.evictIfNeeded(now)
}

func (c *Cache) insert(roomID string, r *room.Room, now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[roomID] = &entry{room: r, lastAccess: now}
	metrics.RoomsCached.Set(float64(len(c.entries)))
}

// Touch refreshes roomID's lastAccess, used after a write completes so a
// just-saved room isn't immediately eligible for idle eviction.
func (c *Cache) Touch(roomID string, now int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[roomID]; ok {
		e.lastAccess = now
	}
}

// Len returns the number of rooms currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// EvictIdleAndOverflow runs the periodic eviction pass (§4.B): first
// drops entries idle for idleMs or longer, then, if still over maxSize,
// drops the oldest entries by lastAccess until back at the limit.
// Dirty rooms are flushed to disk before being dropped so eviction never
// loses unsaved state.
func (c *Cache) EvictIdleAndOverflow(now int64) {
	c.evictIfNeeded(now)
}

func (c *Cache) evictIfNeeded(now int64) {
	c.mu.Lock()
	var idleIDs []string
	for id, e := range c.entries {
		if now-e.lastAccess >= c.idleMs {
			idleIDs = append(idleIDs, id)
		}
	}
	c.mu.Unlock()

	for _, id := range idleIDs {
		c.evictOne(id)
	}

	c.mu.Lock()
	overflow := len(c.entries) - c.maxSize
	if overflow <= 0 {
		c.mu.Unlock()
		return
	}
	type ordered struct {
		id         string
		lastAccess int64
	}
	ranked := make([]ordered, 0, len(c.entries))
	for id, e := range c.entries {
		ranked = append(ranked, ordered{id, e.lastAccess})
	}
	c.mu.Unlock()

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].lastAccess < ranked[j].lastAccess })
	if overflow > len(ranked) {
		overflow = len(ranked)
	}
	for _, o := range ranked[:overflow] {
		c.evictOne(o.id)
	}
}

// evictOne flushes roomID to disk and drops it from the cache.
func (c *Cache) evictOne(roomID string) {
	c.mu.Lock()
	e, ok := c.entries[roomID]
	if !ok {
		c.mu.Unlock()
		return
	}
	delete(c.entries, roomID)
	metrics.RoomsCached.Set(float64(len(c.entries)))
	c.mu.Unlock()

	if err := c.fs.SaveRoom(e.room); err != nil {
		c.log.Error("failed to flush room on eviction", zap.String("room_id", roomID), zap.Error(err))
	}
}

// StartEviction runs EvictIdleAndOverflow on a timer until the returned
// channel is closed, performing one final pass on stop so nothing idle
// lingers unflushed past shutdown.
func (c *Cache) StartEviction(interval time.Duration) chan struct{} {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				c.EvictIdleAndOverflow(room.NowMs())
			case <-stop:
				c.EvictIdleAndOverflow(room.NowMs())
				return
			}
		}
	}()

	return stop
}
