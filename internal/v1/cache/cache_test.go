package cache

import (
	"testing"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestCache(t *testing.T, maxSize int, idleMs int64) (*Cache, *store.FileStore) {
	dir := t.TempDir()
	fs, err := store.New(dir)
	require.NoError(t, err)
	idx, err := store.NewIndex(fs, zaptest.NewLogger(t))
	require.NoError(t, err)
	return New(fs, idx, zaptest.NewLogger(t), maxSize, idleMs), fs
}

func TestGet_MissReturnsFalseWhenNeverPersisted(t *testing.T) {
	c, _ := newTestCache(t, 80, 300000)
	r, ok, err := c.Get("NOPE0001", 1000)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, r)
}

func TestGet_ReadsThroughToStoreOnMiss(t *testing.T) {
	c, fs := newTestCache(t, 80, 300000)
	require.NoError(t, fs.SaveRoom(room.New("ROOM001", "t", 0)))

	r, ok, err := c.Get("ROOM001", 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ROOM001", r.RoomID)
	assert.Equal(t, 1, c.Len())
}

func TestGet_SecondCallHitsCacheNotStore(t *testing.T) {
	c, fs := newTestCache(t, 80, 300000)
	require.NoError(t, fs.SaveRoom(room.New("ROOM001", "t", 0)))

	first, _, err := c.Get("ROOM001", 1000)
	require.NoError(t, err)

	second, _, err := c.Get("ROOM001", 2000)
	require.NoError(t, err)

	assert.Same(t, first, second, "second Get must return the identical in-memory Room")
}

func TestGet_SweepsExpiredReservationsOnLoad(t *testing.T) {
	c, fs := newTestCache(t, 80, 300000)
	r := room.New("ROOM001", "t", 0)
	r.Lock()
	_, err := r.ReserveLocked(3, 1000, 0)
	require.NoError(t, err)
	r.Unlock()
	require.NoError(t, fs.SaveRoom(r))

	loaded, ok, err := c.Get("ROOM001", 5000) // well past the 1000ms reservation TTL
	require.NoError(t, err)
	require.True(t, ok)

	loaded.RLock()
	defer loaded.RUnlock()
	assert.Empty(t, loaded.Reservations)
	assert.Empty(t, loaded.ReservedByFrame)
}

func TestPut_SkipsDiskReadForFreshRooms(t *testing.T) {
	c, _ := newTestCache(t, 80, 300000)
	r := room.New("ROOM001", "t", 0)
	c.Put("ROOM001", r, 1000)
	assert.Equal(t, 1, c.Len())

	got, ok, err := c.Get("ROOM001", 1000)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, r, got)
}

func TestEvictIdleAndOverflow_DropsIdleEntries(t *testing.T) {
	c, fs := newTestCache(t, 80, 1000)
	r := room.New("ROOM001", "t", 0)
	require.NoError(t, fs.SaveRoom(r))
	c.Put("ROOM001", r, 1000)

	c.EvictIdleAndOverflow(1000 + 1000) // exactly at idle threshold
	assert.Equal(t, 0, c.Len())
}

func TestEvictIdleAndOverflow_FlushesBeforeDropping(t *testing.T) {
	c, fs := newTestCache(t, 80, 1000)
	r := room.New("ROOM001", "a cat", 0)
	r.Committed[0] = true
	r.Frames[0] = "data:unflushed"
	c.Put("ROOM001", r, 1000) // never explicitly saved to fs

	c.EvictIdleAndOverflow(5000)

	loaded, err := fs.LoadRoom("ROOM001")
	require.NoError(t, err)
	assert.Equal(t, "data:unflushed", loaded.Frames[0])
}

func TestEvictIdleAndOverflow_SizeEvictionDropsOldestFirst(t *testing.T) {
	c, fs := newTestCache(t, 2, 1000000) // idle threshold far in the future
	for i, id := range []string{"ROOM001", "ROOM002", "ROOM003"} {
		r := room.New(id, "t", 0)
		require.NoError(t, fs.SaveRoom(r))
		c.Put(id, r, int64(1000*(i+1))) // ROOM001 oldest, ROOM003 newest
	}

	c.EvictIdleAndOverflow(3000)

	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get("ROOM002", 3000)
	assert.True(t, ok)
	_, ok, _ = c.Get("ROOM003", 3000)
	assert.True(t, ok)
}

func TestTouch_RefreshesLastAccess(t *testing.T) {
	c, fs := newTestCache(t, 80, 1000)
	r := room.New("ROOM001", "t", 0)
	require.NoError(t, fs.SaveRoom(r))
	c.Put("ROOM001", r, 1000)

	c.Touch("ROOM001", 1500)
	c.EvictIdleAndOverflow(2400) // 2400-1500=900 < 1000 idle threshold
	assert.Equal(t, 1, c.Len())
}
