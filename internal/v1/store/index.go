package store

import (
	"os"
	"sync"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"go.uber.org/zap"
)

// IndexEntry is a materialized view of one room on disk, used for fast
// random/by-id selection without loading the full room (§3 "Index").
type IndexEntry struct {
	Theme       string `json:"theme"`
	CreatedAt   int64  `json:"createdAt"`
	UpdatedAt   int64  `json:"updatedAt"`
	FilledCount int    `json:"filledCount"`
	Completed   bool   `json:"completed"`
}

// Index is the roomId → IndexEntry materialized view, process-wide and
// guarded by its own mutex per §5 ("shared resources... serialized by a
// process-level mutex").
type Index struct {
	mu      sync.RWMutex
	entries map[string]IndexEntry
	fs      *FileStore
}

// NewIndex loads the index from disk, rebuilding it from rooms/*.json if
// the index file is missing or unparseable (crash-safe startup, §4.C).
func NewIndex(fs *FileStore, log *zap.Logger) (*Index, error) {
	idx := &Index{entries: make(map[string]IndexEntry), fs: fs}

	var onDisk map[string]IndexEntry
	err := readJSON(fs.indexPath(), &onDisk)
	if err == nil {
		idx.entries = onDisk
		return idx, nil
	}
	if !os.IsNotExist(err) {
		log.Warn("rooms_index.json unparseable, rebuilding from rooms/", zap.Error(err))
	}

	if err := idx.rebuild(); err != nil {
		return nil, err
	}
	return idx, idx.Persist()
}

// rebuild scans rooms/*.json and repopulates entries in memory only.
func (idx *Index) rebuild() error {
	ids, err := idx.fs.ListRoomFiles()
	if err != nil {
		return err
	}

	entries := make(map[string]IndexEntry, len(ids))
	for _, id := range ids {
		r, err := idx.fs.LoadRoom(id)
		if err != nil {
			continue // tolerate a stray unreadable/partial file; it is simply excluded
		}
		entries[id] = entryFromRoom(r)
	}

	idx.mu.Lock()
	idx.entries = entries
	idx.mu.Unlock()
	return nil
}

func entryFromRoom(r *room.Room) IndexEntry {
	filled := r.FilledCount()
	return IndexEntry{
		Theme:       r.Theme,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		FilledCount: filled,
		Completed:   r.Completed() || filled >= room.FrameCount,
	}
}

// Put inserts/refreshes the index entry for roomID and persists the index.
func (idx *Index) Put(roomID string, r *room.Room) error {
	idx.mu.Lock()
	idx.entries[roomID] = entryFromRoom(r)
	idx.mu.Unlock()
	return idx.Persist()
}

// Get returns the entry for roomID, if present.
func (idx *Index) Get(roomID string) (IndexEntry, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	e, ok := idx.entries[roomID]
	return e, ok
}

// Delete removes roomID from the index (used when a stale entry is found
// to have no backing file) and persists the index.
func (idx *Index) Delete(roomID string) error {
	idx.mu.Lock()
	_, existed := idx.entries[roomID]
	delete(idx.entries, roomID)
	idx.mu.Unlock()
	if !existed {
		return nil
	}
	return idx.Persist()
}

// Len returns the number of rooms currently indexed.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

// Snapshot returns a copy of the full index, safe for the caller to
// range over without holding any lock.
func (idx *Index) Snapshot() map[string]IndexEntry {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make(map[string]IndexEntry, len(idx.entries))
	for k, v := range idx.entries {
		out[k] = v
	}
	return out
}

// Persist atomically writes the index to rooms_index.json.
func (idx *Index) Persist() error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.persistLocked()
}

func (idx *Index) persistLocked() error {
	return atomicWriteJSON(idx.fs.indexPath(), "index", idx.entries)
}
