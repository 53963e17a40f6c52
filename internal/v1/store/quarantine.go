package store

import (
	"os"
	"sort"
	"sync"

	"k8s.io/utils/set"
)

// Quarantine is the persisted set of roomIds that must be treated as
// absent by every externally observable operation (§3 "Quarantine set").
type Quarantine struct {
	mu   sync.RWMutex
	ids  set.Set[string]
	fs   *FileStore
}

// NewQuarantine loads the quarantine set from disk, starting empty if the
// file does not yet exist.
func NewQuarantine(fs *FileStore) (*Quarantine, error) {
	q := &Quarantine{ids: set.New[string](), fs: fs}

	var ids []string
	if err := readJSON(fs.quarantinePath(), &ids); err != nil {
		if os.IsNotExist(err) {
			return q, nil
		}
		return nil, err
	}
	q.ids = set.New(ids...)
	return q, nil
}

// Contains reports whether roomID is quarantined.
func (q *Quarantine) Contains(roomID string) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ids.Has(roomID)
}

// Set adds or removes roomID from the quarantine set depending on on,
// and persists the change atomically.
func (q *Quarantine) Set(roomID string, on bool) error {
	q.mu.Lock()
	if on {
		q.ids.Insert(roomID)
	} else {
		q.ids.Delete(roomID)
	}
	q.mu.Unlock()
	return q.persist()
}

// Toggle flips roomID's quarantine state and returns the new state.
func (q *Quarantine) Toggle(roomID string) (bool, error) {
	q.mu.Lock()
	now := !q.ids.Has(roomID)
	if now {
		q.ids.Insert(roomID)
	} else {
		q.ids.Delete(roomID)
	}
	q.mu.Unlock()
	return now, q.persist()
}

// Len returns the current quarantine set size.
func (q *Quarantine) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.ids.Len()
}

// List returns a sorted snapshot of quarantined room IDs.
func (q *Quarantine) List() []string {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := q.ids.UnsortedList()
	sort.Strings(out)
	return out
}

func (q *Quarantine) persist() error {
	q.mu.RLock()
	ids := q.ids.UnsortedList()
	q.mu.RUnlock()
	sort.Strings(ids)
	return atomicWriteJSON(q.fs.quarantinePath(), "quarantine", ids)
}
