package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/Nayuta-umeda/anim5s-server/internal/v1/metrics"
	"github.com/Nayuta-umeda/anim5s-server/internal/v1/room"
	"go.uber.org/zap"
)

// Manifest lists the rooms included in one backup directory.
type Manifest struct {
	Timestamp string   `json:"timestamp"`
	RoomIDs   []string `json:"roomIds"`
}

// BackupScheduler tracks the dirty-room set accumulated since the last
// backup and runs incremental backups on a timer (§4.C "Incremental
// backup").
type BackupScheduler struct {
	fs  *FileStore
	idx *Index
	log *zap.Logger

	intervalMs int64
	keep       int

	mu        sync.Mutex
	dirty     map[string]struct{}
	lastRunAt int64
}

// NewBackupScheduler constructs a scheduler that runs a backup at most
// once every intervalMs, keeping at most keep backup directories.
func NewBackupScheduler(fs *FileStore, idx *Index, log *zap.Logger, intervalMs int64, keep int) *BackupScheduler {
	return &BackupScheduler{
		fs:         fs,
		idx:        idx,
		log:        log,
		intervalMs: intervalMs,
		keep:       keep,
		dirty:      make(map[string]struct{}),
	}
}

// MarkDirty records that roomID was saved since the last backup.
func (b *BackupScheduler) MarkDirty(roomID string) {
	b.mu.Lock()
	b.dirty[roomID] = struct{}{}
	b.mu.Unlock()
	metrics.RoomsDirty.Set(float64(b.DirtyCount()))
}

// DirtyCount returns the number of rooms pending inclusion in the next backup.
func (b *BackupScheduler) DirtyCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.dirty)
}

// Tick runs a backup if enough time has elapsed since the last one and
// the dirty set is non-empty. Intended to be called from a periodic
// ticker (nominally every ~30s per §4.C); a no-op tick is cheap.
func (b *BackupScheduler) Tick(now int64) {
	b.mu.Lock()
	elapsed := now-b.lastRunAt >= b.intervalMs
	dirty := make([]string, 0, len(b.dirty))
	for id := range b.dirty {
		dirty = append(dirty, id)
	}
	b.mu.Unlock()

	if !elapsed || len(dirty) == 0 {
		return
	}

	if err := b.run(now, dirty); err != nil {
		b.log.Error("incremental backup failed", zap.Error(err))
		return
	}

	b.mu.Lock()
	for _, id := range dirty {
		delete(b.dirty, id)
	}
	b.lastRunAt = now
	b.mu.Unlock()
	metrics.RoomsDirty.Set(0)
	metrics.BackupsTotal.Inc()
}

// ForceBackup runs a backup unconditionally with whatever rooms are
// currently dirty, used for the final best-effort backup on shutdown.
func (b *BackupScheduler) ForceBackup(now int64) error {
	b.mu.Lock()
	dirty := make([]string, 0, len(b.dirty))
	for id := range b.dirty {
		dirty = append(dirty, id)
	}
	b.mu.Unlock()

	if len(dirty) == 0 {
		return nil
	}
	if err := b.run(now, dirty); err != nil {
		return err
	}

	b.mu.Lock()
	for _, id := range dirty {
		delete(b.dirty, id)
	}
	b.lastRunAt = now
	b.mu.Unlock()
	metrics.RoomsDirty.Set(0)
	metrics.BackupsTotal.Inc()
	return nil
}

// Start runs Tick on a timer until the returned channel is closed, then
// runs one ForceBackup pass so a non-empty dirty set is never lost on
// shutdown (§4.C, the supplemented "final best-effort backup" feature).
func (b *BackupScheduler) Start(tickInterval time.Duration) chan struct{} {
	stop := make(chan struct{})

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				b.Tick(room.NowMs())
			case <-stop:
				if err := b.ForceBackup(room.NowMs()); err != nil {
					b.log.Error("final backup on shutdown failed", zap.Error(err))
				}
				return
			}
		}
	}()

	return stop
}

func (b *BackupScheduler) run(now int64, dirty []string) error {
	ts := time.UnixMilli(now).UTC().Format("20060102T150405.000Z")
	dir := filepath.Join(b.fs.backupsDir(), ts)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	if err := atomicWriteJSON(filepath.Join(dir, "rooms_index.json"), "backup_index", b.idx.Snapshot()); err != nil {
		return err
	}

	sort.Strings(dirty)
	if err := atomicWriteJSON(filepath.Join(dir, "manifest.json"), "backup_manifest", Manifest{Timestamp: ts, RoomIDs: dirty}); err != nil {
		return err
	}

	for _, roomID := range dirty {
		src := b.fs.roomPath(roomID)
		data, err := os.ReadFile(src)
		if err != nil {
			if os.IsNotExist(err) {
				continue // room deleted/never written since marked dirty
			}
			return fmt.Errorf("read room %s for backup: %w", roomID, err)
		}
		dst := filepath.Join(dir, roomID+".json")
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return fmt.Errorf("copy room %s into backup: %w", roomID, err)
		}
	}

	return b.prune()
}

// prune removes the oldest backup directories beyond b.keep, ordered
// lexically (the timestamp-named directories sort chronologically).
func (b *BackupScheduler) prune() error {
	entries, err := os.ReadDir(b.fs.backupsDir())
	if err != nil {
		return fmt.Errorf("list backups directory: %w", err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)

	if len(dirs) <= b.keep {
		return nil
	}

	for _, name := range dirs[:len(dirs)-b.keep] {
		if err := os.RemoveAll(filepath.Join(b.fs.backupsDir(), name)); err != nil {
			return fmt.Errorf("prune backup %s: %w", name, err)
		}
	}
	return nil
}

// Count returns the number of backup directories currently on disk.
func (b *BackupScheduler) Count() int {
	entries, err := os.ReadDir(b.fs.backupsDir())
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}
